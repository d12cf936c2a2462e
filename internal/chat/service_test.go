package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/proxy"
	"github.com/greenworks/execdash/internal/storage"
)

type fakeLLM struct {
	chunks []string
	err    error
	got    proxy.ChatRequest
}

func (f *fakeLLM) Stream(_ context.Context, req proxy.ChatRequest, onText func(string) error) (string, error) {
	f.got = req
	var full string
	for _, c := range f.chunks {
		full += c
		if err := onText(c); err != nil {
			return full, err
		}
	}
	return full, f.err
}

type listConnector struct {
	src   connector.Source
	kind  connector.Kind
	n     int
	err   error
	since time.Time
}

func (l *listConnector) Source() connector.Source    { return l.src }
func (l *listConnector) Configured() bool            { return true }
func (l *listConnector) VerifyWebhook(_ string) bool { return false }

func (l *listConnector) List(_ context.Context, since time.Time) ([]connector.RawRecord, error) {
	l.since = since
	if l.err != nil {
		return nil, l.err
	}
	out := make([]connector.RawRecord, l.n)
	for i := range out {
		out[i] = connector.RawRecord{Kind: l.kind, Payload: json.RawMessage(fmt.Sprintf(`{"id":%d}`, i))}
	}
	return out, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(llm LLM, store Store, set *connector.Set) *Service {
	return NewService(llm, store, set, Options{
		Model:  "test-model",
		Logger: zap.NewNop(),
		Now:    func() time.Time { return now },
	})
}

func nullSet() *connector.Set {
	return &connector.Set{
		Calls:       connector.NewNull(connector.SourceCalls, nil, "", connector.Options{}),
		Leads:       connector.NewNull(connector.SourceLeads, nil, "", connector.Options{}),
		Inspections: connector.NewNull(connector.SourceInspections, nil, "", connector.Options{}),
		Bots:        connector.NewNullBots(nil),
	}
}

func TestStream_EmitsChunksAndSavesSession(t *testing.T) {
	store := openTestStore(t)
	llm := &fakeLLM{chunks: []string{"Three ", "inspections ", "today."}}
	svc := newTestService(llm, store, nullSet())

	var emitted []string
	answer, err := svc.Stream(context.Background(), Request{
		Messages: []proxy.Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
			{Role: "user", Content: "how many inspections today?"},
		},
		SessionID: "sess-1",
	}, func(s string) error {
		emitted = append(emitted, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Three inspections today.", answer)
	assert.Equal(t, llm.chunks, emitted)

	require.Len(t, llm.got.Messages, 4)
	assert.Equal(t, "system", llm.got.Messages[0].Role)
	assert.Contains(t, llm.got.Messages[0].Content, "Greenworks")
	assert.Equal(t, "test-model", llm.got.Model)
	assert.Equal(t, proxy.DefaultMaxTokens, llm.got.MaxTokens)

	history, err := store.ChatHistory(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "how many inspections today?", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "Three inspections today.", history[1].Content)
}

func TestStream_NoSessionSavesNothing(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(&fakeLLM{chunks: []string{"ok"}}, store, nullSet())

	_, err := svc.Stream(context.Background(), Request{
		Messages: []proxy.Message{{Role: "user", Content: "hi"}},
	}, func(string) error { return nil })
	require.NoError(t, err)

	var n int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM chat_messages`).Scan(&n))
	assert.Zero(t, n)
}

func TestStream_LLMFailureSavesNothing(t *testing.T) {
	store := openTestStore(t)
	llm := &fakeLLM{chunks: []string{"par"}, err: errors.New("upstream closed")}
	svc := newTestService(llm, store, nullSet())

	answer, err := svc.Stream(context.Background(), Request{
		Messages:  []proxy.Message{{Role: "user", Content: "hi"}},
		SessionID: "sess-2",
	}, func(string) error { return nil })
	require.Error(t, err)
	assert.ErrorContains(t, err, "upstream closed")
	assert.Equal(t, "par", answer)

	history, err := store.ChatHistory(context.Background(), "sess-2", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRequestValidate(t *testing.T) {
	assert.ErrorIs(t, Request{}.Validate(), ErrNoMessages)
	assert.Error(t, Request{Messages: []proxy.Message{{Role: "system", Content: "x"}}}.Validate())
	assert.NoError(t, Request{Messages: []proxy.Message{{Role: "user", Content: "x"}}}.Validate())
}

func TestSystemPrompt_LiveConnectors(t *testing.T) {
	calls := &listConnector{src: connector.SourceCalls, kind: connector.KindCall, n: 3}
	leads := &listConnector{src: connector.SourceLeads, kind: connector.KindLead, err: errors.New("timeout")}
	inspections := &listConnector{src: connector.SourceInspections, kind: connector.KindInspection, n: 2}
	set := &connector.Set{Calls: calls, Leads: leads, Inspections: inspections, Bots: connector.NewNullBots(nil)}

	svc := newTestService(&fakeLLM{}, openTestStore(t), set)
	prompt := svc.SystemPrompt(context.Background(), true)

	assert.Contains(t, prompt, "Recent live data (last 24 hours):")
	assert.Contains(t, prompt, "- Calls: 3 total")
	assert.Contains(t, prompt, "- Leads: 0 total")
	assert.Contains(t, prompt, "- ISN Inspections: 2 total")
	assert.Equal(t, now.Add(-24*time.Hour), calls.since)
}

func TestSystemPrompt_StoreContext(t *testing.T) {
	store := openTestStore(t)
	scheduled := now.Add(-2 * time.Hour)
	_, err := store.UpsertInspections(context.Background(), []storage.InspectionRow{
		{ID: "isn-1", Customer: "Acme", Status: "scheduled", ScheduledAt: &scheduled},
		{ID: "isn-2", Customer: "Globex", Status: "completed"},
	})
	require.NoError(t, err)

	svc := newTestService(&fakeLLM{}, store, nullSet())
	prompt := svc.SystemPrompt(context.Background(), false)

	assert.Contains(t, prompt, "Recent inspections in database: 2")
	assert.Contains(t, prompt, "- isn-1: Acme, scheduled, scheduled 2026-03-10")
	assert.Contains(t, prompt, "- Inspections: 1")
	assert.NotContains(t, prompt, "Recent live data")
}
