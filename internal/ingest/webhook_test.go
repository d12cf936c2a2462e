package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/storage"
)

func newTestReceiver(t *testing.T) (*Receiver, *storage.Store) {
	t.Helper()
	store := openTestStore(t)
	set := newTestSet(
		&fakeConnector{src: connector.SourceCalls, token: "call-secret"},
		&fakeConnector{src: connector.SourceLeads, token: "lead-secret"},
		&fakeConnector{src: connector.SourceInspections, token: "isn-secret"},
	)
	return NewReceiver(store, set, nil, zap.NewNop()), store
}

// TestWebhook_CallEndedUpdatesExistingRow verifies that a call.ended
// delivery replaces the row written by call.created and leaves the ledger
// untouched.
func TestWebhook_CallEndedUpdatesExistingRow(t *testing.T) {
	r, store := newTestReceiver(t)
	ctx := context.Background()

	created := `{"event":"call.created","data":{"id":42,"direction":"inbound","status":"initial","started_at":1700000000}}`
	res, err := r.Handle(ctx, connector.SourceCalls, "call-secret", []byte(created))
	require.NoError(t, err)
	assert.Equal(t, connector.KindCall, res.Kind)
	assert.Equal(t, "42", res.ID)

	ended := `{"event":"call.ended","data":{"id":42,"direction":"inbound","status":"done","started_at":1700000000,"ended_at":1700000120,"duration":120}}`
	_, err = r.Handle(ctx, connector.SourceCalls, "call-secret", []byte(ended))
	require.NoError(t, err)

	row, err := store.GetCall(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "done", row.Status)
	require.NotNil(t, row.Duration)
	assert.Equal(t, 120, *row.Duration)
	require.NotNil(t, row.EndedAt)

	runs, err := store.ListRuns(ctx, storage.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs, "webhooks must not write ledger rows")
}

func TestWebhook_Messages(t *testing.T) {
	r, store := newTestReceiver(t)
	body := `{"event":"message.received","data":{"id":"m-1","direction":"inbound","content":"hi"}}`
	res, err := r.Handle(context.Background(), connector.SourceCalls, "call-secret", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, connector.KindMessage, res.Kind)

	var content string
	require.NoError(t, store.DB().QueryRow(`SELECT body FROM aircall_sms WHERE id = 'm-1'`).Scan(&content))
	assert.Equal(t, "hi", content)
}

func TestWebhook_IgnoresOtherEvents(t *testing.T) {
	r, _ := newTestReceiver(t)
	res, err := r.Handle(context.Background(), connector.SourceCalls, "call-secret",
		[]byte(`{"event":"contact.created","data":{"id":1}}`))
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, "contact.created", res.Event)
}

func TestWebhook_LeadAndInspectionPayloadIsTheRecord(t *testing.T) {
	r, store := newTestReceiver(t)
	ctx := context.Background()

	_, err := r.Handle(ctx, connector.SourceLeads, "lead-secret", []byte(`{"lead_id":"L9","lead_source":"google"}`))
	require.NoError(t, err)
	lead, err := store.GetLead(ctx, "L9")
	require.NoError(t, err)
	assert.Equal(t, "google", lead.Source)

	_, err = r.Handle(ctx, connector.SourceInspections, "isn-secret", []byte(`{"id":"I9","status":"scheduled","inspector_name":"Dee"}`))
	require.NoError(t, err)
	insp, err := store.GetInspection(ctx, "I9")
	require.NoError(t, err)
	assert.Equal(t, "Dee", insp.AssignedEngineer)
}

func TestWebhook_Errors(t *testing.T) {
	r, _ := newTestReceiver(t)
	ctx := context.Background()

	_, err := r.Handle(ctx, connector.SourceLeads, "wrong", []byte(`{"lead_id":"L1"}`))
	var authErr *connector.WebhookAuthError
	require.True(t, errors.As(err, &authErr), "err = %v", err)
	assert.Equal(t, connector.SourceLeads, authErr.Source)

	_, err = r.Handle(ctx, connector.SourceLeads, "lead-secret", []byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = r.Handle(ctx, connector.SourceLeads, "lead-secret", []byte(`{"lead_source":"google"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = r.Handle(ctx, connector.SourceCalls, "call-secret", []byte(`{"event":"call.ended","data":{}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestWebhook_StorageFailure(t *testing.T) {
	r, store := newTestReceiver(t)
	store.Close()

	_, err := r.Handle(context.Background(), connector.SourceLeads, "lead-secret", []byte(`{"lead_id":"L1"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedPayload)
}
