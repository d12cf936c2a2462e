package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/storage"
)

// database/sql keeps an opener goroutine until the store is closed in
// t.Cleanup, which runs after deferred leak checks.
var leakOpts = []goleak.Option{
	goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
}

type fakeConnector struct {
	src     connector.Source
	records []connector.RawRecord
	err     error
	token   string
	block   chan struct{}

	mu     sync.Mutex
	sinces []time.Time
}

func (f *fakeConnector) Source() connector.Source { return f.src }
func (f *fakeConnector) Configured() bool         { return true }

func (f *fakeConnector) VerifyWebhook(token string) bool { return token == f.token }

func (f *fakeConnector) List(ctx context.Context, since time.Time) ([]connector.RawRecord, error) {
	f.mu.Lock()
	f.sinces = append(f.sinces, since)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.records, f.err
}

func (f *fakeConnector) calls() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.sinces...)
}

func records(kind connector.Kind, idField string, n int) []connector.RawRecord {
	out := make([]connector.RawRecord, n)
	for i := range out {
		payload, _ := json.Marshal(map[string]any{idField: fmt.Sprintf("%s-%d", kind, i)})
		out[i] = connector.RawRecord{Kind: kind, Payload: payload}
	}
	return out
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSet(calls, leads, inspections connector.Connector) *connector.Set {
	return &connector.Set{
		Calls:       calls,
		Leads:       leads,
		Inspections: inspections,
		Bots:        connector.NewNullBots(nil),
	}
}

func newTestOrchestrator(store Store, set *connector.Set) *Orchestrator {
	return NewOrchestrator(store, set, nil, zap.NewNop())
}
