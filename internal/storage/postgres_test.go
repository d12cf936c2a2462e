package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// openPostgresStore connects to EXECDASH_TEST_POSTGRES_DSN or skips.
func openPostgresStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("EXECDASH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EXECDASH_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open(postgres): %v", err)
	}
	t.Cleanup(func() {
		for _, table := range []string{"etl_runs", "aircall_calls", "jobs", "chat_messages"} {
			s.db.Exec("DELETE FROM " + table)
		}
		s.Close()
	})
	return s
}

func TestPostgres_LedgerLifecycle(t *testing.T) {
	s := openPostgresStore(t)
	ctx := context.Background()

	if s.Dialect() != DialectPostgres {
		t.Fatalf("Dialect = %q, want postgres", s.Dialect())
	}

	run, err := s.BeginRun(ctx, "pgtest", "")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if _, err := s.BeginRun(ctx, "pgtest", ""); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("second BeginRun err = %v, want ErrRunInProgress", err)
	}
	if err := s.CompleteRun(ctx, run.ID, RunSuccess, RunDetails{Calls: 2}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	finished, ok, err := s.LastSuccessfulRunFinish(ctx, "pgtest")
	if err != nil || !ok {
		t.Fatalf("LastSuccessfulRunFinish: %v %v", ok, err)
	}
	if time.Since(finished) > time.Minute {
		t.Errorf("watermark %v too old", finished)
	}
}

func TestPostgres_UpsertCall(t *testing.T) {
	s := openPostgresStore(t)
	ctx := context.Background()

	started := time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if _, err := s.UpsertCalls(ctx, []CallRow{{ID: "pg-c1", StartedAt: &started, Raw: []byte(`{"id":"pg-c1"}`)}}); err != nil {
			t.Fatalf("UpsertCalls: %v", err)
		}
	}
	got, err := s.GetCall(ctx, "pg-c1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
}
