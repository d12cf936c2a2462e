package storage

import (
	"context"
	"os"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fixedClock pins the store clock to a settable instant.
type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func withClock(s *Store, start time.Time) *fixedClock {
	c := &fixedClock{t: start}
	s.now = c.now
	return c
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
	if _, err := os.Stat(dir + "/execdash.db"); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestTablesAndIndexesExist verifies the canonical tables and their indexes.
func TestTablesAndIndexesExist(t *testing.T) {
	s := openTestStore(t)

	objects := map[string]string{
		"aircall_calls":                        "table",
		"aircall_sms":                          "table",
		"whatconverts_leads":                   "table",
		"isn_inspections":                      "table",
		"etl_runs":                             "table",
		"jobs":                                 "table",
		"chat_messages":                        "table",
		"idx_etl_runs_one_running":             "index",
		"idx_jobs_status_run_after":            "index",
		"idx_isn_inspections_status_scheduled": "index",
	}
	for name, typ := range objects {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?", typ, name).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %s: %v", name, err)
		}
		if count != 1 {
			t.Errorf("%s %q not found", typ, name)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_init.sql")
	if err != nil || v != 1 {
		t.Errorf("parseMigrationVersion = %d, %v; want 1, nil", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	got := pg.q("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Errorf("q() = %q, want %q", got, want)
	}

	lite := &Store{dialect: DialectSQLite}
	if got := lite.q("a = ?"); got != "a = ?" {
		t.Errorf("sqlite q() = %q, want unchanged", got)
	}
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if s.Dialect() != DialectSQLite {
		t.Errorf("Dialect = %q, want sqlite", s.Dialect())
	}
}
