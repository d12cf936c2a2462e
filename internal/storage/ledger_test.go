package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBeginRun_InsertsRunningRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.BeginRun(ctx, "calls", "")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if run.Status != RunRunning {
		t.Errorf("Status = %q, want running", run.Status)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Source != "calls" || got.Status != RunRunning || got.RunFinished != nil {
		t.Errorf("stored run = %+v", got)
	}
	if got.ParentID != "" {
		t.Errorf("ParentID = %q, want empty", got.ParentID)
	}
}

// TestBeginRun_OneRunningPerSource verifies the advisory lock: a second
// BeginRun for the same source fails while the first is running, other
// sources are unaffected, and the lock is released on completion.
func TestBeginRun_OneRunningPerSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.BeginRun(ctx, "leads", "")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if _, err := s.BeginRun(ctx, "leads", ""); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("second BeginRun err = %v, want ErrRunInProgress", err)
	}
	if _, err := s.BeginRun(ctx, "calls", ""); err != nil {
		t.Fatalf("BeginRun other source: %v", err)
	}

	if err := s.CompleteRun(ctx, first.ID, RunSuccess, RunDetails{Leads: 3}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if _, err := s.BeginRun(ctx, "leads", ""); err != nil {
		t.Errorf("BeginRun after completion: %v", err)
	}
}

func TestBeginRun_ReclaimsStaleRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clock := withClock(s, time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC))
	s.SetStaleRunAfter(time.Hour)

	stale, err := s.BeginRun(ctx, "inspections", "")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	clock.advance(2 * time.Hour)

	if _, err := s.BeginRun(ctx, "inspections", ""); err != nil {
		t.Fatalf("BeginRun after stale threshold: %v", err)
	}
	got, err := s.GetRun(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunFailed {
		t.Errorf("stale run status = %q, want failed", got.Status)
	}
	if len(got.Details.Errors) != 1 || got.Details.Errors[0] != abandonedRunError {
		t.Errorf("stale run errors = %v", got.Details.Errors)
	}
}

func TestCompleteRun_StoresDetails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clock := withClock(s, time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC))

	run, err := s.BeginRun(ctx, "all", "")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	clock.advance(90 * time.Second)

	details := RunDetails{Calls: 10, Inspections: 10, Errors: []string{"leads: timeout"}}
	if err := s.CompleteRun(ctx, run.ID, RunFailed, details); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.RunFinished == nil || !got.RunFinished.Equal(clock.t) {
		t.Errorf("RunFinished = %v, want %v", got.RunFinished, clock.t)
	}
	if got.Details.Calls != 10 || got.Details.Leads != 0 || got.Details.Inspections != 10 {
		t.Errorf("Details = %+v", got.Details)
	}
	if len(got.Details.Errors) != 1 || got.Details.Errors[0] != "leads: timeout" {
		t.Errorf("Errors = %v", got.Details.Errors)
	}
}

func TestCompleteRun_OnlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.BeginRun(ctx, "calls", "")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.CompleteRun(ctx, run.ID, RunSuccess, RunDetails{}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if err := s.CompleteRun(ctx, run.ID, RunFailed, RunDetails{}); !errors.Is(err, ErrRunFinalized) {
		t.Errorf("second CompleteRun err = %v, want ErrRunFinalized", err)
	}
	if err := s.CompleteRun(ctx, "00000000-0000-0000-0000-000000000000", RunSuccess, RunDetails{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteRun unknown id err = %v, want ErrNotFound", err)
	}
	if err := s.CompleteRun(ctx, run.ID, RunRunning, RunDetails{}); err == nil {
		t.Error("expected error for non-terminal status")
	}
}

// TestLastSuccessfulRunFinish verifies the watermark ignores failed and
// running rows and tracks each source separately.
func TestLastSuccessfulRunFinish(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clock := withClock(s, time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC))

	if _, ok, err := s.LastSuccessfulRunFinish(ctx, "calls"); err != nil || ok {
		t.Fatalf("empty ledger: ok=%v err=%v, want false nil", ok, err)
	}

	ok1, _ := s.BeginRun(ctx, "calls", "")
	clock.advance(time.Minute)
	if err := s.CompleteRun(ctx, ok1.ID, RunSuccess, RunDetails{}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	wantWatermark := clock.t

	clock.advance(time.Hour)
	failed, _ := s.BeginRun(ctx, "calls", "")
	clock.advance(time.Minute)
	if err := s.CompleteRun(ctx, failed.ID, RunFailed, RunDetails{}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	clock.advance(time.Hour)
	if _, err := s.BeginRun(ctx, "calls", ""); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	got, ok, err := s.LastSuccessfulRunFinish(ctx, "calls")
	if err != nil || !ok {
		t.Fatalf("LastSuccessfulRunFinish: ok=%v err=%v", ok, err)
	}
	if !got.Equal(wantWatermark) {
		t.Errorf("watermark = %v, want %v", got, wantWatermark)
	}

	if _, ok, _ := s.LastSuccessfulRunFinish(ctx, "leads"); ok {
		t.Error("leads watermark should be unset")
	}
}

func TestListRuns_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clock := withClock(s, time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC))

	parent, err := s.BeginRun(ctx, "all", "")
	if err != nil {
		t.Fatalf("BeginRun parent: %v", err)
	}
	for _, src := range []string{"calls", "leads", "inspections"} {
		clock.advance(time.Second)
		if _, err := s.BeginRun(ctx, src, parent.ID); err != nil {
			t.Fatalf("BeginRun %s: %v", src, err)
		}
	}

	all, err := s.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if all[0].Source != "inspections" {
		t.Errorf("newest run source = %q, want inspections", all[0].Source)
	}

	children, err := s.ListRuns(ctx, RunFilter{ParentID: parent.ID})
	if err != nil {
		t.Fatalf("ListRuns children: %v", err)
	}
	if len(children) != 3 {
		t.Errorf("children = %d, want 3", len(children))
	}

	leads, err := s.ListRuns(ctx, RunFilter{Source: "leads", Status: RunRunning, Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns leads: %v", err)
	}
	if len(leads) != 1 || leads[0].ParentID != parent.ID {
		t.Errorf("leads runs = %+v", leads)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetRun(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
