package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func ptrTime(t time.Time) *time.Time { return &t }
func ptrInt(n int) *int              { return &n }

// TestUpsertCalls_Idempotent verifies that writing the same id twice keeps a
// single row holding the latest values.
func TestUpsertCalls_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC)
	row := CallRow{
		ID: "c1", Direction: "inbound", FromNumber: "+1", ToNumber: "+2",
		StartedAt: &started, Duration: ptrInt(60), Status: "done",
		Raw: json.RawMessage(`{"id":"c1"}`),
	}
	if n, err := s.UpsertCalls(ctx, []CallRow{row}); err != nil || n != 1 {
		t.Fatalf("UpsertCalls = %d, %v", n, err)
	}

	row.Duration = ptrInt(95)
	row.AgentID = "agent-7"
	if _, err := s.UpsertCalls(ctx, []CallRow{row}); err != nil {
		t.Fatalf("second UpsertCalls: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM aircall_calls`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}

	got, err := s.GetCall(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Duration == nil || *got.Duration != 95 {
		t.Errorf("Duration = %v, want 95", got.Duration)
	}
	if got.AgentID != "agent-7" {
		t.Errorf("AgentID = %q", got.AgentID)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil", got.EndedAt)
	}
	if string(got.Raw) != `{"id":"c1"}` {
		t.Errorf("Raw = %s", got.Raw)
	}
}

func TestUpsert_Empty(t *testing.T) {
	s := openTestStore(t)
	n, err := s.UpsertLeads(context.Background(), nil)
	if err != nil || n != 0 {
		t.Errorf("UpsertLeads(nil) = %d, %v", n, err)
	}
}

func TestUpsertLeadsAndInspections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rev := 120.5
	created := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	if _, err := s.UpsertLeads(ctx, []LeadRow{{ID: "l1", Source: "google", Revenue: &rev, CreatedAt: &created}}); err != nil {
		t.Fatalf("UpsertLeads: %v", err)
	}
	lead, err := s.GetLead(ctx, "l1")
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if lead.Revenue == nil || *lead.Revenue != rev || lead.Medium != "" {
		t.Errorf("lead = %+v", lead)
	}
	if string(lead.Raw) != "{}" {
		t.Errorf("empty raw stored as %s, want {}", lead.Raw)
	}

	sched := time.Date(2025, 5, 3, 10, 0, 0, 0, time.UTC)
	if _, err := s.UpsertInspections(ctx, []InspectionRow{{ID: "i1", Customer: "Ann", Address: "1 Main St", Status: "scheduled", ScheduledAt: &sched, AssignedEngineer: "Bo"}}); err != nil {
		t.Fatalf("UpsertInspections: %v", err)
	}
	insp, err := s.GetInspection(ctx, "i1")
	if err != nil {
		t.Fatalf("GetInspection: %v", err)
	}
	if insp.AssignedEngineer != "Bo" || insp.ScheduledAt == nil || !insp.ScheduledAt.Equal(sched) {
		t.Errorf("inspection = %+v", insp)
	}

	if _, err := s.GetLead(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLead(missing) err = %v, want ErrNotFound", err)
	}
}

func TestUpsertMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sent := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	rows := []MessageRow{
		{ID: "m1", Direction: "outbound", Body: "hi", SentAt: &sent},
		{ID: "m2", Direction: "inbound", Body: "hello"},
	}
	if n, err := s.UpsertMessages(ctx, rows); err != nil || n != 2 {
		t.Fatalf("UpsertMessages = %d, %v", n, err)
	}
	var body string
	if err := s.db.QueryRow(`SELECT body FROM aircall_sms WHERE id = 'm2'`).Scan(&body); err != nil {
		t.Fatalf("select: %v", err)
	}
	if body != "hello" {
		t.Errorf("body = %q", body)
	}
}

func TestKPIs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 5, 2, 15, 0, 0, 0, time.UTC)

	calls := []CallRow{
		{ID: "today-1", StartedAt: ptrTime(now.Add(-2 * time.Hour))},
		{ID: "today-2", StartedAt: ptrTime(time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC))},
		{ID: "yesterday", StartedAt: ptrTime(now.Add(-20 * time.Hour))},
		{ID: "unknown"},
	}
	leads := []LeadRow{
		{ID: "l-today", CreatedAt: ptrTime(now.Add(-time.Hour))},
		{ID: "l-old", CreatedAt: ptrTime(now.AddDate(0, 0, -3))},
	}
	inspections := []InspectionRow{
		{ID: "future", Status: "scheduled", ScheduledAt: ptrTime(now.Add(48 * time.Hour))},
		{ID: "past", Status: "scheduled", ScheduledAt: ptrTime(now.Add(-48 * time.Hour))},
		{ID: "done", Status: "completed", ScheduledAt: ptrTime(now.Add(24 * time.Hour))},
	}
	if _, err := s.UpsertCalls(ctx, calls); err != nil {
		t.Fatalf("UpsertCalls: %v", err)
	}
	if _, err := s.UpsertLeads(ctx, leads); err != nil {
		t.Fatalf("UpsertLeads: %v", err)
	}
	if _, err := s.UpsertInspections(ctx, inspections); err != nil {
		t.Fatalf("UpsertInspections: %v", err)
	}

	k, err := s.KPIs(ctx, now)
	if err != nil {
		t.Fatalf("KPIs: %v", err)
	}
	if k.TodayCalls != 2 || k.NewLeads != 1 || k.UpcomingInspections != 1 {
		t.Errorf("KPIs = %+v, want 2/1/1", k)
	}

	c, err := s.Counts(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c.Calls != 3 || c.Leads != 1 || c.Inspections != 2 {
		t.Errorf("Counts = %+v, want 3/1/2", c)
	}

	recent, err := s.RecentInspections(ctx, 2)
	if err != nil {
		t.Fatalf("RecentInspections: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "future" {
		t.Errorf("recent = %+v", recent)
	}
}
