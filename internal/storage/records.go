package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// upsert runs stmt once per row inside a single transaction. A failure
// rolls back the whole batch.
func (s *Store) upsert(ctx context.Context, stmt string, n int, args func(i int, now string) []any) (int, error) {
	if n == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	prepared, err := tx.PrepareContext(ctx, s.q(stmt))
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer prepared.Close()

	now := formatTime(s.now())
	for i := 0; i < n; i++ {
		if _, err := prepared.ExecContext(ctx, args(i, now)...); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}
	return n, nil
}

const upsertCallSQL = `
	INSERT INTO aircall_calls (id, direction, from_number, to_number, agent_id, started_at, ended_at, duration, status, recording_url, raw, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		direction = excluded.direction,
		from_number = excluded.from_number,
		to_number = excluded.to_number,
		agent_id = excluded.agent_id,
		started_at = excluded.started_at,
		ended_at = excluded.ended_at,
		duration = excluded.duration,
		status = excluded.status,
		recording_url = excluded.recording_url,
		raw = excluded.raw,
		updated_at = excluded.updated_at`

// UpsertCalls inserts or replaces calls by id and returns the number written.
func (s *Store) UpsertCalls(ctx context.Context, rows []CallRow) (int, error) {
	n, err := s.upsert(ctx, upsertCallSQL, len(rows), func(i int, now string) []any {
		r := rows[i]
		var duration any
		if r.Duration != nil {
			duration = *r.Duration
		}
		return []any{r.ID, r.Direction, r.FromNumber, r.ToNumber, nullString(r.AgentID),
			nullTime(r.StartedAt), nullTime(r.EndedAt), duration, r.Status,
			nullString(r.RecordingURL), rawJSON(r.Raw), now}
	})
	if err != nil {
		return 0, fmt.Errorf("upserting calls: %w", err)
	}
	return n, nil
}

const upsertMessageSQL = `
	INSERT INTO aircall_sms (id, direction, from_number, to_number, body, status, sent_at, raw, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		direction = excluded.direction,
		from_number = excluded.from_number,
		to_number = excluded.to_number,
		body = excluded.body,
		status = excluded.status,
		sent_at = excluded.sent_at,
		raw = excluded.raw,
		updated_at = excluded.updated_at`

func (s *Store) UpsertMessages(ctx context.Context, rows []MessageRow) (int, error) {
	n, err := s.upsert(ctx, upsertMessageSQL, len(rows), func(i int, now string) []any {
		r := rows[i]
		return []any{r.ID, r.Direction, r.FromNumber, r.ToNumber, r.Body, r.Status,
			nullTime(r.SentAt), rawJSON(r.Raw), now}
	})
	if err != nil {
		return 0, fmt.Errorf("upserting messages: %w", err)
	}
	return n, nil
}

const upsertLeadSQL = `
	INSERT INTO whatconverts_leads (id, source, medium, campaign, keyword, caller_number, email, conversion_type, revenue, created_at, raw, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		source = excluded.source,
		medium = excluded.medium,
		campaign = excluded.campaign,
		keyword = excluded.keyword,
		caller_number = excluded.caller_number,
		email = excluded.email,
		conversion_type = excluded.conversion_type,
		revenue = excluded.revenue,
		created_at = excluded.created_at,
		raw = excluded.raw,
		updated_at = excluded.updated_at`

func (s *Store) UpsertLeads(ctx context.Context, rows []LeadRow) (int, error) {
	n, err := s.upsert(ctx, upsertLeadSQL, len(rows), func(i int, now string) []any {
		r := rows[i]
		var revenue any
		if r.Revenue != nil {
			revenue = *r.Revenue
		}
		return []any{r.ID, r.Source, nullString(r.Medium), nullString(r.Campaign), nullString(r.Keyword),
			nullString(r.CallerNumber), nullString(r.Email), nullString(r.ConversionType), revenue,
			nullTime(r.CreatedAt), rawJSON(r.Raw), now}
	})
	if err != nil {
		return 0, fmt.Errorf("upserting leads: %w", err)
	}
	return n, nil
}

const upsertInspectionSQL = `
	INSERT INTO isn_inspections (id, customer, address, status, scheduled_at, completed_at, assigned_engineer, raw, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		customer = excluded.customer,
		address = excluded.address,
		status = excluded.status,
		scheduled_at = excluded.scheduled_at,
		completed_at = excluded.completed_at,
		assigned_engineer = excluded.assigned_engineer,
		raw = excluded.raw,
		updated_at = excluded.updated_at`

func (s *Store) UpsertInspections(ctx context.Context, rows []InspectionRow) (int, error) {
	n, err := s.upsert(ctx, upsertInspectionSQL, len(rows), func(i int, now string) []any {
		r := rows[i]
		return []any{r.ID, r.Customer, r.Address, r.Status, nullTime(r.ScheduledAt),
			nullTime(r.CompletedAt), nullString(r.AssignedEngineer), rawJSON(r.Raw), now}
	})
	if err != nil {
		return 0, fmt.Errorf("upserting inspections: %w", err)
	}
	return n, nil
}

// GetCall returns a stored call by id.
func (s *Store) GetCall(ctx context.Context, id string) (CallRow, error) {
	var r CallRow
	var agent, recording, started, ended sql.NullString
	var duration sql.NullInt64
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, direction, from_number, to_number, agent_id, started_at, ended_at, duration, status, recording_url, raw
		FROM aircall_calls WHERE id = ?`), id).Scan(
		&r.ID, &r.Direction, &r.FromNumber, &r.ToNumber, &agent, &started, &ended,
		&duration, &r.Status, &recording, &raw,
	)
	if err == sql.ErrNoRows {
		return CallRow{}, ErrNotFound
	}
	if err != nil {
		return CallRow{}, err
	}
	r.AgentID = agent.String
	r.RecordingURL = recording.String
	r.Raw = []byte(raw)
	if duration.Valid {
		d := int(duration.Int64)
		r.Duration = &d
	}
	if r.StartedAt, err = parseNullTime(started); err != nil {
		return CallRow{}, fmt.Errorf("parsing started_at for call %s: %w", id, err)
	}
	if r.EndedAt, err = parseNullTime(ended); err != nil {
		return CallRow{}, fmt.Errorf("parsing ended_at for call %s: %w", id, err)
	}
	return r, nil
}

// GetLead returns a stored lead by id.
func (s *Store) GetLead(ctx context.Context, id string) (LeadRow, error) {
	var r LeadRow
	var medium, campaign, keyword, caller, email, conv, created sql.NullString
	var revenue sql.NullFloat64
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, source, medium, campaign, keyword, caller_number, email, conversion_type, revenue, created_at, raw
		FROM whatconverts_leads WHERE id = ?`), id).Scan(
		&r.ID, &r.Source, &medium, &campaign, &keyword, &caller, &email, &conv, &revenue, &created, &raw,
	)
	if err == sql.ErrNoRows {
		return LeadRow{}, ErrNotFound
	}
	if err != nil {
		return LeadRow{}, err
	}
	r.Medium, r.Campaign, r.Keyword = medium.String, campaign.String, keyword.String
	r.CallerNumber, r.Email, r.ConversionType = caller.String, email.String, conv.String
	r.Raw = []byte(raw)
	if revenue.Valid {
		v := revenue.Float64
		r.Revenue = &v
	}
	if r.CreatedAt, err = parseNullTime(created); err != nil {
		return LeadRow{}, fmt.Errorf("parsing created_at for lead %s: %w", id, err)
	}
	return r, nil
}

// GetInspection returns a stored inspection by id.
func (s *Store) GetInspection(ctx context.Context, id string) (InspectionRow, error) {
	var r InspectionRow
	var scheduled, completed, engineer sql.NullString
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, customer, address, status, scheduled_at, completed_at, assigned_engineer, raw
		FROM isn_inspections WHERE id = ?`), id).Scan(
		&r.ID, &r.Customer, &r.Address, &r.Status, &scheduled, &completed, &engineer, &raw,
	)
	if err == sql.ErrNoRows {
		return InspectionRow{}, ErrNotFound
	}
	if err != nil {
		return InspectionRow{}, err
	}
	r.AssignedEngineer = engineer.String
	r.Raw = []byte(raw)
	if r.ScheduledAt, err = parseNullTime(scheduled); err != nil {
		return InspectionRow{}, err
	}
	if r.CompletedAt, err = parseNullTime(completed); err != nil {
		return InspectionRow{}, err
	}
	return r, nil
}

// RecentInspections returns inspections ordered by scheduled date, newest first.
func (s *Store) RecentInspections(ctx context.Context, limit int) ([]InspectionRow, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, customer, address, status, scheduled_at, completed_at, assigned_engineer
		FROM isn_inspections
		ORDER BY scheduled_at DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InspectionRow
	for rows.Next() {
		var r InspectionRow
		var scheduled, completed, engineer sql.NullString
		if err := rows.Scan(&r.ID, &r.Customer, &r.Address, &r.Status, &scheduled, &completed, &engineer); err != nil {
			return nil, err
		}
		r.AssignedEngineer = engineer.String
		if r.ScheduledAt, err = parseNullTime(scheduled); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordCounts is the number of stored records created in a window.
type RecordCounts struct {
	Calls       int `json:"calls"`
	Leads       int `json:"leads"`
	Inspections int `json:"inspections"`
}

// Counts returns how many calls started, leads were created and inspections
// were scheduled at or after since.
func (s *Store) Counts(ctx context.Context, since time.Time) (RecordCounts, error) {
	var c RecordCounts
	at := formatTime(since)
	if err := s.count(ctx, &c.Calls, `SELECT COUNT(*) FROM aircall_calls WHERE started_at >= ?`, at); err != nil {
		return c, fmt.Errorf("counting calls: %w", err)
	}
	if err := s.count(ctx, &c.Leads, `SELECT COUNT(*) FROM whatconverts_leads WHERE created_at >= ?`, at); err != nil {
		return c, fmt.Errorf("counting leads: %w", err)
	}
	if err := s.count(ctx, &c.Inspections, `SELECT COUNT(*) FROM isn_inspections WHERE scheduled_at >= ?`, at); err != nil {
		return c, fmt.Errorf("counting inspections: %w", err)
	}
	return c, nil
}

// KPIs computes the live dashboard counters. "Today" starts at UTC midnight.
func (s *Store) KPIs(ctx context.Context, now time.Time) (KPIs, error) {
	now = now.UTC()
	midnight := formatTime(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC))
	k := KPIs{Timestamp: now}
	if err := s.count(ctx, &k.TodayCalls, `SELECT COUNT(*) FROM aircall_calls WHERE started_at >= ?`, midnight); err != nil {
		return k, fmt.Errorf("counting today's calls: %w", err)
	}
	if err := s.count(ctx, &k.NewLeads, `SELECT COUNT(*) FROM whatconverts_leads WHERE created_at >= ?`, midnight); err != nil {
		return k, fmt.Errorf("counting new leads: %w", err)
	}
	if err := s.count(ctx, &k.UpcomingInspections,
		`SELECT COUNT(*) FROM isn_inspections WHERE status = 'scheduled' AND scheduled_at >= ?`, formatTime(now)); err != nil {
		return k, fmt.Errorf("counting upcoming inspections: %w", err)
	}
	return k, nil
}

func (s *Store) count(ctx context.Context, dst *int, query string, args ...any) error {
	return s.db.QueryRowContext(ctx, s.q(query), args...).Scan(dst)
}
