package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// abandonedRunError is recorded on running rows reclaimed by BeginRun.
const abandonedRunError = "run abandoned: process exited before completion"

// BeginRun inserts a running ledger row for source. At most one run per
// source may be running; a second caller gets ErrRunInProgress. Running rows
// older than the stale threshold are failed first so a crashed process does
// not lock a source forever.
func (s *Store) BeginRun(ctx context.Context, source, parentID string) (EtlRun, error) {
	now := s.now().UTC()

	if s.staleAfter > 0 {
		if err := s.failStaleRuns(ctx, source, now.Add(-s.staleAfter)); err != nil {
			return EtlRun{}, err
		}
	}

	run := EtlRun{
		ID:         uuid.New().String(),
		ParentID:   parentID,
		Source:     source,
		RunStarted: now,
		Status:     RunRunning,
		Details:    RunDetails{Errors: []string{}},
	}
	details, err := json.Marshal(run.Details)
	if err != nil {
		return EtlRun{}, err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO etl_runs (id, parent_id, source, run_started, status, details)
		VALUES (?, ?, ?, ?, 'running', ?)`),
		run.ID, nullString(parentID), source, formatTime(now), string(details),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return EtlRun{}, ErrRunInProgress
		}
		return EtlRun{}, fmt.Errorf("inserting etl run: %w", err)
	}
	return run, nil
}

func (s *Store) failStaleRuns(ctx context.Context, source string, before time.Time) error {
	details, err := json.Marshal(RunDetails{Errors: []string{abandonedRunError}})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		UPDATE etl_runs SET status = 'failed', run_finished = ?, details = ?
		WHERE source = ? AND status = 'running' AND run_started < ?`),
		formatTime(s.now()), string(details), source, formatTime(before),
	)
	if err != nil {
		return fmt.Errorf("failing stale runs: %w", err)
	}
	return nil
}

// CompleteRun finalizes a running row with status and details. A row can be
// finalized once; later calls return ErrRunFinalized.
func (s *Store) CompleteRun(ctx context.Context, id, status string, details RunDetails) error {
	if status != RunSuccess && status != RunFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	if details.Errors == nil {
		details.Errors = []string{}
	}
	blob, err := json.Marshal(details)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE etl_runs SET status = ?, run_finished = ?, details = ?
		WHERE id = ? AND status = 'running'`),
		status, formatTime(s.now()), string(blob), id,
	)
	if err != nil {
		return fmt.Errorf("completing etl run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}
	return ErrRunFinalized
}

// LastSuccessfulRunFinish returns the finish time of the latest successful
// run for source. ok is false when the source never succeeded.
func (s *Store) LastSuccessfulRunFinish(ctx context.Context, source string) (t time.Time, ok bool, err error) {
	var finished sql.NullString
	err = s.db.QueryRowContext(ctx, s.q(`
		SELECT MAX(run_finished) FROM etl_runs
		WHERE source = ? AND status = 'success'`), source).Scan(&finished)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading watermark for %s: %w", source, err)
	}
	p, err := parseNullTime(finished)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing watermark for %s: %w", source, err)
	}
	if p == nil {
		return time.Time{}, false, nil
	}
	return *p, true, nil
}

// GetRun returns one ledger row.
func (s *Store) GetRun(ctx context.Context, id string) (EtlRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return EtlRun{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, parent_id, source, run_started, run_finished, status, details
		FROM etl_runs WHERE id = ?`), id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return EtlRun{}, ErrNotFound
	}
	return r, err
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Source   string
	Status   string
	ParentID string
	Limit    int
}

// ListRuns returns ledger rows, newest first.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]EtlRun, error) {
	var where []string
	var args []any
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.ParentID != "" {
		if _, err := uuid.Parse(f.ParentID); err != nil {
			return nil, nil
		}
		where = append(where, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, parent_id, source, run_started, run_finished, status, details FROM etl_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY run_started DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EtlRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (EtlRun, error) {
	var r EtlRun
	var parent, finished sql.NullString
	var started, details string
	if err := row.Scan(&r.ID, &parent, &r.Source, &started, &finished, &r.Status, &details); err != nil {
		return EtlRun{}, err
	}
	r.ParentID = parent.String

	var err error
	if r.RunStarted, err = parseTime(started); err != nil {
		return EtlRun{}, fmt.Errorf("parsing run_started for run %s: %w", r.ID, err)
	}
	if r.RunFinished, err = parseNullTime(finished); err != nil {
		return EtlRun{}, fmt.Errorf("parsing run_finished for run %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
		return EtlRun{}, fmt.Errorf("decoding details for run %s: %w", r.ID, err)
	}
	if r.Details.Errors == nil {
		r.Details.Errors = []string{}
	}
	return r, nil
}
