package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Sweeper runs one sweep. *Orchestrator implements it.
type Sweeper interface {
	Sweep(ctx context.Context, scope string) (Result, error)
}

// ScheduleStore is the queue surface the scheduler needs.
type ScheduleStore interface {
	JobStore
	HasActiveJob(ctx context.Context, jobType, payloadJSON string) (bool, error)
}

type sweepPayload struct {
	Scope string `json:"scope"`
}

func encodeSweepPayload(scope string) (string, error) {
	payload, err := json.Marshal(sweepPayload{Scope: scope})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// EnqueueSweep queues an etl_sweep job for scope and returns its id.
func EnqueueSweep(ctx context.Context, store JobStore, scope string, runAfter time.Time) (string, error) {
	scope, err := ParseScope(scope)
	if err != nil {
		return "", err
	}
	payload, err := encodeSweepPayload(scope)
	if err != nil {
		return "", err
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        storage.JobSweep,
		PayloadJSON: payload,
		RunAfter:    runAfter,
	}
	if err := store.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueueing sweep: %w", err)
	}
	return job.ID, nil
}

// Worker processes etl_sweep jobs from the job queue.
type Worker struct {
	store   JobStore
	sweeper Sweeper
	poll    time.Duration
	logger  *zap.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, sweeper Sweeper, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Worker{
		store:   store,
		sweeper: sweeper,
		poll:    pollInterval,
		logger:  logger.Named("worker"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", zap.Error(err))
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single etl_sweep job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{storage.JobSweep})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	// Queue bookkeeping survives shutdown so a claimed job is never stranded.
	bookkeeping := context.WithoutCancel(ctx)

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", zap.String("job_id", job.ID), zap.Error(err))
		if failErr := w.store.FailJob(bookkeeping, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return true, nil
	}

	if err := w.store.CompleteJob(bookkeeping, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// processJob fails only when the sweep could not start, e.g. another sweep
// holds the ledger lock. A sweep that ran with source errors is recorded in
// the ledger and completes the job.
func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload sweepPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	res, err := w.sweeper.Sweep(ctx, payload.Scope)
	if err != nil {
		return err
	}
	w.logger.Info("sweep job done",
		zap.String("job_id", job.ID),
		zap.String("run_id", res.RunID),
		zap.String("status", res.Status),
	)
	return nil
}

// Scheduler enqueues a sweep of every source on a fixed interval. A tick is
// skipped while a sweep job for the same scope is still queued or running.
type Scheduler struct {
	store    ScheduleStore
	interval time.Duration
	scope    string
	logger   *zap.Logger
}

// NewScheduler returns a scheduler for scope. A non-positive interval
// disables it.
func NewScheduler(store ScheduleStore, interval time.Duration, scope string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.L()
	}
	return &Scheduler{store: store, interval: interval, scope: scope, logger: logger.Named("scheduler")}
}

// Run enqueues a job every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id, err := s.tick(ctx)
			switch {
			case err != nil:
				s.logger.Error("scheduling sweep", zap.Error(err))
			case id == "":
				s.logger.Debug("sweep already queued, skipping", zap.String("scope", s.scope))
			default:
				s.logger.Info("sweep scheduled", zap.String("job_id", id), zap.String("scope", s.scope))
			}
		}
	}
}

// tick enqueues one sweep and returns its id, or "" when one is already
// pending or running.
func (s *Scheduler) tick(ctx context.Context) (string, error) {
	scope, err := ParseScope(s.scope)
	if err != nil {
		return "", err
	}
	payload, err := encodeSweepPayload(scope)
	if err != nil {
		return "", err
	}
	active, err := s.store.HasActiveJob(ctx, storage.JobSweep, payload)
	if err != nil {
		return "", err
	}
	if active {
		return "", nil
	}
	return EnqueueSweep(ctx, s.store, scope, time.Time{})
}
