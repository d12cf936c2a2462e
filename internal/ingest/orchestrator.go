// Package ingest pulls records from the upstream connectors into the
// canonical store. Sweeps are recorded in the ETL ledger; webhooks write
// single records directly.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/normalize"
	"github.com/greenworks/execdash/internal/storage"
	"github.com/greenworks/execdash/internal/telemetry"
)

// ScopeAll sweeps every source under one parent ledger row.
const ScopeAll = "all"

// Ledger records sweep runs and provides per-source watermarks.
type Ledger interface {
	BeginRun(ctx context.Context, source, parentID string) (storage.EtlRun, error)
	CompleteRun(ctx context.Context, id, status string, details storage.RunDetails) error
	LastSuccessfulRunFinish(ctx context.Context, source string) (time.Time, bool, error)
}

// Sink receives canonical rows.
type Sink interface {
	UpsertCalls(ctx context.Context, rows []storage.CallRow) (int, error)
	UpsertMessages(ctx context.Context, rows []storage.MessageRow) (int, error)
	UpsertLeads(ctx context.Context, rows []storage.LeadRow) (int, error)
	UpsertInspections(ctx context.Context, rows []storage.InspectionRow) (int, error)
}

// Store is everything a sweep needs from storage.
type Store interface {
	Ledger
	Sink
}

// Result summarizes a finished sweep.
type Result struct {
	RunID   string             `json:"etl_run_id"`
	Scope   string             `json:"scope"`
	Status  string             `json:"status"`
	Details storage.RunDetails `json:"results"`
}

// Success reports whether every source succeeded.
func (r Result) Success() bool { return r.Status == storage.RunSuccess }

// Orchestrator runs sweeps across the connector set.
type Orchestrator struct {
	store      Store
	connectors *connector.Set
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

// NewOrchestrator wires a sweep runner. metrics may be nil.
func NewOrchestrator(store Store, connectors *connector.Set, metrics *telemetry.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.L()
	}
	return &Orchestrator{
		store:      store,
		connectors: connectors,
		metrics:    metrics,
		logger:     logger.Named("ingest"),
	}
}

// ParseScope maps a request scope to "all" or a canonical source name.
func ParseScope(s string) (string, error) {
	if s == "" || s == ScopeAll {
		return ScopeAll, nil
	}
	src, err := connector.ParseSource(s)
	if err != nil {
		return "", err
	}
	return string(src), nil
}

// Sweep pulls every source in scope, settling all of them before finishing
// the ledger row. A source failure never aborts its siblings; it is recorded
// as "<source>: <error>" and turns the run status to failed. Sweep returns an
// error only when the run could not be started (storage.ErrRunInProgress
// among others).
func (o *Orchestrator) Sweep(ctx context.Context, scope string) (Result, error) {
	scope, err := ParseScope(scope)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()

	run, err := o.store.BeginRun(ctx, scope, "")
	if err != nil {
		return Result{}, fmt.Errorf("starting %s sweep: %w", scope, err)
	}
	log := o.logger.With(zap.String("run_id", run.ID), zap.String("scope", scope))
	log.Info("sweep started")

	var details storage.RunDetails
	if scope == ScopeAll {
		details = o.sweepAll(ctx, run.ID)
	} else {
		details = o.sweepSource(ctx, connector.Source(scope), run.ID, false)
	}
	if details.Errors == nil {
		details.Errors = []string{}
	}

	status := storage.RunSuccess
	if len(details.Errors) > 0 {
		status = storage.RunFailed
	}

	// The ledger must be finalized even if the caller went away.
	if err := o.store.CompleteRun(context.WithoutCancel(ctx), run.ID, status, details); err != nil {
		log.Error("completing sweep run", zap.Error(err))
		return Result{}, fmt.Errorf("completing %s sweep: %w", scope, err)
	}

	elapsed := time.Since(start)
	o.metrics.SweepFinished(scope, status, elapsed)
	log.Info("sweep finished",
		zap.String("status", status),
		zap.Int("calls", details.Calls),
		zap.Int("messages", details.Messages),
		zap.Int("leads", details.Leads),
		zap.Int("inspections", details.Inspections),
		zap.Int("skipped", details.Skipped),
		zap.Strings("errors", details.Errors),
		zap.Duration("elapsed", elapsed),
	)

	return Result{RunID: run.ID, Scope: scope, Status: status, Details: details}, nil
}

// sweepAll fans out to every source. Members never return an error so the
// group always settles.
func (o *Orchestrator) sweepAll(ctx context.Context, parentID string) storage.RunDetails {
	results := make([]storage.RunDetails, len(connector.Sources))
	var g errgroup.Group
	for i, src := range connector.Sources {
		g.Go(func() error {
			results[i] = o.sweepSource(ctx, src, parentID, true)
			return nil
		})
	}
	g.Wait()

	var total storage.RunDetails
	for _, r := range results {
		total.Add(r)
	}
	return total
}

// sweepSource pulls one source. With child set, the source gets its own
// ledger row under parentID, which also serves as the per-source lock.
func (o *Orchestrator) sweepSource(ctx context.Context, src connector.Source, parentID string, child bool) storage.RunDetails {
	log := o.logger.With(zap.String("source", string(src)))

	runID := parentID
	if child {
		run, err := o.store.BeginRun(ctx, string(src), parentID)
		if err != nil {
			o.metrics.SourceFailed(string(src))
			log.Warn("source run not started", zap.Error(err))
			return storage.RunDetails{Errors: []string{sourceError(src, err)}}
		}
		runID = run.ID
	}

	details, err := o.pull(ctx, src, log)
	if err != nil {
		o.metrics.SourceFailed(string(src))
		log.Warn("source sweep failed", zap.Error(err))
		details.Errors = append(details.Errors, sourceError(src, err))
	}

	if child {
		status := storage.RunSuccess
		if err != nil {
			status = storage.RunFailed
		}
		own := details
		if own.Errors == nil {
			own.Errors = []string{}
		}
		if cerr := o.store.CompleteRun(context.WithoutCancel(ctx), runID, status, own); cerr != nil {
			log.Error("completing source run", zap.String("run_id", runID), zap.Error(cerr))
			details.Errors = append(details.Errors, sourceError(src, cerr))
		}
	}
	return details
}

func (o *Orchestrator) pull(ctx context.Context, src connector.Source, log *zap.Logger) (storage.RunDetails, error) {
	var details storage.RunDetails

	c := o.connectors.Get(src)
	if c == nil {
		return details, fmt.Errorf("no connector registered")
	}
	if !c.Configured() {
		if cause := connector.ConfigCause(c); cause != nil {
			return details, cause
		}
		return details, &connector.ConfigurationError{Source: src}
	}

	since, ok, err := o.store.LastSuccessfulRunFinish(ctx, string(src))
	if err != nil {
		return details, err
	}
	if !ok {
		since = time.Time{}
		log.Info("no previous successful run, full pull")
	}

	records, err := c.List(ctx, since)
	if err != nil && !connector.IsPageLimit(err) {
		return details, err
	}
	// A truncated pull still writes what it fetched, but the error fails
	// the run so the watermark stays put.
	truncated := err

	batch := normalize.Records(records)
	for _, nerr := range batch.Errors {
		log.Warn("skipping record", zap.Error(nerr))
	}
	details.Skipped = len(batch.Errors)

	details, err = o.write(ctx, batch, details, "sweep")
	if err != nil {
		return details, err
	}
	return details, truncated
}

// write upserts a normalized batch and adds the written counts to details.
func (o *Orchestrator) write(ctx context.Context, b normalize.Batch, details storage.RunDetails, origin string) (storage.RunDetails, error) {
	n, err := o.store.UpsertCalls(ctx, b.Calls)
	if err != nil {
		return details, err
	}
	details.Calls += n
	o.metrics.Upserted(string(connector.KindCall), origin, n)

	if n, err = o.store.UpsertMessages(ctx, b.Messages); err != nil {
		return details, err
	}
	details.Messages += n
	o.metrics.Upserted(string(connector.KindMessage), origin, n)

	if n, err = o.store.UpsertLeads(ctx, b.Leads); err != nil {
		return details, err
	}
	details.Leads += n
	o.metrics.Upserted(string(connector.KindLead), origin, n)

	if n, err = o.store.UpsertInspections(ctx, b.Inspections); err != nil {
		return details, err
	}
	details.Inspections += n
	o.metrics.Upserted(string(connector.KindInspection), origin, n)

	return details, nil
}

func sourceError(src connector.Source, err error) string {
	return fmt.Sprintf("%s: %s", src, err)
}
