// Package aggregate serves dashboard metric groups from a short-lived
// in-process cache in front of the live connectors.
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/normalize"
	"github.com/greenworks/execdash/internal/telemetry"
)

// Key names a cached metric group.
type Key string

const (
	KeyCalls       Key = "calls"
	KeyBotCalls    Key = "botCalls"
	KeyInspections Key = "inspections"
	KeyAll         Key = "all_metrics"
)

// DefaultTTL is how long a fetched group stays fresh.
const DefaultTTL = 30 * time.Second

// ParseKey accepts a group name as used in URLs.
func ParseKey(s string) (Key, error) {
	switch Key(s) {
	case KeyCalls, KeyBotCalls, KeyInspections, KeyAll:
		return Key(s), nil
	case "bot_calls", "bots":
		return KeyBotCalls, nil
	case "", "all":
		return KeyAll, nil
	}
	return "", fmt.Errorf("unknown metric group %q", s)
}

// SourceResult wraps one group's payload. Configured is false when the data
// is a synthetic placeholder for a source without credentials; Available is
// false when the live fetch failed and synthetic data was substituted.
type SourceResult struct {
	Data       any       `json:"data"`
	Configured bool      `json:"configured"`
	Available  bool      `json:"available"`
	Error      string    `json:"error,omitempty"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// AllMetrics is the combined dashboard payload.
type AllMetrics struct {
	Calls       SourceResult `json:"calls"`
	BotCalls    SourceResult `json:"botCalls"`
	Inspections SourceResult `json:"inspections"`
	Timestamp   time.Time    `json:"timestamp"`
}

// SourceStatus reports per-source configuration and the outcome of the
// latest fetch.
type SourceStatus struct {
	Configured bool   `json:"configured"`
	Available  bool   `json:"available"`
	LastError  string `json:"lastError,omitempty"`
}

type entry struct {
	value     any
	fetchedAt time.Time
}

// Options tunes an Aggregator. Zero values take defaults.
type Options struct {
	TTL time.Duration
	// FetchTimeout bounds one fetch, which runs detached from the caller.
	FetchTimeout time.Duration
	Metrics      *telemetry.Metrics
	Logger       *zap.Logger
	Now          func() time.Time
}

// Aggregator caches metric groups per key. Concurrent misses for a key are
// collapsed into a single upstream fetch.
type Aggregator struct {
	connectors *connector.Set
	ttl        time.Duration
	timeout    time.Duration
	metrics    *telemetry.Metrics
	logger     *zap.Logger
	now        func() time.Time

	flight singleflight.Group

	mu      sync.Mutex
	entries map[Key]entry
	status  map[string]SourceStatus
}

func New(connectors *connector.Set, opts Options) *Aggregator {
	a := &Aggregator{
		connectors: connectors,
		ttl:        opts.TTL,
		timeout:    opts.FetchTimeout,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        opts.Now,
		entries:    make(map[Key]entry),
		status:     make(map[string]SourceStatus),
	}
	if a.ttl <= 0 {
		a.ttl = DefaultTTL
	}
	if a.timeout <= 0 {
		a.timeout = connector.DefaultTimeout
	}
	if a.logger == nil {
		a.logger = zap.L()
	}
	a.logger = a.logger.Named("aggregate")
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// lookup returns a fresh entry, evicting a stale one.
func (a *Aggregator) lookup(key Key) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[key]
	if !ok {
		return nil, false
	}
	if a.now().Sub(e.fetchedAt) >= a.ttl {
		delete(a.entries, key)
		return nil, false
	}
	return e.value, true
}

func (a *Aggregator) store(key Key, v any) {
	a.mu.Lock()
	a.entries[key] = entry{value: v, fetchedAt: a.now()}
	a.mu.Unlock()
}

// Get returns the payload for key: an AllMetrics for KeyAll, otherwise a
// SourceResult. The error is non-nil only for an unknown key or when ctx
// ends first; upstream failures degrade to synthetic data.
func (a *Aggregator) Get(ctx context.Context, key Key) (any, error) {
	if v, ok := a.lookup(key); ok {
		a.metrics.CacheLookup(string(key), true)
		return v, nil
	}
	a.metrics.CacheLookup(string(key), false)

	fetch, err := a.fetcher(key)
	if err != nil {
		return nil, err
	}

	ch := a.flight.DoChan(string(key), func() (any, error) {
		// Another flight may have filled the entry while this one queued.
		if v, ok := a.lookup(key); ok {
			return v, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		v := fetch(fctx)
		a.store(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// All returns the combined metrics.
func (a *Aggregator) All(ctx context.Context) (AllMetrics, error) {
	v, err := a.Get(ctx, KeyAll)
	if err != nil {
		return AllMetrics{}, err
	}
	return v.(AllMetrics), nil
}

// Group returns a single metric group.
func (a *Aggregator) Group(ctx context.Context, key Key) (SourceResult, error) {
	if key == KeyAll {
		return SourceResult{}, fmt.Errorf("use All for %q", key)
	}
	v, err := a.Get(ctx, key)
	if err != nil {
		return SourceResult{}, err
	}
	return v.(SourceResult), nil
}

func (a *Aggregator) fetcher(key Key) (func(context.Context) any, error) {
	switch key {
	case KeyCalls:
		return func(ctx context.Context) any { return a.fetchCalls(ctx) }, nil
	case KeyBotCalls:
		return func(ctx context.Context) any { return a.fetchBotCalls(ctx) }, nil
	case KeyInspections:
		return func(ctx context.Context) any { return a.fetchInspections(ctx) }, nil
	case KeyAll:
		return func(ctx context.Context) any { return a.fetchAll(ctx) }, nil
	}
	return nil, fmt.Errorf("unknown metric group %q", key)
}

// fetchAll fans out to the three groups and settles all of them. Members
// never return an error.
func (a *Aggregator) fetchAll(ctx context.Context) AllMetrics {
	var out AllMetrics
	var g errgroup.Group
	g.Go(func() error {
		out.Calls = a.fetchCalls(ctx)
		return nil
	})
	g.Go(func() error {
		out.BotCalls = a.fetchBotCalls(ctx)
		return nil
	})
	g.Go(func() error {
		out.Inspections = a.fetchInspections(ctx)
		return nil
	})
	g.Wait()
	out.Timestamp = a.now().UTC()
	return out
}

func (a *Aggregator) fetchCalls(ctx context.Context) SourceResult {
	now := a.now().UTC()
	c := a.connectors.Calls
	recs, err := c.List(ctx, now.Add(-Window))
	err = a.partial(connector.SourceCalls, err)
	res := a.settle(string(connector.SourceCalls), c.Configured(), err, now)
	if err != nil {
		recs, _ = connector.SyntheticRecords(connector.SourceCalls, now)
	}
	res.Data = ComputeCallMetrics(normalize.Records(recs).Calls, now)
	return res
}

func (a *Aggregator) fetchInspections(ctx context.Context) SourceResult {
	now := a.now().UTC()
	c := a.connectors.Inspections
	recs, err := c.List(ctx, now.Add(-Window))
	err = a.partial(connector.SourceInspections, err)
	res := a.settle(string(connector.SourceInspections), c.Configured(), err, now)
	if err != nil {
		recs, _ = connector.SyntheticRecords(connector.SourceInspections, now)
	}
	res.Data = ComputeInspectionMetrics(normalize.Records(recs).Inspections, now)
	return res
}

func (a *Aggregator) fetchBotCalls(ctx context.Context) SourceResult {
	now := a.now().UTC()
	b := a.connectors.Bots
	convs, err := b.Conversations(ctx, now.Add(-Window))
	res := a.settle(string(connector.SourceBots), b.Configured(), err, now)
	if err != nil {
		convs = connector.SyntheticConversations(now)
	}
	res.Data = ComputeBotCallMetrics(convs, now)
	return res
}

// partial accepts a listing truncated at the page limit as usable data.
func (a *Aggregator) partial(src connector.Source, err error) error {
	if connector.IsPageLimit(err) {
		a.logger.Debug("metric listing truncated", zap.String("source", string(src)), zap.Error(err))
		return nil
	}
	return err
}

// settle records the fetch outcome for Status and builds the result flags.
func (a *Aggregator) settle(source string, configured bool, err error, now time.Time) SourceResult {
	res := SourceResult{Configured: configured, Available: err == nil, FetchedAt: now}
	st := SourceStatus{Configured: configured, Available: err == nil}
	if err != nil {
		res.Error = err.Error()
		st.LastError = res.Error
		a.logger.Warn("metric fetch failed, serving synthetic data",
			zap.String("source", source),
			zap.Error(err),
		)
	} else if !configured {
		a.logger.Debug("source not configured, serving synthetic data", zap.String("source", source))
	}
	a.mu.Lock()
	a.status[source] = st
	a.mu.Unlock()
	return res
}

// Clear drops every cached group. In-flight fetches still complete and
// repopulate their key.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	clear(a.entries)
	a.mu.Unlock()
}

// Status reports each source's configuration and, once fetched, whether the
// latest fetch succeeded.
func (a *Aggregator) Status() map[string]SourceStatus {
	out := make(map[string]SourceStatus)
	for name, configured := range a.connectors.Status() {
		out[name] = SourceStatus{Configured: configured, Available: true}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, st := range a.status {
		out[name] = st
	}
	return out
}
