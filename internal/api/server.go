// Package api exposes the ingestion pipeline and the dashboard over HTTP and
// MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/aggregate"
	"github.com/greenworks/execdash/internal/chat"
	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/ingest"
	"github.com/greenworks/execdash/internal/storage"
	"github.com/greenworks/execdash/internal/telemetry"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	defaultKPIInterval = 30 * time.Second
)

// Store is the storage surface the API reads. *storage.Store implements it.
type Store interface {
	ingest.JobStore
	ListRuns(ctx context.Context, f storage.RunFilter) ([]storage.EtlRun, error)
	GetRun(ctx context.Context, id string) (storage.EtlRun, error)
	KPIs(ctx context.Context, now time.Time) (storage.KPIs, error)
}

// WebhookHandler applies a webhook delivery. *ingest.Receiver implements it.
type WebhookHandler interface {
	Handle(ctx context.Context, src connector.Source, token string, body []byte) (ingest.WebhookResult, error)
}

// Dashboard serves cached metric groups. *aggregate.Aggregator implements it.
type Dashboard interface {
	All(ctx context.Context) (aggregate.AllMetrics, error)
	Group(ctx context.Context, key aggregate.Key) (aggregate.SourceResult, error)
	Clear()
	Status() map[string]aggregate.SourceStatus
}

// ChatStreamer answers a chat request chunk by chunk. *chat.Service
// implements it.
type ChatStreamer interface {
	Stream(ctx context.Context, req chat.Request, emit func(string) error) (string, error)
}

type Deps struct {
	// Token guards every route except /health, /metrics and webhooks.
	Token     string
	Store     Store
	Sweeper   ingest.Sweeper
	Webhooks  WebhookHandler
	Dashboard Dashboard
	Chat      ChatStreamer      // optional; /chat answers 503 without it
	Speech    connector.Speaker // optional; /tts answers 503 without it
	Metrics   *telemetry.Metrics
	Logger    *zap.Logger
	// KPIInterval is the /sse/kpis push period.
	KPIInterval time.Duration
	Now         func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.L()
	}
	d.Logger = d.Logger.Named("api")
	if d.KPIInterval <= 0 {
		d.KPIInterval = defaultKPIInterval
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	deps = deps.withDefaults()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	r.Post("/webhooks/{source}", handleWebhook(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/ingest", handleIngest(deps))
		r.Post("/cron/nightly", handleNightly(deps))
		r.Get("/etl-runs", handleListRuns(deps))
		r.Get("/etl-runs/{id}", handleGetRun(deps))

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/metrics", handleAllMetrics(deps))
			r.Post("/metrics/refresh", handleRefreshMetrics(deps))
			r.Get("/metrics/{group}", handleMetricGroup(deps))
			r.Get("/sources", handleSources(deps))
		})

		r.Get("/sse/kpis", handleKPIStream(deps))
		r.Post("/chat", handleChat(deps))
		r.Post("/tts", handleTTS(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
