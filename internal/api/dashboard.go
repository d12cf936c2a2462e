package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/aggregate"
)

func handleAllMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Dashboard.All(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load metrics: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleMetricGroup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := aggregate.ParseKey(chi.URLParam(r, "group"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if key == aggregate.KeyAll {
			handleAllMetrics(deps)(w, r)
			return
		}
		res, err := deps.Dashboard.Group(r.Context(), key)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load %s metrics: %v", key, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleRefreshMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Dashboard.Clear()
		deps.Logger.Info("dashboard cache cleared")
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func handleSources(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Dashboard.Status())
	}
}

// handleKPIStream pushes the live KPI counters once on connect and then every
// KPIInterval until the client goes away.
func handleKPIStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sse, err := newSSEWriter(w)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		ctx := r.Context()

		push := func() error {
			kpis, err := deps.Store.KPIs(ctx, deps.Now())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				deps.Logger.Warn("computing kpis", zap.Error(err))
				return nil
			}
			return sse.data(kpis)
		}

		if err := push(); err != nil {
			return
		}
		ticker := time.NewTicker(deps.KPIInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := push(); err != nil {
					return
				}
			}
		}
	}
}
