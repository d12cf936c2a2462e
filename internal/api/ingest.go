package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/ingest"
	"github.com/greenworks/execdash/internal/storage"
)

type IngestRequest struct {
	Source string `json:"source"`
}

// IngestResponse mirrors the ledger row written by the sweep. Success means
// the sweep ran to completion; Status tells whether every source succeeded.
type IngestResponse struct {
	Success bool               `json:"success"`
	RunID   string             `json:"etl_run_id"`
	Scope   string             `json:"scope"`
	Status  string             `json:"status"`
	Results storage.RunDetails `json:"results"`
}

func newIngestResponse(res ingest.Result) IngestResponse {
	return IngestResponse{
		Success: true,
		RunID:   res.RunID,
		Scope:   res.Scope,
		Status:  res.Status,
		Results: res.Details,
	}
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Source == "" {
			req.Source = r.URL.Query().Get("source")
		}
		scope, err := ingest.ParseScope(req.Source)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
			id, err := ingest.EnqueueSweep(r.Context(), deps.Store, scope, time.Time{})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue sweep: %v", err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"success": true,
				"job_id":  id,
				"scope":   scope,
				"status":  "queued",
			})
			return
		}

		res, ok := runSweep(w, r, deps, scope)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, newIngestResponse(res))
	}
}

func handleNightly(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := runSweep(w, r, deps, ingest.ScopeAll)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Nightly ETL completed",
			"data":    newIngestResponse(res),
		})
	}
}

// runSweep runs a sweep detached from the request so a client disconnect
// never aborts ETL writes. On failure it writes the error response and
// reports false.
func runSweep(w http.ResponseWriter, r *http.Request, deps Deps, scope string) (ingest.Result, bool) {
	res, err := deps.Sweeper.Sweep(context.WithoutCancel(r.Context()), scope)
	switch {
	case errors.Is(err, storage.ErrRunInProgress):
		httpError(w, http.StatusConflict, "conflict_error", "a %s sweep is already running", scope)
		return res, false
	case err != nil:
		deps.Logger.Error("sweep failed to run", zap.String("scope", scope), zap.Error(err))
		httpError(w, http.StatusInternalServerError, "api_error", "ingest failed: %v", err)
		return res, false
	}
	return res, true
}

func handleWebhook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, err := connector.ParseSource(chi.URLParam(r, "source"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}

		res, err := deps.Webhooks.Handle(context.WithoutCancel(r.Context()), src, webhookToken(r, src), body)
		var authErr *connector.WebhookAuthError
		switch {
		case errors.As(err, &authErr):
			httpError(w, http.StatusUnauthorized, "authentication_error", "Unauthorized")
			return
		case errors.Is(err, ingest.ErrMalformedPayload):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			ingest.WebhookResult
		}{true, res})
	}
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := storage.RunFilter{
			Status:   q.Get("status"),
			ParentID: q.Get("parent_id"),
			Limit:    parseIntParam(r, "limit", 20, 200),
		}
		if s := q.Get("source"); s != "" {
			scope, err := ingest.ParseScope(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			filter.Source = scope
		}

		runs, err := deps.Store.ListRuns(r.Context(), filter)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.EtlRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// RunView is a ledger row plus the per-source rows of an "all" sweep.
type RunView struct {
	storage.EtlRun
	Children []storage.EtlRun `json:"children,omitempty"`
}

func handleGetRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		run, err := deps.Store.GetRun(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "etl run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		view := RunView{EtlRun: run}
		if run.Source == ingest.ScopeAll {
			view.Children, err = deps.Store.ListRuns(r.Context(), storage.RunFilter{ParentID: run.ID})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to list child runs: %v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
