package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/chat"
	"github.com/greenworks/execdash/internal/proxy"
)

type chatChunk struct {
	Text string `json:"text"`
}

// handleChat streams the answer as SSE `data: {"text":...}` events followed
// by `data: [DONE]`. The event stream starts with the first chunk, so a
// failure before any text is still reported as a JSON error response.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Chat == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "chat is not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chat.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		var sse *sseWriter
		emit := func(text string) error {
			if sse == nil {
				var err error
				if sse, err = newSSEWriter(w); err != nil {
					return err
				}
			}
			return sse.data(chatChunk{Text: text})
		}

		_, err := deps.Chat.Stream(r.Context(), req, emit)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			deps.Logger.Error("chat failed", zap.Error(err))
			if sse == nil {
				code := http.StatusBadGateway
				if errors.Is(err, proxy.ErrNotConfigured) {
					code = http.StatusServiceUnavailable
				}
				httpError(w, code, "api_error", "%v", err)
				return
			}
			sse.data(map[string]string{"error": err.Error()})
			return
		}

		if sse == nil {
			if sse, err = newSSEWriter(w); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
				return
			}
		}
		sse.done()
	}
}
