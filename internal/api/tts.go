package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/connector"
)

type TTSRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

// handleTTS relays synthesized speech as audio/mpeg, flushing each chunk as
// it arrives from upstream.
func handleTTS(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Speech == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "text-to-speech is not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req TTSRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		audio, err := deps.Speech.TTSStream(r.Context(), req.Text, req.VoiceID)
		if err != nil {
			if connector.IsConfiguration(err) {
				httpError(w, http.StatusServiceUnavailable, "api_error", "text-to-speech is not configured")
				return
			}
			deps.Logger.Error("tts failed", zap.Error(err))
			httpError(w, http.StatusInternalServerError, "api_error", "TTS service error")
			return
		}
		defer audio.Close()

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		rc := http.NewResponseController(w)
		buf := make([]byte, 32*1024)
		for {
			n, rerr := audio.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return
				}
				rc.Flush()
			}
			if rerr == io.EOF {
				return
			}
			if rerr != nil {
				if r.Context().Err() == nil {
					deps.Logger.Warn("tts stream interrupted", zap.Error(rerr))
				}
				return
			}
		}
	}
}
