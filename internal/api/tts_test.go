package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/greenworks/execdash/internal/connector"
)

func TestTTS_StreamsAudio(t *testing.T) {
	env := newTestEnv(t)
	env.speech.audio = "ID3-fake-mpeg-frames"

	rr := env.serve(authReq(http.MethodPost, "/tts", `{"text":"Twelve calls today.","voiceId":"v-2"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if rr.Body.String() != "ID3-fake-mpeg-frames" {
		t.Errorf("body = %q, want the upstream audio", rr.Body.String())
	}
	if env.speech.text != "Twelve calls today." || env.speech.voiceID != "v-2" {
		t.Errorf("request not forwarded: text=%q voice=%q", env.speech.text, env.speech.voiceID)
	}
}

func TestTTS_TextRequired(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`{}`, `{"text":"   "}`, `not json`} {
		rr := env.serve(authReq(http.MethodPost, "/tts", body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestTTS_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.speech.err = &connector.ConnectorError{Source: connector.SourceBots, StatusCode: 401, Body: "invalid api key"}

	rr := env.serve(authReq(http.MethodPost, "/tts", `{"text":"hi"}`, testToken))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if !strings.Contains(rr.Body.String(), "TTS service error") {
		t.Errorf("body = %s, want TTS service error", rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "invalid api key") {
		t.Errorf("upstream body leaked: %s", rr.Body.String())
	}
}

func TestTTS_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	_, env.speech.err = connector.NewNullBots(nil).TTSStream(context.Background(), "hi", "")

	rr := env.serve(authReq(http.MethodPost, "/tts", `{"text":"hi"}`, testToken))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestTTS_NoSpeaker(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Speech = nil })
	rr := env.serve(authReq(http.MethodPost, "/tts", `{"text":"hi"}`, testToken))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestTTS_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.serve(authReq(http.MethodPost, "/tts", `{"text":"hi"}`, "wrong"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
