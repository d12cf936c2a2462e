package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"
	ttsModel          = "eleven_monolingual_v1"
	// DefaultVoiceID is the stock "Rachel" voice.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

// SourceBots labels the voice-agent conversation feed. It is read by the
// dashboard only and never ingested.
const SourceBots Source = "bot_calls"

type ElevenLabsConfig struct {
	APIKey  string
	AgentID string
	// VoiceID is the text-to-speech voice used when a request names none.
	VoiceID string
	BaseURL string
}

// Conversation is one voice-agent call as reported by ElevenLabs.
type Conversation struct {
	ID             string  `json:"conversation_id"`
	AgentID        string  `json:"agent_id"`
	StartUnix      int64   `json:"start_time_unix_secs"`
	DurationSecs   float64 `json:"call_duration_secs"`
	Status         string  `json:"status"`
	CallSuccessful string  `json:"call_successful"`
}

func (c Conversation) StartedAt() time.Time { return time.Unix(c.StartUnix, 0).UTC() }

// Succeeded reports a finished conversation the agent evaluated as successful.
func (c Conversation) Succeeded() bool {
	return c.Status == "done" && c.CallSuccessful == "success"
}

// BotSource lists voice-agent conversations.
type BotSource interface {
	Configured() bool
	Conversations(ctx context.Context, since time.Time) ([]Conversation, error)
}

// Speaker synthesizes speech. *ElevenLabs implements it.
type Speaker interface {
	TTSStream(ctx context.Context, text, voiceID string) (io.ReadCloser, error)
}

// ElevenLabs reads conversational-AI call history and synthesizes speech.
type ElevenLabs struct {
	client  *httpClient
	opts    Options
	agentID string
	voiceID string
}

func NewElevenLabs(cfg ElevenLabsConfig, opts Options) (*ElevenLabs, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Source: SourceBots, Missing: []string{"elevenlabs.api_key"}}
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	opts = opts.withDefaults(elevenLabsBaseURL)
	auth := func(r *http.Request) { r.Header.Set("xi-api-key", cfg.APIKey) }
	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	return &ElevenLabs{
		client:  newHTTPClient(SourceBots, opts, auth),
		opts:    opts,
		agentID: cfg.AgentID,
		voiceID: voiceID,
	}, nil
}

func (e *ElevenLabs) Configured() bool { return true }

type conversationPage struct {
	Conversations []Conversation `json:"conversations"`
	NextCursor    string         `json:"next_cursor"`
	HasMore       bool           `json:"has_more"`
}

// Conversations pages newest-first and stops at the first conversation that
// started before since.
func (e *ElevenLabs) Conversations(ctx context.Context, since time.Time) ([]Conversation, error) {
	var out []Conversation
	cursor := ""
	for page := 0; page < e.opts.MaxPages; page++ {
		q := url.Values{}
		q.Set("page_size", strconv.Itoa(e.opts.PageSize))
		if e.agentID != "" {
			q.Set("agent_id", e.agentID)
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var body conversationPage
		if err := e.client.getJSON(ctx, "/v1/convai/conversations", q, &body); err != nil {
			return nil, err
		}
		for _, c := range body.Conversations {
			if !since.IsZero() && c.StartedAt().Before(since) {
				return out, nil
			}
			out = append(out, c)
		}
		if !body.HasMore || body.NextCursor == "" {
			break
		}
		cursor = body.NextCursor
	}
	return out, nil
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// TTSStream returns the audio/mpeg stream for text. An empty voiceID uses
// the configured voice. The caller must close the stream.
func (e *ElevenLabs) TTSStream(ctx context.Context, text, voiceID string) (io.ReadCloser, error) {
	if voiceID == "" {
		voiceID = e.voiceID
	}
	body, err := json.Marshal(ttsRequest{
		Text:          text,
		ModelID:       ttsModel,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, &ConnectorError{Source: SourceBots, Err: fmt.Errorf("encoding tts request: %w", err)}
	}
	path := "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream"
	return e.client.postStream(ctx, path, body, "audio/mpeg")
}
