package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Null stands in for a connector whose credentials are missing. It still
// verifies webhooks (the secret is independent of API credentials) and its
// List returns a deterministic synthetic data set for dashboard previews.
// Sweeps check Configured and never persist synthetic rows.
type Null struct {
	source  Source
	Cause   error
	webhook webhookSecret
	now     func() time.Time
}

func NewNull(source Source, cause error, webhookToken string, opts Options) *Null {
	return &Null{
		source:  source,
		Cause:   cause,
		webhook: webhookSecret{secret: webhookToken, allowUnsigned: opts.AllowUnsignedWebhooks},
		now:     time.Now,
	}
}

func (n *Null) Source() Source   { return n.source }
func (n *Null) Configured() bool { return false }

func (n *Null) VerifyWebhook(token string) bool { return n.webhook.verify(token) }

func (n *Null) List(_ context.Context, _ time.Time) ([]RawRecord, error) {
	return SyntheticRecords(n.source, n.now())
}

// SyntheticRecords returns the placeholder data set for src anchored at now.
func SyntheticRecords(src Source, now time.Time) ([]RawRecord, error) {
	switch src {
	case SourceCalls:
		return syntheticCalls(now), nil
	case SourceLeads:
		return syntheticLeads(now), nil
	case SourceInspections:
		return syntheticInspections(now), nil
	default:
		return nil, fmt.Errorf("no synthetic data for source %q", src)
	}
}

// ConfigCause returns the construction error behind a Null connector, or nil
// for a real one.
func ConfigCause(c Connector) error {
	n, ok := c.(*Null)
	if !ok {
		return nil
	}
	if n.Cause != nil {
		return n.Cause
	}
	return &ConfigurationError{Source: n.source}
}

// NullBots is the unconfigured voice-agent feed.
type NullBots struct {
	Cause error
	now   func() time.Time
}

func NewNullBots(cause error) *NullBots {
	return &NullBots{Cause: cause, now: time.Now}
}

func (n *NullBots) Configured() bool { return false }

func (n *NullBots) Conversations(_ context.Context, _ time.Time) ([]Conversation, error) {
	return SyntheticConversations(n.now()), nil
}

// TTSStream has no synthetic counterpart and always fails.
func (n *NullBots) TTSStream(_ context.Context, _, _ string) (io.ReadCloser, error) {
	if n.Cause != nil {
		return nil, n.Cause
	}
	return nil, &ConfigurationError{Source: SourceBots, Missing: []string{"elevenlabs.api_key"}}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func syntheticCalls(now time.Time) []RawRecord {
	base := now.UTC().Truncate(time.Hour)
	var out []RawRecord
	for i := 0; i < 24; i++ {
		started := base.Add(-time.Duration(i*7) * time.Hour)
		duration := 60 + (i*37)%540
		status := "done"
		if i%5 == 4 {
			status = "missed"
			duration = 0
		}
		direction := "inbound"
		if i%3 == 2 {
			direction = "outbound"
		}
		out = append(out, RawRecord{Kind: KindCall, Payload: mustJSON(map[string]any{
			"id":         900000 + i,
			"direction":  direction,
			"from":       fmt.Sprintf("+1555010%04d", i),
			"to":         "+15550199999",
			"user":       map[string]any{"id": 100 + i%4},
			"started_at": started.Unix(),
			"ended_at":   started.Add(time.Duration(duration) * time.Second).Unix(),
			"duration":   duration,
			"status":     status,
		})})
	}
	for i := 0; i < 4; i++ {
		sent := base.Add(-time.Duration(i*11) * time.Hour)
		out = append(out, RawRecord{Kind: KindMessage, Payload: mustJSON(map[string]any{
			"id":        950000 + i,
			"direction": "inbound",
			"from":      fmt.Sprintf("+1555020%04d", i),
			"to":        "+15550199999",
			"content":   "Can I book an inspection?",
			"status":    "received",
			"sent_at":   sent.Unix(),
		})})
	}
	return out
}

func syntheticLeads(now time.Time) []RawRecord {
	base := now.UTC().Truncate(time.Hour)
	sources := []string{"google", "facebook", "referral", "direct"}
	types := []string{"Phone Call", "Web Form", "Chat"}
	var out []RawRecord
	for i := 0; i < 12; i++ {
		created := base.Add(-time.Duration(i*13) * time.Hour)
		out = append(out, RawRecord{Kind: KindLead, Payload: mustJSON(map[string]any{
			"lead_id":      fmt.Sprintf("synthetic-lead-%d", i+1),
			"lead_source":  sources[i%len(sources)],
			"lead_medium":  "cpc",
			"lead_type":    types[i%len(types)],
			"lead_value":   float64(150 + 25*i),
			"date_created": created.Format("2006-01-02 15:04:05"),
		})})
	}
	return out
}

func syntheticInspections(now time.Time) []RawRecord {
	base := now.UTC().Truncate(time.Hour)
	engineers := []string{"A. Rivera", "J. Chen", "M. Okafor"}
	var out []RawRecord
	for i := 0; i < 14; i++ {
		scheduled := base.Add(time.Duration(i*12-96) * time.Hour)
		rec := map[string]any{
			"id":             fmt.Sprintf("synthetic-insp-%d", i+1),
			"customer_name":  fmt.Sprintf("Customer %d", i+1),
			"address":        fmt.Sprintf("%d Main St", 100+i),
			"city":           "Springfield",
			"state":          "IL",
			"zip":            "62701",
			"scheduled_date": scheduled.Format(time.RFC3339),
			"inspector_name": engineers[i%len(engineers)],
		}
		if scheduled.Before(base) && i%4 != 3 {
			rec["status"] = "completed"
			rec["completed_date"] = scheduled.Add(2 * time.Hour).Format(time.RFC3339)
		} else {
			rec["status"] = "scheduled"
		}
		out = append(out, RawRecord{Kind: KindInspection, Payload: mustJSON(rec)})
	}
	return out
}

// SyntheticConversations returns a deterministic week of voice-agent calls.
func SyntheticConversations(now time.Time) []Conversation {
	base := now.UTC().Truncate(time.Hour)
	var out []Conversation
	for i := 0; i < 20; i++ {
		c := Conversation{
			ID:             fmt.Sprintf("synthetic-conv-%d", i+1),
			AgentID:        "synthetic-agent",
			StartUnix:      base.Add(-time.Duration(i*8+i%3) * time.Hour).Unix(),
			DurationSecs:   float64(90 + (i*29)%240),
			Status:         "done",
			CallSuccessful: "success",
		}
		if i%6 == 5 {
			c.CallSuccessful = "failure"
		}
		out = append(out, c)
	}
	return out
}
