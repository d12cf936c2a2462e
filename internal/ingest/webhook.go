package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/normalize"
	"github.com/greenworks/execdash/internal/telemetry"
)

// ErrMalformedPayload marks a webhook body that could not be decoded into a
// record.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Aircall webhook events that carry a record.
const (
	eventCallCreated     = "call.created"
	eventCallEnded       = "call.ended"
	eventMessageSent     = "message.sent"
	eventMessageReceived = "message.received"
)

// WebhookResult describes what a webhook delivery did.
type WebhookResult struct {
	Kind    connector.Kind `json:"kind,omitempty"`
	ID      string         `json:"id,omitempty"`
	Event   string         `json:"event,omitempty"`
	Ignored bool           `json:"ignored,omitempty"`
}

// Receiver applies single-record webhook deliveries. It writes straight to
// the sink and never touches the ledger or the watermark.
type Receiver struct {
	sink       Sink
	connectors *connector.Set
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

func NewReceiver(sink Sink, connectors *connector.Set, metrics *telemetry.Metrics, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.L()
	}
	return &Receiver{sink: sink, connectors: connectors, metrics: metrics, logger: logger.Named("webhook")}
}

type aircallEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handle verifies token against the source's webhook secret, normalizes body
// and upserts the record. Errors are a *connector.WebhookAuthError for a bad
// token, ErrMalformedPayload for an undecodable body, or a storage failure.
func (r *Receiver) Handle(ctx context.Context, src connector.Source, token string, body []byte) (WebhookResult, error) {
	res, err := r.handle(ctx, src, token, body)
	outcome := "ok"
	switch {
	case err == nil && res.Ignored:
		outcome = "ignored"
	case errors.Is(err, ErrMalformedPayload):
		outcome = "malformed"
	case err != nil:
		var authErr *connector.WebhookAuthError
		if errors.As(err, &authErr) {
			outcome = "unauthorized"
		} else {
			outcome = "error"
		}
	}
	r.metrics.Webhook(string(src), outcome)

	log := r.logger.With(zap.String("source", string(src)), zap.String("outcome", outcome))
	if err != nil {
		log.Warn("webhook rejected", zap.Error(err))
	} else {
		log.Debug("webhook applied", zap.String("id", res.ID), zap.String("event", res.Event))
	}
	return res, err
}

func (r *Receiver) handle(ctx context.Context, src connector.Source, token string, body []byte) (WebhookResult, error) {
	c := r.connectors.Get(src)
	if c == nil {
		return WebhookResult{}, fmt.Errorf("%w: unknown source %q", ErrMalformedPayload, src)
	}
	if !c.VerifyWebhook(token) {
		return WebhookResult{}, &connector.WebhookAuthError{Source: src}
	}

	var batch normalize.Batch
	res := WebhookResult{}

	switch src {
	case connector.SourceCalls:
		var env aircallEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return res, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		res.Event = env.Event
		switch env.Event {
		case eventCallCreated, eventCallEnded:
			row, err := normalize.Call(env.Data)
			if err != nil {
				return res, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			}
			batch.Calls = append(batch.Calls, row)
			res.Kind, res.ID = connector.KindCall, row.ID
		case eventMessageSent, eventMessageReceived:
			row, err := normalize.Message(env.Data)
			if err != nil {
				return res, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			}
			batch.Messages = append(batch.Messages, row)
			res.Kind, res.ID = connector.KindMessage, row.ID
		default:
			res.Ignored = true
			return res, nil
		}
	case connector.SourceLeads:
		row, err := normalize.Lead(body)
		if err != nil {
			return res, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		batch.Leads = append(batch.Leads, row)
		res.Kind, res.ID = connector.KindLead, row.ID
	case connector.SourceInspections:
		row, err := normalize.Inspection(body)
		if err != nil {
			return res, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		batch.Inspections = append(batch.Inspections, row)
		res.Kind, res.ID = connector.KindInspection, row.ID
	}

	if err := r.write(ctx, batch); err != nil {
		return res, fmt.Errorf("storing %s %s: %w", res.Kind, res.ID, err)
	}
	return res, nil
}

func (r *Receiver) write(ctx context.Context, b normalize.Batch) error {
	var n int
	var err error
	switch {
	case len(b.Calls) > 0:
		n, err = r.sink.UpsertCalls(ctx, b.Calls)
		r.metrics.Upserted(string(connector.KindCall), "webhook", n)
	case len(b.Messages) > 0:
		n, err = r.sink.UpsertMessages(ctx, b.Messages)
		r.metrics.Upserted(string(connector.KindMessage), "webhook", n)
	case len(b.Leads) > 0:
		n, err = r.sink.UpsertLeads(ctx, b.Leads)
		r.metrics.Upserted(string(connector.KindLead), "webhook", n)
	case len(b.Inspections) > 0:
		n, err = r.sink.UpsertInspections(ctx, b.Inspections)
		r.metrics.Upserted(string(connector.KindInspection), "webhook", n)
	}
	return err
}
