package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

const aircallBaseURL = "https://api.aircall.io"

// AircallConfig holds Aircall credentials. Calls and SMS share one account.
type AircallConfig struct {
	APIID        string
	APIToken     string
	WebhookToken string
	// BaseURL overrides the public API host.
	BaseURL string
}

// Aircall lists calls and SMS messages.
type Aircall struct {
	client  *httpClient
	opts    Options
	webhook webhookSecret
}

// NewAircall returns a *ConfigurationError when the API id or token is empty.
func NewAircall(cfg AircallConfig, opts Options) (*Aircall, error) {
	var missing []string
	if cfg.APIID == "" {
		missing = append(missing, "aircall.api_id")
	}
	if cfg.APIToken == "" {
		missing = append(missing, "aircall.api_token")
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Source: SourceCalls, Missing: missing}
	}

	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	opts = opts.withDefaults(aircallBaseURL)
	auth := func(r *http.Request) { r.SetBasicAuth(cfg.APIID, cfg.APIToken) }
	return &Aircall{
		client:  newHTTPClient(SourceCalls, opts, auth),
		opts:    opts,
		webhook: webhookSecret{secret: cfg.WebhookToken, allowUnsigned: opts.AllowUnsignedWebhooks},
	}, nil
}

func (a *Aircall) Source() Source   { return SourceCalls }
func (a *Aircall) Configured() bool { return true }

func (a *Aircall) VerifyWebhook(token string) bool { return a.webhook.verify(token) }

// List fetches calls and messages concurrently. Either failing fails the
// whole source; a truncated listing still returns what was fetched.
func (a *Aircall) List(ctx context.Context, since time.Time) ([]RawRecord, error) {
	var calls, messages []RawRecord
	var callsTruncated, messagesTruncated error

	// A truncated listing must not cancel its sibling.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		calls, err = a.listResource(gctx, "/v1/calls", "calls", KindCall, since)
		if IsPageLimit(err) {
			callsTruncated = err
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		messages, err = a.listResource(gctx, "/v1/messages", "messages", KindMessage, since)
		if IsPageLimit(err) {
			messagesTruncated = err
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := append(calls, messages...)
	if callsTruncated != nil {
		return out, callsTruncated
	}
	return out, messagesTruncated
}

type aircallMeta struct {
	NextPageLink string `json:"next_page_link"`
}

func (a *Aircall) listResource(ctx context.Context, path, field string, kind Kind, since time.Time) ([]RawRecord, error) {
	var out []RawRecord
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(a.opts.PageSize))
		q.Set("page", strconv.Itoa(page))
		if !since.IsZero() {
			q.Set("updated_since", formatSince(since))
		}

		var body map[string]json.RawMessage
		if err := a.client.getJSON(ctx, path, q, &body); err != nil {
			return nil, err
		}

		var items []json.RawMessage
		if raw, ok := body[field]; ok {
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, &ConnectorError{Source: SourceCalls, Err: fmt.Errorf("decoding %s: %w", field, err)}
			}
		}
		for _, item := range items {
			out = append(out, RawRecord{Kind: kind, Payload: item})
		}

		var meta aircallMeta
		if raw, ok := body["meta"]; ok {
			_ = json.Unmarshal(raw, &meta)
		}
		if meta.NextPageLink == "" || len(items) == 0 {
			return out, nil
		}
		if page >= a.opts.MaxPages {
			return out, pageLimitError(SourceCalls, page)
		}
	}
}
