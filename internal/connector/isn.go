package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const isnBaseURL = "https://api.inspectionsupport.net"

type ISNConfig struct {
	APIKey string
	// CompanyKey selects the tenant on multi-company accounts.
	CompanyKey   string
	WebhookToken string
	BaseURL      string
}

// ISN lists scheduled and completed inspections.
type ISN struct {
	client  *httpClient
	opts    Options
	webhook webhookSecret
}

func NewISN(cfg ISNConfig, opts Options) (*ISN, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Source: SourceInspections, Missing: []string{"isn.api_key"}}
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	opts = opts.withDefaults(isnBaseURL)
	auth := func(r *http.Request) {
		r.Header.Set("X-ISN-API-Key", cfg.APIKey)
		if cfg.CompanyKey != "" {
			r.Header.Set("X-ISN-Company-Key", cfg.CompanyKey)
		}
	}
	return &ISN{
		client:  newHTTPClient(SourceInspections, opts, auth),
		opts:    opts,
		webhook: webhookSecret{secret: cfg.WebhookToken, allowUnsigned: opts.AllowUnsignedWebhooks},
	}, nil
}

func (i *ISN) Source() Source   { return SourceInspections }
func (i *ISN) Configured() bool { return true }

func (i *ISN) VerifyWebhook(token string) bool { return i.webhook.verify(token) }

// isnPage accepts both envelope shapes the API has used.
type isnPage struct {
	Inspections []json.RawMessage `json:"inspections"`
	Data        []json.RawMessage `json:"data"`
}

func (p isnPage) items() []json.RawMessage {
	if len(p.Inspections) > 0 {
		return p.Inspections
	}
	return p.Data
}

// List pages by offset. A full page means more may follow, so a full page at
// MaxPages is reported as truncated.
func (i *ISN) List(ctx context.Context, since time.Time) ([]RawRecord, error) {
	var out []RawRecord
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(i.opts.PageSize))
		q.Set("offset", strconv.Itoa((page-1)*i.opts.PageSize))
		if !since.IsZero() {
			q.Set("updated_since", formatSince(since))
		}

		var body isnPage
		if err := i.client.getJSON(ctx, "/inspections", q, &body); err != nil {
			return nil, err
		}
		items := body.items()
		for _, item := range items {
			out = append(out, RawRecord{Kind: KindInspection, Payload: item})
		}
		if len(items) < i.opts.PageSize {
			return out, nil
		}
		if page >= i.opts.MaxPages {
			return out, pageLimitError(SourceInspections, page)
		}
	}
}
