package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const whatConvertsBaseURL = "https://app.whatconverts.com/api/v1"

type WhatConvertsConfig struct {
	APIKey       string
	WebhookToken string
	BaseURL      string
}

// WhatConverts lists marketing leads.
type WhatConverts struct {
	client  *httpClient
	opts    Options
	webhook webhookSecret
}

func NewWhatConverts(cfg WhatConvertsConfig, opts Options) (*WhatConverts, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Source: SourceLeads, Missing: []string{"whatconverts.api_key"}}
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	opts = opts.withDefaults(whatConvertsBaseURL)
	auth := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+cfg.APIKey) }
	return &WhatConverts{
		client:  newHTTPClient(SourceLeads, opts, auth),
		opts:    opts,
		webhook: webhookSecret{secret: cfg.WebhookToken, allowUnsigned: opts.AllowUnsignedWebhooks},
	}, nil
}

func (w *WhatConverts) Source() Source   { return SourceLeads }
func (w *WhatConverts) Configured() bool { return true }

func (w *WhatConverts) VerifyWebhook(token string) bool { return w.webhook.verify(token) }

type whatConvertsPage struct {
	Leads      []json.RawMessage `json:"leads"`
	PageNumber int               `json:"page_number"`
	TotalPages int               `json:"total_pages"`
}

// List filters by calendar day only (date_start), so it returns a superset
// of the leads updated at or after since.
func (w *WhatConverts) List(ctx context.Context, since time.Time) ([]RawRecord, error) {
	var out []RawRecord
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(w.opts.PageSize))
		q.Set("page_number", strconv.Itoa(page))
		if !since.IsZero() {
			q.Set("date_start", since.UTC().Format("2006-01-02"))
		}

		var body whatConvertsPage
		if err := w.client.getJSON(ctx, "/leads", q, &body); err != nil {
			return nil, err
		}
		for _, lead := range body.Leads {
			out = append(out, RawRecord{Kind: KindLead, Payload: lead})
		}
		if len(body.Leads) == 0 || page >= body.TotalPages {
			return out, nil
		}
		if page >= w.opts.MaxPages {
			return out, pageLimitError(SourceLeads, page)
		}
	}
}
