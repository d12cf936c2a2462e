// Package chat runs the dashboard assistant: it builds a system prompt with
// current operational context and streams the model's answer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/proxy"
	"github.com/greenworks/execdash/internal/storage"
)

const basePrompt = `You are a helpful AI assistant for Greenworks, a company that manages inspections, sites, engineers, and work orders.
You have access to data about:
- Inspections and their statuses
- Sites and customer information
- Engineers and their assignments
- Work orders and costs
- Call logs from Aircall
- Leads from WhatConverts
- Inspection data from ISN

Provide concise, accurate answers based on the available data. When citing specific data, include relevant IDs or references.`

// liveWindow is how far back live connector context looks.
const liveWindow = 24 * time.Hour

// ErrNoMessages rejects a request without a conversation.
var ErrNoMessages = errors.New("messages array required")

// Request is the body of a chat call.
type Request struct {
	Messages          []proxy.Message `json:"messages"`
	UseLiveConnectors bool            `json:"useLiveConnectors"`
	SessionID         string          `json:"sessionId"`
}

// Validate checks the conversation is usable.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "user", "assistant":
		default:
			return fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
	}
	return nil
}

// LLM streams a completion. *proxy.Client implements it.
type LLM interface {
	Stream(ctx context.Context, req proxy.ChatRequest, onText func(string) error) (string, error)
}

// Store provides database context and the transcript.
type Store interface {
	RecentInspections(ctx context.Context, limit int) ([]storage.InspectionRow, error)
	Counts(ctx context.Context, since time.Time) (storage.RecordCounts, error)
	SaveChatMessage(ctx context.Context, m storage.ChatMessage) (storage.ChatMessage, error)
}

type Options struct {
	Model     string
	MaxTokens int
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service answers chat requests.
type Service struct {
	llm        LLM
	store      Store
	connectors *connector.Set
	model      string
	maxTokens  int
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(llm LLM, store Store, connectors *connector.Set, opts Options) *Service {
	s := &Service{
		llm:        llm,
		store:      store,
		connectors: connectors,
		model:      opts.Model,
		maxTokens:  opts.MaxTokens,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.model == "" {
		s.model = proxy.DefaultModel
	}
	if s.maxTokens <= 0 {
		s.maxTokens = proxy.DefaultMaxTokens
	}
	if s.logger == nil {
		s.logger = zap.L()
	}
	s.logger = s.logger.Named("chat")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Stream answers req, calling emit for each text chunk. When req carries a
// session id the last user message and the full answer are saved once the
// stream has completed.
func (s *Service) Stream(ctx context.Context, req Request, emit func(string) error) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	answer, err := s.llm.Stream(ctx, proxy.ChatRequest{
		Model:     s.model,
		Messages:  append([]proxy.Message{{Role: "system", Content: s.SystemPrompt(ctx, req.UseLiveConnectors)}}, req.Messages...),
		MaxTokens: s.maxTokens,
	}, emit)
	if err != nil {
		return answer, fmt.Errorf("streaming answer: %w", err)
	}

	if req.SessionID != "" {
		if err := s.save(ctx, req, answer); err != nil {
			return answer, err
		}
	}
	return answer, nil
}

func (s *Service) save(ctx context.Context, req Request, answer string) error {
	var question string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			question = req.Messages[i].Content
			break
		}
	}
	ctx = context.WithoutCancel(ctx)
	for _, m := range []storage.ChatMessage{
		{SessionID: req.SessionID, Role: "user", Content: question},
		{SessionID: req.SessionID, Role: "assistant", Content: answer},
	} {
		if _, err := s.store.SaveChatMessage(ctx, m); err != nil {
			return fmt.Errorf("saving %s message: %w", m.Role, err)
		}
	}
	return nil
}

// SystemPrompt returns the base prompt plus a context section. Context
// failures are logged and leave the prompt without that section.
func (s *Service) SystemPrompt(ctx context.Context, live bool) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if live {
		c := s.liveCounts(ctx)
		fmt.Fprintf(&b, "\n\nRecent live data (last 24 hours):\n- Calls: %d total\n- Leads: %d total\n- ISN Inspections: %d total",
			c.Calls, c.Leads, c.Inspections)
		return b.String()
	}

	recent, err := s.store.RecentInspections(ctx, 5)
	if err != nil {
		s.logger.Warn("loading recent inspections", zap.Error(err))
		return b.String()
	}
	if len(recent) > 0 {
		fmt.Fprintf(&b, "\n\nRecent inspections in database: %d", len(recent))
		for _, r := range recent {
			fmt.Fprintf(&b, "\n- %s: %s, %s", r.ID, r.Customer, r.Status)
			if r.ScheduledAt != nil {
				fmt.Fprintf(&b, ", scheduled %s", r.ScheduledAt.Format(time.DateOnly))
			}
		}
	}
	counts, err := s.store.Counts(ctx, s.now().Add(-liveWindow))
	if err != nil {
		s.logger.Warn("counting stored records", zap.Error(err))
		return b.String()
	}
	fmt.Fprintf(&b, "\n\nStored records from the last 24 hours:\n- Calls: %d\n- Leads: %d\n- Inspections: %d",
		counts.Calls, counts.Leads, counts.Inspections)
	return b.String()
}

// liveCounts lists the last day from every configured connector. A failing
// or unconfigured source counts as zero.
func (s *Service) liveCounts(ctx context.Context) storage.RecordCounts {
	since := s.now().Add(-liveWindow)
	count := func(c connector.Connector, kind connector.Kind, dst *int) func() error {
		return func() error {
			if !c.Configured() {
				return nil
			}
			recs, err := c.List(ctx, since)
			if err != nil && !connector.IsPageLimit(err) {
				s.logger.Warn("live context fetch failed", zap.String("source", string(c.Source())), zap.Error(err))
				return nil
			}
			for _, r := range recs {
				if r.Kind == kind {
					*dst++
				}
			}
			return nil
		}
	}

	var out storage.RecordCounts
	var g errgroup.Group
	g.Go(count(s.connectors.Calls, connector.KindCall, &out.Calls))
	g.Go(count(s.connectors.Leads, connector.KindLead, &out.Leads))
	g.Go(count(s.connectors.Inspections, connector.KindInspection, &out.Inspections))
	g.Wait()
	return out
}
