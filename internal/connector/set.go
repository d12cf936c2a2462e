package connector

import (
	"go.uber.org/zap"
)

// Config groups the credentials of every upstream system.
type Config struct {
	Aircall      AircallConfig
	WhatConverts WhatConvertsConfig
	ISN          ISNConfig
	ElevenLabs   ElevenLabsConfig
}

// Set is the connector registry handed to the orchestrator, the webhook
// receiver and the dashboard cache.
type Set struct {
	Calls       Connector
	Leads       Connector
	Inspections Connector
	Bots        BotSource
	// Speech shares the ElevenLabs account with Bots.
	Speech Speaker
}

// NewSet constructs every connector. A connector whose credentials are
// missing is replaced by a Null carrying the ConfigurationError, so callers
// never branch on nil.
func NewSet(cfg Config, opts Options) *Set {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	unconfigured := func(src Source, err error) {
		logger.Warn("connector not configured, using synthetic data",
			zap.String("source", string(src)),
			zap.Error(err),
		)
	}

	s := &Set{}

	if c, err := NewAircall(cfg.Aircall, opts); err != nil {
		unconfigured(SourceCalls, err)
		s.Calls = NewNull(SourceCalls, err, cfg.Aircall.WebhookToken, opts)
	} else {
		s.Calls = c
	}

	if c, err := NewWhatConverts(cfg.WhatConverts, opts); err != nil {
		unconfigured(SourceLeads, err)
		s.Leads = NewNull(SourceLeads, err, cfg.WhatConverts.WebhookToken, opts)
	} else {
		s.Leads = c
	}

	if c, err := NewISN(cfg.ISN, opts); err != nil {
		unconfigured(SourceInspections, err)
		s.Inspections = NewNull(SourceInspections, err, cfg.ISN.WebhookToken, opts)
	} else {
		s.Inspections = c
	}

	if c, err := NewElevenLabs(cfg.ElevenLabs, opts); err != nil {
		unconfigured(SourceBots, err)
		nb := NewNullBots(err)
		s.Bots, s.Speech = nb, nb
	} else {
		s.Bots, s.Speech = c, c
	}

	return s
}

// Get returns the connector for src, or nil for an unknown source.
func (s *Set) Get(src Source) Connector {
	switch src {
	case SourceCalls:
		return s.Calls
	case SourceLeads:
		return s.Leads
	case SourceInspections:
		return s.Inspections
	}
	return nil
}

// Status reports configuration per source, keyed by source name.
func (s *Set) Status() map[string]bool {
	return map[string]bool{
		string(SourceCalls):       s.Calls.Configured(),
		string(SourceLeads):       s.Leads.Configured(),
		string(SourceInspections): s.Inspections.Configured(),
		string(SourceBots):        s.Bots.Configured(),
	}
}
