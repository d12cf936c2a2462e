// Package connector contains the typed HTTP clients for the upstream SaaS
// systems (Aircall, WhatConverts, ISN, ElevenLabs) and the Null stand-in used
// when one of them is not configured.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source names an ingestion source. It is also the ledger scope of a
// single-source sweep.
type Source string

const (
	SourceCalls       Source = "calls"
	SourceLeads       Source = "leads"
	SourceInspections Source = "inspections"
)

// Sources lists every ingestion source in sweep order.
var Sources = []Source{SourceCalls, SourceLeads, SourceInspections}

// ParseSource accepts canonical source names and the vendor aliases used by
// older callers (aircall, whatconverts, isn).
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "calls", "aircall":
		return SourceCalls, nil
	case "leads", "whatconverts":
		return SourceLeads, nil
	case "inspections", "isn":
		return SourceInspections, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// Kind identifies the canonical record type a raw payload normalizes into.
type Kind string

const (
	KindCall       Kind = "call"
	KindMessage    Kind = "message"
	KindLead       Kind = "lead"
	KindInspection Kind = "inspection"
)

// RawRecord is one upstream object, kept verbatim.
type RawRecord struct {
	Kind    Kind
	Payload json.RawMessage
}

// Connector is the capability every ingestion source exposes.
type Connector interface {
	Source() Source
	// Configured reports whether real credentials were supplied.
	Configured() bool
	// List returns records updated at or after since. A zero since means a
	// full pull.
	List(ctx context.Context, since time.Time) ([]RawRecord, error)
	// VerifyWebhook reports whether token matches the configured webhook secret.
	VerifyWebhook(token string) bool
}
