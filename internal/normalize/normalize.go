// Package normalize turns raw connector payloads into canonical rows.
// Every function is pure. Only the id is mandatory; any other field that is
// absent or unparseable is left empty.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/storage"
)

// NormalizationError rejects a single record.
type NormalizationError struct {
	Kind   connector.Kind
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Kind, e.Reason)
}

type object map[string]json.RawMessage

func decode(kind connector.Kind, raw json.RawMessage) (object, error) {
	var obj object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &NormalizationError{Kind: kind, Reason: fmt.Sprintf("invalid JSON object: %v", err)}
	}
	if obj == nil {
		return nil, &NormalizationError{Kind: kind, Reason: "payload is null"}
	}
	return obj, nil
}

func requireID(kind connector.Kind, v json.RawMessage) (string, error) {
	id := text(v)
	if id == "" {
		return "", &NormalizationError{Kind: kind, Reason: "missing id"}
	}
	return id, nil
}

// Call maps an Aircall call object.
func Call(raw json.RawMessage) (storage.CallRow, error) {
	obj, err := decode(connector.KindCall, raw)
	if err != nil {
		return storage.CallRow{}, err
	}
	id, err := requireID(connector.KindCall, obj["id"])
	if err != nil {
		return storage.CallRow{}, err
	}

	var agentID string
	if user, ok := obj["user"]; ok {
		var u object
		if json.Unmarshal(user, &u) == nil {
			agentID = text(u["id"])
		}
	}

	return storage.CallRow{
		ID:           id,
		Direction:    text(obj["direction"]),
		FromNumber:   text(obj["from"]),
		ToNumber:     text(obj["to"]),
		AgentID:      agentID,
		StartedAt:    instant(obj["started_at"]),
		EndedAt:      instant(obj["ended_at"]),
		Duration:     integer(obj["duration"]),
		Status:       text(obj["status"]),
		RecordingURL: text(obj["recording"]),
		Raw:          raw,
	}, nil
}

// Message maps an Aircall SMS object.
func Message(raw json.RawMessage) (storage.MessageRow, error) {
	obj, err := decode(connector.KindMessage, raw)
	if err != nil {
		return storage.MessageRow{}, err
	}
	id, err := requireID(connector.KindMessage, obj["id"])
	if err != nil {
		return storage.MessageRow{}, err
	}
	return storage.MessageRow{
		ID:         id,
		Direction:  text(obj["direction"]),
		FromNumber: text(obj["from"]),
		ToNumber:   text(obj["to"]),
		Body:       text(obj["content"]),
		Status:     text(obj["status"]),
		SentAt:     instant(obj["sent_at"]),
		Raw:        raw,
	}, nil
}

// Lead maps a WhatConverts lead.
func Lead(raw json.RawMessage) (storage.LeadRow, error) {
	obj, err := decode(connector.KindLead, raw)
	if err != nil {
		return storage.LeadRow{}, err
	}
	id, err := requireID(connector.KindLead, obj["lead_id"])
	if err != nil {
		return storage.LeadRow{}, err
	}
	return storage.LeadRow{
		ID:             id,
		Source:         text(obj["lead_source"]),
		Medium:         text(obj["lead_medium"]),
		Campaign:       text(obj["lead_campaign"]),
		Keyword:        text(obj["lead_keyword"]),
		CallerNumber:   text(obj["caller_number"]),
		Email:          text(obj["contact_email"]),
		ConversionType: text(obj["lead_type"]),
		Revenue:        decimal(obj["lead_value"]),
		CreatedAt:      instant(obj["date_created"]),
		Raw:            raw,
	}, nil
}

// Inspection maps an ISN inspection. The street, city, state and zip parts
// are joined into one address.
func Inspection(raw json.RawMessage) (storage.InspectionRow, error) {
	obj, err := decode(connector.KindInspection, raw)
	if err != nil {
		return storage.InspectionRow{}, err
	}
	id, err := requireID(connector.KindInspection, obj["id"])
	if err != nil {
		return storage.InspectionRow{}, err
	}
	return storage.InspectionRow{
		ID:               id,
		Customer:         text(obj["customer_name"]),
		Address:          JoinAddress(text(obj["address"]), text(obj["city"]), text(obj["state"]), text(obj["zip"])),
		Status:           text(obj["status"]),
		ScheduledAt:      instant(obj["scheduled_date"]),
		CompletedAt:      instant(obj["completed_date"]),
		AssignedEngineer: text(obj["inspector_name"]),
		Raw:              raw,
	}, nil
}

// JoinAddress joins the non-empty trimmed parts with single spaces.
func JoinAddress(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
