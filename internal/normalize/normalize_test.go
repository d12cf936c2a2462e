package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/greenworks/execdash/internal/connector"
)

func TestCall_MapsAircallFields(t *testing.T) {
	raw := json.RawMessage(`{"id":12345,"direction":"inbound","from":"+15550001","to":"+15550002",
		"user":{"id":77},"started_at":1700000000,"ended_at":1700000300,"duration":300,
		"status":"done","recording":"https://rec/1.mp3"}`)

	row, err := Call(raw)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if row.ID != "12345" {
		t.Errorf("ID = %q, want %q", row.ID, "12345")
	}
	if row.AgentID != "77" {
		t.Errorf("AgentID = %q, want %q", row.AgentID, "77")
	}
	if row.StartedAt == nil || !row.StartedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("StartedAt = %v", row.StartedAt)
	}
	if row.StartedAt.Location() != time.UTC {
		t.Errorf("StartedAt location = %v, want UTC", row.StartedAt.Location())
	}
	if row.Duration == nil || *row.Duration != 300 {
		t.Errorf("Duration = %v, want 300", row.Duration)
	}
	if row.RecordingURL != "https://rec/1.mp3" {
		t.Errorf("RecordingURL = %q", row.RecordingURL)
	}
	if string(row.Raw) != string(raw) {
		t.Error("raw payload should be preserved verbatim")
	}
}

func TestCall_OptionalFieldsAbsent(t *testing.T) {
	row, err := Call(json.RawMessage(`{"id":"c-1","ended_at":null}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if row.StartedAt != nil || row.EndedAt != nil || row.Duration != nil {
		t.Errorf("expected nil optional fields, got %+v", row)
	}
	if row.AgentID != "" {
		t.Errorf("AgentID = %q, want empty", row.AgentID)
	}
}

func TestMissingIDFailsOnlyThatRecord(t *testing.T) {
	_, err := Lead(json.RawMessage(`{"lead_source":"google"}`))
	var nerr *NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("err = %v, want *NormalizationError", err)
	}
	if nerr.Kind != connector.KindLead {
		t.Errorf("Kind = %q, want lead", nerr.Kind)
	}

	b := Records([]connector.RawRecord{
		{Kind: connector.KindLead, Payload: json.RawMessage(`{"lead_id":"l1"}`)},
		{Kind: connector.KindLead, Payload: json.RawMessage(`{"lead_source":"google"}`)},
		{Kind: connector.KindLead, Payload: json.RawMessage(`{"lead_id":"l3"}`)},
	})
	if len(b.Leads) != 2 {
		t.Errorf("leads = %d, want 2", len(b.Leads))
	}
	if len(b.Errors) != 1 {
		t.Errorf("errors = %d, want 1", len(b.Errors))
	}
	if b.Rows() != 2 {
		t.Errorf("Rows() = %d, want 2", b.Rows())
	}
}

func TestLead_MapsWhatConvertsFields(t *testing.T) {
	row, err := Lead(json.RawMessage(`{"lead_id":987,"lead_source":"google","lead_medium":"cpc",
		"lead_campaign":"spring","lead_keyword":"lawn care","caller_number":"+1555",
		"contact_email":"a@b.c","lead_type":"Phone Call","lead_value":"149.50",
		"date_created":"2025-04-02 13:14:15"}`))
	if err != nil {
		t.Fatalf("Lead: %v", err)
	}
	if row.ID != "987" {
		t.Errorf("ID = %q", row.ID)
	}
	if row.Revenue == nil || *row.Revenue != 149.5 {
		t.Errorf("Revenue = %v, want 149.5", row.Revenue)
	}
	want := time.Date(2025, 4, 2, 13, 14, 15, 0, time.UTC)
	if row.CreatedAt == nil || !row.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", row.CreatedAt, want)
	}
	if row.ConversionType != "Phone Call" {
		t.Errorf("ConversionType = %q", row.ConversionType)
	}
}

func TestInspection_AddressJoin(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"all parts", `{"id":"i","address":"12 Elm St","city":"Austin","state":"TX","zip":"78701"}`, "12 Elm St Austin TX 78701"},
		{"missing city", `{"id":"i","address":"12 Elm St","state":"TX","zip":"78701"}`, "12 Elm St TX 78701"},
		{"whitespace parts", `{"id":"i","address":"  12  Elm St ","city":" ","state":"TX"}`, "12 Elm St TX"},
		{"nothing", `{"id":"i"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := Inspection(json.RawMessage(tt.payload))
			if err != nil {
				t.Fatalf("Inspection: %v", err)
			}
			if row.Address != tt.want {
				t.Errorf("Address = %q, want %q", row.Address, tt.want)
			}
		})
	}
}

func TestInstant(t *testing.T) {
	want := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		in   string
		want *time.Time
	}{
		{`1735787045`, &want},
		{`"1735787045"`, &want},
		{`1735787045000`, &want},
		{`"2025-01-02T03:04:05Z"`, &want},
		{`"2025-01-02T05:04:05+02:00"`, &want},
		{`"2025-01-02 03:04:05"`, &want},
		{`null`, nil},
		{`""`, nil},
		{`"not a date"`, nil},
	}
	for _, tt := range tests {
		got := instant(json.RawMessage(tt.in))
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("instant(%s) = %v, want nil", tt.in, got)
		case tt.want != nil && (got == nil || !got.Equal(*tt.want)):
			t.Errorf("instant(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRecords_UnknownKind(t *testing.T) {
	b := Records([]connector.RawRecord{{Kind: "fax", Payload: json.RawMessage(`{"id":1}`)}})
	if len(b.Errors) != 1 || b.Rows() != 0 {
		t.Errorf("batch = %+v", b)
	}
}

func TestInvalidJSON(t *testing.T) {
	if _, err := Message(json.RawMessage(`[1,2]`)); err == nil {
		t.Error("expected error for non-object payload")
	}
	if _, err := Message(json.RawMessage(`null`)); err == nil {
		t.Error("expected error for null payload")
	}
}
