package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrRunInProgress is returned by BeginRun when another run for the same
// source is still running.
var ErrRunInProgress = errors.New("a run for this source is already in progress")

// ErrRunFinalized is returned by CompleteRun when the run already left the
// running state.
var ErrRunFinalized = errors.New("run already finalized")

// Run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

type CallRow struct {
	ID           string          `json:"id"`
	Direction    string          `json:"direction"`
	FromNumber   string          `json:"from_number"`
	ToNumber     string          `json:"to_number"`
	AgentID      string          `json:"agent_id,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	Duration     *int            `json:"duration,omitempty"`
	Status       string          `json:"status"`
	RecordingURL string          `json:"recording_url,omitempty"`
	Raw          json.RawMessage `json:"raw"`
}

type MessageRow struct {
	ID         string          `json:"id"`
	Direction  string          `json:"direction"`
	FromNumber string          `json:"from_number"`
	ToNumber   string          `json:"to_number"`
	Body       string          `json:"body"`
	Status     string          `json:"status"`
	SentAt     *time.Time      `json:"sent_at,omitempty"`
	Raw        json.RawMessage `json:"raw"`
}

type LeadRow struct {
	ID             string          `json:"id"`
	Source         string          `json:"source"`
	Medium         string          `json:"medium,omitempty"`
	Campaign       string          `json:"campaign,omitempty"`
	Keyword        string          `json:"keyword,omitempty"`
	CallerNumber   string          `json:"caller_number,omitempty"`
	Email          string          `json:"email,omitempty"`
	ConversionType string          `json:"conversion_type,omitempty"`
	Revenue        *float64        `json:"revenue,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	Raw            json.RawMessage `json:"raw"`
}

type InspectionRow struct {
	ID               string          `json:"id"`
	Customer         string          `json:"customer"`
	Address          string          `json:"address"`
	Status           string          `json:"status"`
	ScheduledAt      *time.Time      `json:"scheduled_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	AssignedEngineer string          `json:"assigned_engineer,omitempty"`
	Raw              json.RawMessage `json:"raw"`
}

// RunDetails is the JSON blob stored on every ledger row.
type RunDetails struct {
	Calls       int      `json:"calls"`
	Messages    int      `json:"messages"`
	Leads       int      `json:"leads"`
	Inspections int      `json:"inspections"`
	Skipped     int      `json:"skipped"`
	Errors      []string `json:"errors"`
}

// Add accumulates another run's counts and errors.
func (d *RunDetails) Add(o RunDetails) {
	d.Calls += o.Calls
	d.Messages += o.Messages
	d.Leads += o.Leads
	d.Inspections += o.Inspections
	d.Skipped += o.Skipped
	d.Errors = append(d.Errors, o.Errors...)
}

type EtlRun struct {
	ID          string     `json:"id"`
	ParentID    string     `json:"parent_id,omitempty"`
	Source      string     `json:"source"`
	RunStarted  time.Time  `json:"run_started"`
	RunFinished *time.Time `json:"run_finished,omitempty"`
	Status      string     `json:"status"`
	Details     RunDetails `json:"details"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// KPIs are the live counters pushed to the dashboard.
type KPIs struct {
	TodayCalls          int       `json:"todayCalls"`
	NewLeads            int       `json:"newLeads"`
	UpcomingInspections int       `json:"upcomingInspections"`
	Timestamp           time.Time `json:"timestamp"`
}
