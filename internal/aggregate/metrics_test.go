package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/storage"
)

func at(t time.Time) *time.Time { return &t }
func secs(n int) *int           { return &n }

func TestComputeCallMetrics(t *testing.T) {
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	rows := []storage.CallRow{
		{ID: "a", Status: "done", Duration: secs(120), StartedAt: at(now.Add(-time.Hour))},
		{ID: "b", Status: "done", Duration: secs(240), StartedAt: at(now.Add(-26 * time.Hour))},
		{ID: "c", Status: "missed", StartedAt: at(now.Add(-2 * time.Hour))},
		{ID: "d", Status: "done", Duration: secs(0), StartedAt: at(now.Add(-3 * time.Hour))},
		{ID: "old", Status: "done", Duration: secs(600), StartedAt: at(now.AddDate(0, 0, -9))},
	}
	m := ComputeCallMetrics(rows, now)

	assert.Equal(t, 4, m.TotalCalls)
	assert.Equal(t, 2, m.MissedCalls)
	assert.Equal(t, 2, m.AnsweredCalls)
	assert.Equal(t, 2.0, m.AverageDurationMin)
	require.Len(t, m.Trends, 7)
	assert.Equal(t, DayCount{Date: "2025-06-10", Count: 3}, m.Trends[6])
	assert.Equal(t, DayCount{Date: "2025-06-09", Count: 1}, m.Trends[5])
	assert.Equal(t, "2025-06-04", m.Trends[0].Date)
}

func TestComputeBotCallMetrics(t *testing.T) {
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	convs := []connector.Conversation{
		{StartUnix: now.Add(-time.Hour).Unix(), DurationSecs: 60, Status: "done", CallSuccessful: "success"},
		{StartUnix: now.Add(-time.Hour).Unix(), DurationSecs: 180, Status: "done", CallSuccessful: "failure"},
		{StartUnix: now.AddDate(0, 0, -8).Unix(), DurationSecs: 999, Status: "done", CallSuccessful: "success"},
	}
	m := ComputeBotCallMetrics(convs, now)

	assert.Equal(t, 2, m.TotalBotCalls)
	assert.Equal(t, 1, m.SuccessfulCalls)
	assert.Equal(t, 1, m.FailedCalls)
	assert.Equal(t, 2.0, m.AverageHandleMin)
	require.Len(t, m.HourlyDistribution, 24)
	assert.Equal(t, HourCount{Hour: 14, Calls: 2}, m.HourlyDistribution[14])
}

func TestComputeInspectionMetrics(t *testing.T) {
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	rows := []storage.InspectionRow{
		{ID: "1", Status: "completed", AssignedEngineer: "Ann", ScheduledAt: at(now.Add(-48 * time.Hour))},
		{ID: "2", Status: "scheduled", AssignedEngineer: "Ann", ScheduledAt: at(now.Add(24 * time.Hour))},
		{ID: "3", Status: "pending", ScheduledAt: at(now.Add(-time.Hour))},
		{ID: "4", Status: "cancelled", AssignedEngineer: "Bo"},
		{ID: "old", Status: "completed", AssignedEngineer: "Bo", ScheduledAt: at(now.AddDate(0, 0, -30))},
	}
	m := ComputeInspectionMetrics(rows, now)

	assert.Equal(t, 4, m.TotalInspections)
	assert.Equal(t, 1, m.CompletedInspections)
	assert.Equal(t, 2, m.PendingInspections)
	assert.Equal(t, []EngineerCount{
		{Engineer: "Ann", Count: 2},
		{Engineer: "Bo", Count: 1},
		{Engineer: "Unassigned", Count: 1},
	}, m.ByEngineer)
	assert.Equal(t, 1, m.Trends[6].Count)
	assert.Equal(t, 1, m.Trends[4].Count)
}
