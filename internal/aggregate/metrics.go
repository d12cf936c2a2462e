package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/storage"
)

// Window is how far back the dashboard metrics look.
const Window = 7 * 24 * time.Hour

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type CallMetrics struct {
	TotalCalls         int        `json:"totalCalls"`
	MissedCalls        int        `json:"missedCalls"`
	AnsweredCalls      int        `json:"answeredCalls"`
	AverageDurationMin float64    `json:"averageDuration"`
	Trends             []DayCount `json:"trends"`
}

type HourCount struct {
	Hour  int `json:"hour"`
	Calls int `json:"calls"`
}

type BotCallMetrics struct {
	TotalBotCalls      int         `json:"totalBotCalls"`
	SuccessfulCalls    int         `json:"successfulCalls"`
	FailedCalls        int         `json:"failedCalls"`
	AverageHandleMin   float64     `json:"averageHandleTime"`
	HourlyDistribution []HourCount `json:"hourlyDistribution"`
}

type EngineerCount struct {
	Engineer string `json:"engineer"`
	Count    int    `json:"count"`
}

type InspectionMetrics struct {
	TotalInspections     int             `json:"totalInspections"`
	CompletedInspections int             `json:"completedInspections"`
	PendingInspections   int             `json:"pendingInspections"`
	ByEngineer           []EngineerCount `json:"byEngineer"`
	Trends               []DayCount      `json:"trends"`
}

// missed treats an explicit missed status or a zero-length call as missed.
func missed(c storage.CallRow) bool {
	return c.Status == "missed" || (c.Duration != nil && *c.Duration == 0)
}

// ComputeCallMetrics summarizes calls started within the window ending at now.
func ComputeCallMetrics(rows []storage.CallRow, now time.Time) CallMetrics {
	from := now.Add(-Window)
	m := CallMetrics{}
	var durSum, durN int
	var started []time.Time
	for _, c := range rows {
		if c.StartedAt != nil && c.StartedAt.Before(from) {
			continue
		}
		m.TotalCalls++
		if missed(c) {
			m.MissedCalls++
		}
		if c.Duration != nil {
			durSum += *c.Duration
			durN++
		}
		if c.StartedAt != nil {
			started = append(started, *c.StartedAt)
		}
	}
	m.AnsweredCalls = m.TotalCalls - m.MissedCalls
	if durN > 0 {
		m.AverageDurationMin = round1(float64(durSum) / float64(durN) / 60)
	}
	m.Trends = dailyTrend(started, now)
	return m
}

// ComputeBotCallMetrics summarizes voice-agent conversations.
func ComputeBotCallMetrics(convs []connector.Conversation, now time.Time) BotCallMetrics {
	from := now.Add(-Window)
	m := BotCallMetrics{HourlyDistribution: make([]HourCount, 24)}
	for h := range m.HourlyDistribution {
		m.HourlyDistribution[h].Hour = h
	}
	var durSum float64
	for _, c := range convs {
		at := c.StartedAt()
		if at.Before(from) {
			continue
		}
		m.TotalBotCalls++
		if c.Succeeded() {
			m.SuccessfulCalls++
		}
		durSum += c.DurationSecs
		m.HourlyDistribution[at.Hour()].Calls++
	}
	m.FailedCalls = m.TotalBotCalls - m.SuccessfulCalls
	if m.TotalBotCalls > 0 {
		m.AverageHandleMin = round1(durSum / float64(m.TotalBotCalls) / 60)
	}
	return m
}

// ComputeInspectionMetrics summarizes inspections scheduled within the
// window ending at now, plus any scheduled later.
func ComputeInspectionMetrics(rows []storage.InspectionRow, now time.Time) InspectionMetrics {
	from := now.Add(-Window)
	m := InspectionMetrics{}
	byEngineer := map[string]int{}
	var scheduled []time.Time
	for _, r := range rows {
		if r.ScheduledAt != nil && r.ScheduledAt.Before(from) {
			continue
		}
		m.TotalInspections++
		switch r.Status {
		case "completed":
			m.CompletedInspections++
		case "scheduled", "pending":
			m.PendingInspections++
		}
		engineer := r.AssignedEngineer
		if engineer == "" {
			engineer = "Unassigned"
		}
		byEngineer[engineer]++
		if r.ScheduledAt != nil {
			scheduled = append(scheduled, *r.ScheduledAt)
		}
	}
	for name, n := range byEngineer {
		m.ByEngineer = append(m.ByEngineer, EngineerCount{Engineer: name, Count: n})
	}
	sort.Slice(m.ByEngineer, func(i, j int) bool {
		if m.ByEngineer[i].Count != m.ByEngineer[j].Count {
			return m.ByEngineer[i].Count > m.ByEngineer[j].Count
		}
		return m.ByEngineer[i].Engineer < m.ByEngineer[j].Engineer
	})
	m.Trends = dailyTrend(scheduled, now)
	return m
}

// dailyTrend counts instants per UTC day for the seven days ending today.
func dailyTrend(instants []time.Time, now time.Time) []DayCount {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]DayCount, 7)
	index := make(map[string]int, 7)
	for i := range out {
		day := today.AddDate(0, 0, i-6).Format("2006-01-02")
		out[i].Date = day
		index[day] = i
	}
	for _, t := range instants {
		if i, ok := index[t.UTC().Format("2006-01-02")]; ok {
			out[i].Count++
		}
	}
	return out
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
