package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for string timestamps. Layouts without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02",
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e11

func isNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// text renders a JSON string or number as a trimmed string.
func text(v json.RawMessage) string {
	if isNull(v) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String()
	}
	return ""
}

func number(v json.RawMessage) (float64, bool) {
	if isNull(v) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	s := text(v)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func integer(v json.RawMessage) *int {
	f, ok := number(v)
	if !ok {
		return nil
	}
	i := int(math.Round(f))
	return &i
}

func decimal(v json.RawMessage) *float64 {
	f, ok := number(v)
	if !ok {
		return nil
	}
	return &f
}

// instant coerces epoch seconds (or milliseconds), numeric strings and the
// string layouts above into a UTC time.
func instant(v json.RawMessage) *time.Time {
	if isNull(v) {
		return nil
	}
	if f, ok := number(v); ok {
		t := fromEpoch(f)
		return &t
	}
	t, ok := ParseTime(text(v))
	if !ok {
		return nil
	}
	return &t
}

func fromEpoch(f float64) time.Time {
	if math.Abs(f) >= epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// ParseTime parses a timestamp string in any accepted layout.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
