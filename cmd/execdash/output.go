package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/greenworks/execdash/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// runStatus colors a ledger status.
func runStatus(status string) string {
	switch status {
	case storage.RunSuccess:
		return colorize(colorGreen, status)
	case storage.RunFailed:
		return colorize(colorRed, status)
	default:
		return colorize(colorYellow, status)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeRunLine prints one ledger row as a single summary line.
func writeRunLine(w io.Writer, r storage.EtlRun) {
	finished := "-"
	if r.RunFinished != nil {
		finished = r.RunFinished.Sub(r.RunStarted).Round(100 * time.Millisecond).String()
	}
	d := r.Details
	fmt.Fprintf(w, "%s  %-11s  %-7s  %s  %s  calls=%d messages=%d leads=%d inspections=%d skipped=%d\n",
		colorize(colorCyan, shortID(r.ID)),
		r.Source,
		runStatus(r.Status),
		r.RunStarted.Local().Format("2006-01-02 15:04:05"),
		finished,
		d.Calls, d.Messages, d.Leads, d.Inspections, d.Skipped,
	)
	for _, e := range d.Errors {
		fmt.Fprintf(w, "          %s\n", colorize(colorRed, e))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
