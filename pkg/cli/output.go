package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
	"github.com/devicelab-dev/ride-scanner/pkg/extract"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// The summary goes to stderr
	if fileInfo, err := os.Stderr.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printSummary(w io.Writer, results []extract.ServiceResult, s extract.Summary) {
	fmt.Fprintln(w)
	if s.Quotes > 0 {
		fmt.Fprintf(w, "  %s%d quotes%s (%s)\n", color(colorGreen), s.Quotes, color(colorReset), formatDuration(s.Duration.Milliseconds()))
	}
	if s.Failed+s.TimedOut > 0 {
		fmt.Fprintf(w, "  %s%d services failing%s\n", color(colorRed), s.Failed+s.TimedOut, color(colorReset))
	}
	fmt.Fprintln(w)

	tableWidth := 72
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
	fmt.Fprintf(w, "  %-12s %-9s %6s %8s %10s  %s\n", "Service", "Outcome", "Quotes", "Steps", "Duration", "Error")
	fmt.Fprintln(w, strings.Repeat("─", tableWidth))

	for _, r := range results {
		outcome := r.Outcome()
		var outcomeColor string
		switch outcome {
		case extract.OutcomeOK:
			outcomeColor = color(colorGreen)
		case extract.OutcomeCached:
			outcomeColor = color(colorCyan)
		case extract.OutcomeEmpty, extract.OutcomeTimeout:
			outcomeColor = color(colorYellow)
		default:
			outcomeColor = color(colorRed)
		}

		passed := 0
		for _, st := range r.Trail {
			if st.Status == core.StatusPassed {
				passed++
			}
		}
		steps := fmt.Sprintf("%d/%d", passed, len(r.Trail))

		errMsg := ""
		if r.Err != nil {
			errMsg = r.Err.Error()
			if len(errMsg) > 40 {
				errMsg = errMsg[:37] + "..."
			}
		}

		fmt.Fprintf(w, "  %-12s %s%-9s%s %6d %8s %10s  %s%s%s\n",
			r.Service, outcomeColor, outcome, color(colorReset),
			len(r.Quotes), steps, formatDuration(r.Duration.Milliseconds()),
			color(colorGray), errMsg, color(colorReset))
	}

	fmt.Fprintln(w, strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", s.Succeeded, s.Total)
	statusColor := color(colorGreen)
	if s.Failed+s.TimedOut > 0 {
		statusColor = color(colorRed)
	}
	fmt.Fprintf(w, "  %s%-12s%s %s%-9s%s %6d %8s %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		s.Quotes, "", formatDuration(s.Duration.Milliseconds()))
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
