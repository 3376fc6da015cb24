package extract

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
	"github.com/devicelab-dev/ride-scanner/pkg/navigation"
)

// Outcome labels for a service result.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeCached  = "cached"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// ServiceResult is the outcome of extracting one service.
// Quotes is never nil; it is empty whenever Err is set.
type ServiceResult struct {
	Service  string
	Package  string
	Quotes   []core.RideQuote
	Trail    navigation.Trail
	Err      error
	Duration time.Duration
	Cached   bool
}

// Outcome classifies the result for logs and metrics.
func (r ServiceResult) Outcome() string {
	switch {
	case errors.Is(r.Err, core.ErrServiceTimeout):
		return OutcomeTimeout
	case r.Err != nil:
		return OutcomeError
	case r.Cached:
		return OutcomeCached
	case len(r.Quotes) == 0:
		return OutcomeEmpty
	default:
		return OutcomeOK
	}
}

// MarshalJSON renders the diagnostic view of the result.
func (r ServiceResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Service    string           `json:"service"`
		Package    string           `json:"package,omitempty"`
		Outcome    string           `json:"outcome"`
		Quotes     []core.RideQuote `json:"quotes"`
		Trail      navigation.Trail `json:"trail"`
		Error      string           `json:"error,omitempty"`
		ErrorCode  string           `json:"error_code,omitempty"`
		DurationMs int64            `json:"duration_ms"`
		Cached     bool             `json:"cached"`
	}{
		Service:    r.Service,
		Package:    r.Package,
		Outcome:    r.Outcome(),
		Quotes:     r.Quotes,
		Trail:      r.Trail,
		DurationMs: r.Duration.Milliseconds(),
		Cached:     r.Cached,
	}
	if out.Quotes == nil {
		out.Quotes = []core.RideQuote{}
	}
	if out.Trail == nil {
		out.Trail = navigation.Trail{}
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
		var execErr *core.ExecutionError
		if errors.As(r.Err, &execErr) {
			out.ErrorCode = execErr.Code
		}
	}
	return json.Marshal(out)
}

// Concat joins the quotes of every result in order.
func Concat(results []ServiceResult) []core.RideQuote {
	quotes := []core.RideQuote{}
	for _, r := range results {
		quotes = append(quotes, r.Quotes...)
	}
	return quotes
}

// Summary aggregates a fan-out run.
type Summary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Empty     int           `json:"empty"`
	Failed    int           `json:"failed"`
	TimedOut  int           `json:"timed_out"`
	Cached    int           `json:"cached"`
	Quotes    int           `json:"quotes"`
	Duration  time.Duration `json:"-"`
}

// Summarize counts outcomes. Duration is the wall clock of the whole run,
// not the sum of service durations.
func Summarize(results []ServiceResult, wallClock time.Duration) Summary {
	s := Summary{Total: len(results), Duration: wallClock}
	for _, r := range results {
		s.Quotes += len(r.Quotes)
		switch r.Outcome() {
		case OutcomeOK:
			s.Succeeded++
		case OutcomeCached:
			s.Succeeded++
			s.Cached++
		case OutcomeEmpty:
			s.Empty++
		case OutcomeTimeout:
			s.TimedOut++
		default:
			s.Failed++
		}
	}
	return s
}
