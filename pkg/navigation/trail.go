package navigation

import (
	"errors"
	"time"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
)

// Step names, in execution order.
const (
	StepDismissOverlays = "dismiss_overlays"
	StepOpenSearch      = "open_search"
	StepSetPickup       = "set_pickup"
	StepSetDropoff      = "set_dropoff"
	StepAwaitRender     = "await_render"
	StepCollectCards    = "collect_cards"
)

// StepOutcome records what one navigation step did.
type StepOutcome struct {
	Step       string          `json:"step"`
	Status     core.StepStatus `json:"status"`
	Detail     string          `json:"detail,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`

	Err      error         `json:"-"`
	Duration time.Duration `json:"-"`
}

// Trail is the per-run diagnostic record of every step.
type Trail []StepOutcome

// Step returns the outcome for a named step.
func (t Trail) Step(name string) (StepOutcome, bool) {
	for _, o := range t {
		if o.Step == name {
			return o, true
		}
	}
	return StepOutcome{}, false
}

// Failed returns the outcomes that failed unexpectedly.
func (t Trail) Failed() []StepOutcome {
	var out []StepOutcome
	for _, o := range t {
		if o.Status == core.StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// SessionExpired reports whether any step hit a session the backend dropped.
func (t Trail) SessionExpired() bool {
	for _, o := range t {
		if errors.Is(o.Err, core.ErrSessionExpired) {
			return true
		}
	}
	return false
}
