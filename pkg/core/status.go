package core

// StepStatus represents the outcome of a navigation step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusPassed                    // Step did what it set out to do
	StatusSkipped                   // Target element absent, nothing to do
	StatusFailed                    // Unexpected error while operating the UI
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPassed:
		return "passed"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets StepStatus render as its name in JSON.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the step did not fail (passed or skipped)
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed || s == StatusSkipped
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryNavigation                      // Element not found, step failed, card incomplete
	ErrCategoryTimeout                         // Service task exceeded its budget
	ErrCategorySession                         // Session creation failed, expired, backend down
	ErrCategoryRequest                         // Malformed input, unknown service
	ErrCategoryConfig                          // Invalid configuration
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryNavigation:
		return "navigation"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategorySession:
		return "session"
	case ErrCategoryRequest:
		return "request"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
