package batch

import "time"

// Priority controls admission ordering of queued batches.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Weight returns the ordering weight of the priority. Higher runs first.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// ParsePriority maps a wire string to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s)
	default:
		return PriorityNormal
	}
}

// Options are the per-batch execution settings supplied at creation.
type Options struct {
	Priority Priority `json:"priority"`

	// Timeout bounds the whole batch. When it fires, in-flight document
	// calls drain on their own and the batch is marked failed.
	Timeout time.Duration `json:"timeoutNs"`

	// MaxRetries is the number of retries after the first attempt, so a
	// document is tried at most MaxRetries+1 times.
	MaxRetries int `json:"maxRetries"`

	// RetryDelay is the base backoff; attempt n waits RetryDelay*n.
	RetryDelay time.Duration `json:"retryDelayNs"`

	// NotifyURL, when set, receives a webhook POST on terminal transition.
	NotifyURL string `json:"notifyUrl,omitempty"`

	// OutputFormat is passed through to the document processor untouched.
	OutputFormat string `json:"outputFormat,omitempty"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Priority:   PriorityNormal,
		Timeout:    5 * time.Minute,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
	}
}

// Normalize fills zero values with defaults. A negative MaxRetries is
// clamped to zero (single attempt, no retries).
func (o Options) Normalize() Options {
	def := DefaultOptions()
	if o.Priority == "" {
		o.Priority = def.Priority
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = def.RetryDelay
	}
	return o
}
