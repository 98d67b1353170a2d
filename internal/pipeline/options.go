package pipeline

import (
	"log/slog"
	"time"

	"github.com/icnocop/pipelines-testlogger/internal/grouping"
)

const (
	DefaultDrainTimeout    = 60 * time.Second
	DefaultCompleteTimeout = 60 * time.Second
	DefaultStopTimeout     = 10 * time.Second
	DefaultAPIVersion      = "5.0"
)

type options struct {
	logger     *slog.Logger
	policy     grouping.Policy
	apiVersion string
	now        func() time.Time

	drainTimeout    time.Duration
	completeTimeout time.Duration
	stopTimeout     time.Duration
}

func defaultOptions() options {
	return options{
		logger:          slog.Default(),
		policy:          grouping.ByClass,
		apiVersion:      DefaultAPIVersion,
		now:             time.Now,
		drainTimeout:    DefaultDrainTimeout,
		completeTimeout: DefaultCompleteTimeout,
		stopTimeout:     DefaultStopTimeout,
	}
}

// Option configures a Pipeline.
type Option func(*options)

// WithLogger sets the logger; nil keeps slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPolicy fixes the grouping policy for the lifetime of the run.
func WithPolicy(p grouping.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithAPIVersion sets the api-version sent with every request. It should
// match the dialect the pipeline was built with.
func WithAPIVersion(v string) Option {
	return func(o *options) {
		if v != "" {
			o.apiVersion = v
		}
	}
}

// WithClock replaces time.Now for run, parent and completion dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTimeouts overrides the three Flush budgets. Zero keeps the default.
func WithTimeouts(drain, complete, stop time.Duration) Option {
	return func(o *options) {
		if drain > 0 {
			o.drainTimeout = drain
		}
		if complete > 0 {
			o.completeTimeout = complete
		}
		if stop > 0 {
			o.stopTimeout = stop
		}
	}
}
