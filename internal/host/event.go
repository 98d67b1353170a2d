// Package host adapts a test runner's event stream to the pipeline: results
// are forwarded as they complete and the end of the run triggers one flush.
package host

import (
	"context"
	"log/slog"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"
)

// Event is either one finished test or the end-of-run signal.
type Event struct {
	Result   *domain.Result
	Complete bool
}

// Sink receives results and the final flush. *pipeline.Pipeline satisfies it.
type Sink interface {
	Enqueue(domain.Result)
	Flush()
}

// Summary counts the results Dispatch forwarded, by outcome.
type Summary struct {
	Passed  int
	Failed  int
	Skipped int
	Other   int
}

func (s Summary) Total() int { return s.Passed + s.Failed + s.Skipped + s.Other }

func (s *Summary) add(o domain.Outcome) {
	switch o {
	case domain.OutcomePassed:
		s.Passed++
	case domain.OutcomeFailed:
		s.Failed++
	case domain.OutcomeSkipped:
		s.Skipped++
	default:
		s.Other++
	}
}

// Dispatch forwards events to sink until the complete signal arrives, the
// channel closes, or ctx ends. Flush is called exactly once in every case.
func Dispatch(ctx context.Context, events <-chan Event, sink Sink, logger *slog.Logger) Summary {
	if logger == nil {
		logger = slog.Default()
	}
	var sum Summary
	defer sink.Flush()

	for {
		select {
		case <-ctx.Done():
			logger.Warn("run interrupted before completion", "err", ctx.Err(), "results", sum.Total())
			return sum
		case ev, ok := <-events:
			if !ok {
				logger.Warn("event stream closed without a completion signal", "results", sum.Total())
				return sum
			}
			if ev.Result != nil {
				sum.add(ev.Result.Outcome)
				sink.Enqueue(*ev.Result)
			}
			if ev.Complete {
				logger.Debug("test run complete", "results", sum.Total())
				return sum
			}
		}
	}
}
