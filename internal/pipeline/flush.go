package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/icnocop/pipelines-testlogger/internal/metrics"
)

// ErrShutdownTimeout marks a Flush phase that exceeded its budget.
var ErrShutdownTimeout = errors.New("shutdown timed out")

// Flush drains the queue, completes every parent and the run, and stops the
// consumer. Each phase is bounded; failures are logged and never returned.
// Only the first call does any work.
func (p *Pipeline) Flush() {
	p.flushOnce.Do(p.flush)
}

func (p *Pipeline) flush() {
	p.closed.Store(true)
	var errs *multierror.Error

	start := time.Now()
	p.q.Cancel()
	if !waitClosed(p.drained, p.opts.drainTimeout) {
		errs = multierror.Append(errs, p.phaseTimeout("drain", p.opts.drainTimeout))
	}
	observePhase("drain", start)

	start = time.Now()
	if err := p.requestCompletion(); err != nil {
		errs = multierror.Append(errs, err)
	}
	observePhase("complete", start)

	start = time.Now()
	p.hardCancel()
	if !waitClosed(p.stopped, p.opts.stopTimeout) {
		errs = multierror.Append(errs, p.phaseTimeout("stop", p.opts.stopTimeout))
	}
	observePhase("stop", start)

	if err := errs.ErrorOrNil(); err != nil {
		p.logger.Error("flush finished with errors", "err", err)
		return
	}
	p.logger.Info("flush finished", "run_id", p.RunID())
}

// requestCompletion asks the consumer to submit the completion requests and
// waits for the outcome within the completion budget.
func (p *Pipeline) requestCompletion() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.completeTimeout)
	defer cancel()

	reply := make(chan error, 1)
	select {
	case p.completeReq <- reply:
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return p.phaseTimeout("complete", p.opts.completeTimeout)
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return p.phaseTimeout("complete", p.opts.completeTimeout)
	}
}

func (p *Pipeline) phaseTimeout(phase string, d time.Duration) error {
	metrics.FlushTimeoutsTotal.WithLabelValues(phase).Inc()
	return fmt.Errorf("%s phase after %s: %w", phase, d, ErrShutdownTimeout)
}

func observePhase(phase string, start time.Time) {
	metrics.FlushPhaseSeconds.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

func waitClosed(ch <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
