// Package pipeline turns a stream of test results into batched submissions to
// the test-run tracking backend. Producers call Enqueue from any goroutine; a
// single consumer goroutine owns the run, the parent registry, and every
// request it issues.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/icnocop/pipelines-testlogger/internal/client"
	"github.com/icnocop/pipelines-testlogger/internal/dialect"
	"github.com/icnocop/pipelines-testlogger/internal/grouping"
	"github.com/icnocop/pipelines-testlogger/internal/metrics"
	"github.com/icnocop/pipelines-testlogger/internal/queue"
	"github.com/icnocop/pipelines-testlogger/pkg/domain"
)

const unknownSource = "Unknown Test Source"

// State is the consumer goroutine's current phase.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StateProcessing
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateProcessing:
		return "processing"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// RunInfo identifies the build and agent the run belongs to.
type RunInfo struct {
	BuildID   string
	JobName   string
	AgentName string
	// OS describes the machine running the tests. Defaults to GOOS/GOARCH.
	OS string
}

// Pipeline batches results on one consumer goroutine and submits them to a
// test run. Create it with New; call Flush exactly once at the end.
type Pipeline struct {
	sub     client.Submitter
	dialect dialect.Dialect
	info    RunInfo
	opts    options
	logger  *slog.Logger

	q     *queue.BatchQueue[domain.Result]
	state atomic.Int32

	// Owned by the consumer goroutine.
	reg        *registry
	runID      int
	runStarted time.Time
	source     string

	hardCtx    context.Context
	hardCancel context.CancelFunc

	drainOnce   sync.Once
	drained     chan struct{}
	completeReq chan chan error
	stopped     chan struct{}

	closed    atomic.Bool
	fatal     atomic.Pointer[ProtocolError]
	flushOnce sync.Once
}

// New starts the consumer goroutine. The caller must eventually call Flush.
func New(sub client.Submitter, d dialect.Dialect, info RunInfo, opts ...Option) *Pipeline {
	p := newPipeline(sub, d, info, opts...)
	go p.run()
	return p
}

func newPipeline(sub client.Submitter, d dialect.Dialect, info RunInfo, opts ...Option) *Pipeline {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if info.OS == "" {
		info.OS = runtime.GOOS + "/" + runtime.GOARCH
	}

	p := &Pipeline{
		sub:         sub,
		dialect:     d,
		info:        info,
		opts:        o,
		logger:      o.logger.With("component", "pipeline", "dialect", d.Name()),
		q:           queue.New[domain.Result](),
		reg:         newRegistry(),
		drained:     make(chan struct{}),
		completeReq: make(chan chan error),
		stopped:     make(chan struct{}),
	}
	p.hardCtx, p.hardCancel = context.WithCancel(context.Background())
	return p
}

// Enqueue hands a result to the pipeline without blocking. Results arriving
// after Flush started, or after a fatal protocol error, are dropped.
func (p *Pipeline) Enqueue(r domain.Result) {
	switch {
	case p.fatal.Load() != nil:
		metrics.ResultsDroppedTotal.WithLabelValues("fatal").Inc()
		return
	case p.closed.Load():
		metrics.ResultsDroppedTotal.WithLabelValues("closed").Inc()
		p.logger.Debug("result dropped after flush", "test", r.FullyQualifiedName)
		return
	}
	p.q.Add(r)
	metrics.ResultsEnqueuedTotal.WithLabelValues(string(r.Outcome)).Inc()
}

// State reports the consumer's current phase.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Len reports results waiting for the consumer.
func (p *Pipeline) Len() int { return p.q.Len() }

// Err returns the fatal protocol error that stopped the pipeline, if any.
func (p *Pipeline) Err() error {
	if pe := p.fatal.Load(); pe != nil {
		return pe
	}
	return nil
}

// RunID is the backend id of the run, or 0 before the first batch is processed.
// It is only stable once Flush has returned.
func (p *Pipeline) RunID() int {
	select {
	case <-p.stopped:
		return p.runID
	default:
		return 0
	}
}

func (p *Pipeline) setState(s State) { p.state.Store(int32(s)) }

func (p *Pipeline) run() {
	defer close(p.stopped)
	defer p.setState(StateStopped)

	p.consume()
	p.markDrained()

	select {
	case reply := <-p.completeReq:
		p.setState(StateShuttingDown)
		reply <- p.complete(p.hardCtx)
	case <-p.hardCtx.Done():
	}
}

func (p *Pipeline) markDrained() {
	p.drainOnce.Do(func() { close(p.drained) })
}

// consume processes batches until the queue is canceled and empty, the hard
// stop fires, or the backend violates the parent creation protocol.
func (p *Pipeline) consume() {
	for {
		if p.q.Canceled() {
			p.setState(StateDraining)
		} else {
			p.setState(StateIdle)
		}

		batch, err := p.q.Take(p.hardCtx)
		if err != nil || len(batch) == 0 {
			return
		}

		p.setState(StateProcessing)
		err = p.processBatch(p.hardCtx, batch)

		var pe *ProtocolError
		switch {
		case errors.As(err, &pe):
			p.fatal.Store(pe)
			p.q.Cancel()
			metrics.BatchesProcessedTotal.WithLabelValues("fatal").Inc()
			metrics.ResultsDroppedTotal.WithLabelValues("fatal").Add(float64(len(batch) + p.q.Len()))
			p.logger.Error("parent creation protocol violated; no further results will be submitted", "err", err)
			return
		case errors.Is(err, grouping.ErrMalformedName):
			metrics.BatchesProcessedTotal.WithLabelValues("failure").Inc()
			metrics.ResultsDroppedTotal.WithLabelValues("malformed").Add(float64(len(batch)))
			p.logger.Error("batch rejected", "size", len(batch), "err", err)
		case err != nil:
			metrics.BatchesProcessedTotal.WithLabelValues("failure").Inc()
			metrics.ResultsDroppedTotal.WithLabelValues("submit").Add(float64(len(batch)))
			p.logger.Warn("batch submission failed", "size", len(batch), "err", err)
		default:
			metrics.BatchesProcessedTotal.WithLabelValues("success").Inc()
		}

		if p.hardCtx.Err() != nil {
			return
		}
	}
}

func (p *Pipeline) processBatch(ctx context.Context, batch []domain.Result) error {
	metrics.BatchSize.Observe(float64(len(batch)))

	if p.runID == 0 {
		if err := p.createRun(ctx, batch); err != nil {
			return err
		}
	}

	groups, err := grouping.GroupBy(batch, p.source, p.opts.policy)
	if err != nil {
		return err
	}
	if err := p.createParents(ctx, groups); err != nil {
		return err
	}

	updates := make([]domain.ParentUpdate, 0, len(groups))
	for _, g := range groups {
		parent, ok := p.reg.get(g.Key)
		if !ok {
			return fmt.Errorf("no parent for key %q", g.Key)
		}
		u := domain.ParentUpdate{Parent: parent, Results: g.Results}
		parent.Duration += u.TotalMillis()
		updates = append(updates, u)
	}

	body, err := p.dialect.UpdateResults(updates, p.opts.now())
	if err != nil {
		return fmt.Errorf("render results: %w", err)
	}
	if _, err := p.sub.Submit(ctx, http.MethodPatch, p.resultsEndpoint(), p.opts.apiVersion, body); err != nil {
		return fmt.Errorf("update results: %w", err)
	}
	p.logger.Debug("batch submitted", "run_id", p.runID, "size", len(batch), "parents", len(updates))
	return nil
}

type createdRun struct {
	ID int `json:"id"`
}

func (p *Pipeline) createRun(ctx context.Context, batch []domain.Result) error {
	p.source = GetSource(batch)
	started := p.opts.now()
	name := RunName(p.source, p.info)

	body, err := dialect.CreateRun(dialect.RunInfo{Name: name, BuildID: p.info.BuildID, StartedDate: started})
	if err != nil {
		return fmt.Errorf("render run: %w", err)
	}
	resp, err := p.sub.Submit(ctx, http.MethodPost, "", p.opts.apiVersion, body)
	if err != nil {
		return fmt.Errorf("create test run: %w", err)
	}
	var run createdRun
	if err := json.Unmarshal(resp, &run); err != nil {
		return fmt.Errorf("decode test run: %w", err)
	}
	if run.ID == 0 {
		return fmt.Errorf("create test run: response carried no id")
	}

	p.runID = run.ID
	p.runStarted = started
	p.logger.Info("test run created", "run_id", run.ID, "name", name)
	return nil
}

// complete marks every parent and then the run itself as completed. It runs
// on the consumer goroutine once the queue has drained.
func (p *Pipeline) complete(ctx context.Context) error {
	if p.runID == 0 {
		return nil
	}
	now := p.opts.now()
	var errs *multierror.Error

	if parents := p.reg.all(); len(parents) > 0 {
		body, err := p.dialect.CompleteParents(parents, now)
		if err == nil {
			_, err = p.sub.Submit(ctx, http.MethodPatch, p.resultsEndpoint(), p.opts.apiVersion, body)
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("complete parents: %w", err))
		}
	}

	body, err := dialect.CompleteRun(p.runStarted, now)
	if err == nil {
		_, err = p.sub.Submit(ctx, http.MethodPatch, fmt.Sprintf("/%d", p.runID), p.opts.apiVersion, body)
	}
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("complete test run: %w", err))
	}
	return errs.ErrorOrNil()
}

func (p *Pipeline) resultsEndpoint() string {
	return fmt.Sprintf("/%d/results", p.runID)
}

// GetSource returns the source of the first result that has one. Test
// binaries and other file paths are reduced to their base name with any known
// binary extension removed; Go import paths are returned whole, since their
// test names carry the full path as a prefix.
func GetSource(batch []domain.Result) string {
	for _, r := range batch {
		s := strings.TrimSpace(r.Source)
		if s == "" {
			continue
		}
		if isImportPath(s) {
			return s
		}
		if i := strings.LastIndexAny(s, `/\`); i >= 0 {
			s = s[i+1:]
		}
		if ext := path.Ext(s); isBinaryExt(ext) {
			s = s[:len(s)-len(ext)]
		}
		return s
	}
	return ""
}

func isBinaryExt(ext string) bool {
	for _, known := range []string{".dll", ".exe", ".test"} {
		if strings.EqualFold(ext, known) {
			return true
		}
	}
	return false
}

// isImportPath reports whether s names a Go package rather than a file.
func isImportPath(s string) bool {
	if strings.ContainsAny(s, `\:`) || strings.HasPrefix(s, "/") || strings.HasPrefix(s, ".") {
		return false
	}
	return !isBinaryExt(path.Ext(s))
}

// RunName formats the display name of the run.
func RunName(source string, info RunInfo) string {
	if source == "" {
		source = unknownSource
	}
	return fmt.Sprintf("%s (OS: %s, Job: %s, Agent: %s)", source, info.OS, info.JobName, info.AgentName)
}
