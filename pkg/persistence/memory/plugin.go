package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence"
)

// Plugin implements PluginPersistence in process memory.
// This is primarily for testing and has no durability.
type Plugin struct {
	mu       sync.RWMutex
	runs     map[int]*domain.RunRecord
	results  map[int]map[int]domain.ResultRecord
	requests []domain.CapturedRequest
	runSeq   int
	resSeq   int
	now      func() time.Time
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Plugin{
		runs:    make(map[int]*domain.RunRecord),
		results: make(map[int]map[int]domain.ResultRecord),
		now:     now,
	}, nil
}

func (p *Plugin) RunStorage() persistence.RunStorage { return &runStorage{plugin: p} }

func (p *Plugin) RequestLog() persistence.RequestLog { return &requestLog{plugin: p} }

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error { return nil }

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error { return nil }

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

type runStorage struct {
	plugin *Plugin
}

func (s *runStorage) CreateRun(ctx context.Context, run *domain.RunRecord) error {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runSeq++
	now := p.now().UTC()
	run.ID = p.runSeq
	run.CreatedAt = now
	run.UpdatedAt = now
	cp := *run
	p.runs[run.ID] = &cp
	p.results[run.ID] = make(map[int]domain.ResultRecord)
	return nil
}

func (s *runStorage) GetRun(ctx context.Context, id int) (*domain.RunRecord, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()

	run, ok := p.runs[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *runStorage) SaveRun(ctx context.Context, run *domain.RunRecord) error {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.runs[run.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	run.CreatedAt = prev.CreatedAt
	run.UpdatedAt = p.now().UTC()
	cp := *run
	p.runs[run.ID] = &cp
	return nil
}

func (s *runStorage) ListRuns(ctx context.Context) ([]*domain.RunRecord, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*domain.RunRecord, 0, len(p.runs))
	for _, r := range p.runs {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *runStorage) AddResults(ctx context.Context, runID int, recs []domain.ResultRecord) ([]domain.ResultRecord, error) {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.results[runID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := make([]domain.ResultRecord, 0, len(recs))
	for _, rec := range recs {
		p.resSeq++
		cp := copyRecord(rec)
		cp["id"] = p.resSeq
		stored[p.resSeq] = cp
		out = append(out, copyRecord(cp))
	}
	return out, nil
}

func (s *runStorage) GetResults(ctx context.Context, runID int) ([]domain.ResultRecord, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()

	stored, ok := p.results[runID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := make([]domain.ResultRecord, 0, len(stored))
	for _, rec := range stored {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (s *runStorage) SaveResults(ctx context.Context, runID int, recs []domain.ResultRecord) error {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.results[runID]
	if !ok {
		return persistence.ErrNotFound
	}
	for _, rec := range recs {
		if _, ok := stored[rec.ID()]; !ok {
			return fmt.Errorf("result %d: %w", rec.ID(), persistence.ErrNotFound)
		}
	}
	for _, rec := range recs {
		stored[rec.ID()] = copyRecord(rec)
	}
	return nil
}

type requestLog struct {
	plugin *Plugin
}

func (l *requestLog) Append(ctx context.Context, req domain.CapturedRequest) error {
	p := l.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return nil
}

func (l *requestLog) List(ctx context.Context) ([]domain.CapturedRequest, error) {
	p := l.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.CapturedRequest(nil), p.requests...), nil
}

func (l *requestLog) Reset(ctx context.Context) error {
	p := l.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = nil
	return nil
}

// copyRecord is shallow; nested values are treated as immutable once stored.
func copyRecord(rec domain.ResultRecord) domain.ResultRecord {
	cp := make(domain.ResultRecord, len(rec))
	for k, v := range rec {
		cp[k] = v
	}
	return cp
}
