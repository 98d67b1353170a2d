package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/icnocop/pipelines-testlogger/internal/dialect"
	"github.com/icnocop/pipelines-testlogger/internal/grouping"
	"github.com/icnocop/pipelines-testlogger/internal/metrics"
	"github.com/icnocop/pipelines-testlogger/pkg/domain"
)

// ProtocolError means the backend created a different number of parents than
// were requested. Results can no longer be attributed, so the pipeline stops.
type ProtocolError struct {
	Requested int
	Created   int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("backend created %d parent records, requested %d", e.Created, e.Requested)
}

// registry holds every parent created during the run. It is owned by the
// consumer goroutine and is not safe for concurrent use.
type registry struct {
	byKey map[string]*domain.Parent
	order []*domain.Parent
}

func newRegistry() *registry {
	return &registry{byKey: make(map[string]*domain.Parent)}
}

func (r *registry) get(key string) (*domain.Parent, bool) {
	p, ok := r.byKey[key]
	return p, ok
}

func (r *registry) add(p *domain.Parent) {
	r.byKey[p.Key] = p
	r.order = append(r.order, p)
}

// all returns parents in creation order.
func (r *registry) all() []*domain.Parent { return r.order }

func (r *registry) len() int { return len(r.order) }

// missing lists the group keys with no parent yet, in group order.
func (r *registry) missing(groups []grouping.Group) []string {
	var keys []string
	for _, g := range groups {
		if _, ok := r.byKey[g.Key]; !ok {
			keys = append(keys, g.Key)
		}
	}
	return keys
}

type createdParents struct {
	Count int `json:"count"`
	Value []struct {
		ID int `json:"id"`
	} `json:"value"`
}

// createParents issues one creation request for every key in groups that has
// no parent yet. All new parents share one start timestamp taken before the request.
func (p *Pipeline) createParents(ctx context.Context, groups []grouping.Group) error {
	keys := p.reg.missing(groups)
	if len(keys) == 0 {
		return nil
	}

	started := p.opts.now()
	body, err := dialect.CreateParents(keys, p.source, started)
	if err != nil {
		return fmt.Errorf("render parents: %w", err)
	}
	resp, err := p.sub.Submit(ctx, http.MethodPost, p.resultsEndpoint(), p.opts.apiVersion, body)
	if err != nil {
		return fmt.Errorf("create parents: %w", err)
	}

	var created createdParents
	if err := json.Unmarshal(resp, &created); err != nil {
		return fmt.Errorf("decode created parents: %w", err)
	}
	if created.Count != len(keys) || len(created.Value) != len(keys) {
		n := len(created.Value)
		if created.Count != len(keys) {
			n = created.Count
		}
		return &ProtocolError{Requested: len(keys), Created: n}
	}

	for i, key := range keys {
		p.reg.add(&domain.Parent{ID: created.Value[i].ID, Key: key, StartedDate: started})
	}
	metrics.ParentsCreatedTotal.Add(float64(len(keys)))
	p.logger.Debug("parents created", "run_id", p.runID, "count", len(keys), "total", p.reg.len())
	return nil
}
