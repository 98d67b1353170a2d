package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

type RunRepository interface {
	CreateRun(ctx context.Context, run *domain.RunRecord) error
	GetRun(ctx context.Context, id int) (*domain.RunRecord, error)
	SaveRun(ctx context.Context, run *domain.RunRecord) error
	ListRuns(ctx context.Context) ([]*domain.RunRecord, error)
	AddResults(ctx context.Context, runID int, recs []domain.ResultRecord) ([]domain.ResultRecord, error)
	GetResults(ctx context.Context, runID int) ([]domain.ResultRecord, error)
	SaveResults(ctx context.Context, runID int, recs []domain.ResultRecord) error
}

type runRedisRepo struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRunRepository(rdb *redis.Client, now func() time.Time) RunRepository {
	if now == nil {
		now = time.Now
	}
	return &runRedisRepo{rdb: rdb, now: now}
}

func (r *runRedisRepo) keyRunsHash() string  { return "testlogger:runs" }
func (r *runRedisRepo) keyRunsSeq() string   { return "testlogger:runs:seq" }
func (r *runRedisRepo) keyResultSeq() string { return "testlogger:results:seq" }
func (r *runRedisRepo) keyRunsByState(state domain.RunState) string {
	return "testlogger:runs:state:" + string(state)
}
func (r *runRedisRepo) keyResults(runID int) string {
	return fmt.Sprintf("testlogger:runs:%d:results", runID)
}

func (r *runRedisRepo) CreateRun(ctx context.Context, run *domain.RunRecord) error {
	id, err := r.rdb.Incr(ctx, r.keyRunsSeq()).Result()
	if err != nil {
		return fmt.Errorf("redis INCR run seq: %w", err)
	}
	now := r.now().UTC()
	run.ID = int(id)
	run.CreatedAt = now
	run.UpdatedAt = now

	b, _ := json.Marshal(run)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.keyRunsHash(), strconv.Itoa(run.ID), string(b))
		p.SAdd(ctx, r.keyRunsByState(run.State), run.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store run: %w", err)
	}
	return nil
}

func (r *runRedisRepo) GetRun(ctx context.Context, id int) (*domain.RunRecord, error) {
	js, err := r.rdb.HGet(ctx, r.keyRunsHash(), strconv.Itoa(id)).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET run: %w", err)
	}
	var run domain.RunRecord
	if err := json.Unmarshal([]byte(js), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

func (r *runRedisRepo) SaveRun(ctx context.Context, run *domain.RunRecord) error {
	prev, err := r.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}
	run.CreatedAt = prev.CreatedAt
	run.UpdatedAt = r.now().UTC()

	b, _ := json.Marshal(run)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.keyRunsHash(), strconv.Itoa(run.ID), string(b))
		if prev.State != run.State {
			p.SRem(ctx, r.keyRunsByState(prev.State), run.ID)
			p.SAdd(ctx, r.keyRunsByState(run.State), run.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store run: %w", err)
	}
	return nil
}

func (r *runRedisRepo) ListRuns(ctx context.Context) ([]*domain.RunRecord, error) {
	vals, err := r.rdb.HVals(ctx, r.keyRunsHash()).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis HVALS runs: %w", err)
	}
	runs := make([]*domain.RunRecord, 0, len(vals))
	for _, js := range vals {
		var run domain.RunRecord
		if err := json.Unmarshal([]byte(js), &run); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
		runs = append(runs, &run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
	return runs, nil
}

func (r *runRedisRepo) requireRun(ctx context.Context, runID int) error {
	ok, err := r.rdb.HExists(ctx, r.keyRunsHash(), strconv.Itoa(runID)).Result()
	if err != nil {
		return fmt.Errorf("redis HEXISTS run: %w", err)
	}
	if !ok {
		return persistence.ErrNotFound
	}
	return nil
}

// AddResults reserves a contiguous block of ids so concurrent callers never interleave.
func (r *runRedisRepo) AddResults(ctx context.Context, runID int, recs []domain.ResultRecord) ([]domain.ResultRecord, error) {
	if err := r.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	last, err := r.rdb.IncrBy(ctx, r.keyResultSeq(), int64(len(recs))).Result()
	if err != nil {
		return nil, fmt.Errorf("redis INCRBY result seq: %w", err)
	}
	first := int(last) - len(recs) + 1

	out := make([]domain.ResultRecord, 0, len(recs))
	fields := make([]any, 0, 2*len(recs))
	for i, rec := range recs {
		stored := make(domain.ResultRecord, len(rec)+1)
		for k, v := range rec {
			stored[k] = v
		}
		stored["id"] = first + i
		b, err := json.Marshal(stored)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		fields = append(fields, strconv.Itoa(first+i), string(b))
		out = append(out, stored)
	}
	if err := r.rdb.HSet(ctx, r.keyResults(runID), fields...).Err(); err != nil {
		return nil, fmt.Errorf("redis HSET results: %w", err)
	}
	return out, nil
}

func (r *runRedisRepo) GetResults(ctx context.Context, runID int) ([]domain.ResultRecord, error) {
	if err := r.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	vals, err := r.rdb.HVals(ctx, r.keyResults(runID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis HVALS results: %w", err)
	}
	out := make([]domain.ResultRecord, 0, len(vals))
	for _, js := range vals {
		var rec domain.ResultRecord
		if err := json.Unmarshal([]byte(js), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (r *runRedisRepo) SaveResults(ctx context.Context, runID int, recs []domain.ResultRecord) error {
	if len(recs) == 0 {
		return nil
	}
	key := r.keyResults(runID)
	fields := make([]any, 0, 2*len(recs))
	for _, rec := range recs {
		id := strconv.Itoa(rec.ID())
		ok, err := r.rdb.HExists(ctx, key, id).Result()
		if err != nil {
			return fmt.Errorf("redis HEXISTS result: %w", err)
		}
		if !ok {
			return fmt.Errorf("result %s: %w", id, persistence.ErrNotFound)
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fields = append(fields, id, string(b))
	}
	if err := r.rdb.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("redis HSET results: %w", err)
	}
	return nil
}
