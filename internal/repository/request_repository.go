package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"

	"github.com/go-redis/redis/v8"
)

type RequestRepository interface {
	Append(ctx context.Context, req domain.CapturedRequest) error
	List(ctx context.Context) ([]domain.CapturedRequest, error)
	Reset(ctx context.Context) error
}

type requestRedisRepo struct {
	rdb *redis.Client
}

func NewRequestRepository(rdb *redis.Client) RequestRepository {
	return &requestRedisRepo{rdb: rdb}
}

func (r *requestRedisRepo) keyRequests() string { return "testlogger:requests" }

func (r *requestRedisRepo) Append(ctx context.Context, req domain.CapturedRequest) error {
	b, _ := json.Marshal(req)
	if err := r.rdb.RPush(ctx, r.keyRequests(), string(b)).Err(); err != nil {
		return fmt.Errorf("redis RPUSH request: %w", err)
	}
	return nil
}

func (r *requestRedisRepo) List(ctx context.Context) ([]domain.CapturedRequest, error) {
	vals, err := r.rdb.LRange(ctx, r.keyRequests(), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis LRANGE requests: %w", err)
	}
	out := make([]domain.CapturedRequest, 0, len(vals))
	for _, js := range vals {
		var req domain.CapturedRequest
		if err := json.Unmarshal([]byte(js), &req); err != nil {
			return nil, fmt.Errorf("unmarshal request: %w", err)
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *requestRedisRepo) Reset(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.keyRequests()).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis DEL requests: %w", err)
	}
	return nil
}
