package persistence

import (
	"context"
	"errors"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"
)

var (
	// ErrNotFound is returned when a run or result does not exist
	ErrNotFound = errors.New("not found")
)

// PluginPersistence provides storage for the fake tracking backend.
type PluginPersistence interface {
	// RunStorage returns the run and result storage implementation
	RunStorage() RunStorage

	// RequestLog returns the captured request log
	RequestLog() RequestLog

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}

// RunStorage stores test runs and the results filed under them.
type RunStorage interface {
	// CreateRun assigns the next run id and stores the run
	CreateRun(ctx context.Context, run *domain.RunRecord) error

	// GetRun retrieves a run by id
	GetRun(ctx context.Context, id int) (*domain.RunRecord, error)

	// SaveRun overwrites an existing run
	SaveRun(ctx context.Context, run *domain.RunRecord) error

	// ListRuns returns every run ordered by id
	ListRuns(ctx context.Context) ([]*domain.RunRecord, error)

	// AddResults assigns ids to recs in order and stores them under the run
	AddResults(ctx context.Context, runID int, recs []domain.ResultRecord) ([]domain.ResultRecord, error)

	// GetResults returns the results of a run ordered by id
	GetResults(ctx context.Context, runID int) ([]domain.ResultRecord, error)

	// SaveResults overwrites existing results, matched by id
	SaveResults(ctx context.Context, runID int, recs []domain.ResultRecord) error
}

// RequestLog keeps every request the backend received, in arrival order.
type RequestLog interface {
	Append(ctx context.Context, req domain.CapturedRequest) error
	List(ctx context.Context) ([]domain.CapturedRequest, error)
	Reset(ctx context.Context) error
}
