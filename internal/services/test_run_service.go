package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/icnocop/pipelines-testlogger/internal/tracing"
	"github.com/icnocop/pipelines-testlogger/pkg/domain"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalid marks a request the backend rejects with 400.
var ErrInvalid = errors.New("invalid request")

type TestRunService interface {
	CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.RunRecord, error)
	GetRun(ctx context.Context, id int) (*domain.RunRecord, error)
	ListRuns(ctx context.Context) ([]*domain.RunRecord, error)
	UpdateRun(ctx context.Context, id int, req domain.UpdateRunRequest) (*domain.RunRecord, error)
	AddResults(ctx context.Context, runID int, recs []domain.ResultRecord) ([]domain.ResultRecord, error)
	UpdateResults(ctx context.Context, runID int, recs []domain.ResultRecord) ([]domain.ResultRecord, error)
	ListResults(ctx context.Context, runID int) ([]domain.ResultRecord, error)
}

type testRunService struct {
	store  persistence.RunStorage
	logger *slog.Logger
	tracer trace.Tracer
}

func NewTestRunService(store persistence.RunStorage, logger *slog.Logger) TestRunService {
	if logger == nil {
		logger = slog.Default()
	}
	return &testRunService{store: store, logger: logger, tracer: tracing.Tracer("backend")}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (s *testRunService) span(ctx context.Context, name string, runID int) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("testruns.run_id", runID)))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *testRunService) CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.RunRecord, error) {
	ctx, span := s.span(ctx, "testruns.run.create", 0)
	defer span.End()

	if strings.TrimSpace(req.Name) == "" {
		return nil, fail(span, invalid("name is required"))
	}
	run := &domain.RunRecord{
		Name:        req.Name,
		BuildID:     req.Build.ID,
		State:       domain.RunInProgress,
		IsAutomated: req.IsAutomated,
		StartedDate: req.StartedDate,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("testruns.run_id", run.ID))
	s.logger.Info("test run created", "run_id", run.ID, "name", run.Name, "build_id", run.BuildID)
	return run, nil
}

func (s *testRunService) GetRun(ctx context.Context, id int) (*domain.RunRecord, error) {
	return s.store.GetRun(ctx, id)
}

func (s *testRunService) ListRuns(ctx context.Context) ([]*domain.RunRecord, error) {
	return s.store.ListRuns(ctx)
}

func (s *testRunService) UpdateRun(ctx context.Context, id int, req domain.UpdateRunRequest) (*domain.RunRecord, error) {
	ctx, span := s.span(ctx, "testruns.run.update", id)
	defer span.End()

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	switch req.State {
	case "":
	case domain.RunInProgress, domain.RunCompleted:
		run.State = req.State
	default:
		return nil, fail(span, invalid("unknown run state %q", req.State))
	}
	if req.StartedDate != "" {
		run.StartedDate = req.StartedDate
	}
	if req.CompletedDate != "" {
		run.CompletedDate = req.CompletedDate
	}
	if run.State == domain.RunCompleted && run.CompletedDate == "" {
		return nil, fail(span, invalid("completedDate is required to complete a run"))
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		return nil, fail(span, err)
	}
	s.logger.Info("test run updated", "run_id", id, "state", run.State)
	return run, nil
}

func (s *testRunService) AddResults(ctx context.Context, runID int, recs []domain.ResultRecord) ([]domain.ResultRecord, error) {
	ctx, span := s.span(ctx, "testruns.results.add", runID)
	defer span.End()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fail(span, err)
	}
	if run.State == domain.RunCompleted {
		return nil, fail(span, invalid("run %d is completed", runID))
	}
	if len(recs) == 0 {
		return nil, fail(span, invalid("at least one result is required"))
	}
	for i, rec := range recs {
		if title(rec) == "" {
			return nil, fail(span, invalid("result %d: testCaseTitle or automatedTestName is required", i))
		}
	}
	created, err := s.store.AddResults(ctx, runID, recs)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("testruns.results", len(created)))
	return created, nil
}

// UpdateResults merges each entry into the stored result it names. Entries
// are matched by "id", or by "TestResult.Id" for the flattened 3.x form in
// which each child entry is appended to its parent's subResults.
func (s *testRunService) UpdateResults(ctx context.Context, runID int, recs []domain.ResultRecord) ([]domain.ResultRecord, error) {
	ctx, span := s.span(ctx, "testruns.results.update", runID)
	defer span.End()

	if len(recs) == 0 {
		return nil, fail(span, invalid("at least one result is required"))
	}
	existing, err := s.store.GetResults(ctx, runID)
	if err != nil {
		return nil, fail(span, err)
	}
	byID := make(map[int]domain.ResultRecord, len(existing))
	for _, rec := range existing {
		byID[rec.ID()] = rec
	}

	var order []int
	touched := make(map[int]bool)
	for i, entry := range recs {
		id, child := targetID(entry)
		if id == 0 {
			return nil, fail(span, invalid("result %d: id is required", i))
		}
		base, ok := byID[id]
		if !ok {
			return nil, fail(span, fmt.Errorf("result %d: %w", id, persistence.ErrNotFound))
		}
		if child {
			sub := make(map[string]any, len(entry))
			for k, v := range entry {
				if k != "TestResult" {
					sub[k] = v
				}
			}
			base["subResults"] = appendSubResults(base["subResults"], []any{sub})
		} else {
			merge(base, entry)
		}
		if !touched[id] {
			touched[id] = true
			order = append(order, id)
		}
	}

	out := make([]domain.ResultRecord, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	if err := s.store.SaveResults(ctx, runID, out); err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("testruns.results", len(out)))
	return out, nil
}

func (s *testRunService) ListResults(ctx context.Context, runID int) ([]domain.ResultRecord, error) {
	return s.store.GetResults(ctx, runID)
}

func title(rec domain.ResultRecord) string {
	for _, k := range []string{"testCaseTitle", "automatedTestName"} {
		if v, ok := rec[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// targetID returns the id an update entry applies to and whether the entry is
// a flattened child rather than an update of the record itself.
func targetID(entry domain.ResultRecord) (int, bool) {
	if id := entry.ID(); id != 0 {
		return id, false
	}
	ref, ok := entry["TestResult"].(map[string]any)
	if !ok {
		return 0, false
	}
	id := domain.ResultRecord{"id": ref["Id"]}.ID()
	_, isCompletion := entry["state"]
	return id, !isCompletion
}

func merge(base, entry domain.ResultRecord) {
	for k, v := range entry {
		switch k {
		case "id", "TestResult", "testCase":
		case "subResults":
			if subs, ok := v.([]any); ok {
				base[k] = appendSubResults(base[k], subs)
			}
		default:
			base[k] = v
		}
	}
}

func appendSubResults(existing any, subs []any) []any {
	cur, _ := existing.([]any)
	out := make([]any, 0, len(cur)+len(subs))
	out = append(out, cur...)
	return append(out, subs...)
}
