package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupRedis(t *testing.T) (context.Context, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return context.Background(), mr, rdb
}

func setupRunRepo(t *testing.T) (context.Context, *miniredis.Miniredis, RunRepository) {
	t.Helper()
	ctx, mr, rdb := setupRedis(t)
	return ctx, mr, NewRunRepository(rdb, func() time.Time { return fixedNow })
}

func TestRunRepositoryCreateAndGet(t *testing.T) {
	ctx, mr, repo := setupRunRepo(t)

	run := &domain.RunRecord{Name: "MyTests", BuildID: "7", State: domain.RunInProgress, IsAutomated: true}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID != 1 {
		t.Fatalf("expected first run id 1, got %d", run.ID)
	}
	if !run.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected CreatedAt=%s, got %s", fixedNow, run.CreatedAt)
	}

	got, err := repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Name != "MyTests" || got.State != domain.RunInProgress {
		t.Errorf("unexpected run %+v", got)
	}

	members, err := mr.SMembers("testlogger:runs:state:InProgress")
	if err != nil || len(members) != 1 || members[0] != "1" {
		t.Errorf("expected run indexed by state, got %v (%v)", members, err)
	}
}

func TestRunRepositoryGetMissing(t *testing.T) {
	ctx, _, repo := setupRunRepo(t)
	if _, err := repo.GetRun(ctx, 42); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.SaveRun(ctx, &domain.RunRecord{ID: 42}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on save, got %v", err)
	}
}

func TestRunRepositorySaveMovesStateIndex(t *testing.T) {
	ctx, mr, repo := setupRunRepo(t)
	run := &domain.RunRecord{Name: "r", State: domain.RunInProgress}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run.State = domain.RunCompleted
	run.CompletedDate = "2024-03-01T12:05:00Z"
	if err := repo.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	if ok, _ := mr.SIsMember("testlogger:runs:state:InProgress", "1"); ok {
		t.Error("run still indexed as in progress")
	}
	if ok, _ := mr.SIsMember("testlogger:runs:state:Completed", "1"); !ok {
		t.Error("run not indexed as completed")
	}
	got, _ := repo.GetRun(ctx, 1)
	if got.CompletedDate != "2024-03-01T12:05:00Z" {
		t.Errorf("expected completed date to persist, got %q", got.CompletedDate)
	}
}

func TestRunRepositoryListRunsOrdered(t *testing.T) {
	ctx, _, repo := setupRunRepo(t)
	for i := 0; i < 12; i++ {
		if err := repo.CreateRun(ctx, &domain.RunRecord{State: domain.RunInProgress}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	runs, err := repo.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 12 {
		t.Fatalf("expected 12 runs, got %d", len(runs))
	}
	for i, r := range runs {
		if r.ID != i+1 {
			t.Fatalf("runs out of order at %d: %d", i, r.ID)
		}
	}
}

func TestRunRepositoryResults(t *testing.T) {
	ctx, _, repo := setupRunRepo(t)
	run := &domain.RunRecord{State: domain.RunInProgress}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if _, err := repo.AddResults(ctx, 99, []domain.ResultRecord{{"testCaseTitle": "x"}}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown run, got %v", err)
	}

	created, err := repo.AddResults(ctx, run.ID, []domain.ResultRecord{
		{"testCaseTitle": "Ns.A"},
		{"testCaseTitle": "Ns.B"},
	})
	if err != nil {
		t.Fatalf("AddResults: %v", err)
	}
	if len(created) != 2 || created[0].ID() != 1 || created[1].ID() != 2 {
		t.Fatalf("unexpected created ids: %v", created)
	}

	more, err := repo.AddResults(ctx, run.ID, []domain.ResultRecord{{"testCaseTitle": "Ns.C"}})
	if err != nil {
		t.Fatalf("AddResults: %v", err)
	}
	if more[0].ID() != 3 {
		t.Fatalf("expected id 3, got %d", more[0].ID())
	}

	rec := created[1]
	rec["state"] = "Completed"
	if err := repo.SaveResults(ctx, run.ID, []domain.ResultRecord{rec}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}
	if err := repo.SaveResults(ctx, run.ID, []domain.ResultRecord{{"id": 77}}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown result, got %v", err)
	}

	all, err := repo.GetResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 results, got %d", len(all))
	}
	if all[1]["state"] != "Completed" || all[1]["testCaseTitle"] != "Ns.B" {
		t.Errorf("unexpected saved result %v", all[1])
	}
}

func TestRequestRepository(t *testing.T) {
	ctx, _, rdb := setupRedis(t)
	repo := NewRequestRepository(rdb)

	for _, m := range []string{"POST", "PATCH"} {
		if err := repo.Append(ctx, domain.CapturedRequest{Method: m, Path: "/p/_apis/test/runs", APIVersion: "5.0"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Method != "POST" || got[1].Method != "PATCH" {
		t.Fatalf("unexpected requests %+v", got)
	}

	if err := repo.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, _ = repo.List(ctx)
	if len(got) != 0 {
		t.Fatalf("expected empty log after reset, got %d", len(got))
	}
}
