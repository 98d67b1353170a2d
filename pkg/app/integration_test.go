package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/icnocop/pipelines-testlogger/internal/client"
	"github.com/icnocop/pipelines-testlogger/internal/dialect"
	"github.com/icnocop/pipelines-testlogger/internal/pipeline"
	"github.com/icnocop/pipelines-testlogger/pkg/config"
	"github.com/icnocop/pipelines-testlogger/pkg/domain"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence/memory"
	redisplugin "github.com/icnocop/pipelines-testlogger/pkg/persistence/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

const testToken = "pat-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, store persistence.PluginPersistence) (*Application, *httptest.Server) {
	t.Helper()
	cfg, err := config.LoadServerConfigWithEnv("", func(k string) string {
		if k == "BACKEND_ACCESS_TOKEN" {
			return testToken
		}
		return ""
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	app, err := NewApplication(cfg, WithPersistence(store), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	SetupMappings(app)
	server := httptest.NewServer(app.Engine)
	t.Cleanup(func() {
		server.Close()
		_ = app.Close(context.Background())
	})
	return app, server
}

func newRedisStore(t *testing.T) persistence.PluginPersistence {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return redisplugin.NewPluginWithClient(rdb, persistence.PluginConfig{})
}

func runPipeline(t *testing.T, baseURL, apiVersion string, results []domain.Result) *pipeline.Pipeline {
	t.Helper()
	c, err := client.New(baseURL+"/", "proj", client.WithAccessToken(testToken), client.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	d, err := dialect.ForVersion(apiVersion)
	if err != nil {
		t.Fatalf("dialect: %v", err)
	}
	p := pipeline.New(c, d, pipeline.RunInfo{BuildID: "42", JobName: "job", AgentName: "agent", OS: "linux"},
		pipeline.WithLogger(quietLogger()),
		pipeline.WithAPIVersion(apiVersion),
		pipeline.WithTimeouts(5*time.Second, 5*time.Second, 5*time.Second),
	)
	for _, r := range results {
		p.Enqueue(r)
	}
	p.Flush()
	if err := p.Err(); err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	return p
}

func sampleResults() []domain.Result {
	src := "/tmp/go-build123/widgets.test"
	return []domain.Result{
		{Source: src, FullyQualifiedName: "widgets.Calc.TestAdd", DisplayName: "TestAdd", Outcome: domain.OutcomePassed, Duration: 10 * time.Millisecond},
		{Source: src, FullyQualifiedName: "widgets.Calc.TestSub", DisplayName: "TestSub", Outcome: domain.OutcomeFailed, Duration: 5 * time.Millisecond,
			ErrorMessage: "calc_test.go:12: want 1, got 2"},
		{Source: src, FullyQualifiedName: "widgets.IO.TestRead", DisplayName: "TestRead", Outcome: domain.OutcomeSkipped},
	}
}

func resultsByTitle(t *testing.T, app *Application, runID int) map[string]domain.ResultRecord {
	t.Helper()
	recs, err := app.Runs.ListResults(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	out := make(map[string]domain.ResultRecord, len(recs))
	for _, r := range recs {
		title, _ := r["testCaseTitle"].(string)
		out[title] = r
	}
	return out
}

func TestPipelineAgainstBackend(t *testing.T) {
	ctx := context.Background()
	app, server := newTestServer(t, newRedisStore(t))

	p := runPipeline(t, server.URL, "5.0", sampleResults())
	runID := p.RunID()
	if runID == 0 {
		t.Fatal("expected a run id after flush")
	}

	run, err := app.Runs.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.State != domain.RunCompleted || run.CompletedDate == "" {
		t.Fatalf("expected completed run, got %+v", run)
	}
	if run.Name != "widgets (OS: linux, Job: job, Agent: agent)" || run.BuildID != "42" {
		t.Fatalf("unexpected run %+v", run)
	}

	parents := resultsByTitle(t, app, runID)
	if len(parents) != 2 {
		t.Fatalf("expected one parent per class, got %v", parents)
	}
	calc := parents["Calc"]
	if calc == nil {
		t.Fatalf("missing Calc parent in %v", parents)
	}
	if calc["state"] != "Completed" || calc["outcome"] != "Failed" {
		t.Errorf("unexpected Calc parent %v", calc)
	}
	if calc["durationInMs"] != float64(15) {
		t.Errorf("expected accumulated duration 15, got %v", calc["durationInMs"])
	}
	if subs, _ := calc["subResults"].([]any); len(subs) != 2 {
		t.Errorf("expected 2 sub results, got %v", calc["subResults"])
	}
	if parents["IO"]["state"] != "Completed" {
		t.Errorf("expected IO parent completed, got %v", parents["IO"])
	}

	captured := listCaptured(t, server.URL)
	if len(captured) < 4 {
		t.Fatalf("expected at least 4 requests, got %d", len(captured))
	}
	base := "/proj/_apis/test/runs"
	results := base + "/1/results"
	first, last, beforeLast := captured[0], captured[len(captured)-1], captured[len(captured)-2]
	if first.Method != http.MethodPost || first.Path != base {
		t.Errorf("expected run creation first, got %s %s", first.Method, first.Path)
	}
	if captured[1].Method != http.MethodPost || captured[1].Path != results {
		t.Errorf("expected parent creation second, got %s %s", captured[1].Method, captured[1].Path)
	}
	if beforeLast.Method != http.MethodPatch || beforeLast.Path != results {
		t.Errorf("expected parent completion before run completion, got %s %s", beforeLast.Method, beforeLast.Path)
	}
	if last.Method != http.MethodPatch || last.Path != base+"/1" {
		t.Errorf("expected run completion last, got %s %s", last.Method, last.Path)
	}
	for _, c := range captured {
		if c.APIVersion != "5.0" {
			t.Errorf("expected api-version 5.0 on %s %s, got %q", c.Method, c.Path, c.APIVersion)
		}
		if c.Path != base && c.Path != base+"/1" && c.Path != results {
			t.Errorf("unexpected path %s", c.Path)
		}
	}
	if !strings.Contains(first.Body, `"isAutomated":true`) {
		t.Errorf("unexpected run body %s", first.Body)
	}
}

func TestPipelineAgainstBackendV3(t *testing.T) {
	store, _ := memory.NewPlugin(persistence.PluginConfig{})
	app, server := newTestServer(t, store)

	p := runPipeline(t, server.URL, "3.0", sampleResults())

	parents := resultsByTitle(t, app, p.RunID())
	calc := parents["Calc"]
	subs, _ := calc["subResults"].([]any)
	if len(subs) != 2 {
		t.Fatalf("expected flattened children appended to the parent, got %v", calc)
	}
	if calc["state"] != "Completed" {
		t.Errorf("expected parent completed, got %v", calc)
	}
	child, _ := subs[1].(map[string]any)
	if child["testCaseTitle"] != "TestSub" || child["outcome"] != "Failed" {
		t.Errorf("unexpected child %v", child)
	}
}

func TestBackendRejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	_, server := newTestServer(t, newRedisStore(t))
	runs := server.URL + "/proj/_apis/test/runs"

	status, _ := doJSON(t, ctx, http.MethodPost, runs+"?api-version=5.0", "", map[string]any{"name": "r"}, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", status)
	}
	status, _ = doJSON(t, ctx, http.MethodPost, runs, testToken, map[string]any{"name": "r"}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 without api-version, got %d", status)
	}
	status, _ = doJSON(t, ctx, http.MethodGet, runs+"/99?api-version=5.0", testToken, nil, nil)
	if status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", status)
	}
	status, _ = doJSON(t, ctx, http.MethodGet, runs+"/abc?api-version=5.0", testToken, nil, nil)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-numeric run id, got %d", status)
	}

	var run domain.RunRecord
	status, body := doJSON(t, ctx, http.MethodPost, runs+"?api-version=5.0", testToken, map[string]any{"name": "r"}, &run)
	if status != http.StatusOK || run.ID == 0 {
		t.Fatalf("create run status %d body=%s", status, body)
	}
	status, _ = doJSON(t, ctx, http.MethodPost, runs+"/1/results?api-version=5.0", testToken, map[string]any{"not": "an array"}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-array body, got %d", status)
	}

	if got := len(listCaptured(t, server.URL)); got != 6 {
		t.Errorf("expected every API call to be captured, got %d", got)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodDelete, server.URL+"/_admin/requests", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status %d", resp.StatusCode)
	}
	if got := len(listCaptured(t, server.URL)); got != 0 {
		t.Errorf("expected empty request log after reset, got %d", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ctx := context.Background()
	_, server := newTestServer(t, newRedisStore(t))

	status, body := doJSON(t, ctx, http.MethodGet, server.URL+"/healthz", "", nil, nil)
	if status != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("healthz status %d body=%s", status, body)
	}
	status, body = doJSON(t, ctx, http.MethodGet, server.URL+"/metrics", "", nil, nil)
	if status != http.StatusOK || !strings.Contains(body, "testlogger_backend_requests_total") {
		t.Fatalf("metrics status %d", status)
	}
}

func listCaptured(t *testing.T, baseURL string) []domain.CapturedRequest {
	t.Helper()
	var out struct {
		Count int                      `json:"count"`
		Value []domain.CapturedRequest `json:"value"`
	}
	status, body := doJSON(t, context.Background(), http.MethodGet, baseURL+"/_admin/requests", testToken, nil, &out)
	if status != http.StatusOK {
		t.Fatalf("list requests status %d body=%s", status, body)
	}
	return out.Value
}

func doJSON(t *testing.T, ctx context.Context, method, url, token string, body any, out any) (int, string) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewBuffer(b)
	}
	req, _ := http.NewRequestWithContext(ctx, method, url, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_ = json.Unmarshal(b, out)
	}
	return resp.StatusCode, string(b)
}
