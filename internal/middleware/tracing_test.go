package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func spanAttr(s sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingMiddlewareNamesSpanByRoute(t *testing.T) {
	spans := recordSpans(t)
	r := gin.New()
	r.Use(RequestIDMiddleware(), TracingMiddleware(""))
	r.PATCH("/:project/_apis/test/runs/:runId/results", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.POST("/:project/_apis/test/runs", func(c *gin.Context) {
		_ = c.Error(errors.New("store down"))
		c.Status(http.StatusInternalServerError)
	})

	for _, id := range []string{"1", "2"} {
		req := httptest.NewRequest(http.MethodPatch, "/proj/_apis/test/runs/"+id+"/results?api-version=5.0", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/proj/_apis/test/runs", nil))

	ended := spans.Ended()
	if len(ended) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(ended))
	}
	for i, s := range ended[:2] {
		if s.Name() != "PATCH /:project/_apis/test/runs/:runId/results" {
			t.Fatalf("span %d name %q", i, s.Name())
		}
		if s.SpanKind() != trace.SpanKindServer {
			t.Fatalf("span %d kind %v", i, s.SpanKind())
		}
		if v, _ := spanAttr(s, "testruns.run_id"); v.AsString() != []string{"1", "2"}[i] {
			t.Fatalf("span %d run id %q", i, v.AsString())
		}
		if v, _ := spanAttr(s, "testruns.project"); v.AsString() != "proj" {
			t.Fatalf("span %d project %q", i, v.AsString())
		}
		if v, _ := spanAttr(s, "testruns.api_version"); v.AsString() != "5.0" {
			t.Fatalf("span %d api version %q", i, v.AsString())
		}
		if v, ok := spanAttr(s, "request_id"); !ok || v.AsString() == "" {
			t.Fatalf("span %d has no request id", i)
		}
	}

	failed := ended[2]
	if failed.Name() != "POST /:project/_apis/test/runs" {
		t.Fatalf("unexpected span name %q", failed.Name())
	}
	if failed.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", failed.Status())
	}
	if len(failed.Events()) == 0 {
		t.Fatal("expected the handler error to be recorded")
	}
}

func TestTracingMiddlewareUnmatchedRoute(t *testing.T) {
	spans := recordSpans(t)
	r := gin.New()
	r.Use(TracingMiddleware("svc"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	ended := spans.Ended()
	if len(ended) != 1 || ended[0].Name() != "GET unmatched" {
		t.Fatalf("unexpected spans %v", ended)
	}
	if got := ended[0].InstrumentationScope().Name; got != "svc/http" {
		t.Fatalf("unexpected scope %q", got)
	}
}
