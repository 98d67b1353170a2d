package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracingService = "testruns-backend"

// TracingMiddleware continues the trace the uploader propagates and wraps the
// handler chain in a server span named after the matched route template, so
// every run id shares one span name.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	if serviceName = strings.TrimSpace(serviceName); serviceName == "" {
		serviceName = defaultTracingService
	}
	scope := serviceName + "/http"

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := otel.GetTracerProvider().Tracer(scope).Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(routeAttributes(c, route)...),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.response.status_code", status),
			attribute.String("request_id", RequestID(ctx)),
		)
		for _, e := range c.Errors {
			span.RecordError(e.Err)
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func routeAttributes(c *gin.Context, route string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.String("url.path", c.Request.URL.Path),
	}
	if v := c.Query("api-version"); v != "" {
		attrs = append(attrs, attribute.String("testruns.api_version", v))
	}
	if v := c.Param("project"); v != "" {
		attrs = append(attrs, attribute.String("testruns.project", v))
	}
	if v := c.Param("runId"); v != "" {
		attrs = append(attrs, attribute.String("testruns.run_id", v))
	}
	return attrs
}
