package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

const defaultServiceName = "pipelines-testlogger"

type Config struct {
	Enabled     bool
	ServiceName string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// settings is Config with environment fallbacks and defaults applied.
type settings struct {
	service  string
	endpoint string
	insecure bool
	ratio    float64
}

// resolve fills the gaps in cfg from the standard OTEL_* variables.
func resolve(cfg Config, getenv func(string) string) settings {
	firstOf := func(v, envKey, def string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		if v = strings.TrimSpace(getenv(envKey)); v != "" {
			return v
		}
		return def
	}
	st := settings{
		service:  firstOf(cfg.ServiceName, "OTEL_SERVICE_NAME", defaultServiceName),
		endpoint: SanitizeEndpoint(firstOf(cfg.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
		insecure: cfg.OTLPInsecure,
		ratio:    cfg.SampleRatio,
	}
	if v := getenv("OTEL_EXPORTER_OTLP_INSECURE"); strings.TrimSpace(v) != "" {
		st.insecure = ParseBool(v)
	}
	if st.ratio == 0 {
		st.ratio = ParseSampleRatio(getenv("OTEL_TRACES_SAMPLER_ARG"))
	}
	if st.ratio <= 0 || st.ratio > 1 {
		st.ratio = 1
	}
	return st
}

func noopShutdown(context.Context) error { return nil }

// Setup installs a global tracer provider exporting spans over OTLP/gRPC and
// returns its shutdown. Disabled tracing, or an exporter that cannot be
// built, yields a no-op shutdown; only the W3C propagator is installed then.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if !cfg.Enabled {
		return noopShutdown, nil
	}
	st := resolve(cfg, os.Getenv)

	creds := otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, ""))
	if st.insecure {
		creds = otlptracegrpc.WithInsecure()
	}
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(st.endpoint), creds)
	if err != nil {
		logger.Warn("tracing disabled, exporter init failed", "endpoint", st.endpoint, "err", err)
		return noopShutdown, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(st.service),
	))
	if err != nil {
		logger.Warn("otel resource merge failed", "err", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(st.ratio))),
	)
	otel.SetTracerProvider(tp)
	logger.Debug("tracing enabled", "service", st.service, "endpoint", st.endpoint, "sample_ratio", st.ratio)
	return tp.Shutdown, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(defaultServiceName + "/" + component)
}

// InjectHeaders writes the traceparent and tracestate headers for the span in ctx.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// SanitizeEndpoint turns a URL-style OTLP endpoint into the host:port form the
// gRPC exporter expects.
func SanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func ParseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}

func ParseSampleRatio(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
