package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/icnocop/pipelines-testlogger/internal/metrics"
	"github.com/icnocop/pipelines-testlogger/internal/middleware"
	"github.com/icnocop/pipelines-testlogger/internal/providers"
	"github.com/icnocop/pipelines-testlogger/internal/ratelimit"
	"github.com/icnocop/pipelines-testlogger/internal/services"
	"github.com/icnocop/pipelines-testlogger/internal/tracing"
	"github.com/icnocop/pipelines-testlogger/pkg/auth"
	_ "github.com/icnocop/pipelines-testlogger/pkg/auth/jwks"
	_ "github.com/icnocop/pipelines-testlogger/pkg/auth/static"
	"github.com/icnocop/pipelines-testlogger/pkg/config"
	"github.com/icnocop/pipelines-testlogger/pkg/persistence"
	_ "github.com/icnocop/pipelines-testlogger/pkg/persistence/memory"
	redisplugin "github.com/icnocop/pipelines-testlogger/pkg/persistence/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

// Application is the fake test runs backend: a gin engine over run storage.
type Application struct {
	Config      *config.ServerConfig
	Engine      *gin.Engine
	Store       persistence.PluginPersistence
	Runs        services.TestRunService
	Logger      *slog.Logger
	Validator   auth.Validator
	RateLimiter ratelimit.Limiter

	tracingShutdown func(context.Context) error
	embedded        *miniredis.Miniredis
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator replaces the validators derived from the config.
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithPersistence supplies the storage instead of connecting to Redis.
func WithPersistence(store persistence.PluginPersistence) ApplicationOption {
	return func(app *Application) error {
		app.Store = store
		return nil
	}
}

// WithLogger replaces the logger built from LogLevel and LogFormat.
func WithLogger(logger *slog.Logger) ApplicationOption {
	return func(app *Application) error {
		app.Logger = logger
		return nil
	}
}

// NewLogger builds the slog logger selected by level and format.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	lv := new(slog.LevelVar)
	switch strings.ToLower(level) {
	case "debug":
		lv.Set(slog.LevelDebug)
	case "warn":
		lv.Set(slog.LevelWarn)
	case "error":
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})
	if format == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	}
	return slog.New(handler)
}

func NewApplication(cfg *config.ServerConfig, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.Logger == nil {
		app.Logger = NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout).With("service", cfg.ServiceName, "env", cfg.Env)
		slog.SetDefault(app.Logger)
	}
	logger := app.Logger

	if app.Store == nil {
		if err := app.openStore(); err != nil {
			return nil, err
		}
	}
	if rp, ok := app.Store.(*redisplugin.Plugin); ok {
		metrics.RegisterRedisCollector(rp.Client(), logger)
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(rp.Client())
	}

	if app.Validator == nil {
		v, err := validatorFromConfig(cfg)
		if err != nil {
			app.closeStore()
			return nil, err
		}
		app.Validator = v
	}
	if app.Validator == nil {
		logger.Warn("no credentials configured; the API is open")
	}

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.TraceSampleRatio,
	}, logger)
	if err != nil {
		app.closeStore()
		return nil, err
	}
	app.tracingShutdown = shutdown

	app.Runs = services.NewTestRunService(app.Store.RunStorage(), logger)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(cfg.ServiceName),
		middleware.LoggerMiddleware(logger),
		middleware.RequestMetrics(),
	)
	app.Engine = engine
	return app, nil
}

func (app *Application) openStore() error {
	cfg := app.Config
	switch {
	case cfg.Storage == "memory":
		store, err := persistence.NewPersistence(persistence.ProviderConfig{Type: "memory"}, persistence.PluginConfig{})
		if err != nil {
			return err
		}
		app.Store = store
	case cfg.EmbeddedRedis:
		mr, rdb, err := providers.NewEmbeddedRedis()
		if err != nil {
			return fmt.Errorf("start embedded redis: %w", err)
		}
		app.embedded = mr
		app.Store = redisplugin.NewPluginWithClient(rdb, persistence.PluginConfig{})
		app.Logger.Info("embedded redis started", "addr", mr.Addr())
	default:
		rdb := providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
		app.Store = redisplugin.NewPluginWithClient(rdb, persistence.PluginConfig{})
	}
	return nil
}

func validatorFromConfig(cfg *config.ServerConfig) (auth.Validator, error) {
	var chain auth.Chain
	for _, pc := range cfg.AuthProviders() {
		v, err := auth.NewValidator(pc)
		if err != nil {
			return nil, fmt.Errorf("auth provider %s: %w", pc.Type, err)
		}
		chain = append(chain, v)
	}
	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	default:
		return chain, nil
	}
}

func (app *Application) closeStore() error {
	var err error
	if app.Store != nil {
		err = app.Store.Close()
	}
	if app.embedded != nil {
		app.embedded.Close()
	}
	return err
}

// Close flushes traces and releases storage.
func (app *Application) Close(ctx context.Context) error {
	var err error
	if app.tracingShutdown != nil {
		err = app.tracingShutdown(ctx)
	}
	if cerr := app.closeStore(); err == nil {
		err = cerr
	}
	return err
}
