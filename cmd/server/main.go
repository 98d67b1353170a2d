package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/icnocop/pipelines-testlogger/pkg/app"
	"github.com/icnocop/pipelines-testlogger/pkg/config"

	"github.com/spf13/cobra"
)

func main() {
	var (
		cfgPath  string
		embedded bool
		port     int
	)
	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Run the fake Test Runs backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfigOptional(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if embedded {
				cfg.EmbeddedRedis = true
			}
			if port > 0 {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", os.Getenv("TESTRUNS_CONFIG_PATH"), "path to a YAML config file")
	cmd.Flags().BoolVar(&embedded, "embedded-redis", false, "run against an in-process Redis")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR]", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.ServerConfig) error {
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	app.SetupMappings(application)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		application.Logger.Info("test runs backend listening", "addr", addr, "storage", cfg.Storage, "embedded_redis", cfg.EmbeddedRedis)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = application.Close(context.Background())
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := application.Close(shutdownCtx); err != nil {
		application.Logger.Warn("shutdown", "err", err)
	}
	return nil
}
