package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/icnocop/pipelines-testlogger/internal/client"
	"github.com/icnocop/pipelines-testlogger/internal/dialect"
	"github.com/icnocop/pipelines-testlogger/internal/host"
	"github.com/icnocop/pipelines-testlogger/internal/metrics"
	"github.com/icnocop/pipelines-testlogger/internal/pipeline"
	"github.com/icnocop/pipelines-testlogger/internal/providers"
	"github.com/icnocop/pipelines-testlogger/internal/tracing"
	"github.com/icnocop/pipelines-testlogger/pkg/config"
	"github.com/icnocop/pipelines-testlogger/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const reportName = "testlogger-summary.json"

type publishOptions struct {
	configPath  string
	params      []string
	passthrough bool
	reportDir   string
	// interactive enables the spinner; set when stderr is a terminal.
	interactive bool
}

// publishResult is what a publish produced, also written as the summary report.
type publishResult struct {
	RunID       int          `json:"runId,omitempty"`
	Published   bool         `json:"published"`
	APIVersion  string       `json:"apiVersion,omitempty"`
	Summary     host.Summary `json:"summary"`
	Error       string       `json:"error,omitempty"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

func publishCmd(ui *ui) *cobra.Command {
	var opts publishOptions
	cmd := &cobra.Command{
		Use:   "publish [file]",
		Short: "Publish go test -json output read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stderr := cmd.ErrOrStderr()
			opts.interactive = isTerminal(os.Stderr)

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
				if st, err := f.Stat(); err == nil && opts.interactive && !opts.passthrough {
					bar := progressbar.NewOptions64(st.Size(),
						progressbar.OptionSetWriter(stderr),
						progressbar.OptionSetDescription("Replaying "+args[0]),
						progressbar.OptionSetWidth(18),
						progressbar.OptionShowBytes(true),
						progressbar.OptionClearOnFinish(),
					)
					in = io.TeeReader(f, bar)
				}
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			res, err := runPublish(ctx, opts, in, cmd.OutOrStdout(), stderr, os.Getenv)
			// Restore default signal handling so a second interrupt ends the process.
			cancel()
			if err != nil {
				return err
			}
			printSummary(stderr, ui, res)
			if res.Summary.Failed > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", os.Getenv("TESTLOGGER_CONFIG_PATH"), "YAML config file")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "Logger parameter Key=Value (Verbose, UseDefaultCredentials, ApiVersion, GroupTestResultsByClassName)")
	cmd.Flags().BoolVar(&opts.passthrough, "passthrough", false, "Echo non-JSON lines and test output to stdout")
	cmd.Flags().StringVar(&opts.reportDir, "report-dir", "", "Write "+reportName+" to this directory")
	return cmd
}

// runPublish streams test events from in to the backend named by the
// configuration. Outside a pipeline run the events are consumed without
// publishing.
func runPublish(ctx context.Context, opts publishOptions, in io.Reader, stdout, stderr io.Writer, getenv config.Getenv) (*publishResult, error) {
	cfg, err := config.LoadConfigWithEnv(opts.configPath, getenv)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	params, err := parseParams(opts.params)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyParameters(params); err != nil {
		return nil, err
	}
	logger := newLogger(cfg, stderr)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.TracingEnabled,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.TraceSampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Debug("tracing shutdown", "err", err)
		}
	}()

	res := &publishResult{APIVersion: cfg.APIVersion}
	var (
		sink host.Sink = discardSink{}
		p    *pipeline.Pipeline
	)
	switch err := cfg.Validate(); {
	case errors.Is(err, config.ErrNotPipelineRun):
		logger.Warn("results will not be published", "reason", err)
	case err != nil:
		return nil, err
	default:
		p, err = newPipeline(cfg, logger)
		if err != nil {
			return nil, err
		}
		sink = p
	}
	if opts.interactive {
		spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(stderr))
		spin.Suffix = " Publishing test results..."
		sink = spinSink{Sink: sink, spin: spin}
	}

	var streamOpts []host.StreamOption
	if opts.passthrough {
		streamOpts = append(streamOpts, host.WithPassthrough(stdout))
	}
	events := make(chan host.Event, 64)
	streamErr := make(chan error, 1)
	go func() {
		defer close(events)
		streamErr <- host.Stream(ctx, in, events, streamOpts...)
	}()

	res.Summary = host.Dispatch(ctx, events, sink, logger)
	// A reader blocked in Read, such as an open stdin, is abandoned once ctx ends.
	select {
	case err := <-streamErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reading test events failed", "err", err)
			res.Error = err.Error()
		}
	case <-ctx.Done():
		logger.Warn("stopped reading test events", "err", ctx.Err())
	}
	ctx = context.WithoutCancel(ctx)

	if p != nil {
		res.Published = true
		res.RunID = p.RunID()
		if err := p.Err(); err != nil {
			res.Error = err.Error()
		}
	}

	if cfg.PushgatewayURL != "" {
		if err := pushMetrics(ctx, cfg, p); err != nil {
			logger.Warn("push metrics failed", "url", cfg.PushgatewayURL, "err", err)
		}
	}
	res.GeneratedAt = time.Now().UTC()
	if opts.reportDir != "" {
		if url, err := writeReport(ctx, opts.reportDir, res); err != nil {
			logger.Warn("write summary report failed", "dir", opts.reportDir, "err", err)
		} else {
			logger.Info("summary report written", "url", url)
		}
	}
	return res, nil
}

func newPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, error) {
	copts := []client.Option{client.WithLogger(logger), client.WithVerbose(cfg.Verbose)}
	if cfg.UseDefaultCredentials {
		copts = append(copts, client.WithDefaultCredentials())
	} else {
		if err := client.CheckToken(cfg.AccessToken, time.Now()); err != nil {
			logger.Warn("access token looks unusable", "err", err)
		}
		copts = append(copts, client.WithAccessToken(cfg.AccessToken))
	}
	c, err := client.New(cfg.CollectionURI, cfg.TeamProject, copts...)
	if err != nil {
		return nil, err
	}
	d, err := dialect.ForVersion(cfg.APIVersion)
	if err != nil {
		return nil, err
	}
	logger.Debug("publishing test results", "url", c.BaseURL(), "api_version", cfg.APIVersion, "dialect", d.Name(), "group_by", cfg.GroupBy)

	return pipeline.New(c, d, pipeline.RunInfo{
		BuildID:   cfg.BuildID,
		JobName:   cfg.JobName,
		AgentName: cfg.AgentName,
	},
		pipeline.WithLogger(logger),
		pipeline.WithPolicy(cfg.Policy()),
		pipeline.WithAPIVersion(cfg.APIVersion),
		pipeline.WithTimeouts(cfg.DrainTimeout(), cfg.CompleteTimeout(), cfg.StopTimeout()),
	), nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := new(slog.LevelVar)
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	if cfg.Verbose {
		level.Set(slog.LevelDebug)
	}
	var handler slog.Handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "testlogger")
}

func pushMetrics(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	build := cfg.BuildID
	if build == "" {
		build = "local"
	}
	pusher := push.New(cfg.PushgatewayURL, "pipelines_testlogger").
		Gatherer(prometheus.DefaultGatherer).
		Grouping("build_id", build)
	if p != nil {
		pusher = pusher.Collector(metrics.NewQueueCollector(p))
	}
	return pusher.PushContext(ctx)
}

func writeReport(ctx context.Context, dir string, res *publishResult) (string, error) {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return providers.NewLocalUploader(dir).UploadBytes(ctx, reportName, "application/json", b)
}

func printSummary(w io.Writer, ui *ui, res *publishResult) {
	s := res.Summary
	counts := fmt.Sprintf("passed %d, failed %d, skipped %d", s.Passed, s.Failed, s.Skipped)
	if s.Other > 0 {
		counts += fmt.Sprintf(", other %d", s.Other)
	}
	switch {
	case res.Error != "":
		fmt.Fprintf(w, "%s %d results (%s); publishing reported: %s\n", ui.warn("[WARN]"), s.Total(), counts, res.Error)
	case res.Published && res.RunID != 0:
		fmt.Fprintf(w, "%s Published %d results to run %d (%s)\n", ui.ok("[OK]"), s.Total(), res.RunID, counts)
	case res.Published:
		fmt.Fprintf(w, "%s No results to publish %s\n", ui.info("[INFO]"), ui.dim("("+counts+")"))
	default:
		fmt.Fprintf(w, "%s %d results read, not published (%s)\n", ui.info("[INFO]"), s.Total(), counts)
	}
}

type discardSink struct{}

func (discardSink) Enqueue(domain.Result) {}
func (discardSink) Flush()                {}

// spinSink shows the spinner while the wrapped sink flushes.
type spinSink struct {
	host.Sink
	spin *spinner.Spinner
}

func (s spinSink) Flush() {
	s.spin.Start()
	defer s.spin.Stop()
	s.Sink.Flush()
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
