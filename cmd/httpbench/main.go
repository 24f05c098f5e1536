// Package main provides the CLI entry point for httpbench, an HTTP
// throughput benchmark harness.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/httpbench/bench"
	"github.com/weiihann/httpbench/config"
	"github.com/weiihann/httpbench/harness"
	"github.com/weiihann/httpbench/metrics"
	"github.com/weiihann/httpbench/report"
	"github.com/weiihann/httpbench/server"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	root := newRootCmd(logger, level)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	root := &cobra.Command{
		Use:   "httpbench",
		Short: "HTTP throughput benchmark harness",
		Long: `Httpbench drives concurrent HTTP load against a server-under-test
through warm-up and measurement iterations of fixed duration and reports the
sustained operations per second. Any unexpected response aborts the run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(logger, level))
	root.AddCommand(newServeCmd(logger, level))
	root.AddCommand(newForkCmd(logger, level))

	return root
}

type runOptions struct {
	configPath       string
	forks            int
	workers          int
	warmupIterations int
	warmupTime       time.Duration
	iterations       int
	iterationTime    time.Duration
	addr             string
	protocol         string
	logLevel         string
	metricsAddr      string
	outputJSON       bool
}

func newRunCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the throughput benchmark",
		Long: `Start the server-under-test, run the warm-up and measurement
iterations in each fork, and print the throughput report.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			if err := setLevel(level, cfg.Logging.Level); err != nil {
				return err
			}

			return runBenchmark(cmd.Context(), logger, cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "",
		"Path to a YAML config file")
	flags.IntVar(&opts.forks, "forks", 1,
		"Number of child processes to repeat the benchmark in (0 = in-process)")
	flags.IntVar(&opts.workers, "workers", 64,
		"Number of concurrent workers")
	flags.IntVar(&opts.warmupIterations, "warmup-iterations", 2,
		"Number of warm-up iterations")
	flags.DurationVar(&opts.warmupTime, "warmup-time", 5*time.Second,
		"Duration of each warm-up iteration")
	flags.IntVar(&opts.iterations, "iterations", 3,
		"Number of measurement iterations")
	flags.DurationVar(&opts.iterationTime, "time", 5*time.Second,
		"Duration of each measurement iteration")
	flags.StringVar(&opts.addr, "addr", "127.0.0.1:8080",
		"Address the server-under-test binds (port 0 = free port)")
	flags.StringVar(&opts.protocol, "protocol", config.ProtocolHTTP1,
		"Transport protocol: http1 or h2c")
	flags.StringVar(&opts.logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while running")
	flags.BoolVar(&opts.outputJSON, "json", false,
		"Output results as JSON instead of table")

	return cmd
}

// loadConfig layers explicitly set flags on top of the file and
// environment configuration.
func loadConfig(cmd *cobra.Command, opts runOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()

	if flags.Changed("forks") {
		cfg.Forks = opts.forks
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if flags.Changed("warmup-iterations") {
		cfg.Warmup.Iterations = opts.warmupIterations
	}
	if flags.Changed("warmup-time") {
		cfg.Warmup.Duration = opts.warmupTime
	}
	if flags.Changed("iterations") {
		cfg.Measurement.Iterations = opts.iterations
	}
	if flags.Changed("time") {
		cfg.Measurement.Duration = opts.iterationTime
	}
	if flags.Changed("addr") {
		cfg.Server.Addr = opts.addr
	}
	if flags.Changed("protocol") {
		cfg.Server.Protocol = opts.protocol
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setLevel(level *slog.LevelVar, name string) error {
	l, err := config.ParseLevel(name)
	if err != nil {
		return err
	}

	level.Set(l)

	return nil
}

func runBenchmark(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.Config,
	opts runOptions,
) error {
	logger.InfoContext(ctx, "starting benchmark",
		slog.Int("forks", cfg.Forks),
		slog.Int("workers", cfg.Workers),
		slog.Int("warmup_iterations", cfg.Warmup.Iterations),
		slog.Duration("warmup_time", cfg.Warmup.Duration),
		slog.Int("iterations", cfg.Measurement.Iterations),
		slog.Duration("time", cfg.Measurement.Duration),
		slog.String("addr", cfg.Server.Addr),
		slog.String("protocol", cfg.Server.Protocol),
	)

	var results []harness.Result

	if cfg.Forks == 0 {
		result, err := runInProcess(ctx, logger, cfg, opts.metricsAddr)
		if err != nil {
			return err
		}

		results = []harness.Result{{Bench: *result}}
	} else {
		runner, err := harness.NewSelfRunner(logger)
		if err != nil {
			return err
		}

		runner.ExtraArgs = append(runner.ExtraArgs,
			"--log-level", cfg.Logging.Level)
		if opts.metricsAddr != "" {
			runner.ExtraArgs = append(runner.ExtraArgs,
				"--metrics-addr", opts.metricsAddr)
		}
		runner.Stderr = os.Stderr

		results, err = runner.RunAll(ctx, cfg)
		if err != nil {
			return err
		}
	}

	if opts.outputJSON {
		if err := report.GenerateJSON(os.Stdout, results); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	} else {
		if err := report.Generate(os.Stdout, results); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	}

	logger.InfoContext(ctx, "benchmark complete")

	return nil
}

func runInProcess(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.Config,
	metricsAddr string,
) (*bench.Result, error) {
	opts, stopMetrics, err := startMetrics(ctx, logger, metricsAddr)
	if err != nil {
		return nil, err
	}
	defer stopMetrics()

	result, err := harness.RunInProcess(ctx, cfg, logger, opts...)

	var teardown *bench.TeardownError
	if errors.As(err, &teardown) && result != nil {
		logger.WarnContext(ctx, "teardown failed after measurement",
			slog.String("error", teardown.Error()),
		)

		return result, nil
	}

	return result, err
}

// startMetrics serves a metrics.Collector on addr and returns the runner
// option that feeds it. An empty addr disables metrics.
func startMetrics(
	ctx context.Context,
	logger *slog.Logger,
	addr string,
) ([]bench.Option, func(), error) {
	if addr == "" {
		return nil, func() {}, nil
	}

	collector := metrics.New()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           collector.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed",
				slog.String("error", err.Error()),
			)
		}
	}()

	logger.InfoContext(ctx, "serving metrics", slog.String("addr", ln.Addr().String()))

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx), 5*time.Second,
		)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown",
				slog.String("error", err.Error()),
			)
		}
	}

	return []bench.Option{bench.WithObserver(collector)}, stop, nil
}

func newServeCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the built-in server-under-test until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if err := setLevel(level, cfg.Logging.Level); err != nil {
				return err
			}

			return serve(cmd.Context(), logger, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "",
		"Path to a YAML config file")

	return cmd
}

func serve(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	srv := server.New(cfg.Server, nil, logger)

	baseURL, err := srv.Start(ctx)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "serving", slog.String("url", baseURL))

	<-ctx.Done()

	return srv.Stop(ctx)
}

func newForkCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var (
		logLevel    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:    harness.ForkCommand,
		Short:  "Run one benchmark fork (config JSON on stdin, result JSON on stdout)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := setLevel(level, logLevel); err != nil {
				return err
			}

			ctx := cmd.Context()

			opts, stopMetrics, err := startMetrics(ctx, logger, metricsAddr)
			if err != nil {
				return err
			}
			defer stopMetrics()

			return harness.Child(ctx, os.Stdin, os.Stdout, logger, opts...)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	flags.StringVar(&metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while running")

	return cmd
}
