package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/weiihann/httpbench/bench"
	"github.com/weiihann/httpbench/config"
	"github.com/weiihann/httpbench/server"
)

// ForkCommand is the sub-command a child process is started with.
const ForkCommand = "fork"

// Runner launches forks of a benchmark binary.
type Runner struct {
	BinaryPath string
	ExtraArgs  []string
	Env        []string
	// Stderr, if set, receives the child's log output as it runs instead
	// of it being attached to a returned error.
	Stderr io.Writer
	Logger *slog.Logger
}

// NewRunner creates a Runner for binaryPath. extraArgs select the child
// entry point; env is appended to the inherited environment.
func NewRunner(
	binaryPath string,
	extraArgs, env []string,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		BinaryPath: binaryPath,
		ExtraArgs:  extraArgs,
		Env:        env,
		Logger:     logger.With(slog.String("component", "harness")),
	}
}

// NewSelfRunner creates a Runner that re-executes the current binary with
// the fork sub-command.
func NewSelfRunner(logger *slog.Logger) (*Runner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	return NewRunner(exe, []string{ForkCommand}, nil, logger), nil
}

// RunAll runs cfg.Forks forks one after another and stops at the first
// failure. Forks share the configured address, so they never overlap.
func (r *Runner) RunAll(ctx context.Context, cfg config.Config) ([]Result, error) {
	results := make([]Result, 0, cfg.Forks)

	for fork := 1; fork <= cfg.Forks; fork++ {
		result, err := r.Run(ctx, fork, cfg)
		if err != nil {
			return nil, fmt.Errorf("fork %d: %w", fork, err)
		}

		results = append(results, *result)
	}

	return results, nil
}

// Run executes one fork: the config is written as JSON to the child's
// stdin and its bench.Result is decoded from stdout.
func (r *Runner) Run(ctx context.Context, fork int, cfg config.Config) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout())
	defer cancel()

	// The child must run in-process.
	cfg.Forks = 0

	input, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.BinaryPath, r.ExtraArgs...)

	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.Stderr != nil {
		cmd.Stderr = r.Stderr
	}

	r.Logger.InfoContext(ctx, "starting fork",
		slog.Int("fork", fork),
		slog.String("binary", r.BinaryPath),
	)

	wallStart := time.Now()

	if err := cmd.Run(); err != nil {
		// Streamed output has already been seen.
		if r.Stderr != nil {
			return nil, fmt.Errorf("child failed: %w", err)
		}

		return nil, fmt.Errorf(
			"child failed: %w\nstderr: %s", err, stderr.String(),
		)
	}

	wallElapsed := time.Since(wallStart)

	result, err := parseResult(fork, &stdout)
	if err != nil {
		return nil, fmt.Errorf(
			"parse output: %w\nstdout: %s", err, stdout.String(),
		)
	}

	result.WallMs = wallElapsed.Milliseconds()

	r.Logger.InfoContext(ctx, "fork finished",
		slog.Int("fork", fork),
		slog.Duration("wall_time", wallElapsed),
		slog.Float64("throughput", result.Bench.Throughput),
	)

	return result, nil
}

func parseResult(fork int, r io.Reader) (*Result, error) {
	var res bench.Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	if len(res.Iterations) == 0 {
		return nil, fmt.Errorf("result has no measurement iterations")
	}

	return &Result{Fork: fork, Bench: res}, nil
}

// RunInProcess runs one benchmark in the current process against the
// built-in server-under-test.
func RunInProcess(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
	opts ...bench.Option,
) (*bench.Result, error) {
	srv := server.New(cfg.Server, nil, logger)

	return bench.NewRunner(cfg, srv, logger, opts...).Run(ctx)
}

// Child is the entry point of a fork: it reads a config from r, runs the
// benchmark in-process and writes the bench.Result to w. A teardown
// failure is logged but does not discard the measurement, since the
// process exit releases the address before the next fork starts.
func Child(
	ctx context.Context,
	r io.Reader,
	w io.Writer,
	logger *slog.Logger,
	opts ...bench.Option,
) error {
	var cfg config.Config
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	cfg.Forks = 0

	result, err := RunInProcess(ctx, cfg, logger, opts...)

	var teardown *bench.TeardownError
	if errors.As(err, &teardown) && result != nil {
		logger.WarnContext(ctx, "teardown failed after measurement",
			slog.String("error", teardown.Error()),
		)
	} else if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	return nil
}
