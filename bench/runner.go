package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weiihann/httpbench/client"
	"github.com/weiihann/httpbench/config"
)

var (
	// ErrAlreadyRun is returned when Run is called on a Runner that has
	// left the idle state.
	ErrAlreadyRun = errors.New("runner already used")

	// ErrNoOperations is returned when a measurement iteration ends without
	// a single accepted completion inside its window.
	ErrNoOperations = errors.New("no operations completed")
)

// Lifecycle starts and stops the server-under-test. Start returns the base
// URL clients should target.
type Lifecycle interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver reports progress to o.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// Runner sequences one benchmark run through its phases.
type Runner struct {
	cfg      config.Config
	server   Lifecycle
	observer Observer
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// NewRunner creates a Runner for cfg against server.
func NewRunner(
	cfg config.Config,
	server Lifecycle,
	logger *slog.Logger,
	opts ...Option,
) *Runner {
	r := &Runner{
		cfg:      cfg,
		server:   server,
		observer: nopObserver{},
		logger:   logger.With(slog.String("component", "bench")),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *Runner) transition(s State, iteration int) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()

	r.notify(s, iteration)
}

func (r *Runner) notify(s State, iteration int) {
	r.logger.Debug("state changed",
		slog.String("state", s.String()),
		slog.Int("iteration", iteration),
	)
	r.observer.StateChanged(s, iteration)
}

// Run executes setup, every warm-up and measurement iteration, and
// teardown. Any fatal outcome stops all workers, tears down, and returns
// the error with a nil Result. A teardown failure after a successful
// measurement returns the Result together with a *TeardownError.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	r.state = StateSetup
	r.mu.Unlock()

	if err := r.cfg.Validate(); err != nil {
		r.transition(StateFailed, 0)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	r.notify(StateSetup, 0)

	baseURL, err := r.server.Start(ctx)
	if err != nil {
		r.transition(StateFailed, 0)
		r.logger.ErrorContext(ctx, "setup failed",
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("setup: %w", err)
	}

	c := client.New(r.cfg)

	r.logger.InfoContext(ctx, "benchmark started",
		slog.String("target", baseURL),
		slog.Int("workers", r.cfg.Workers),
		slog.Int("warmup_iterations", r.cfg.Warmup.Iterations),
		slog.Int("measurement_iterations", r.cfg.Measurement.Iterations),
	)

	iterations, runErr := r.iterate(ctx, c, baseURL)
	if runErr != nil {
		r.transition(StateFailed, 0)
	} else {
		r.transition(StateTeardown, 0)
	}

	c.Close()
	stopErr := r.server.Stop(ctx)

	if runErr != nil {
		r.logger.ErrorContext(ctx, "benchmark failed",
			slog.String("error", runErr.Error()),
		)

		if stopErr != nil {
			return nil, errors.Join(runErr, &TeardownError{Err: stopErr})
		}

		return nil, runErr
	}

	result := newResult(r.cfg.Workers, iterations)
	r.transition(StateDone, 0)

	r.logger.InfoContext(ctx, "benchmark complete",
		slog.Float64("throughput", result.Throughput),
		slog.String("unit", result.Unit),
		slog.String("aggregation", result.Aggregation),
	)

	if stopErr != nil {
		r.logger.WarnContext(ctx, "teardown failed",
			slog.String("error", stopErr.Error()),
		)

		return result, &TeardownError{Err: stopErr}
	}

	return result, nil
}

func (r *Runner) iterate(
	ctx context.Context,
	c *client.Client,
	baseURL string,
) ([]IterationResult, error) {
	for i := 1; i <= r.cfg.Warmup.Iterations; i++ {
		r.transition(StateWarmup, i)

		// Counted only for the log line, then dropped.
		acc := NewAccumulator(1)

		elapsed, err := r.runIteration(ctx, c, baseURL,
			r.cfg.Warmup.Duration, func() { acc.Record(1) })
		if err != nil {
			return nil, fmt.Errorf("warmup iteration %d: %w", i, err)
		}

		res := acc.Finalize(1, elapsed)
		res.Index = i
		r.logIteration(ctx, StateWarmup, res)
		r.observer.IterationFinished(StateWarmup, res)
	}

	acc := NewAccumulator(r.cfg.Measurement.Iterations)
	results := make([]IterationResult, 0, r.cfg.Measurement.Iterations)

	for j := 1; j <= r.cfg.Measurement.Iterations; j++ {
		r.transition(StateMeasuring, j)

		elapsed, err := r.runIteration(ctx, c, baseURL,
			r.cfg.Measurement.Duration, func() { acc.Record(j) })
		if err != nil {
			return nil, fmt.Errorf("measurement iteration %d: %w", j, err)
		}

		res := acc.Finalize(j, elapsed)
		r.logIteration(ctx, StateMeasuring, res)

		if res.Operations == 0 {
			return nil, fmt.Errorf("measurement iteration %d: %w within %s",
				j, ErrNoOperations, elapsed)
		}

		r.observer.IterationFinished(StateMeasuring, res)

		results = append(results, res)
	}

	return results, nil
}

// runIteration runs every worker until the iteration boundary and returns
// the length of the counting window. Workers stop issuing at the boundary
// but let their in-flight request finish; a completion that resolves after
// the boundary is still validated but not recorded.
func (r *Runner) runIteration(
	ctx context.Context,
	c *client.Client,
	baseURL string,
	duration time.Duration,
	record func(),
) (time.Duration, error) {
	g, gctx := errgroup.WithContext(ctx)

	start := time.Now()
	end := start.Add(duration)

	for range r.cfg.Workers {
		g.Go(func() error {
			for time.Now().Before(end) {
				if err := gctx.Err(); err != nil {
					return err
				}

				out := c.Issue(gctx, baseURL).Wait()
				if err := Validate(out); err != nil {
					return err
				}

				if time.Now().Before(end) {
					record()
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return end.Sub(start), nil
}

func (r *Runner) logIteration(ctx context.Context, s State, res IterationResult) {
	r.logger.InfoContext(ctx, "iteration finished",
		slog.String("phase", s.String()),
		slog.Int("iteration", res.Index),
		slog.Int64("operations", res.Operations),
		slog.Float64("throughput", res.Throughput),
	)
}
