// Package bench is the throughput benchmark engine: it drives a fixed pool
// of workers against the server-under-test through warm-up and measurement
// iterations and turns validated completions into operations per second.
package bench

import "time"

// Aggregation and unit reported with every Result.
const (
	AggregationMean = "mean"
	UnitOpsPerSec   = "ops/s"
)

// IterationResult is the outcome of one timed iteration.
type IterationResult struct {
	Index      int     `json:"index"`
	Operations int64   `json:"operations"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	Throughput float64 `json:"throughput"`
}

// Result holds the measurement iterations of a successful run. Warm-up
// iterations are never part of it.
type Result struct {
	Workers     int               `json:"workers"`
	Iterations  []IterationResult `json:"iterations"`
	Throughput  float64           `json:"throughput"`
	Aggregation string            `json:"aggregation"`
	Unit        string            `json:"unit"`
}

func newResult(workers int, iterations []IterationResult) *Result {
	return &Result{
		Workers:     workers,
		Iterations:  iterations,
		Throughput:  Mean(iterations),
		Aggregation: AggregationMean,
		Unit:        UnitOpsPerSec,
	}
}

// Mean returns the arithmetic mean of the iteration throughputs.
func Mean(iterations []IterationResult) float64 {
	if len(iterations) == 0 {
		return 0
	}

	var sum float64
	for _, it := range iterations {
		sum += it.Throughput
	}

	return sum / float64(len(iterations))
}

func rate(ops int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}

	return float64(ops) / elapsed.Seconds()
}
