// Package harness repeats a benchmark in isolated child processes and
// collects their results.
package harness

import "github.com/weiihann/httpbench/bench"

// Result holds the outcome of one fork.
type Result struct {
	Fork   int          `json:"fork"`
	WallMs int64        `json:"wall_ms"`
	Bench  bench.Result `json:"result"`
}
