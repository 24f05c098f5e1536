// Package report formats benchmark results into markdown tables or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/weiihann/httpbench/bench"
	"github.com/weiihann/httpbench/harness"
)

// Generate writes a markdown table of every measurement iteration of every
// fork, followed by the per-fork and overall means.
func Generate(w io.Writer, results []harness.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to report")
	}

	unit := results[0].Bench.Unit
	if unit == "" {
		unit = bench.UnitOpsPerSec
	}

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Workers: %d\n", results[0].Bench.Workers)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Fork | Iteration | Operations | Window | Throughput |")
	fmt.Fprintln(w, "|------|-----------|------------|--------|------------|")

	var all []bench.IterationResult

	for _, r := range results {
		for _, it := range r.Bench.Iterations {
			fmt.Fprintf(w, "| %s | %d | %d | %s | %s |\n",
				forkLabel(r.Fork),
				it.Index,
				it.Operations,
				formatMs(it.ElapsedMs),
				formatRate(it.Throughput, unit),
			)
		}

		all = append(all, r.Bench.Iterations...)
	}

	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Fork | Wall Time | Mean Throughput |")
	fmt.Fprintln(w, "|------|-----------|-----------------|")

	for _, r := range results {
		fmt.Fprintf(w, "| %s | %s | %s |\n",
			forkLabel(r.Fork),
			formatMs(r.WallMs),
			formatRate(r.Bench.Throughput, unit),
		)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Throughput: **%s** (%s of %d iterations)\n",
		formatRate(bench.Mean(all), unit),
		bench.AggregationMean,
		len(all),
	)

	return nil
}

// GenerateJSON writes results as JSON to w.
func GenerateJSON(w io.Writer, results []harness.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(results)
}

func forkLabel(fork int) string {
	if fork == 0 {
		return "-"
	}

	return fmt.Sprint(fork)
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return "-"
	}

	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}

	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}

func formatRate(v float64, unit string) string {
	formatted := fmt.Sprintf("%.2f", v)

	// Group the integer part in thousands.
	intPart, frac, _ := strings.Cut(formatted, ".")

	var b strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}

	return b.String() + "." + frac + " " + unit
}
