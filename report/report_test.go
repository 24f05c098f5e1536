package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/weiihann/httpbench/bench"
	"github.com/weiihann/httpbench/harness"
)

func sampleResults() []harness.Result {
	return []harness.Result{
		{
			Fork:   1,
			WallMs: 26000,
			Bench: bench.Result{
				Workers: 64,
				Iterations: []bench.IterationResult{
					{Index: 1, Operations: 50000, ElapsedMs: 5000, Throughput: 10000},
					{Index: 2, Operations: 60000, ElapsedMs: 5000, Throughput: 12000},
				},
				Throughput:  11000,
				Aggregation: bench.AggregationMean,
				Unit:        bench.UnitOpsPerSec,
			},
		},
		{
			Fork:   2,
			WallMs: 25500,
			Bench: bench.Result{
				Workers: 64,
				Iterations: []bench.IterationResult{
					{Index: 1, Operations: 70000, ElapsedMs: 5000, Throughput: 14000},
					{Index: 2, Operations: 80000, ElapsedMs: 5000, Throughput: 16000},
				},
				Throughput:  15000,
				Aggregation: bench.AggregationMean,
				Unit:        bench.UnitOpsPerSec,
			},
		},
	}
}

func TestGenerate(t *testing.T) {
	var buf bytes.Buffer
	if err := Generate(&buf, sampleResults()); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	output := buf.String()

	for _, want := range []string{
		"Workers: 64",
		"| 1 | 2 | 60000 | 5.00s | 12,000.00 ops/s |",
		"| 2 | 1 | 70000 | 5.00s | 14,000.00 ops/s |",
		"| 1 | 26.00s | 11,000.00 ops/s |",
		"| 2 | 25.50s | 15,000.00 ops/s |",
		"Throughput: **13,000.00 ops/s** (mean of 4 iterations)",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n%s", want, output)
		}
	}
}

func TestGenerateInProcess(t *testing.T) {
	results := []harness.Result{{
		Bench: bench.Result{
			Workers:    1,
			Iterations: []bench.IterationResult{{Index: 1, Operations: 5, ElapsedMs: 500, Throughput: 10}},
			Throughput: 10,
		},
	}}

	var buf bytes.Buffer
	if err := Generate(&buf, results); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "| - | 1 | 5 | 500ms | 10.00 ops/s |") {
		t.Errorf("unexpected in-process row:\n%s", output)
	}
	if !strings.Contains(output, "| - | - | 10.00 ops/s |") {
		t.Errorf("unexpected in-process summary row:\n%s", output)
	}
}

func TestGenerateEmpty(t *testing.T) {
	var buf bytes.Buffer
	err := Generate(&buf, nil)
	if err == nil {
		t.Error("expected error for empty results")
	}
}

func TestGenerateJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateJSON(&buf, sampleResults()); err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}

	var parsed []harness.Result
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if len(parsed) != 2 {
		t.Fatalf("expected 2 results, got %d", len(parsed))
	}
	if parsed[1].Bench.Iterations[0].Operations != 70000 {
		t.Errorf("operations = %d, want 70000",
			parsed[1].Bench.Iterations[0].Operations)
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0, "0.00 ops/s"},
		{999.5, "999.50 ops/s"},
		{1000, "1,000.00 ops/s"},
		{123456.789, "123,456.79 ops/s"},
		{1234567, "1,234,567.00 ops/s"},
	}

	for _, tt := range tests {
		got := formatRate(tt.input, "ops/s")
		if got != tt.want {
			t.Errorf("formatRate(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "-"},
		{500, "500ms"},
		{999, "999ms"},
		{1000, "1.00s"},
		{1500, "1.50s"},
		{60000, "60.00s"},
	}

	for _, tt := range tests {
		got := formatMs(tt.input)
		if got != tt.want {
			t.Errorf("formatMs(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
