package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/weiihann/httpbench/bench"
)

func TestStateChanged(t *testing.T) {
	c := New()

	c.StateChanged(bench.StateWarmup, 1)
	c.StateChanged(bench.StateMeasuring, 1)

	if got := testutil.ToFloat64(c.phase.WithLabelValues("measuring")); got != 1 {
		t.Errorf("measuring phase = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.phase.WithLabelValues("warmup")); got != 0 {
		t.Errorf("warmup phase = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.failures); got != 0 {
		t.Errorf("failures = %v, want 0", got)
	}

	c.StateChanged(bench.StateFailed, 0)

	if got := testutil.ToFloat64(c.failures); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
}

func TestIterationFinished(t *testing.T) {
	c := New()

	c.IterationFinished(bench.StateWarmup, bench.IterationResult{
		Index: 1, Operations: 10, Throughput: 5,
	})
	c.IterationFinished(bench.StateMeasuring, bench.IterationResult{
		Index: 1, Operations: 300, Throughput: 150,
	})
	c.IterationFinished(bench.StateMeasuring, bench.IterationResult{
		Index: 2, Operations: 400, Throughput: 200,
	})

	if got := testutil.ToFloat64(c.iterations.WithLabelValues("measuring")); got != 2 {
		t.Errorf("measuring iterations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.iterations.WithLabelValues("warmup")); got != 1 {
		t.Errorf("warmup iterations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.throughput.WithLabelValues("measuring")); got != 200 {
		t.Errorf("measuring throughput = %v, want 200", got)
	}
	if got := testutil.ToFloat64(c.operations.WithLabelValues("measuring")); got != 400 {
		t.Errorf("measuring operations = %v, want 400", got)
	}
}

func TestHandler(t *testing.T) {
	c := New()
	c.StateChanged(bench.StateSetup, 0)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	if !strings.Contains(string(body), `httpbench_phase{phase="setup"} 1`) {
		t.Errorf("metrics output missing setup phase:\n%s", body)
	}
}
