package bench

import (
	"sync/atomic"
	"time"
)

// Accumulator counts accepted operations per iteration. Record is safe for
// concurrent use; Finalize must only be called once every worker of the
// iteration has stopped.
type Accumulator struct {
	counts []atomic.Int64
}

// NewAccumulator creates an Accumulator for iterations numbered
// 1..iterations.
func NewAccumulator(iterations int) *Accumulator {
	return &Accumulator{counts: make([]atomic.Int64, iterations)}
}

// Record counts one accepted operation in iteration iter.
func (a *Accumulator) Record(iter int) {
	a.counts[iter-1].Add(1)
}

// Count returns the operations recorded so far in iteration iter.
func (a *Accumulator) Count(iter int) int64 {
	return a.counts[iter-1].Load()
}

// Finalize converts the count of iteration iter into a throughput over
// elapsed.
func (a *Accumulator) Finalize(iter int, elapsed time.Duration) IterationResult {
	ops := a.Count(iter)

	return IterationResult{
		Index:      iter,
		Operations: ops,
		ElapsedMs:  elapsed.Milliseconds(),
		Throughput: rate(ops, elapsed),
	}
}
