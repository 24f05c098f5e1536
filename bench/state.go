package bench

// State is a phase of a benchmark run.
type State int

const (
	StateIdle State = iota
	StateSetup
	StateWarmup
	StateMeasuring
	StateTeardown
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateSetup:     "setup",
	StateWarmup:    "warmup",
	StateMeasuring: "measuring",
	StateTeardown:  "teardown",
	StateDone:      "done",
	StateFailed:    "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Observer receives run progress. Implementations must be safe to call from
// the goroutine running the benchmark.
type Observer interface {
	// StateChanged is called on every transition. iteration is the 1-based
	// iteration number for warmup and measuring, zero otherwise.
	StateChanged(state State, iteration int)
	// IterationFinished is called when a warmup or measuring iteration
	// completes.
	IterationFinished(state State, result IterationResult)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, int) {}
func (nopObserver) IterationFinished(State, IterationResult) {}
