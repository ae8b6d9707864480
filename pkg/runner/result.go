package runner

import (
	"strconv"
	"time"

	"github.com/fortiblox/rampart/pkg/guard"
	"github.com/fortiblox/rampart/pkg/scenario"
)

// Result accumulates the outcome of a run. The counters cover executed
// operations only, so a canceled run reports what it got through.
type Result struct {
	// Scenario and Seed identify the workload that produced the result.
	Scenario string
	Seed     int64

	// Iterations is the number of operations executed.
	Iterations uint64

	// Batches is the number of completed batches.
	Batches uint64

	// PerOp counts executed operations by operation key.
	PerOp map[string]uint64

	// PerKind counts observed violations by kind.
	PerKind map[guard.Kind]uint64

	// Expected counts injected violations that fired with the predicted
	// diagnostic. Unexpected counts every divergence from prediction: a
	// clean call that faulted, an injected fault that did not fire, or
	// a fault with the wrong shape.
	Expected   uint64
	Unexpected uint64

	// TryErrors counts non-zero try-family result codes.
	TryErrors uint64

	// Verified counts operations whose postconditions were checked.
	Verified uint64

	// Duration is the wall-clock time spent executing.
	Duration time.Duration
}

func newResult(s *scenario.Scenario) *Result {
	return &Result{
		Scenario: s.Name,
		Seed:     s.Seed,
		PerOp:    make(map[string]uint64),
		PerKind:  make(map[guard.Kind]uint64),
	}
}

// clone returns a deep copy of the result.
func (r *Result) clone() *Result {
	c := *r
	c.PerOp = make(map[string]uint64, len(r.PerOp))
	for op, n := range r.PerOp {
		c.PerOp[op] = n
	}
	c.PerKind = make(map[guard.Kind]uint64, len(r.PerKind))
	for k, n := range r.PerKind {
		c.PerKind[k] = n
	}
	return &c
}

// Violations returns the total number of violations observed.
func (r *Result) Violations() uint64 {
	var total uint64
	for _, n := range r.PerKind {
		total += n
	}
	return total
}

// Clean reports whether every operation behaved as predicted.
func (r *Result) Clean() bool {
	return r.Unexpected == 0
}

// OpsPerSecond returns the average execution rate.
func (r *Result) OpsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Iterations) / r.Duration.Seconds()
}

// Summary returns a one-line summary of the result.
func (r *Result) Summary() string {
	return "Result{Scenario=" + r.Scenario +
		", Iterations=" + strconv.FormatUint(r.Iterations, 10) +
		", Violations=" + strconv.FormatUint(r.Violations(), 10) +
		", Expected=" + strconv.FormatUint(r.Expected, 10) +
		", Unexpected=" + strconv.FormatUint(r.Unexpected, 10) +
		", TryErrors=" + strconv.FormatUint(r.TryErrors, 10) +
		", Verified=" + strconv.FormatUint(r.Verified, 10) +
		", Duration=" + r.Duration.String() + "}"
}
