// Package runner drives the guard primitives with scenario-generated
// workloads. Every operation is planned before it runs: in-contract
// calls must complete and land the predicted bytes, injected violations
// must be caught with the exact diagnostic the contract promises.
// Caught violations feed the audit store; counters and batch timings
// feed metrics.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/fortiblox/rampart/pkg/audit"
	"github.com/fortiblox/rampart/pkg/guard"
	"github.com/fortiblox/rampart/pkg/metrics"
	"github.com/fortiblox/rampart/pkg/region"
	"github.com/fortiblox/rampart/pkg/scenario"
)

// Runner errors
var (
	ErrAlreadyRunning  = errors.New("runner: already running")
	ErrNilStore        = errors.New("runner: nil audit store")
	ErrVerification    = errors.New("runner: verification failed")
	ErrUnexpectedFault = errors.New("runner: unexpected fault")
	ErrStore           = errors.New("runner: audit store failed")
)

// Options configures run behavior.
type Options struct {
	// Logger receives progress lines. Nil disables progress logging.
	Logger *log.Logger

	// LogEvery is the number of batches between progress lines.
	LogEvery uint64

	// StopOnUnexpected aborts the run on the first operation that
	// diverges from its prediction.
	StopOnUnexpected bool

	// OnBatchComplete is called after each completed batch.
	OnBatchComplete func(stats BatchStats)

	// OnUnexpected is called for each operation that diverges from its
	// prediction.
	OnUnexpected func(op string, err error)
}

// DefaultOptions returns the default run options.
func DefaultOptions() *Options {
	return &Options{
		LogEvery: 10,
	}
}

// BatchStats describes one completed batch.
type BatchStats struct {
	// Batch is the zero-based batch index.
	Batch uint64

	// Ops is the number of operations executed in the batch.
	Ops uint64

	// Violations is the number of violations observed in the batch.
	Violations uint64

	// TryErrors is the number of non-zero try-family codes in the batch.
	TryErrors uint64

	// Duration is the wall-clock time the batch took.
	Duration time.Duration
}

// batchTally accumulates per-batch counters for metrics.
type batchTally struct {
	ops        uint64
	violations uint64
	tryErrors  uint64
}

// Runner executes one scenario against the guard primitives.
type Runner struct {
	mu sync.RWMutex

	scn     *scenario.Scenario
	store   audit.Store
	metrics *metrics.Metrics
	options *Options

	// arena backs the buffer pool; the pool is recarved every batch.
	arena *region.Arena
	pool  []*region.Region

	// rng drives every random draw, so a seed fixes the whole run.
	rng *rand.Rand

	// picks is the weighted operation lookup table.
	picks []string

	// dstShadow and srcShadow hold pre-operation snapshots for
	// postcondition checks.
	dstShadow []byte
	srcShadow []byte

	running  bool
	progress *Result
}

// NewRunner creates a runner for the scenario. Caught violations are
// recorded in store; a nil m gets a private metrics set.
func NewRunner(scn *scenario.Scenario, store audit.Store, m *metrics.Metrics) (*Runner, error) {
	if err := scn.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrNilStore
	}
	if m == nil {
		m = metrics.NewMetrics()
	}

	var picks []string
	for _, op := range scenario.Operations {
		for i := 0; i < scn.Weights[op]; i++ {
			picks = append(picks, op)
		}
	}

	return &Runner{
		scn:       scn,
		store:     store,
		metrics:   m,
		options:   DefaultOptions(),
		arena:     region.NewArena(scn.ArenaSize),
		rng:       rand.New(rand.NewSource(scn.Seed)),
		picks:     picks,
		dstShadow: make([]byte, scn.MaxCapacity),
		srcShadow: make([]byte, scn.MaxCapacity),
	}, nil
}

// SetOptions sets the run options.
func (r *Runner) SetOptions(o *Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o != nil {
		r.options = o
	}
}

// Arena returns the arena backing the buffer pool.
func (r *Runner) Arena() *region.Arena {
	return r.arena
}

// IsRunning returns true if a run is in progress.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Progress returns a snapshot of the running result. Snapshots advance
// at batch boundaries.
func (r *Runner) Progress() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.progress == nil {
		return newResult(r.scn)
	}
	return r.progress.clone()
}

// Run executes the scenario to completion. Cancellation is honored at
// batch boundaries; the partial result comes back with the context
// error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r.running = true
	options := r.options
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	res := newResult(r.scn)
	start := time.Now()

	var done uint64
	for done < r.scn.Iterations {
		select {
		case <-ctx.Done():
			res.Duration = time.Since(start)
			r.publish(res)
			return res, ctx.Err()
		default:
		}

		ops := min(r.scn.BatchSize, r.scn.Iterations-done)
		batchStart := time.Now()

		if err := r.resetPool(); err != nil {
			res.Duration = time.Since(start)
			r.publish(res)
			return res, err
		}

		tally, err := r.runBatch(res, ops, options)
		batchDuration := time.Since(batchStart)
		r.metrics.RecordBatch(tally.ops, tally.tryErrors, batchDuration)

		done += tally.ops
		res.Duration = time.Since(start)
		if err != nil {
			r.publish(res)
			return res, err
		}

		res.Batches++
		r.publish(res)

		if options.OnBatchComplete != nil {
			options.OnBatchComplete(BatchStats{
				Batch:      res.Batches - 1,
				Ops:        tally.ops,
				Violations: tally.violations,
				TryErrors:  tally.tryErrors,
				Duration:   batchDuration,
			})
		}
		if options.Logger != nil && options.LogEvery > 0 && res.Batches%options.LogEvery == 0 {
			options.Logger.Printf("batch %d: %d/%d ops, %d violations, %d try errors, %d unexpected",
				res.Batches, done, r.scn.Iterations, res.Violations(), res.TryErrors, res.Unexpected)
		}
	}

	res.Duration = time.Since(start)
	r.publish(res)
	return res, nil
}

// publish stores a progress snapshot for concurrent readers.
func (r *Runner) publish(res *Result) {
	r.mu.Lock()
	r.progress = res.clone()
	r.mu.Unlock()
}

// resetPool returns the arena to empty and carves a fresh pool of
// randomly sized buffers out of it.
func (r *Runner) resetPool() error {
	r.arena.Reset()
	if r.pool == nil {
		r.pool = make([]*region.Region, r.scn.Buffers)
	}
	span := r.scn.MaxCapacity - r.scn.MinCapacity + 1
	for i := range r.pool {
		size := r.scn.MinCapacity + r.rng.Intn(span)
		reg, err := r.arena.Alloc("buf-"+strconv.Itoa(i), size, region.PermRead|region.PermWrite)
		if err != nil {
			return fmt.Errorf("pool buffer %d: %w", i, err)
		}
		r.pool[i] = reg
	}
	return nil
}

func (r *Runner) runBatch(res *Result, ops uint64, options *Options) (batchTally, error) {
	var tally batchTally
	for i := uint64(0); i < ops; i++ {
		if err := r.step(res, &tally, options); err != nil {
			return tally, err
		}
	}
	return tally, nil
}

// step plans one operation, executes it through the planned family and
// reconciles the outcome with the prediction.
func (r *Runner) step(res *Result, tally *batchTally, options *Options) error {
	op := r.picks[r.rng.Intn(len(r.picks))]

	var p *probe
	switch op {
	case scenario.OpCopy:
		p = r.planCopy()
	case scenario.OpCopyAt:
		p = r.planCopyAt()
	case scenario.OpCopyRobust:
		p = r.planCopyRobust()
	case scenario.OpConcat:
		p = r.planConcat()
	case scenario.OpCompare:
		p = r.planCompare()
	case scenario.OpCompareString:
		p = r.planCompareString()
	case scenario.OpFill:
		p = r.planFill()
	default:
		return fmt.Errorf("runner: unknown operation %q", op)
	}

	res.Iterations++
	res.PerOp[op]++
	tally.ops++

	if p.abort {
		return r.settleAbort(p, guard.Catch(p.run), res, tally, options)
	}
	return r.settleTry(p, p.tryRun(), res, tally, options)
}

// settleAbort reconciles an abort-family call with its prediction.
func (r *Runner) settleAbort(p *probe, v *guard.Violation, res *Result, tally *batchTally, options *Options) error {
	if v == nil {
		if p.want == nil {
			return r.verifyClean(p, res)
		}
		return r.unexpected(p, res, options, fmt.Errorf("predicted %q, call completed", p.want.Error()))
	}

	if err := r.observe(v, res, tally); err != nil {
		return err
	}
	if err := r.verifyUntouched(p, res); err != nil {
		return err
	}
	if p.want == nil {
		return r.unexpected(p, res, options, fmt.Errorf("unpredicted violation %q", v.Error()))
	}
	if *v != *p.want {
		return r.unexpected(p, res, options, fmt.Errorf("violation %q, predicted %q", v.Error(), p.want.Error()))
	}
	res.Expected++
	return nil
}

// settleTry reconciles a try-family call with its prediction.
func (r *Runner) settleTry(p *probe, code guard.Code, res *Result, tally *batchTally, options *Options) error {
	if code != guard.CodeSuccess {
		res.TryErrors++
		tally.tryErrors++
	}

	switch {
	case p.want == nil && code == guard.CodeSuccess:
		return r.verifyClean(p, res)

	case p.want == nil:
		return r.unexpected(p, res, options, fmt.Errorf("unpredicted code %v", code))

	case code == p.wantCode:
		// The try family reports only a code; record the violation its
		// abort twin documents.
		if err := r.observe(p.want, res, tally); err != nil {
			return err
		}
		if err := r.verifyUntouched(p, res); err != nil {
			return err
		}
		res.Expected++
		return nil

	default:
		return r.unexpected(p, res, options, fmt.Errorf("code %v, predicted %v", code, p.wantCode))
	}
}

// observe records a caught violation in the audit store and metrics.
func (r *Runner) observe(v *guard.Violation, res *Result, tally *batchTally) error {
	if _, err := r.store.Observe(v, time.Now()); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	r.metrics.RecordViolation(v.Kind)
	res.PerKind[v.Kind]++
	tally.violations++
	return nil
}

// verifyClean checks the postconditions of a completed operation.
func (r *Runner) verifyClean(p *probe, res *Result) error {
	if !r.scn.Verify || p.check == nil {
		return nil
	}
	if err := p.check(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrVerification, p.op, err)
	}
	res.Verified++
	return nil
}

// verifyUntouched checks that a rejected operation wrote nothing.
func (r *Runner) verifyUntouched(p *probe, res *Result) error {
	if !r.scn.Verify || p.untouched == nil {
		return nil
	}
	if err := p.untouched(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrVerification, p.op, err)
	}
	res.Verified++
	return nil
}

// unexpected books one divergence from prediction.
func (r *Runner) unexpected(p *probe, res *Result, options *Options, err error) error {
	res.Unexpected++
	r.metrics.UnexpectedFaults.Inc()
	if options.OnUnexpected != nil {
		options.OnUnexpected(p.op, err)
	}
	if options.StopOnUnexpected {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedFault, p.op, err)
	}
	return nil
}
