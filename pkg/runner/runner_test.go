package runner

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fortiblox/rampart/pkg/audit"
	"github.com/fortiblox/rampart/pkg/guard"
	"github.com/fortiblox/rampart/pkg/metrics"
	"github.com/fortiblox/rampart/pkg/scenario"
)

// silenceDiagnostics redirects the abort diagnostics for the duration
// of a test, so injected violations do not flood the output.
func silenceDiagnostics(t *testing.T) {
	t.Helper()
	prev := guard.SetSink(io.Discard)
	t.Cleanup(func() { guard.SetSink(prev) })
}

// Helper function to create a small, fast scenario for tests.
func testScenario() *scenario.Scenario {
	s := scenario.Default()
	s.Name = "test"
	s.Seed = 7
	s.Iterations = 2000
	s.BatchSize = 250
	s.Buffers = 8
	s.MinCapacity = 8
	s.MaxCapacity = 64
	s.ArenaSize = 1024
	s.ViolationRate = 0.25
	s.AbortFraction = 0.5
	return s
}

func newTestRunner(t *testing.T, s *scenario.Scenario) (*Runner, *audit.MemoryStore, *metrics.Metrics) {
	t.Helper()
	store := audit.NewMemoryStore()
	m := metrics.NewMetrics()
	r, err := NewRunner(s, store, m)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r, store, m
}

func TestNewRunner(t *testing.T) {
	r, _, _ := newTestRunner(t, testScenario())

	if r == nil {
		t.Fatal("NewRunner returned nil")
	}
	if r.IsRunning() {
		t.Error("new runner should not be running")
	}
	if r.Arena() == nil {
		t.Error("runner should have an arena")
	}
	if r.Arena().Cap() != 1024 {
		t.Errorf("arena capacity = %d, want 1024", r.Arena().Cap())
	}
}

func TestNewRunner_InvalidScenario(t *testing.T) {
	s := testScenario()
	s.Iterations = 0

	if _, err := NewRunner(s, audit.NewMemoryStore(), nil); err == nil {
		t.Fatal("expected error for invalid scenario")
	}
}

func TestNewRunner_NilStore(t *testing.T) {
	if _, err := NewRunner(testScenario(), nil, nil); !errors.Is(err, ErrNilStore) {
		t.Fatalf("expected ErrNilStore, got %v", err)
	}
}

func TestRunner_Run(t *testing.T) {
	silenceDiagnostics(t)

	s := testScenario()
	r, store, m := newTestRunner(t, s)

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Iterations != s.Iterations {
		t.Errorf("iterations = %d, want %d", res.Iterations, s.Iterations)
	}
	if res.Batches != s.Iterations/s.BatchSize {
		t.Errorf("batches = %d, want %d", res.Batches, s.Iterations/s.BatchSize)
	}

	var perOpTotal uint64
	for _, n := range res.PerOp {
		perOpTotal += n
	}
	if perOpTotal != res.Iterations {
		t.Errorf("per-op counts sum to %d, want %d", perOpTotal, res.Iterations)
	}

	// Every operation must behave exactly as planned: the run is the
	// guard contract check.
	if !res.Clean() {
		t.Fatalf("run saw %d unexpected faults", res.Unexpected)
	}
	if res.Expected == 0 {
		t.Error("expected injected violations with a 0.25 violation rate")
	}
	if res.Violations() != res.Expected {
		t.Errorf("violations = %d, want %d (all predicted)", res.Violations(), res.Expected)
	}
	if res.TryErrors == 0 {
		t.Error("expected non-zero try codes on the fail-soft path")
	}
	if res.Verified == 0 {
		t.Error("expected verified postconditions with verify enabled")
	}
	if res.PerKind[guard.KindBufferOverflow] == 0 {
		t.Error("expected buffer overflow violations")
	}
	if res.PerKind[guard.KindOutOfBoundsRead] == 0 {
		t.Error("expected out-of-bounds read violations")
	}

	// The audit store saw every observation.
	if store.Total() != res.Violations() {
		t.Errorf("store total = %d, want %d", store.Total(), res.Violations())
	}
	if store.Count() == 0 {
		t.Error("store should hold violation classes")
	}
	if store.Count() > store.Total() {
		t.Errorf("store count %d exceeds total %d", store.Count(), store.Total())
	}

	// Metrics agree with the result.
	if got := m.OpsTotal.Value(); got != res.Iterations {
		t.Errorf("ops metric = %d, want %d", got, res.Iterations)
	}
	if got := m.ViolationsTotal.Value(); got != res.Violations() {
		t.Errorf("violations metric = %d, want %d", got, res.Violations())
	}
	if got := m.TryErrorsTotal.Value(); got != res.TryErrors {
		t.Errorf("try errors metric = %d, want %d", got, res.TryErrors)
	}
	if got := m.UnexpectedFaults.Value(); got != 0 {
		t.Errorf("unexpected faults metric = %d, want 0", got)
	}
	if got := m.BatchDuration.Snapshot().Count; got != res.Batches {
		t.Errorf("batch duration observations = %d, want %d", got, res.Batches)
	}

	if r.IsRunning() {
		t.Error("runner should not be running after completion")
	}
}

func TestRunner_RunWithoutInjection(t *testing.T) {
	s := testScenario()
	s.ViolationRate = 0
	r, store, _ := newTestRunner(t, s)

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !res.Clean() {
		t.Fatalf("run saw %d unexpected faults", res.Unexpected)
	}
	if res.Violations() != 0 {
		t.Errorf("violations = %d, want 0", res.Violations())
	}
	if res.TryErrors != 0 {
		t.Errorf("try errors = %d, want 0", res.TryErrors)
	}
	if res.Verified != res.Iterations {
		t.Errorf("verified = %d, want %d (every clean op is checked)", res.Verified, res.Iterations)
	}
	if store.Total() != 0 {
		t.Errorf("store total = %d, want 0", store.Total())
	}
}

func TestRunner_RunWithVerifyOff(t *testing.T) {
	silenceDiagnostics(t)

	s := testScenario()
	s.Verify = false
	r, _, _ := newTestRunner(t, s)

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Verified != 0 {
		t.Errorf("verified = %d, want 0 with verify disabled", res.Verified)
	}
	if !res.Clean() {
		t.Fatalf("run saw %d unexpected faults", res.Unexpected)
	}
}

func TestRunner_Deterministic(t *testing.T) {
	silenceDiagnostics(t)

	r1, _, _ := newTestRunner(t, testScenario())
	r2, _, _ := newTestRunner(t, testScenario())

	res1, err := r1.Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	res2, err := r2.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if res1.Iterations != res2.Iterations ||
		res1.Expected != res2.Expected ||
		res1.TryErrors != res2.TryErrors ||
		res1.Verified != res2.Verified {
		t.Errorf("same seed produced different counters:\n%s\n%s", res1.Summary(), res2.Summary())
	}
	if !reflect.DeepEqual(res1.PerOp, res2.PerOp) {
		t.Errorf("same seed produced different op mixes: %v vs %v", res1.PerOp, res2.PerOp)
	}
	if !reflect.DeepEqual(res1.PerKind, res2.PerKind) {
		t.Errorf("same seed produced different violation mixes: %v vs %v", res1.PerKind, res2.PerKind)
	}
}

func TestRunner_AlreadyRunning(t *testing.T) {
	silenceDiagnostics(t)

	s := testScenario()
	s.Iterations = 500
	r, _, _ := newTestRunner(t, s)

	var reentrantErr error
	var sawRunning bool
	r.SetOptions(&Options{
		OnBatchComplete: func(stats BatchStats) {
			if stats.Batch == 0 {
				sawRunning = r.IsRunning()
				_, reentrantErr = r.Run(context.Background())
			}
		},
	})

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !sawRunning {
		t.Error("IsRunning should report true mid-run")
	}
	if !errors.Is(reentrantErr, ErrAlreadyRunning) {
		t.Fatalf("reentrant Run returned %v, want ErrAlreadyRunning", reentrantErr)
	}
}

func TestRunner_ContextCancellation(t *testing.T) {
	silenceDiagnostics(t)

	s := testScenario()
	s.Iterations = 10_000
	s.BatchSize = 100

	r, _, _ := newTestRunner(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.SetOptions(&Options{
		OnBatchComplete: func(stats BatchStats) {
			if stats.Batch == 2 {
				cancel()
			}
		},
	})

	res, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatal("canceled run should return the partial result")
	}
	if res.Batches != 3 {
		t.Errorf("batches = %d, want 3", res.Batches)
	}
	if res.Iterations != 300 {
		t.Errorf("iterations = %d, want 300", res.Iterations)
	}
}

func TestRunner_Progress(t *testing.T) {
	silenceDiagnostics(t)

	s := testScenario()
	s.Iterations = 1000
	r, _, _ := newTestRunner(t, s)

	if got := r.Progress(); got.Iterations != 0 {
		t.Errorf("progress before run = %d iterations, want 0", got.Iterations)
	}

	var midIterations uint64
	r.SetOptions(&Options{
		OnBatchComplete: func(stats BatchStats) {
			if stats.Batch == 0 {
				midIterations = r.Progress().Iterations
			}
		},
	})

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if midIterations != s.BatchSize {
		t.Errorf("mid-run progress = %d iterations, want %d", midIterations, s.BatchSize)
	}

	final := r.Progress()
	if final.Iterations != s.Iterations {
		t.Errorf("final progress = %d iterations, want %d", final.Iterations, s.Iterations)
	}

	// Snapshots are copies; writing to one must not leak back.
	final.PerOp["copy"] = 99999
	if r.Progress().PerOp["copy"] == 99999 {
		t.Error("progress snapshot shares state with the runner")
	}
}

func TestRunner_BatchStats(t *testing.T) {
	silenceDiagnostics(t)

	s := testScenario()
	s.Iterations = 1000
	s.BatchSize = 300
	r, _, _ := newTestRunner(t, s)

	var batches []BatchStats
	r.SetOptions(&Options{
		OnBatchComplete: func(stats BatchStats) {
			batches = append(batches, stats)
		},
	})

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(batches) != 4 {
		t.Fatalf("got %d batches, want 4", len(batches))
	}
	var total uint64
	for i, stats := range batches {
		if stats.Batch != uint64(i) {
			t.Errorf("batch %d has index %d", i, stats.Batch)
		}
		total += stats.Ops
	}
	if total != s.Iterations {
		t.Errorf("batch ops sum to %d, want %d", total, s.Iterations)
	}
	// The tail batch carries the remainder.
	if batches[3].Ops != 100 {
		t.Errorf("final batch ops = %d, want 100", batches[3].Ops)
	}
}

func TestRunner_ResetPool(t *testing.T) {
	s := testScenario()
	r, _, _ := newTestRunner(t, s)

	if err := r.resetPool(); err != nil {
		t.Fatalf("resetPool failed: %v", err)
	}
	if len(r.pool) != s.Buffers {
		t.Fatalf("pool has %d buffers, want %d", len(r.pool), s.Buffers)
	}
	for i, reg := range r.pool {
		if reg.Cap() < s.MinCapacity || reg.Cap() > s.MaxCapacity {
			t.Errorf("buffer %d capacity %d outside [%d, %d]", i, reg.Cap(), s.MinCapacity, s.MaxCapacity)
		}
	}
	if r.arena.InUse() == 0 {
		t.Error("arena should have allocations after resetPool")
	}

	// A second reset recarves the pool from a clean arena.
	if err := r.resetPool(); err != nil {
		t.Fatalf("second resetPool failed: %v", err)
	}
	if len(r.pool) != s.Buffers {
		t.Fatalf("pool has %d buffers after reset, want %d", len(r.pool), s.Buffers)
	}
}

// Helper function to build a sized buffer-overflow violation.
func overflowViolation(op string, writeSize, destSize uint64) *guard.Violation {
	return &guard.Violation{
		Op:        op,
		Kind:      guard.KindBufferOverflow,
		WriteSize: writeSize,
		DestSize:  destSize,
		Sized:     true,
	}
}

func TestSettleAbort_PredictedMatch(t *testing.T) {
	r, store, _ := newTestRunner(t, testScenario())
	res := newResult(r.scn)
	var tally batchTally

	p := &probe{op: scenario.OpCopy, abort: true, want: overflowViolation("Copy", 64, 16)}
	v := overflowViolation("Copy", 64, 16)

	if err := r.settleAbort(p, v, res, &tally, DefaultOptions()); err != nil {
		t.Fatalf("settleAbort failed: %v", err)
	}
	if res.Expected != 1 || res.Unexpected != 0 {
		t.Errorf("expected=%d unexpected=%d, want 1/0", res.Expected, res.Unexpected)
	}
	if res.PerKind[guard.KindBufferOverflow] != 1 {
		t.Errorf("per-kind count = %d, want 1", res.PerKind[guard.KindBufferOverflow])
	}
	if store.Total() != 1 {
		t.Errorf("store total = %d, want 1", store.Total())
	}
}

func TestSettleAbort_MissingFault(t *testing.T) {
	r, store, m := newTestRunner(t, testScenario())
	res := newResult(r.scn)
	var tally batchTally

	var gotOp string
	var gotErr error
	opts := DefaultOptions()
	opts.OnUnexpected = func(op string, err error) {
		gotOp = op
		gotErr = err
	}

	p := &probe{op: scenario.OpCopy, abort: true, want: overflowViolation("Copy", 64, 16)}

	if err := r.settleAbort(p, nil, res, &tally, opts); err != nil {
		t.Fatalf("settleAbort failed: %v", err)
	}
	if res.Unexpected != 1 || res.Expected != 0 {
		t.Errorf("expected=%d unexpected=%d, want 0/1", res.Expected, res.Unexpected)
	}
	if m.UnexpectedFaults.Value() != 1 {
		t.Errorf("unexpected faults metric = %d, want 1", m.UnexpectedFaults.Value())
	}
	if store.Total() != 0 {
		t.Errorf("store total = %d, want 0 (nothing fired)", store.Total())
	}
	if gotOp != scenario.OpCopy || gotErr == nil {
		t.Errorf("OnUnexpected got (%q, %v)", gotOp, gotErr)
	}
}

func TestSettleAbort_WrongShape(t *testing.T) {
	r, store, _ := newTestRunner(t, testScenario())
	res := newResult(r.scn)
	var tally batchTally

	p := &probe{op: scenario.OpCopy, abort: true, want: overflowViolation("Copy", 64, 16)}
	v := overflowViolation("Copy", 65, 16)

	if err := r.settleAbort(p, v, res, &tally, DefaultOptions()); err != nil {
		t.Fatalf("settleAbort failed: %v", err)
	}
	if res.Unexpected != 1 || res.Expected != 0 {
		t.Errorf("expected=%d unexpected=%d, want 0/1", res.Expected, res.Unexpected)
	}
	// The violation really fired, so it is still audited.
	if store.Total() != 1 {
		t.Errorf("store total = %d, want 1", store.Total())
	}
}

func TestSettleAbort_UnpredictedFault(t *testing.T) {
	r, store, _ := newTestRunner(t, testScenario())
	res := newResult(r.scn)
	var tally batchTally

	p := &probe{op: scenario.OpFill, abort: true}
	v := &guard.Violation{Op: "Fill", Kind: guard.KindBufferOverflow}

	if err := r.settleAbort(p, v, res, &tally, DefaultOptions()); err != nil {
		t.Fatalf("settleAbort failed: %v", err)
	}
	if res.Unexpected != 1 {
		t.Errorf("unexpected = %d, want 1", res.Unexpected)
	}
	if store.Total() != 1 {
		t.Errorf("store total = %d, want 1", store.Total())
	}
}

func TestSettleAbort_StopOnUnexpected(t *testing.T) {
	r, _, _ := newTestRunner(t, testScenario())
	res := newResult(r.scn)
	var tally batchTally

	opts := DefaultOptions()
	opts.StopOnUnexpected = true

	p := &probe{op: scenario.OpCopy, abort: true, want: overflowViolation("Copy", 64, 16)}

	err := r.settleAbort(p, nil, res, &tally, opts)
	if !errors.Is(err, ErrUnexpectedFault) {
		t.Fatalf("settleAbort returned %v, want ErrUnexpectedFault", err)
	}
}

func TestSettleTry_PredictedMatch(t *testing.T) {
	r, store, _ := newTestRunner(t, testScenario())
	res := newResult(r.scn)
	var tally batchTally

	want := overflowViolation("TryCopy", 64, 16)
	p := &probe{op: scenario.OpCopy, want: want, wantCode: guard.CodeBufferOverflow}

	if err := r.settleTry(p, guard.CodeBufferOverflow, res, &tally, DefaultOptions()); err != nil {
		t.Fatalf("settleTry failed: %v", err)
	}
	if res.Expected != 1 || res.TryErrors != 1 {
		t.Errorf("expected=%d tryErrors=%d, want 1/1", res.Expected, res.TryErrors)
	}

	// The rejection is audited under the documented violation shape.
	rec, err := store.Get(audit.FingerprintViolation(want))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil {
		t.Fatal("try rejection was not audited")
	}
	if rec.Op != "TryCopy" {
		t.Errorf("audited op = %q, want TryCopy", rec.Op)
	}
}

func TestSettleTry_WrongCode(t *testing.T) {
	r, _, _ := newTestRunner(t, testScenario())
	res := newResult(r.scn)
	var tally batchTally

	p := &probe{op: scenario.OpConcat, want: overflowViolation("TryConcat", 64, 15), wantCode: guard.CodeBufferOverflow}

	if err := r.settleTry(p, guard.CodeIntegerOverflow, res, &tally, DefaultOptions()); err != nil {
		t.Fatalf("settleTry failed: %v", err)
	}
	if res.Unexpected != 1 || res.Expected != 0 {
		t.Errorf("expected=%d unexpected=%d, want 0/1", res.Expected, res.Unexpected)
	}
	if res.TryErrors != 1 {
		t.Errorf("try errors = %d, want 1", res.TryErrors)
	}
}

func TestSettleTry_UnpredictedCode(t *testing.T) {
	r, _, _ := newTestRunner(t, testScenario())
	res := newResult(r.scn)
	var tally batchTally

	p := &probe{op: scenario.OpCopy}

	if err := r.settleTry(p, guard.CodeBufferOverflow, res, &tally, DefaultOptions()); err != nil {
		t.Fatalf("settleTry failed: %v", err)
	}
	if res.Unexpected != 1 {
		t.Errorf("unexpected = %d, want 1", res.Unexpected)
	}
}

func TestResult_Clean(t *testing.T) {
	res := &Result{}
	if !res.Clean() {
		t.Error("result with no unexpected faults should be clean")
	}
	res.Unexpected = 1
	if res.Clean() {
		t.Error("result with unexpected faults should not be clean")
	}
}

func TestResult_OpsPerSecond(t *testing.T) {
	res := &Result{Iterations: 1000, Duration: 2 * time.Second}
	if got := res.OpsPerSecond(); got != 500 {
		t.Errorf("ops/sec = %v, want 500", got)
	}

	res = &Result{Iterations: 1000}
	if got := res.OpsPerSecond(); got != 0 {
		t.Errorf("ops/sec with zero duration = %v, want 0", got)
	}
}

func TestResult_Summary(t *testing.T) {
	res := &Result{
		Scenario:   "test",
		Iterations: 100,
		Expected:   20,
		TryErrors:  5,
		Verified:   80,
		PerKind:    map[guard.Kind]uint64{guard.KindBufferOverflow: 20},
	}

	s := res.Summary()
	for _, part := range []string{"Scenario=test", "Iterations=100", "Violations=20", "Expected=20", "Unexpected=0", "TryErrors=5", "Verified=80"} {
		if !strings.Contains(s, part) {
			t.Errorf("summary %q missing %q", s, part)
		}
	}
}

func BenchmarkRunner_Run(b *testing.B) {
	prev := guard.SetSink(io.Discard)
	defer guard.SetSink(prev)

	s := testScenario()
	s.Iterations = 1000
	s.BatchSize = 1000

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := NewRunner(s, audit.NewMemoryStore(), metrics.NewMetrics())
		if err != nil {
			b.Fatal(err)
		}
		if _, err := r.Run(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
