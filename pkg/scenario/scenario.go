// Package scenario defines TOML workload descriptions for soak runs: which
// guarded operations to execute, how often they should fault, and how the
// buffer pool backing them is shaped.
package scenario

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Operation keys usable in a scenario's weight table.
const (
	OpCopy          = "copy"
	OpCopyAt        = "copy_at"
	OpCopyRobust    = "copy_robust"
	OpConcat        = "concat"
	OpCompare       = "compare"
	OpCompareString = "compare_string"
	OpFill          = "fill"
)

// Operations lists every operation key in canonical order.
var Operations = []string{
	OpCopy,
	OpCopyAt,
	OpCopyRobust,
	OpConcat,
	OpCompare,
	OpCompareString,
	OpFill,
}

// allocSlack is the worst-case per-buffer padding the arena may add for
// alignment.
const allocSlack = 8

// Scenario describes one soak workload.
type Scenario struct {
	// Name identifies the scenario in logs and results.
	Name string

	// Seed makes the run reproducible.
	Seed int64

	// Iterations is the total number of operations to execute.
	Iterations uint64

	// BatchSize is the number of operations per batch. Progress, metrics
	// and cancellation are handled at batch boundaries.
	BatchSize uint64

	// Buffers is the number of buffers in the pool, at least two so
	// two-operand operations get distinct buffers.
	Buffers int

	// MinCapacity and MaxCapacity bound the capacity a pool buffer is
	// allocated with.
	MinCapacity int
	MaxCapacity int

	// ArenaSize is the size in bytes of the arena backing the pool.
	ArenaSize int

	// Weights assigns a relative weight to each operation key. Operations
	// with weight zero are never executed.
	Weights map[string]int

	// ViolationRate is the fraction of operations deliberately built to
	// fault, in [0, 1].
	ViolationRate float64

	// AbortFraction is the fraction of operations driven through the
	// abort family and recovered, in [0, 1], for operations that have a
	// fail-soft twin. The rest use the try family. Operations without a
	// twin always abort.
	AbortFraction float64

	// Verify re-reads destinations after successful operations and checks
	// the expected bytes landed.
	Verify bool
}

// Default returns the default scenario.
func Default() *Scenario {
	return &Scenario{
		Name:        "default",
		Seed:        42,
		Iterations:  100_000,
		BatchSize:   1_000,
		Buffers:     32,
		MinCapacity: 16,
		MaxCapacity: 512,
		ArenaSize:   1 << 20,
		Weights: map[string]int{
			OpCopy:          4,
			OpCopyAt:        2,
			OpCopyRobust:    2,
			OpConcat:        2,
			OpCompare:       2,
			OpCompareString: 1,
			OpFill:          2,
		},
		ViolationRate: 0.2,
		AbortFraction: 0.5,
		Verify:        true,
	}
}

// fileScenario mirrors the TOML schema.
type fileScenario struct {
	Name          string         `toml:"name"`
	Seed          int64          `toml:"seed"`
	Iterations    uint64         `toml:"iterations"`
	BatchSize     uint64         `toml:"batch_size"`
	Buffers       int            `toml:"buffers"`
	MinCapacity   int            `toml:"min_capacity"`
	MaxCapacity   int            `toml:"max_capacity"`
	ArenaSize     int            `toml:"arena_size"`
	ViolationRate float64        `toml:"violation_rate"`
	AbortFraction float64        `toml:"abort_fraction"`
	Verify        bool           `toml:"verify"`
	Weights       map[string]int `toml:"weights"`
}

// Load reads a scenario file and overlays it onto the defaults: only keys
// present in the file override. The result is validated.
func Load(path string) (*Scenario, error) {
	s := Default()

	var raw fileScenario
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}

	if meta.IsDefined("name") {
		name := strings.TrimSpace(raw.Name)
		if name != "" {
			s.Name = name
		}
	}

	if meta.IsDefined("seed") {
		s.Seed = raw.Seed
	}

	if meta.IsDefined("iterations") {
		s.Iterations = raw.Iterations
	}

	if meta.IsDefined("batch_size") {
		s.BatchSize = raw.BatchSize
	}

	if meta.IsDefined("buffers") {
		s.Buffers = raw.Buffers
	}

	if meta.IsDefined("min_capacity") {
		s.MinCapacity = raw.MinCapacity
	}

	if meta.IsDefined("max_capacity") {
		s.MaxCapacity = raw.MaxCapacity
	}

	if meta.IsDefined("arena_size") {
		s.ArenaSize = raw.ArenaSize
	}

	if meta.IsDefined("violation_rate") {
		s.ViolationRate = raw.ViolationRate
	}

	if meta.IsDefined("abort_fraction") {
		s.AbortFraction = raw.AbortFraction
	}

	if meta.IsDefined("verify") {
		s.Verify = raw.Verify
	}

	// A weight table replaces the default table wholesale.
	if meta.IsDefined("weights") {
		s.Weights = raw.Weights
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Validate checks the scenario for consistency.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("scenario: name must not be empty")
	}
	if s.Iterations == 0 {
		return fmt.Errorf("scenario: iterations must be positive")
	}
	if s.BatchSize == 0 {
		return fmt.Errorf("scenario: batch_size must be positive")
	}
	if s.Buffers < 2 {
		return fmt.Errorf("scenario: buffers must be at least 2")
	}
	if s.MinCapacity <= 0 {
		return fmt.Errorf("scenario: min_capacity must be positive")
	}
	if s.MaxCapacity < s.MinCapacity {
		return fmt.Errorf("scenario: max_capacity %d below min_capacity %d", s.MaxCapacity, s.MinCapacity)
	}
	if need := s.Buffers * (s.MaxCapacity + allocSlack); s.ArenaSize < need {
		return fmt.Errorf("scenario: arena_size %d cannot hold %d buffers of up to %d bytes (need %d)",
			s.ArenaSize, s.Buffers, s.MaxCapacity, need)
	}
	if s.ViolationRate < 0 || s.ViolationRate > 1 {
		return fmt.Errorf("scenario: violation_rate %v outside [0, 1]", s.ViolationRate)
	}
	if s.AbortFraction < 0 || s.AbortFraction > 1 {
		return fmt.Errorf("scenario: abort_fraction %v outside [0, 1]", s.AbortFraction)
	}

	if len(s.Weights) == 0 {
		return fmt.Errorf("scenario: weights must not be empty")
	}
	total := 0
	for op, w := range s.Weights {
		if !knownOperation(op) {
			return fmt.Errorf("scenario: unknown operation %q in weights", op)
		}
		if w < 0 {
			return fmt.Errorf("scenario: negative weight %d for operation %q", w, op)
		}
		total += w
	}
	if total == 0 {
		return fmt.Errorf("scenario: at least one operation needs a positive weight")
	}

	return nil
}

// ActiveOperations returns the operation keys with positive weight, in
// canonical order.
func (s *Scenario) ActiveOperations() []string {
	var out []string
	for _, op := range Operations {
		if s.Weights[op] > 0 {
			out = append(out, op)
		}
	}
	return out
}

func knownOperation(op string) bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// WriteTemplate writes a commented starter scenario carrying the default
// values to path.
func WriteTemplate(path string) error {
	d := Default()

	var sb strings.Builder
	sb.WriteString("# rampart scenario\n")
	sb.WriteString("# Every key is optional; omitted keys keep their defaults.\n\n")
	fmt.Fprintf(&sb, "name = %q\n", d.Name)
	fmt.Fprintf(&sb, "seed = %d\n", d.Seed)
	fmt.Fprintf(&sb, "iterations = %d\n", d.Iterations)
	fmt.Fprintf(&sb, "batch_size = %d\n", d.BatchSize)
	sb.WriteString("\n# Buffer pool\n")
	fmt.Fprintf(&sb, "buffers = %d\n", d.Buffers)
	fmt.Fprintf(&sb, "min_capacity = %d\n", d.MinCapacity)
	fmt.Fprintf(&sb, "max_capacity = %d\n", d.MaxCapacity)
	fmt.Fprintf(&sb, "arena_size = %d\n", d.ArenaSize)
	sb.WriteString("\n# Fault injection\n")
	fmt.Fprintf(&sb, "violation_rate = %v\n", d.ViolationRate)
	fmt.Fprintf(&sb, "abort_fraction = %v\n", d.AbortFraction)
	fmt.Fprintf(&sb, "verify = %v\n", d.Verify)
	sb.WriteString("\n# Relative operation weights; weight 0 disables an operation.\n")
	sb.WriteString("[weights]\n")

	ops := make([]string, 0, len(d.Weights))
	for op := range d.Weights {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(&sb, "%s = %d\n", op, d.Weights[op])
	}

	return os.WriteFile(path, []byte(sb.String()), 0644)
}
