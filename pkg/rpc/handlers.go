package rpc

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fortiblox/rampart/pkg/audit"
)

// Handler is the function signature for RPC method handlers.
type Handler func(params json.RawMessage) (interface{}, *RPCError)

// Handlers manages RPC method handlers and provides access to the audit
// store and the published run state.
type Handlers struct {
	store    audit.Store
	state    *RunState
	stateMu  sync.RWMutex
	version  VersionResult
	handlers map[string]Handler
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store audit.Store) *Handlers {
	h := &Handlers{
		store:    store,
		state:    DefaultRunState(),
		version:  VersionResult{Version: "0.1.0"},
		handlers: make(map[string]Handler),
	}

	// Register all handlers
	h.registerHandlers()

	return h
}

// SetVersion sets the version reported by getVersion.
func (h *Handlers) SetVersion(version, gitCommit string) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.version = VersionResult{Version: version, GitCommit: gitCommit}
}

// SetState replaces the published run state. The snapshot must not be
// mutated after it is published.
func (h *Handlers) SetState(state *RunState) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.state = state
}

// GetState returns the current run state snapshot.
func (h *Handlers) GetState() *RunState {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.state
}

// GetHandler returns the handler for a method, or nil if not found.
func (h *Handlers) GetHandler(method string) Handler {
	return h.handlers[method]
}

// registerHandlers registers all RPC method handlers.
func (h *Handlers) registerHandlers() {
	h.handlers["getVersion"] = h.handleGetVersion
	h.handlers["getHealth"] = h.handleGetHealth
	h.handlers["getStats"] = h.handleGetStats
	h.handlers["getViolation"] = h.handleGetViolation
	h.handlers["getRecentViolations"] = h.handleGetRecentViolations
	h.handlers["getViolationCount"] = h.handleGetViolationCount
}

// handleGetVersion handles the getVersion RPC method.
// Params: none
func (h *Handlers) handleGetVersion(params json.RawMessage) (interface{}, *RPCError) {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.version, nil
}

// handleGetHealth handles the getHealth RPC method.
// Params: none
func (h *Handlers) handleGetHealth(params json.RawMessage) (interface{}, *RPCError) {
	state := h.GetState()
	if state.Unexpected > 0 {
		return nil, NewRPCErrorWithData(InternalError, "node is unhealthy",
			map[string]uint64{"unexpected": state.Unexpected})
	}
	return HealthResult("ok"), nil
}

// handleGetStats handles the getStats RPC method.
// Params: none
func (h *Handlers) handleGetStats(params json.RawMessage) (interface{}, *RPCError) {
	state := h.GetState()

	result := StatsResult{
		Scenario:         state.Scenario,
		Seed:             state.Seed,
		Running:          state.Running,
		Iterations:       state.Iterations,
		TargetIterations: state.TargetIterations,
		Batches:          state.Batches,
		Expected:         state.Expected,
		Unexpected:       state.Unexpected,
		TryErrors:        state.TryErrors,
		Verified:         state.Verified,
		OpsPerSecond:     state.OpsPerSecond,
		Arena: ArenaStats{
			InUse: state.ArenaInUse,
			Cap:   state.ArenaCap,
		},
	}

	if len(state.PerOp) > 0 {
		result.PerOp = make(map[string]uint64, len(state.PerOp))
		for op, n := range state.PerOp {
			result.PerOp[op] = n
		}
	}

	if len(state.PerKind) > 0 {
		result.PerKind = make(map[string]uint64, len(state.PerKind))
		for kind, n := range state.PerKind {
			result.PerKind[KindLabel(kind)] = n
			result.Violations += n
		}
	}

	result.AuditClasses = h.store.Count()
	result.AuditObservations = h.store.Total()

	return result, nil
}

// handleGetViolation handles the getViolation RPC method.
// Params: [fingerprint]
func (h *Handlers) handleGetViolation(params json.RawMessage) (interface{}, *RPCError) {
	// Parse parameters
	var rawParams []json.RawMessage
	if err := json.Unmarshal(params, &rawParams); err != nil {
		return nil, NewRPCError(InvalidParams, "invalid params: expected array")
	}

	if len(rawParams) < 1 {
		return nil, NewRPCError(InvalidParams, "missing fingerprint parameter")
	}

	var fpStr string
	if err := json.Unmarshal(rawParams[0], &fpStr); err != nil {
		return nil, NewRPCError(InvalidParams, "invalid fingerprint parameter")
	}

	fp, err := DecodeFingerprint(fpStr)
	if err != nil {
		return nil, NewRPCError(InvalidParams, fmt.Sprintf("invalid fingerprint: %v", err))
	}

	record, err := h.store.Get(fp)
	if err != nil {
		return nil, NewRPCError(InternalError, fmt.Sprintf("failed to get record: %v", err))
	}

	if record == nil {
		return nil, NewRPCError(RecordNotFound, fmt.Sprintf("record not found: %s", fpStr))
	}

	return RecordResult(record), nil
}

// handleGetRecentViolations handles the getRecentViolations RPC method.
// Params: [limit] (optional)
func (h *Handlers) handleGetRecentViolations(params json.RawMessage) (interface{}, *RPCError) {
	limit := DefaultRecentLimit

	if len(params) > 0 {
		var rawParams []json.RawMessage
		if err := json.Unmarshal(params, &rawParams); err != nil {
			return nil, NewRPCError(InvalidParams, "invalid params: expected array")
		}

		if len(rawParams) > 0 {
			var n int
			if err := json.Unmarshal(rawParams[0], &n); err != nil {
				return nil, NewRPCError(InvalidParams, "invalid limit parameter")
			}
			if n < 1 {
				return nil, NewRPCError(InvalidParams, "limit must be positive")
			}
			if n > MaxRecentLimit {
				n = MaxRecentLimit
			}
			limit = n
		}
	}

	records, err := h.store.All()
	if err != nil {
		return nil, NewRPCError(InternalError, fmt.Sprintf("failed to list records: %v", err))
	}

	// Most recently observed first, fingerprint as tie-break so the order
	// is stable.
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastSeen != records[j].LastSeen {
			return records[i].LastSeen > records[j].LastSeen
		}
		return records[i].Fingerprint.String() < records[j].Fingerprint.String()
	})

	if len(records) > limit {
		records = records[:limit]
	}

	results := make([]ViolationResult, 0, len(records))
	for _, r := range records {
		results = append(results, RecordResult(r))
	}

	return results, nil
}

// handleGetViolationCount handles the getViolationCount RPC method.
// Params: none
func (h *Handlers) handleGetViolationCount(params json.RawMessage) (interface{}, *RPCError) {
	return ViolationCountResult{
		Classes:      h.store.Count(),
		Observations: h.store.Total(),
	}, nil
}
