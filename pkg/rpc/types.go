// Package rpc provides a JSON-RPC 2.0 query surface over a soak run and
// its audit store.
package rpc

import (
	"encoding/json"

	"github.com/fortiblox/rampart/pkg/guard"
)

// JSON-RPC 2.0 constants
const (
	JSONRPCVersion = "2.0"
)

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// Rampart-specific error codes
	RecordNotFound = -32001
)

// getRecentViolations limits
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 1000
)

// RPCRequest represents a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// RPCResponse represents a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return e.Message
}

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// HealthResult represents the result of getHealth.
type HealthResult string

// VersionResult represents the result of getVersion.
type VersionResult struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// ArenaStats describes buffer pool usage inside a StatsResult.
type ArenaStats struct {
	InUse uint64 `json:"inUse"`
	Cap   uint64 `json:"cap"`
}

// StatsResult represents the result of getStats.
type StatsResult struct {
	Scenario          string            `json:"scenario"`
	Seed              int64             `json:"seed"`
	Running           bool              `json:"running"`
	Iterations        uint64            `json:"iterations"`
	TargetIterations  uint64            `json:"targetIterations"`
	Batches           uint64            `json:"batches"`
	Violations        uint64            `json:"violations"`
	Expected          uint64            `json:"expected"`
	Unexpected        uint64            `json:"unexpected"`
	TryErrors         uint64            `json:"tryErrors"`
	Verified          uint64            `json:"verified"`
	OpsPerSecond      float64           `json:"opsPerSecond"`
	PerOp             map[string]uint64 `json:"perOp,omitempty"`
	PerKind           map[string]uint64 `json:"perKind,omitempty"`
	AuditClasses      uint64            `json:"auditClasses"`
	AuditObservations uint64            `json:"auditObservations"`
	Arena             ArenaStats        `json:"arena"`
}

// ViolationResult represents one audit record in RPC responses.
type ViolationResult struct {
	Fingerprint string `json:"fingerprint"`
	Op          string `json:"op"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	WriteSize   uint64 `json:"writeSize"`
	DestSize    uint64 `json:"destSize"`
	Sized       bool   `json:"sized"`
	Count       uint64 `json:"count"`
	FirstSeen   string `json:"firstSeen"`
	LastSeen    string `json:"lastSeen"`
}

// ViolationCountResult represents the result of getViolationCount.
type ViolationCountResult struct {
	Classes      uint64 `json:"classes"`
	Observations uint64 `json:"observations"`
}

// RunState holds the current run state for RPC responses. The daemon
// publishes a fresh snapshot after each batch.
type RunState struct {
	Scenario         string
	Seed             int64
	Running          bool
	Iterations       uint64
	TargetIterations uint64
	Batches          uint64
	Expected         uint64
	Unexpected       uint64
	TryErrors        uint64
	Verified         uint64
	OpsPerSecond     float64
	PerOp            map[string]uint64
	PerKind          map[guard.Kind]uint64
	ArenaInUse       uint64
	ArenaCap         uint64
}

// DefaultRunState returns an empty run state for a daemon that has not
// started its run yet.
func DefaultRunState() *RunState {
	return &RunState{}
}
