// Package session implements the execution-control core: the session
// state machine, per-node bookkeeping, breakpoints, and the Time
// Capsule replay history. It consumes transport events, applies the
// state machine, issues transport commands, and re-publishes every
// change to its subscribers; it never renders anything itself.
package session

import (
	"sort"
	"time"

	"graphscope/internal/protocol"
)

// ExecutionState reflects live run progress.
type ExecutionState string

const (
	StateStopped  ExecutionState = "stopped"
	StateRunning  ExecutionState = "running"
	StatePaused   ExecutionState = "paused"
	StateStepping ExecutionState = "stepping"
)

// NodeStatus is the lifecycle of one node execution record.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeError     NodeStatus = "error"
)

// NodeExecutionRecord is the per-run, per-node bookkeeping of status,
// I/O, and timing. Created on node_start, finalized exactly once by
// the matching node_end; a record left in NodeRunning forever means
// the runtime never reported the end, a valid degenerate case.
type NodeExecutionRecord struct {
	NodeID      string                 `json:"nodeId"`
	NodeName    string                 `json:"nodeName"`
	Status      NodeStatus             `json:"status"`
	Input       interface{}            `json:"input,omitempty"`
	Output      interface{}            `json:"output,omitempty"`
	StateBefore map[string]interface{} `json:"stateBefore,omitempty"`
	StateAfter  map[string]interface{} `json:"stateAfter,omitempty"`
	StartTime   time.Time              `json:"startTime"`
	EndTime     time.Time              `json:"endTime,omitempty"`
	Duration    time.Duration          `json:"duration,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// LogEntryType classifies session log entries.
type LogEntryType string

const (
	LogNodeStart   LogEntryType = "node_start"
	LogNodeEnd     LogEntryType = "node_end"
	LogStateUpdate LogEntryType = "state_update"
	LogInput       LogEntryType = "input"
	LogOutput      LogEntryType = "output"
	LogError       LogEntryType = "error"
	LogInfo        LogEntryType = "info"
)

// LogEntry is one append-only session log record. The log is cleared
// when a new run starts, never on stop.
type LogEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	Type      LogEntryType `json:"type"`
	NodeID    string       `json:"nodeId,omitempty"`
	Message   string       `json:"message"`
	Data      interface{}  `json:"data,omitempty"`
}

// Session is a read-only snapshot of one controller's state. Callers
// always receive copies; mutating a snapshot never affects the
// controller.
type Session struct {
	ID              string                         `json:"id"`
	IsActive        bool                           `json:"isActive"`
	ExecutionState  ExecutionState                 `json:"executionState"`
	CurrentNode     string                         `json:"currentNode,omitempty"`
	CurrentState    map[string]interface{}         `json:"currentState,omitempty"`
	Breakpoints     []string                       `json:"breakpoints"`
	StartTime       *time.Time                     `json:"startTime,omitempty"`
	Port            int                            `json:"port"`
	InterpreterPath string                         `json:"interpreterPath,omitempty"`
	NodeRecords     map[string]NodeExecutionRecord `json:"nodeRecords"`
	FinalOutput     interface{}                    `json:"finalOutput,omitempty"`

	TimeCapsule       []protocol.TimeCapsuleStep `json:"timeCapsule"`
	TimeCapsuleIndex  int                        `json:"timeCapsuleIndex"`
	TimeCapsuleActive bool                       `json:"timeCapsuleActive"`
}

// sessionState is the controller-owned mutable counterpart of Session.
type sessionState struct {
	id              string
	isActive        bool
	executionState  ExecutionState
	currentNode     string
	currentState    map[string]interface{}
	breakpoints     map[string]bool
	startTime       *time.Time
	port            int
	interpreterPath string
	nodeRecords     map[string]*NodeExecutionRecord
	log             []LogEntry
	finalOutput     interface{}

	timeCapsule       []protocol.TimeCapsuleStep
	timeCapsuleIndex  int
	timeCapsuleActive bool
}

func newSessionState() *sessionState {
	return &sessionState{
		executionState: StateStopped,
		breakpoints:    make(map[string]bool),
		nodeRecords:    make(map[string]*NodeExecutionRecord),
	}
}

// copyValue deep-copies JSON-shaped values (maps, slices, scalars).
// Values of other types pass through shared; everything stored here
// comes out of encoding/json, which only produces these shapes.
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	default:
		return v
	}
}

func copyState(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	return copyValue(m).(map[string]interface{})
}

// snapshot deep-copies the session: collections, the current state
// map, and the per-record payloads. Mutating anything reachable from
// a snapshot never touches controller-held state.
func (s *sessionState) snapshot() Session {
	bps := make([]string, 0, len(s.breakpoints))
	for id := range s.breakpoints {
		bps = append(bps, id)
	}
	sort.Strings(bps)

	records := make(map[string]NodeExecutionRecord, len(s.nodeRecords))
	for id, rec := range s.nodeRecords {
		cp := *rec
		cp.Input = copyValue(rec.Input)
		cp.Output = copyValue(rec.Output)
		cp.StateBefore = copyState(rec.StateBefore)
		cp.StateAfter = copyState(rec.StateAfter)
		records[id] = cp
	}

	capsule := make([]protocol.TimeCapsuleStep, len(s.timeCapsule))
	copy(capsule, s.timeCapsule)

	var start *time.Time
	if s.startTime != nil {
		t := *s.startTime
		start = &t
	}

	return Session{
		ID:                s.id,
		IsActive:          s.isActive,
		ExecutionState:    s.executionState,
		CurrentNode:       s.currentNode,
		CurrentState:      copyState(s.currentState),
		Breakpoints:       bps,
		StartTime:         start,
		Port:              s.port,
		InterpreterPath:   s.interpreterPath,
		NodeRecords:       records,
		FinalOutput:       s.finalOutput,
		TimeCapsule:       capsule,
		TimeCapsuleIndex:  s.timeCapsuleIndex,
		TimeCapsuleActive: s.timeCapsuleActive,
	}
}
