// Package protocol defines the wire envelope exchanged between the
// controller and the remote workflow runtime. Both directions are
// newline-delimited JSON frames: the runtime emits Events, the
// controller emits Commands. The two discriminator namespaces never
// overlap ("type" vs "command").
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates frames sent by the remote runtime.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventGraphStart    EventType = "graph_start"
	EventGraphEnd      EventType = "graph_end"
	EventNodeStart     EventType = "node_start"
	EventNodeEnd       EventType = "node_end"
	EventStateUpdate   EventType = "state_update"
	EventInput         EventType = "input"
	EventOutput        EventType = "output"
	EventError         EventType = "error"
	EventPaused        EventType = "paused"
	EventResumed       EventType = "resumed"
	EventStep          EventType = "step"
	EventStopped       EventType = "stopped"
	EventBreakpointHit EventType = "breakpoint_hit"
	EventRequestInput  EventType = "request_input"
)

var knownEvents = map[EventType]bool{
	EventConnected:     true,
	EventGraphStart:    true,
	EventGraphEnd:      true,
	EventNodeStart:     true,
	EventNodeEnd:       true,
	EventStateUpdate:   true,
	EventInput:         true,
	EventOutput:        true,
	EventError:         true,
	EventPaused:        true,
	EventResumed:       true,
	EventStep:          true,
	EventStopped:       true,
	EventBreakpointHit: true,
	EventRequestInput:  true,
}

// Known reports whether t is part of the event namespace. Unknown
// types are not fatal; callers log and drop them.
func (t EventType) Known() bool {
	return knownEvents[t]
}

// CommandType discriminates frames sent by the controller.
type CommandType string

const (
	CommandPause            CommandType = "pause"
	CommandResume           CommandType = "resume"
	CommandStep             CommandType = "step"
	CommandStop             CommandType = "stop"
	CommandSetBreakpoint    CommandType = "set_breakpoint"
	CommandRemoveBreakpoint CommandType = "remove_breakpoint"
)

// Event is one inbound frame from the runtime. Data stays raw until a
// handler decodes it against the payload shape for the event type.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Command is one outbound frame to the runtime.
type Command struct {
	Command   CommandType `json:"command"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NodePayload is the data shape shared by node_start and node_end.
// Duration is reported by the runtime in milliseconds; a nil pointer
// means the runtime did not measure it and the controller derives one
// from its own clock.
type NodePayload struct {
	NodeID      string                 `json:"nodeId"`
	NodeName    string                 `json:"nodeName,omitempty"`
	Input       interface{}            `json:"input,omitempty"`
	Output      interface{}            `json:"output,omitempty"`
	StateBefore map[string]interface{} `json:"stateBefore,omitempty"`
	StateAfter  map[string]interface{} `json:"stateAfter,omitempty"`
	Duration    *float64               `json:"duration,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// GraphEndPayload is the data shape of graph_end. A non-nil
// TimeCapsule replaces the controller's stored history wholesale.
type GraphEndPayload struct {
	Output      interface{}       `json:"output,omitempty"`
	TimeCapsule []TimeCapsuleStep `json:"timeCapsule,omitempty"`
}

// StepType classifies a Time Capsule step.
type StepType string

const (
	StepInput  StepType = "input"
	StepNode   StepType = "node"
	StepOutput StepType = "output"
)

// TimeCapsuleStep is one completed execution step in a run history.
// The runtime writes the full sequence at graph_end; steps are never
// mutated afterwards.
type TimeCapsuleStep struct {
	Step        int                    `json:"step"`
	Node        string                 `json:"node"`
	Type        StepType               `json:"type"`
	Input       interface{}            `json:"input,omitempty"`
	Output      interface{}            `json:"output,omitempty"`
	StateBefore map[string]interface{} `json:"stateBefore,omitempty"`
	StateAfter  map[string]interface{} `json:"stateAfter,omitempty"`
	Duration    *float64               `json:"duration,omitempty"`
	Timestamp   int64                  `json:"timestamp,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// ParseEvent decodes a single inbound frame. A frame that is not valid
// JSON, or that carries no type discriminator, is rejected; the caller
// logs and drops it without touching session state.
func ParseEvent(frame []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("frame missing type discriminator")
	}
	return &ev, nil
}

// DecodeNode decodes the event payload as a node_start/node_end shape.
func (e *Event) DecodeNode() (*NodePayload, error) {
	var p NodePayload
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
	}
	if p.NodeID == "" {
		return nil, fmt.Errorf("%s payload missing nodeId", e.Type)
	}
	return &p, nil
}

// DecodeGraphEnd decodes the event payload as a graph_end shape.
func (e *Event) DecodeGraphEnd() (*GraphEndPayload, error) {
	var p GraphEndPayload
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("decode graph_end payload: %w", err)
		}
	}
	return &p, nil
}

// DecodeState decodes the event payload as a bare state map, the shape
// carried by state_update.
func (e *Event) DecodeState() (map[string]interface{}, error) {
	state := map[string]interface{}{}
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &state); err != nil {
			return nil, fmt.Errorf("decode state payload: %w", err)
		}
	}
	return state, nil
}

// NewCommand stamps a command frame with the current wall clock.
func NewCommand(cmd CommandType, data interface{}) Command {
	return Command{
		Command:   cmd,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// Encode serializes the command as a single frame, without the
// trailing newline (the transport owns framing).
func (c Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal command %s: %w", c.Command, err)
	}
	return data, nil
}
