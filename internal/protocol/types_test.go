package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseEvent(t *testing.T) {
	frame := []byte(`{"type":"node_start","timestamp":1712345678901,"data":{"nodeId":"analyze","nodeName":"Analyze","input":{"q":"hi"}}}`)
	ev, err := ParseEvent(frame)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if ev.Type != EventNodeStart {
		t.Errorf("expected node_start, got %s", ev.Type)
	}
	if ev.Timestamp != 1712345678901 {
		t.Errorf("unexpected timestamp %d", ev.Timestamp)
	}

	p, err := ev.DecodeNode()
	if err != nil {
		t.Fatalf("DecodeNode failed: %v", err)
	}
	if p.NodeID != "analyze" || p.NodeName != "Analyze" {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"type": "node_start"`,
		"missing type": `{"timestamp": 123}`,
		"empty object": `{}`,
	}
	for name, frame := range cases {
		if _, err := ParseEvent([]byte(frame)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDecodeNode_MissingNodeID(t *testing.T) {
	ev := &Event{Type: EventNodeEnd, Data: json.RawMessage(`{"output":"x"}`)}
	if _, err := ev.DecodeNode(); err == nil {
		t.Error("expected error for payload without nodeId")
	}
}

func TestDecodeGraphEnd(t *testing.T) {
	ev := &Event{Type: EventGraphEnd, Data: json.RawMessage(
		`{"output":{"answer":42},"timeCapsule":[{"step":0,"node":"__start__","type":"input"},{"step":1,"node":"work","type":"node","error":"boom"}]}`)}
	p, err := ev.DecodeGraphEnd()
	if err != nil {
		t.Fatalf("DecodeGraphEnd failed: %v", err)
	}
	if len(p.TimeCapsule) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(p.TimeCapsule))
	}
	if p.TimeCapsule[0].Node != "__start__" || p.TimeCapsule[0].Type != StepInput {
		t.Errorf("unexpected first step: %+v", p.TimeCapsule[0])
	}
	if p.TimeCapsule[1].Error != "boom" {
		t.Errorf("expected error on step 1, got %q", p.TimeCapsule[1].Error)
	}
}

func TestDecodeGraphEnd_NoCapsule(t *testing.T) {
	ev := &Event{Type: EventGraphEnd, Data: json.RawMessage(`{"output":"done"}`)}
	p, err := ev.DecodeGraphEnd()
	if err != nil {
		t.Fatalf("DecodeGraphEnd failed: %v", err)
	}
	if p.TimeCapsule != nil {
		t.Errorf("expected nil capsule, got %v", p.TimeCapsule)
	}
}

func TestCommandEncode(t *testing.T) {
	cmd := NewCommand(CommandSetBreakpoint, map[string]string{"nodeId": "tool"})
	frame, err := cmd.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if strings.Contains(string(frame), "\n") {
		t.Error("frame must not contain newlines; the transport owns framing")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if decoded["command"] != "set_breakpoint" {
		t.Errorf("expected command discriminator, got %v", decoded["command"])
	}
	if _, hasType := decoded["type"]; hasType {
		t.Error("commands must not use the event discriminator namespace")
	}
	if decoded["timestamp"].(float64) <= 0 {
		t.Error("expected a stamped timestamp")
	}
}

func TestEventTypeKnown(t *testing.T) {
	if !EventBreakpointHit.Known() {
		t.Error("breakpoint_hit should be known")
	}
	if EventType("bogus").Known() {
		t.Error("bogus should not be known")
	}
}
