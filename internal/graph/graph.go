// Package graph carries the workflow graph value types the session
// core shares with its collaborators. Discovering the graph from
// source files is an external concern; this package only defines the
// shapes a provider hands back and the sentinel identifiers the
// runtime uses for the implicit entry and exit markers.
package graph

// Sentinel node identifiers emitted by the runtime for the implicit
// entry and exit of a run. Histories normalize them to the workflow's
// designated start and end nodes so a UI can highlight steps
// consistently with the static graph view.
const (
	SentinelStart = "__start__"
	SentinelEnd   = "__end__"
)

// Node is one named processing step.
type Node struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Kind  string `json:"kind,omitempty"` // e.g. "agent", "tool", "router"
	Start bool   `json:"start,omitempty"`
	End   bool   `json:"end,omitempty"`
}

// Edge is a directed connection between two nodes. Conditional edges
// carry the routing label the workflow uses to pick them.
type Edge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// Workflow is the static structure of one node-based workflow.
type Workflow struct {
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// StartNode returns the identifier of the designated entry node, or
// the sentinel when none is marked.
func (w *Workflow) StartNode() string {
	for _, n := range w.Nodes {
		if n.Start {
			return n.ID
		}
	}
	return SentinelStart
}

// EndNode returns the identifier of the designated exit node, or the
// sentinel when none is marked.
func (w *Workflow) EndNode() string {
	for _, n := range w.Nodes {
		if n.End {
			return n.ID
		}
	}
	return SentinelEnd
}

// NormalizeSentinel maps the runtime's entry/exit markers onto the
// workflow's designated start and end identifiers. Non-sentinel ids
// pass through unchanged. A nil workflow leaves sentinels as-is.
func NormalizeSentinel(w *Workflow, nodeID string) string {
	if w == nil {
		return nodeID
	}
	switch nodeID {
	case SentinelStart:
		return w.StartNode()
	case SentinelEnd:
		return w.EndNode()
	default:
		return nodeID
	}
}

// Provider supplies the static workflow for a source document. The
// session core never parses source itself; a provider is injected by
// whatever composes the system.
type Provider interface {
	Workflow(sourcePath string) (*Workflow, error)
}
