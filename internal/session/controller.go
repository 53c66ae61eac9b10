package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"graphscope/internal/artifacts"
	"graphscope/internal/graph"
	"graphscope/internal/logging"
	"graphscope/internal/protocol"
	"graphscope/internal/runtime"
)

// ErrSessionActive is returned by Start while a session is running.
var ErrSessionActive = errors.New("debug session already active")

// ErrEmptyCapsule is returned by ActivateTimeCapsule when no run
// history has been recorded yet.
var ErrEmptyCapsule = errors.New("no run history recorded")

// Transport is the controller's view of the session transport.
// *transport.Server satisfies it; tests substitute a fake.
type Transport interface {
	Start(preferredPort int) (int, error)
	Stop() error
	Send(cmd protocol.CommandType, data interface{}) bool
	IsConnected() bool
	OnMessage(func(*protocol.Event))
	OnConnected(func())
	OnDisconnected(func())
}

// RunArchive persists completed run histories. Implementations are
// best-effort collaborators; a save failure never disturbs the live
// session.
type RunArchive interface {
	SaveRun(sessionID string, startedAt time.Time, steps []protocol.TimeCapsuleStep, finalOutput interface{}) error
}

// Options wires a Controller. Transport is required; the rest are
// optional collaborators (a nil Launcher skips process spawning, a
// nil Generator skips artifact writing, and so on).
type Options struct {
	Transport       Transport
	Launcher        runtime.Launcher
	Generator       artifacts.Generator
	Provider        graph.Provider
	Archive         RunArchive
	PreferredPort   int
	InterpreterPath string
}

// Controller owns all session state. It is mutated only through its
// own operations and the transport callbacks it registers; callers
// observe it exclusively through snapshots and notifications.
//
// Inbound events arrive from the transport's single reader goroutine
// and are handled one at a time in arrival order; the mutex extends
// the same serialization to locally invoked operations.
type Controller struct {
	mu sync.Mutex

	state    *sessionState
	notifier *notifier

	transport Transport
	launcher  runtime.Launcher
	generator artifacts.Generator
	provider  graph.Provider
	archive   RunArchive

	preferredPort   int
	interpreterPath string

	workflow    *graph.Workflow
	artifactSet *artifacts.Set
	sourcePath  string
}

// NewController creates a controller and registers its transport
// callbacks. The caller owns the instance; there is no package-level
// singleton.
func NewController(opts Options) (*Controller, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport required")
	}

	c := &Controller{
		state:           newSessionState(),
		notifier:        newNotifier(),
		transport:       opts.Transport,
		launcher:        opts.Launcher,
		generator:       opts.Generator,
		provider:        opts.Provider,
		archive:         opts.Archive,
		preferredPort:   opts.PreferredPort,
		interpreterPath: opts.InterpreterPath,
	}

	c.transport.OnMessage(c.handleEvent)
	c.transport.OnConnected(func() {
		logging.Session("runtime peer connected")
	})
	c.transport.OnDisconnected(c.handleDisconnect)

	return c, nil
}

// SubscribeState registers a session-state-changed listener and
// returns its unsubscribe func.
func (c *Controller) SubscribeState(fn StateListener) func() {
	return c.notifier.subscribeState(fn)
}

// SubscribeNode registers a node-execution-changed listener.
func (c *Controller) SubscribeNode(fn NodeListener) func() {
	return c.notifier.subscribeNode(fn)
}

// SubscribeLog registers a log-entry-appended listener.
func (c *Controller) SubscribeLog(fn LogListener) func() {
	return c.notifier.subscribeLog(fn)
}

// GetState returns a snapshot copy of the session.
func (c *Controller) GetState() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.snapshot()
}

// Log returns a copy of the session log.
func (c *Controller) Log() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]LogEntry, len(c.state.log))
	copy(entries, c.state.log)
	return entries
}

// Workflow returns the static graph discovered at Start, if any.
func (c *Controller) Workflow() *graph.Workflow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workflow
}

// Start opens the transport, writes the runtime artifacts, and spawns
// the remote process against the entry wrapper. Per-run collections
// are reset; the Time Capsule is left untouched. Rejected while a
// session is already active. Returns the bound port.
func (c *Controller) Start(sourcePath string) (int, error) {
	c.mu.Lock()
	if c.state.isActive {
		c.mu.Unlock()
		logging.Get(logging.CategorySession).Warn("start rejected: session already active")
		return 0, ErrSessionActive
	}

	now := time.Now()
	st := c.state
	st.id = uuid.NewString()
	st.isActive = true
	st.executionState = StateStopped
	st.currentNode = ""
	st.currentState = nil
	st.startTime = &now
	st.port = 0
	st.interpreterPath = c.interpreterPath
	st.finalOutput = nil
	st.nodeRecords = make(map[string]*NodeExecutionRecord)
	st.log = nil
	c.sourcePath = sourcePath
	c.mu.Unlock()

	fail := func(err error) (int, error) {
		c.mu.Lock()
		c.state.isActive = false
		c.state.port = 0
		c.mu.Unlock()
		return 0, err
	}

	// Graph discovery is an external collaborator; a failure there
	// degrades sentinel normalization but never blocks the session.
	var wf *graph.Workflow
	if c.provider != nil {
		var err error
		wf, err = c.provider.Workflow(sourcePath)
		if err != nil {
			logging.Get(logging.CategorySession).Warn("graph provider: %v", err)
			wf = nil
		}
	}

	port, err := c.transport.Start(c.preferredPort)
	if err != nil {
		return fail(fmt.Errorf("open transport: %w", err))
	}

	var set *artifacts.Set
	if c.generator != nil {
		set, err = artifacts.Write(c.generator, sourcePath, port, now)
		if err != nil {
			_ = c.transport.Stop()
			return fail(fmt.Errorf("write artifacts: %w", err))
		}
	}

	if c.launcher != nil && set != nil {
		if err := c.launcher.Launch(c.interpreterPath, set.EntryPath); err != nil {
			set.Cleanup()
			_ = c.transport.Stop()
			return fail(fmt.Errorf("launch runtime: %w", err))
		}
	}

	c.mu.Lock()
	c.state.port = port
	c.workflow = wf
	c.artifactSet = set
	c.appendLogLocked(LogInfo, "", fmt.Sprintf("debug session listening on port %d", port), nil)
	entry := c.state.log[len(c.state.log)-1]
	snap := c.state.snapshot()
	c.mu.Unlock()

	logging.Session("session %s started on port %d", snap.ID, port)
	c.notifier.publishLog(entry)
	c.notifier.publishState(snap)
	return port, nil
}

// Stop tears the session down: best-effort stop command, transport
// shutdown, process disposal, artifact cleanup. It is idempotent,
// never blocks on remote acknowledgement, and explicitly preserves
// the Time Capsule fields across the reset.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasActive := c.state.isActive
	set := c.artifactSet
	c.artifactSet = nil
	c.mu.Unlock()

	if wasActive {
		c.transport.Send(protocol.CommandStop, nil)
	}
	if err := c.transport.Stop(); err != nil {
		logging.Get(logging.CategorySession).Warn("transport stop: %v", err)
	}
	if c.launcher != nil {
		c.launcher.Dispose()
	}
	set.Cleanup()

	c.mu.Lock()
	st := c.state
	st.isActive = false
	st.executionState = StateStopped
	st.currentNode = ""
	st.currentState = nil
	st.port = 0
	// timeCapsule, timeCapsuleIndex, timeCapsuleActive intentionally
	// untouched: history outlives the session.
	snap := st.snapshot()
	c.mu.Unlock()

	if wasActive {
		logging.Session("session stopped")
	}
	c.notifier.publishState(snap)
}

// Pause asks the runtime to pause. Cooperative: the displayed state
// only changes when the matching paused event arrives. No-op unless
// currently running.
func (c *Controller) Pause() {
	if !c.requireState(StateRunning, "pause") {
		return
	}
	c.transport.Send(protocol.CommandPause, nil)
}

// Resume asks a paused runtime to continue. Cooperative, like Pause.
func (c *Controller) Resume() {
	if !c.requireState(StatePaused, "resume") {
		return
	}
	c.transport.Send(protocol.CommandResume, nil)
}

// Step asks a paused runtime to execute a single node. Cooperative;
// the step event moves the state to Stepping.
func (c *Controller) Step() {
	if !c.requireState(StatePaused, "step") {
		return
	}
	c.transport.Send(protocol.CommandStep, nil)
}

func (c *Controller) requireState(want ExecutionState, op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.isActive || c.state.executionState != want {
		logging.SessionDebug("%s ignored in state %s (active=%v)",
			op, c.state.executionState, c.state.isActive)
		return false
	}
	return true
}

// ToggleBreakpoint flips membership of nodeID in the breakpoint set
// and best-effort relays the change to the runtime. The local set is
// authoritative regardless of delivery. Returns the new membership.
func (c *Controller) ToggleBreakpoint(nodeID string) bool {
	c.mu.Lock()
	var active bool
	if c.state.breakpoints[nodeID] {
		delete(c.state.breakpoints, nodeID)
		active = false
	} else {
		c.state.breakpoints[nodeID] = true
		active = true
	}
	snap := c.state.snapshot()
	c.mu.Unlock()

	cmd := protocol.CommandRemoveBreakpoint
	if active {
		cmd = protocol.CommandSetBreakpoint
	}
	c.transport.Send(cmd, map[string]string{"nodeId": nodeID})

	logging.SessionDebug("breakpoint %s -> %v", nodeID, active)
	c.notifier.publishState(snap)
	return active
}

// emission collects the notifications a locked mutation produced, so
// they can be published after the lock is released.
type emission struct {
	records []NodeExecutionRecord
	logs    []LogEntry
}

func (c *Controller) appendLogLocked(t LogEntryType, nodeID, msg string, data interface{}) LogEntry {
	entry := LogEntry{
		Timestamp: time.Now(),
		Type:      t,
		NodeID:    nodeID,
		Message:   msg,
		Data:      data,
	}
	c.state.log = append(c.state.log, entry)
	return entry
}

func (c *Controller) logEvent(em *emission, t LogEntryType, nodeID, msg string, data interface{}) {
	em.logs = append(em.logs, c.appendLogLocked(t, nodeID, msg, data))
}

// handleEvent applies one inbound frame to the state machine. It runs
// on the transport's reader goroutine, one event at a time.
func (c *Controller) handleEvent(ev *protocol.Event) {
	var em emission
	var archiveSteps []protocol.TimeCapsuleStep
	var archiveOutput interface{}

	c.mu.Lock()
	st := c.state

	switch ev.Type {
	case protocol.EventConnected:
		c.logEvent(&em, LogInfo, "", "runtime connected", nil)

	case protocol.EventGraphStart:
		st.executionState = StateRunning
		st.nodeRecords = make(map[string]*NodeExecutionRecord)
		st.currentNode = ""
		st.finalOutput = nil
		c.logEvent(&em, LogInfo, "", "graph execution started", nil)

	case protocol.EventNodeStart:
		p, err := ev.DecodeNode()
		if err != nil {
			logging.Get(logging.CategorySession).Warn("%v", err)
			break
		}
		name := p.NodeName
		if name == "" {
			name = p.NodeID
		}
		rec := &NodeExecutionRecord{
			NodeID:      p.NodeID,
			NodeName:    name,
			Status:      NodeRunning,
			Input:       p.Input,
			StateBefore: p.StateBefore,
			StartTime:   time.Now(),
		}
		st.nodeRecords[p.NodeID] = rec
		st.currentNode = p.NodeID
		if p.StateBefore != nil {
			st.currentState = p.StateBefore
		}
		em.records = append(em.records, *rec)
		c.logEvent(&em, LogNodeStart, p.NodeID, fmt.Sprintf("node %s started", name), p.Input)

	case protocol.EventNodeEnd:
		p, err := ev.DecodeNode()
		if err != nil {
			logging.Get(logging.CategorySession).Warn("%v", err)
			break
		}
		rec, ok := st.nodeRecords[p.NodeID]
		if !ok {
			// Out-of-order or unexpected; record it and move on.
			c.logEvent(&em, LogInfo, p.NodeID, "node_end for unknown node ignored", nil)
			break
		}
		if p.Error != "" {
			rec.Status = NodeError
			rec.Error = p.Error
		} else {
			rec.Status = NodeCompleted
		}
		rec.EndTime = time.Now()
		if p.Duration != nil {
			rec.Duration = time.Duration(*p.Duration * float64(time.Millisecond))
		} else {
			rec.Duration = rec.EndTime.Sub(rec.StartTime)
		}
		if rec.Duration < 0 {
			rec.Duration = 0
		}
		rec.Output = p.Output
		rec.StateAfter = p.StateAfter
		if p.StateAfter != nil {
			st.currentState = p.StateAfter
		}
		if st.currentNode == p.NodeID {
			st.currentNode = ""
		}
		em.records = append(em.records, *rec)
		if rec.Status == NodeError {
			c.logEvent(&em, LogNodeEnd, p.NodeID,
				fmt.Sprintf("node %s failed: %s", rec.NodeName, rec.Error), p.Output)
		} else {
			c.logEvent(&em, LogNodeEnd, p.NodeID,
				fmt.Sprintf("node %s completed in %s", rec.NodeName, rec.Duration), p.Output)
		}

	case protocol.EventStateUpdate:
		state, err := ev.DecodeState()
		if err != nil {
			logging.Get(logging.CategorySession).Warn("%v", err)
			break
		}
		st.currentState = state
		c.logEvent(&em, LogStateUpdate, st.currentNode, "state updated", state)

	case protocol.EventInput:
		c.logEvent(&em, LogInput, "", "workflow input", rawData(ev))

	case protocol.EventOutput:
		c.logEvent(&em, LogOutput, "", "workflow output", rawData(ev))

	case protocol.EventError:
		c.logEvent(&em, LogError, "", "runtime error", rawData(ev))

	case protocol.EventPaused:
		st.executionState = StatePaused
		c.logEvent(&em, LogInfo, "", "execution paused", nil)

	case protocol.EventResumed:
		st.executionState = StateRunning
		c.logEvent(&em, LogInfo, "", "execution resumed", nil)

	case protocol.EventStep:
		st.executionState = StateStepping

	case protocol.EventBreakpointHit:
		// Forced pause, regardless of prior state.
		st.executionState = StatePaused
		nodeID := ""
		if p, err := ev.DecodeNode(); err == nil {
			nodeID = p.NodeID
			st.currentNode = p.NodeID
		}
		c.logEvent(&em, LogInfo, nodeID, "breakpoint hit", nil)

	case protocol.EventGraphEnd:
		p, err := ev.DecodeGraphEnd()
		if err != nil {
			logging.Get(logging.CategorySession).Warn("%v", err)
			break
		}
		st.executionState = StateStopped
		st.currentNode = ""
		st.finalOutput = p.Output
		if p.TimeCapsule != nil {
			steps := make([]protocol.TimeCapsuleStep, len(p.TimeCapsule))
			copy(steps, p.TimeCapsule)
			for i := range steps {
				steps[i].Node = graph.NormalizeSentinel(c.workflow, steps[i].Node)
			}
			st.timeCapsule = steps
			st.timeCapsuleIndex = 0
			st.timeCapsuleActive = false
			archiveSteps = steps
			archiveOutput = p.Output
			logging.Capsule("run history recorded: %d steps", len(steps))
		}
		c.logEvent(&em, LogInfo, "", "graph execution completed", p.Output)

	case protocol.EventStopped:
		st.executionState = StateStopped
		c.logEvent(&em, LogInfo, "", "execution stopped by runtime", nil)

	case protocol.EventRequestInput:
		c.logEvent(&em, LogInput, "", "runtime requests input", rawData(ev))

	default:
		logging.Get(logging.CategorySession).Warn("unknown event type %q dropped", ev.Type)
	}

	sessionID := st.id
	startedAt := time.Now()
	if st.startTime != nil {
		startedAt = *st.startTime
	}
	snap := st.snapshot()
	c.mu.Unlock()

	if archiveSteps != nil && c.archive != nil {
		if err := c.archive.SaveRun(sessionID, startedAt, archiveSteps, archiveOutput); err != nil {
			logging.Get(logging.CategoryStore).Warn("archive run: %v", err)
		}
	}

	for _, rec := range em.records {
		c.notifier.publishNode(rec)
	}
	for _, entry := range em.logs {
		c.notifier.publishLog(entry)
	}
	c.notifier.publishState(snap)
}

// handleDisconnect treats a dropped peer as an implicit stop signal
// while a session is active. It never tears down the transport or the
// recorded history; only an explicit Stop does that. A disconnect
// while inactive changes nothing and logs nothing.
func (c *Controller) handleDisconnect() {
	c.mu.Lock()
	if !c.state.isActive {
		c.mu.Unlock()
		return
	}
	st := c.state
	st.isActive = false
	st.executionState = StateStopped
	st.currentNode = ""
	entry := c.appendLogLocked(LogInfo, "", "runtime disconnected, session stopped", nil)
	snap := st.snapshot()
	c.mu.Unlock()

	logging.Session("peer disconnected while active, session marked stopped")
	c.notifier.publishLog(entry)
	c.notifier.publishState(snap)
}

// rawData decodes an event payload into a generic value for the log.
// Undecodable payloads collapse to nil; the frame itself was already
// valid JSON getting here.
func rawData(ev *protocol.Event) interface{} {
	if len(ev.Data) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		return nil
	}
	return v
}
