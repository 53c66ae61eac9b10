package session

import "sync"

// Listeners receive controller notifications. Callbacks run after the
// controller releases its lock, on the goroutine that caused the
// change; a listener that needs to call back into the controller may
// do so safely.
type (
	StateListener func(Session)
	NodeListener  func(NodeExecutionRecord)
	LogListener   func(LogEntry)
)

// notifier is an explicit publish-subscribe registry: any number of
// subscribers per channel, each with its own unsubscribe handle.
type notifier struct {
	mu     sync.RWMutex
	nextID int
	state  map[int]StateListener
	node   map[int]NodeListener
	log    map[int]LogListener
}

func newNotifier() *notifier {
	return &notifier{
		state: make(map[int]StateListener),
		node:  make(map[int]NodeListener),
		log:   make(map[int]LogListener),
	}
}

func (n *notifier) subscribeState(fn StateListener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.state[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.state, id)
	}
}

func (n *notifier) subscribeNode(fn NodeListener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.node[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.node, id)
	}
}

func (n *notifier) subscribeLog(fn LogListener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.log[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.log, id)
	}
}

func (n *notifier) publishState(snap Session) {
	n.mu.RLock()
	fns := make([]StateListener, 0, len(n.state))
	for _, fn := range n.state {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (n *notifier) publishNode(rec NodeExecutionRecord) {
	n.mu.RLock()
	fns := make([]NodeListener, 0, len(n.node))
	for _, fn := range n.node {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()
	for _, fn := range fns {
		fn(rec)
	}
}

func (n *notifier) publishLog(entry LogEntry) {
	n.mu.RLock()
	fns := make([]LogListener, 0, len(n.log))
	for _, fn := range n.log {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()
	for _, fn := range fns {
		fn(entry)
	}
}
