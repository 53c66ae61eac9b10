package session

import (
	"graphscope/internal/logging"
	"graphscope/internal/protocol"
)

// Time Capsule navigation: an index-addressed view over the recorded
// history of the last completed run. Navigation is pure with respect
// to the stored steps and fully independent of the live execution
// state; only activation and movement touch the current-node and
// current-state projection.

// ActivateTimeCapsule enters replay mode at step 0. Requires a
// non-empty history.
func (c *Controller) ActivateTimeCapsule() error {
	c.mu.Lock()
	st := c.state
	if len(st.timeCapsule) == 0 {
		c.mu.Unlock()
		return ErrEmptyCapsule
	}
	st.timeCapsuleActive = true
	st.timeCapsuleIndex = 0
	c.projectCapsuleLocked()
	snap := st.snapshot()
	c.mu.Unlock()

	logging.Capsule("time capsule activated (%d steps)", len(snap.TimeCapsule))
	c.notifier.publishState(snap)
	return nil
}

// DeactivateTimeCapsule leaves replay mode and clears the
// current-node spotlight. The history itself is never discarded.
func (c *Controller) DeactivateTimeCapsule() {
	c.mu.Lock()
	st := c.state
	if !st.timeCapsuleActive {
		c.mu.Unlock()
		return
	}
	st.timeCapsuleActive = false
	st.currentNode = ""
	snap := st.snapshot()
	c.mu.Unlock()

	logging.Capsule("time capsule deactivated")
	c.notifier.publishState(snap)
}

// TimeCapsuleNext moves one step forward, clamped at the last step.
// No-op unless replay mode is active.
func (c *Controller) TimeCapsuleNext() {
	c.moveCapsule(1)
}

// TimeCapsulePrevious moves one step back, clamped at step 0. No-op
// unless replay mode is active.
func (c *Controller) TimeCapsulePrevious() {
	c.moveCapsule(-1)
}

func (c *Controller) moveCapsule(delta int) {
	c.mu.Lock()
	st := c.state
	if !st.timeCapsuleActive || len(st.timeCapsule) == 0 {
		c.mu.Unlock()
		return
	}
	next := st.timeCapsuleIndex + delta
	if next < 0 || next >= len(st.timeCapsule) {
		c.mu.Unlock()
		return
	}
	st.timeCapsuleIndex = next
	c.projectCapsuleLocked()
	snap := st.snapshot()
	c.mu.Unlock()

	c.notifier.publishState(snap)
}

// IsAtFirstStep reports whether the capsule cursor is at step 0.
func (c *Controller) IsAtFirstStep() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.timeCapsuleIndex == 0
}

// IsAtLastStep reports whether the capsule cursor is at the final step.
func (c *Controller) IsAtLastStep() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.state.timeCapsule) == 0 {
		return true
	}
	return c.state.timeCapsuleIndex == len(c.state.timeCapsule)-1
}

// CurrentTimeCapsuleStep returns a copy of the step under the cursor,
// or nil when the history is empty.
func (c *Controller) CurrentTimeCapsuleStep() *protocol.TimeCapsuleStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	if len(st.timeCapsule) == 0 {
		return nil
	}
	step := st.timeCapsule[st.timeCapsuleIndex]
	return &step
}

// InstallHistory replaces the capsule wholesale with an externally
// loaded run (for example, one rehydrated from the archive) and
// resets the cursor. Replay mode starts deactivated.
func (c *Controller) InstallHistory(steps []protocol.TimeCapsuleStep) {
	c.mu.Lock()
	st := c.state
	st.timeCapsule = make([]protocol.TimeCapsuleStep, len(steps))
	copy(st.timeCapsule, steps)
	st.timeCapsuleIndex = 0
	st.timeCapsuleActive = false
	snap := st.snapshot()
	c.mu.Unlock()

	logging.Capsule("history installed: %d steps", len(steps))
	c.notifier.publishState(snap)
}

// projectCapsuleLocked recomputes the current-node/current-state view
// purely from the step under the cursor. Caller holds the lock.
func (c *Controller) projectCapsuleLocked() {
	st := c.state
	step := st.timeCapsule[st.timeCapsuleIndex]
	st.currentNode = step.Node
	if step.StateAfter != nil {
		st.currentState = step.StateAfter
	} else {
		st.currentState = step.StateBefore
	}
}
