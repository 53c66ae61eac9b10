// Package runtime starts the remote workflow process. The process is
// an independently scheduled black box that connects back over the
// session transport; this package only launches it against the
// generated entry artifact and disposes of it on stop.
package runtime

import (
	"fmt"
	"os/exec"
	"sync"

	"graphscope/internal/logging"
)

// Launcher starts an interactive process pointed at a generated entry
// file and disposes of it later. Implementations must tolerate
// Dispose being called on an already-dead process.
type Launcher interface {
	Launch(interpreterPath, entryPath string) error
	Dispose()
}

// ExecLauncher runs the interpreter as a child process.
type ExecLauncher struct {
	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewExecLauncher creates an idle launcher.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Launch starts interpreterPath with entryPath as its sole argument.
// A previously launched process is disposed of first.
func (l *ExecLauncher) Launch(interpreterPath, entryPath string) error {
	if interpreterPath == "" {
		return fmt.Errorf("interpreter path required")
	}

	l.Dispose()

	cmd := exec.Command(interpreterPath, entryPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", interpreterPath, err)
	}

	l.mu.Lock()
	l.cmd = cmd
	l.mu.Unlock()

	// Reap the process so it never lingers as a zombie. The session
	// controller learns about exits through the transport disconnect,
	// not from here.
	go func() {
		err := cmd.Wait()
		logging.Get(logging.CategoryRuntime).Debug("runtime process exited: %v", err)
	}()

	logging.Get(logging.CategoryRuntime).Info("launched %s %s (pid %d)",
		interpreterPath, entryPath, cmd.Process.Pid)
	return nil
}

// Dispose kills the running process, if any. Best effort.
func (l *ExecLauncher) Dispose() {
	l.mu.Lock()
	cmd := l.cmd
	l.cmd = nil
	l.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		logging.Get(logging.CategoryRuntime).Debug("dispose: %v", err)
	}
}

var _ Launcher = (*ExecLauncher)(nil)
