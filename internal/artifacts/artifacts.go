// Package artifacts manages the two generated files handed to the
// remote runtime: an execution shim the runtime imports, and an entry
// wrapper it is launched against. Their content comes from an
// injected Generator; this package only owns the scratch location and
// its best-effort cleanup.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"graphscope/internal/logging"
)

// Generator produces the artifact contents for one session. The
// session core treats the bytes as opaque.
type Generator interface {
	// Shim returns the execution shim importable by the runtime.
	Shim(sourcePath string, port int) (filename string, content []byte, err error)
	// Entry returns the entry wrapper the runtime is launched against.
	// shimPath is the already-written shim location.
	Entry(sourcePath, shimPath string) (filename string, content []byte, err error)
}

// Set holds the written artifact paths for one session.
type Set struct {
	Dir       string
	ShimPath  string
	EntryPath string
}

// Write creates a session-unique scratch directory named after the
// start time and writes both artifacts into it.
func Write(gen Generator, sourcePath string, port int, startTime time.Time) (*Set, error) {
	if gen == nil {
		return nil, fmt.Errorf("artifact generator required")
	}

	name := fmt.Sprintf("graphscope-%s-%s",
		startTime.Format("20060102-150405"), uuid.NewString()[:8])
	dir := filepath.Join(os.TempDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	shimName, shimContent, err := gen.Shim(sourcePath, port)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("generate shim: %w", err)
	}
	shimPath := filepath.Join(dir, shimName)
	if err := os.WriteFile(shimPath, shimContent, 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write shim: %w", err)
	}

	entryName, entryContent, err := gen.Entry(sourcePath, shimPath)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("generate entry: %w", err)
	}
	entryPath := filepath.Join(dir, entryName)
	if err := os.WriteFile(entryPath, entryContent, 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write entry: %w", err)
	}

	logging.Get(logging.CategoryRuntime).Debug("artifacts written under %s", dir)
	return &Set{Dir: dir, ShimPath: shimPath, EntryPath: entryPath}, nil
}

// Cleanup removes the scratch directory. Failures are logged only;
// teardown never blocks on them.
func (s *Set) Cleanup() {
	if s == nil || s.Dir == "" {
		return
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		logging.Get(logging.CategoryRuntime).Warn("artifact cleanup: %v", err)
		return
	}
	logging.Get(logging.CategoryRuntime).Debug("artifacts removed: %s", s.Dir)
}
