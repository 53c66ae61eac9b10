package runtime

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLaunchRunsInterpreter(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	entry := filepath.Join(dir, "entry.sh")
	script := "#!/bin/sh\ntouch " + marker + "\n"
	if err := os.WriteFile(entry, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewExecLauncher()
	if err := l.Launch("/bin/sh", entry); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	defer l.Dispose()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("entry script never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLaunchEmptyInterpreter(t *testing.T) {
	l := NewExecLauncher()
	if err := l.Launch("", "entry.py"); err == nil {
		t.Error("expected error for empty interpreter path")
	}
}

func TestLaunchMissingInterpreter(t *testing.T) {
	l := NewExecLauncher()
	if err := l.Launch("/nonexistent/interpreter", "entry.py"); err == nil {
		t.Error("expected error for missing interpreter")
	}
}

func TestDisposeIdempotent(t *testing.T) {
	l := NewExecLauncher()
	// Dispose on an idle launcher is a no-op.
	l.Dispose()

	if err := l.Launch("/bin/sh", "-"); err != nil {
		// sh reading stdin blocks until killed; if the shell is not
		// available there is nothing to test here.
		t.Skipf("cannot launch shell: %v", err)
	}
	l.Dispose()
	l.Dispose()
}

func TestRelaunchReplacesProcess(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "sleep.sh")
	if err := os.WriteFile(entry, []byte("#!/bin/sh\nsleep 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewExecLauncher()
	if err := l.Launch("/bin/sh", entry); err != nil {
		t.Fatalf("first launch: %v", err)
	}
	if err := l.Launch("/bin/sh", entry); err != nil {
		t.Fatalf("second launch: %v", err)
	}
	l.Dispose()
}
