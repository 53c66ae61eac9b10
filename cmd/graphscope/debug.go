package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"graphscope/internal/runtime"
	"graphscope/internal/session"
	"graphscope/internal/store"
	"graphscope/internal/transport"
	"graphscope/internal/watch"
)

var debugCmd = &cobra.Command{
	Use:   "debug [workflow-file]",
	Short: "Start an interactive debug session against a workflow file",
	Long: `Starts the session transport, generates the runtime artifacts, and
launches the workflow interpreter against them. The session is then
driven from a small command prompt:

  pause | resume | step      execution control
  bp <node-id>               toggle a breakpoint
  state                      print the session snapshot
  capsule | next | prev | exit-capsule
                             Time Capsule navigation
  quit                       stop the session and exit`,
	Args: cobra.ExactArgs(1),
	RunE: runDebug,
}

func runDebug(cmd *cobra.Command, args []string) error {
	sourcePath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve workflow path: %w", err)
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return fmt.Errorf("workflow file: %w", err)
	}

	var archive *store.Archive
	if cfg.Archive.Enabled {
		archive, err = store.NewArchive(cfg.Archive.DatabasePath)
		if err != nil {
			logger.Warn("run archive unavailable", zap.Error(err))
			archive = nil
		} else {
			defer archive.Close()
		}
	}

	opts := session.Options{
		Transport:       transport.NewServer(),
		Launcher:        runtime.NewExecLauncher(),
		Generator:       bootstrapGenerator{},
		PreferredPort:   cfg.Session.PreferredPort,
		InterpreterPath: cfg.Session.InterpreterPath,
	}
	if archive != nil {
		opts.Archive = archive
	}

	ctrl, err := session.NewController(opts)
	if err != nil {
		return err
	}

	ctrl.SubscribeLog(func(entry session.LogEntry) {
		switch entry.Type {
		case session.LogError:
			logger.Error(entry.Message, zap.String("node", entry.NodeID))
		case session.LogNodeStart, session.LogNodeEnd:
			logger.Info(entry.Message, zap.String("node", entry.NodeID))
		default:
			logger.Debug(entry.Message, zap.String("type", string(entry.Type)))
		}
	})
	ctrl.SubscribeState(func(snap session.Session) {
		logger.Debug("session state",
			zap.String("execution", string(snap.ExecutionState)),
			zap.String("currentNode", snap.CurrentNode),
			zap.Bool("active", snap.IsActive))
	})

	port, err := ctrl.Start(sourcePath)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	logger.Info("debug session started",
		zap.Int("port", port),
		zap.String("workflow", sourcePath))

	if cfg.Watcher.Enabled {
		watcher, werr := watch.NewSourceWatcher(sourcePath, cfg.WatcherDebounce(), func(path string) {
			logger.Warn("workflow source changed; restart the session to pick it up",
				zap.String("path", path))
		})
		if werr != nil {
			logger.Warn("source watcher unavailable", zap.Error(werr))
		} else if werr := watcher.Start(); werr != nil {
			logger.Warn("source watcher failed to start", zap.Error(werr))
		} else {
			defer watcher.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("graphscope> type 'help' for commands")
	for {
		select {
		case <-sigCh:
			fmt.Println("\ninterrupted, stopping session")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := dispatch(ctrl, strings.Fields(strings.TrimSpace(line))); done {
				return nil
			}
		}
	}
}

func dispatch(ctrl *session.Controller, fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "help":
		fmt.Println("commands: pause resume step bp <node> state log capsule next prev exit-capsule quit")
	case "pause":
		ctrl.Pause()
	case "resume":
		ctrl.Resume()
	case "step":
		ctrl.Step()
	case "bp":
		if len(fields) < 2 {
			fmt.Println("usage: bp <node-id>")
			break
		}
		active := ctrl.ToggleBreakpoint(fields[1])
		fmt.Printf("breakpoint %s: %v\n", fields[1], active)
	case "state":
		printSnapshot(ctrl.GetState())
	case "log":
		for _, entry := range ctrl.Log() {
			fmt.Printf("%s [%s] %s\n", entry.Timestamp.Format("15:04:05.000"), entry.Type, entry.Message)
		}
	case "capsule":
		if err := ctrl.ActivateTimeCapsule(); err != nil {
			fmt.Println(err)
			break
		}
		printStep(ctrl)
	case "next":
		ctrl.TimeCapsuleNext()
		printStep(ctrl)
	case "prev":
		ctrl.TimeCapsulePrevious()
		printStep(ctrl)
	case "exit-capsule":
		ctrl.DeactivateTimeCapsule()
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	return false
}

func printSnapshot(snap session.Session) {
	fmt.Printf("active=%v state=%s node=%q port=%d breakpoints=%v records=%d capsule=%d\n",
		snap.IsActive, snap.ExecutionState, snap.CurrentNode, snap.Port,
		snap.Breakpoints, len(snap.NodeRecords), len(snap.TimeCapsule))
}

func printStep(ctrl *session.Controller) {
	step := ctrl.CurrentTimeCapsuleStep()
	if step == nil {
		return
	}
	marker := " "
	if ctrl.IsAtFirstStep() {
		marker = "first"
	}
	if ctrl.IsAtLastStep() {
		marker = "last"
	}
	fmt.Printf("step %d (%s) node=%s type=%s %s\n",
		step.Step, marker, step.Node, step.Type, stepError(step.Error))
}

func stepError(msg string) string {
	if msg == "" {
		return ""
	}
	return "error=" + msg
}
