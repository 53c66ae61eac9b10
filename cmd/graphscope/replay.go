package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"graphscope/internal/session"
	"graphscope/internal/store"
	"graphscope/internal/transport"
)

var replayCmd = &cobra.Command{
	Use:   "replay [run-id]",
	Short: "Replay an archived run through the Time Capsule",
	Long: `Without arguments, lists archived runs. With a run id, loads that
run's history into a Time Capsule and steps through it interactively;
no workflow process is started.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	archive, err := store.NewArchive(cfg.Archive.DatabasePath)
	if err != nil {
		return fmt.Errorf("open run archive: %w", err)
	}
	defer archive.Close()

	if len(args) == 0 {
		runs, err := archive.ListRuns(0)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no archived runs")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%4d  %s  %3d steps  session %s\n",
				r.ID, r.SavedAt.Format("2006-01-02 15:04:05"), r.StepCount, r.SessionID)
		}
		return nil
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("run id must be numeric: %w", err)
	}
	steps, err := archive.LoadRun(id)
	if err != nil {
		return err
	}

	// A controller with no launcher or generator: the capsule is the
	// only thing exercised here.
	ctrl, err := session.NewController(session.Options{Transport: transport.NewServer()})
	if err != nil {
		return err
	}
	ctrl.InstallHistory(steps)
	if err := ctrl.ActivateTimeCapsule(); err != nil {
		return err
	}

	fmt.Printf("replaying run %d (%d steps); commands: next prev show quit\n", id, len(steps))
	printStep(ctrl)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "next", "n":
			ctrl.TimeCapsuleNext()
			printStep(ctrl)
		case "prev", "p":
			ctrl.TimeCapsulePrevious()
			printStep(ctrl)
		case "show", "s":
			if step := ctrl.CurrentTimeCapsuleStep(); step != nil {
				fmt.Printf("input=%v\noutput=%v\nstateBefore=%v\nstateAfter=%v\n",
					step.Input, step.Output, step.StateBefore, step.StateAfter)
			}
		case "quit", "q", "exit":
			return nil
		case "":
		default:
			fmt.Println("commands: next prev show quit")
		}
	}
	return nil
}
