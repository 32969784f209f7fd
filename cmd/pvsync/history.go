package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sigreer/pvsync/internal/db"
	"github.com/sigreer/pvsync/internal/reconcile"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded apply runs",
	Long: `Show runs recorded with "pvsync apply --history".

Without --run the most recent runs are listed. With --run the actions of a
single run are shown in the order they were decided.`,
	Run: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum number of runs to show")
	historyCmd.Flags().Bool("json", false, "Output as JSON")
	historyCmd.Flags().String("run", "", "Show the actions of a single run")
}

// newRunRecord converts a reconcile outcome into a history record.
func newRunRecord(req reconcile.Request, result *reconcile.Result, runErr error, started, ended time.Time) *db.RunRecord {
	run := &db.RunRecord{
		State:     string(req.State),
		Force:     req.Force,
		CheckMode: req.CheckMode,
		Devices:   req.Devices,
		Options:   req.Options,
		StartedAt: started,
		EndedAt:   ended,
	}
	if run.State == "" {
		run.State = string(reconcile.StatePresent)
	}

	if result != nil {
		run.Changed = result.Changed
		for _, step := range result.Actions {
			run.Actions = append(run.Actions, db.ActionRecord{
				Device:  step.Device,
				Action:  string(step.Action),
				VGName:  step.VGName,
				Applied: step.Applied,
			})
		}
	}

	if runErr != nil {
		run.Failed = true
		run.Message = runErr.Error()
		var f *reconcile.Failure
		if errors.As(runErr, &f) {
			run.Kind = string(f.Kind)
			run.Stderr = f.Stderr
			if f.ExitCode >= 0 {
				rc := f.ExitCode
				run.ExitCode = &rc
			}
		}
	}

	return run
}

func runHistory(cmd *cobra.Command, args []string) {
	jsonOut, _ := cmd.Flags().GetBool("json")
	limit, _ := cmd.Flags().GetInt("limit")
	runID, _ := cmd.Flags().GetString("run")

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	database, err := db.New(cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	if runID != "" {
		run, err := database.GetRun(runID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if run == nil {
			fmt.Fprintf(os.Stderr, "Run not found: %s\n", runID)
			os.Exit(1)
		}
		if jsonOut {
			if err := writeJSON(os.Stdout, run); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
				os.Exit(1)
			}
			return
		}
		printRun(run)
		return
	}

	runs, err := database.RecentRuns(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOut {
		if err := writeJSON(os.Stdout, runs); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded. Use 'pvsync apply --history' to record runs.")
		return
	}

	fmt.Printf("%-36s %-16s %-8s %-8s %-8s %s\n", "ID", "STARTED", "STATE", "CHANGED", "RESULT", "DEVICES")
	fmt.Println(strings.Repeat("-", 100))
	for _, r := range runs {
		fmt.Printf("%-36s %-16s %-8s %-8t %-8s %s\n",
			r.ID, humanize.Time(r.StartedAt), r.State, r.Changed, runStatus(r), strings.Join(r.Devices, ","))
	}
}

func runStatus(r *db.RunRecord) string {
	switch {
	case r.Failed:
		return "failed"
	case r.CheckMode:
		return "check"
	}
	return "ok"
}

func printRun(run *db.RunRecord) {
	fmt.Printf("Run: %s\n", run.ID)
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("  Started:    %s (%s)\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt))
	fmt.Printf("  Duration:   %s\n", run.Duration().Round(time.Millisecond))
	fmt.Printf("  State:      %s\n", run.State)
	fmt.Printf("  Force:      %t\n", run.Force)
	fmt.Printf("  Check mode: %t\n", run.CheckMode)
	if len(run.Options) > 0 {
		fmt.Printf("  Options:    %s\n", strings.Join(run.Options, " "))
	}
	fmt.Printf("  Changed:    %t\n", run.Changed)

	if run.Failed {
		fmt.Println()
		fmt.Printf("  Failed (%s): %s\n", run.Kind, run.Message)
		if run.ExitCode != nil {
			fmt.Printf("  Exit code:  %d\n", *run.ExitCode)
		}
		if run.Stderr != "" {
			fmt.Printf("  Stderr:     %s\n", run.Stderr)
		}
	}

	if len(run.Actions) > 0 {
		fmt.Println()
		fmt.Println("Actions:")
		fmt.Println(strings.Repeat("-", 40))
		for _, a := range run.Actions {
			applied := ""
			if a.Applied {
				applied = " (applied)"
			}
			vg := ""
			if a.VGName != "" {
				vg = " vg " + a.VGName
			}
			fmt.Printf("  %2d  %-14s %s%s%s\n", a.Seq, a.Action, a.Device, vg, applied)
		}
	}
}
