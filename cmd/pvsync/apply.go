package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sigreer/pvsync/internal/config"
	"github.com/sigreer/pvsync/internal/db"
	"github.com/sigreer/pvsync/internal/lvm"
	"github.com/sigreer/pvsync/internal/reconcile"
)

var applyCmd = &cobra.Command{
	Use:   "apply [DEVICE...]",
	Short: "Create or remove physical volumes on the given devices",
	Long: `Converge the given block devices to the requested state.

Devices are taken from the arguments and --pvs, or from the "pvs" list in
the config file when neither is given. Symlinks are resolved and /dev/dm-N
nodes are rewritten to their /dev/mapper names before comparing with pvs.

  state=present  run pvcreate on devices that are not physical volumes
  state=absent   run pvremove on devices that are physical volumes

A physical volume that belongs to a volume group or has allocated extents
is only removed with --force. The result is printed to stdout; the exit
status is 1 if the run failed.`,
	Run: runApply,
}

func init() {
	addApplyFlags(applyCmd)
}

func addApplyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice("pvs", nil, "devices to manage (comma separated or repeated)")
	f.String("pv-options", "", "extra options passed to pvcreate")
	f.String("pv-args", "", "alias of --pv-options")
	f.String("state", "", "desired state: present or absent")
	f.Bool("force", false, "remove physical volumes even if in use")
	f.Bool("check", false, "report what would change without changing anything")
	f.Duration("timeout", 0, "timeout for pvs and dmsetup (0 waits indefinitely)")
	f.StringP("output", "o", "json", "output format: json or text")
	f.Bool("history", false, "record the run in the history database")

	cmd.MarkFlagsMutuallyExclusive("pv-options", "pv-args")
}

// applyFlags merges explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, args []string, cfg *config.Config) error {
	f := cmd.Flags()

	devices, _ := f.GetStringSlice("pvs")
	devices = append(append([]string(nil), args...), devices...)
	if len(devices) > 0 {
		cfg.PVs = devices
	}

	if f.Changed("pv-options") {
		cfg.PVOptions, _ = f.GetString("pv-options")
		cfg.PVArgs = ""
	}
	if f.Changed("pv-args") {
		cfg.PVArgs, _ = f.GetString("pv-args")
		cfg.PVOptions = ""
	}
	if f.Changed("state") {
		cfg.State, _ = f.GetString("state")
	}
	if f.Changed("force") {
		cfg.Force, _ = f.GetBool("force")
	}
	if f.Changed("check") {
		cfg.CheckMode, _ = f.GetBool("check")
	}
	if f.Changed("timeout") {
		cfg.CommandTimeout, _ = f.GetDuration("timeout")
	}
	if f.Changed("history") {
		cfg.History.Enabled, _ = f.GetBool("history")
	}

	return cfg.Validate()
}

// newClient builds the LVM client described by cfg.
func newClient(cfg *config.Config, logger *logrus.Logger) *lvm.Client {
	opts := []lvm.ClientOption{
		lvm.WithLogger(logger),
		lvm.WithCommandTimeout(cfg.CommandTimeout),
	}
	for tool, path := range cfg.Tools {
		opts = append(opts, lvm.WithToolPath(tool, path))
	}
	return lvm.NewClient(opts...)
}

func runApply(cmd *cobra.Command, args []string) {
	output, _ := cmd.Flags().GetString("output")
	if output != "json" && output != "text" {
		fmt.Fprintf(os.Stderr, "Error: invalid output format %q\n", output)
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(cmd, args, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	req, err := cfg.Request()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconciler := reconcile.New(newClient(cfg, logger), reconcile.WithLogger(logger))

	started := time.Now()
	result, runErr := reconciler.Reconcile(ctx, req)
	ended := time.Now()

	if cfg.History.Enabled {
		recordHistory(cfg.History.Path, newRunRecord(req, result, runErr, started, ended), logger)
	}

	if err := printResult(os.Stdout, output, result, runErr); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing result: %v\n", err)
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func printResult(w io.Writer, output string, result *reconcile.Result, runErr error) error {
	if output == "text" {
		reconcile.PrintText(w, result, runErr)
		return nil
	}
	return reconcile.PrintJSON(w, result, runErr)
}

// recordHistory stores run in the database at path. Failures are logged and
// do not change the outcome of the run.
func recordHistory(path string, run *db.RunRecord, logger *logrus.Logger) {
	database, err := db.New(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("could not open history database")
		return
	}
	defer database.Close()

	if err := database.RecordRun(run); err != nil {
		logger.WithError(err).WithField("path", path).Warn("could not record run")
		return
	}
	logger.WithField("run_id", run.ID).Debug("run recorded")
}
