package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/output"
	"github.com/torosent/fleetbench/internal/runner"
	"github.com/torosent/fleetbench/internal/workload"
)

const progressInterval = time.Second

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workload.yaml>",
		Short: "Run a workload in this process without a controller",
		Args:  cobra.ExactArgs(1),
		RunE:  runLocal,
	}
	config.RegisterRunFlags(cmd)
	cmd.Flags().String("log-dir", "logs", "Directory for the run log and dump files")
	cmd.Flags().Bool("progress", true, "Redraw a status line while the run is going")
	return cmd
}

func runLocal(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd, config.RoleRun)
	if err != nil {
		return err
	}
	defer env.close()
	run := env.cfg.Run

	wl, err := workload.Load(args[0])
	if err != nil {
		return err
	}
	logDir, err := cmd.Flags().GetString("log-dir")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	opts := run.RunnerOptions(wl)
	opts.BaseDir = filepath.Dir(args[0])
	opts.LogDir = logDir
	bench, err := runner.New(opts, env.logger)
	if err != nil {
		return err
	}

	showProgress, err := cmd.Flags().GetBool("progress")
	if err != nil {
		return err
	}
	var progress *output.ProgressReporter
	if showProgress {
		progress = output.NewProgressReporter(func() string { return bench.Status().String() }, progressInterval, cmd.ErrOrStderr())
		progress.Start()
	}

	env.logger.Info("running workload",
		zap.String("workload", wl.Name),
		zap.String("run", bench.RunID()),
		zap.Duration("warmup", run.Warmup),
		zap.Duration("duration", run.Duration))
	runErr := bench.Run(cmd.Context(), run.Warmup, run.Duration)
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(cmd.ErrOrStderr())
	}

	fmt.Fprintln(cmd.OutOrStdout(), bench.Status().String())
	fmt.Fprintf(cmd.OutOrStdout(), "log: %s\n", bench.LogPath())
	return runErr
}
