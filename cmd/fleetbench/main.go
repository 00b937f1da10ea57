// Command fleetbench runs the benchmark controller, its drivers, the admin
// client and single-process benchmark runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "github.com/torosent/fleetbench/internal/backend/sim"
	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/logging"
	"github.com/torosent/fleetbench/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fleetbench",
		Short:         "Distributed load-testing harness",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterCommonFlags(root)
	root.AddCommand(
		newControllerCommand(),
		newDriverCommand(),
		newAdminCommand(),
		newRunCommand(),
	)
	return root
}

// environment is the configuration, logger and tracer a subcommand runs with.
type environment struct {
	cfg     *config.Config
	logger  *zap.Logger
	tracing *tracing.Provider
}

func setup(cmd *cobra.Command, role config.Role) (*environment, error) {
	cfg, err := config.NewLoader().Load(cmd.Flags(), role)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log, zap.String("role", string(role)))
	if err != nil {
		return nil, err
	}
	tp, err := tracing.Init(cmd.Context(), cfg.Tracing)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &environment{cfg: cfg, logger: logger, tracing: tp}, nil
}

func (e *environment) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.tracing.Shutdown(ctx); err != nil {
		e.logger.Warn("tracing shutdown", zap.Error(err))
	}
	_ = e.logger.Sync()
}
