package main

import (
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/controller"
)

func newControllerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Serve drivers and the admin session",
		Args:  cobra.NoArgs,
		RunE:  runController,
	}
	config.RegisterControllerFlags(cmd)
	return cmd
}

func runController(cmd *cobra.Command, _ []string) error {
	env, err := setup(cmd, config.RoleController)
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.cfg.Controller

	driverLn, err := net.Listen("tcp", cfg.DriverAddr)
	if err != nil {
		return fmt.Errorf("listen for drivers: %w", err)
	}
	adminLn, err := net.Listen("tcp", cfg.AdminAddr)
	if err != nil {
		_ = driverLn.Close()
		return fmt.Errorf("listen for admin: %w", err)
	}

	ctrl := controller.New(cfg, env.logger, controller.WithTracing(env.tracing))
	ctx := cmd.Context()
	errCh := make(chan error, 2)
	go func() { errCh <- ctrl.ListenDrivers(ctx, driverLn) }()
	go func() { errCh <- ctrl.ListenAdmin(ctx, adminLn) }()
	env.logger.Info("controller started",
		zap.String("repo", cfg.RepoDir),
		zap.String("gather", cfg.GatherDir))

	var listenErr error
	select {
	case <-ctx.Done():
	case listenErr = <-errCh:
	}
	env.logger.Info("controller shutting down")
	return errors.Join(listenErr, ctrl.Close())
}
