package main

import (
	"github.com/spf13/cobra"

	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/driver"
)

func newDriverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driver",
		Short: "Connect to a controller and generate load on command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup(cmd, config.RoleDriver)
			if err != nil {
				return err
			}
			defer env.close()

			d, err := driver.New(env.cfg.Driver, env.logger, driver.WithTracing(env.tracing))
			if err != nil {
				return err
			}
			return d.Run(cmd.Context())
		},
	}
	config.RegisterDriverFlags(cmd)
	return cmd
}
