package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/torosent/fleetbench/internal/admin"
	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/ncp"
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Send commands to a running controller",
	}
	config.RegisterAdminFlags(cmd)

	setupCmd := adminCommand("setup", "Configure the prepared benchmark on every driver", cobra.NoArgs,
		func(ctx context.Context, c *admin.Client, env *environment, _ []string) (bool, error) {
			return c.Setup(ctx, env.cfg.Run)
		})
	config.RegisterRunFlags(setupCmd)

	cmd.AddCommand(
		listCommand("list-repo", "List the benchmarks in the controller repository", (*admin.Client).ListRepo),
		listCommand("list-runner", "List the registered drivers", (*admin.Client).ListRunner),
		listCommand("status", "Show the state of every driver", (*admin.Client).Status),
		adminCommand("prepare <benchmark>", "Distribute a benchmark to every driver", cobra.ExactArgs(1),
			func(ctx context.Context, c *admin.Client, _ *environment, args []string) (bool, error) {
				return c.Prepare(ctx, args[0])
			}),
		setupCmd,
		simpleCommand("start", "Start the configured benchmark", (*admin.Client).Start),
		simpleCommand("stop", "Stop the running benchmark", (*admin.Client).Stop),
		simpleCommand("gather", "Collect driver logs on the controller", (*admin.Client).Gather),
		simpleCommand("shutdown", "Disconnect every driver", (*admin.Client).Shutdown),
	)
	return cmd
}

type commandFunc func(ctx context.Context, c *admin.Client, env *environment, args []string) (bool, error)

func simpleCommand(use, short string, call func(*admin.Client, context.Context) (bool, error)) *cobra.Command {
	return adminCommand(use, short, cobra.NoArgs,
		func(ctx context.Context, c *admin.Client, _ *environment, _ []string) (bool, error) {
			return call(c, ctx)
		})
}

// adminCommand runs call in its own admin session and prints the
// controller's warnings and errors. A refused command exits non-zero.
func adminCommand(use, short string, args cobra.PositionalArgs, call commandFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, c *admin.Client, env *environment) error {
				ok, err := call(ctx, c, env, args)
				if err != nil {
					return err
				}
				printResult(cmd.ErrOrStderr(), c.Result())
				if !ok {
					return fmt.Errorf("%s failed", cmd.Name())
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

func listCommand(use, short string, call func(*admin.Client, context.Context) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, c *admin.Client, _ *environment) error {
				lines, err := call(c, ctx)
				if err != nil {
					return err
				}
				printResult(cmd.ErrOrStderr(), c.Result())
				if lines == nil && c.Result().HasErrors() {
					return fmt.Errorf("%s failed", cmd.Name())
				}
				for _, line := range lines {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
}

func withSession(cmd *cobra.Command, fn func(context.Context, *admin.Client, *environment) error) error {
	env, err := setup(cmd, config.RoleAdmin)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()
	c, err := admin.Dial(ctx, env.cfg.Admin.ControllerAddr, env.cfg.Admin.Name, env.logger, admin.WithTracing(env.tracing))
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c, env)
}

func printResult(w io.Writer, result *ncp.Result) {
	for _, warning := range result.Warnings() {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	for _, e := range result.Errors() {
		fmt.Fprintf(w, "error: %s\n", e)
	}
}
