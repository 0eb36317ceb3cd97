package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"warden/client"
	"warden/cmd/warden/ui"
	"warden/spec"
)

func restartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <service>",
		Short: "Force a restart cycle for one service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := spec.Load(*configPath)
			if err != nil {
				return err
			}
			name := args[0]
			if _, ok := cfg.Services[name]; !ok {
				return fmt.Errorf("unknown service %q", name)
			}
			if err := client.New(cfg.EffectiveListen()).Restart(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("restart of %s requested", name))
			return nil
		},
	}
}
