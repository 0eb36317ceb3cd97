package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
	"warden/spec"
)

func validateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and print the start order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := spec.Load(*configPath)
			if err != nil {
				return err
			}
			order, err := spec.TopoSort(cfg.Services)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.SuccessMsg("%s: %d service(s)", *configPath, len(cfg.Services)))
			fmt.Fprintln(out, ui.Muted("start order: "+strings.Join(order, " → ")))
			return nil
		},
	}
}
