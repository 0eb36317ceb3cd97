package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"warden/client"
	"warden/cmd/warden/ui"
	"warden/explain"
	"warden/spec"
)

func explainCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Diagnose the running supervisor's event log",
		Long: `Explain fetches the event log from the running supervisor and boils it
down to what needs attention: failed services and their last errors, the
services skipped because of them, and anything that is flapping.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := spec.Load(*configPath)
			if err != nil {
				return err
			}
			events, err := client.New(cfg.EffectiveListen()).Events(cmd.Context(), 0)
			if err != nil {
				return err
			}
			report := explain.Analyze(events)

			out := cmd.OutOrStdout()
			if asJSON {
				return explain.JSON(out, report)
			}
			explain.Pretty(out, report)
			if !report.Clean() {
				return fmt.Errorf("%d service(s) need attention",
					report.Failed+report.Skipped+report.Flapping)
			}
			fmt.Fprintln(out, ui.SuccessMsg("nothing needs attention"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the report as JSON")
	return cmd
}
