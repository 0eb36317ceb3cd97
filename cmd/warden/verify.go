package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
	"warden/spec"
	"warden/supervisor"
)

func verifyCmd(configPath *string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Probe every service once without touching any process",
		Long: `Verify runs each service's health check exactly once, in parallel,
against whatever is currently listening. It never starts, stops, or
restarts anything, and works with or without a running supervisor.

Exits 0 only when every service passes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := spec.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			results := supervisor.New(cfg).Verify(ctx)

			out := cmd.OutOrStdout()
			failed := 0
			for _, name := range spec.SortedNames(cfg.Services) {
				res := results[name]
				if res.Healthy {
					fmt.Fprintln(out, ui.SuccessMsg("%s (%s)", name, res.Latency.Round(time.Millisecond)))
				} else {
					failed++
					fmt.Fprintln(out, ui.ErrorMsg("%s: %s", name, res.Err))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d services unhealthy", failed, len(results))
			}
			fmt.Fprintln(out, ui.SuccessMsg("all %d services healthy", len(results)))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall probe deadline")
	return cmd
}
