package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"warden/client"
	"warden/cmd/warden/ui"
	"warden/spec"
	"warden/supervisor"
)

func eventsCmd(configPath *string) *cobra.Command {
	var (
		since  uint64
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the supervisor's lifecycle event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := spec.Load(*configPath)
			if err != nil {
				return err
			}
			c := client.New(cfg.EffectiveListen())
			out := cmd.OutOrStdout()

			cursor := since
			for {
				events, err := c.Events(cmd.Context(), cursor)
				if err != nil {
					return err
				}
				for _, e := range events {
					printEvent(out, e)
					cursor = e.Seq
				}
				if !follow {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(time.Second):
				}
			}
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "Only show events after this sequence number")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Poll for new events until interrupted")
	return cmd
}

func printEvent(out io.Writer, e supervisor.Event) {
	line := fmt.Sprintf("%s  %-24s %s", e.Timestamp.Format("15:04:05"), e.Type, e.Service)
	if e.Message != "" {
		line += "  " + e.Message
	}
	if e.Error != "" {
		line += "  " + ui.Error(e.Error)
	}
	fmt.Fprintln(out, line)
}
