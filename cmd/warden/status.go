package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"warden/client"
	"warden/cmd/warden/ui"
	"warden/spec"
	"warden/supervisor"
)

func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every supervised service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := spec.Load(*configPath)
			if err != nil {
				return err
			}

			services, err := client.New(cfg.EffectiveListen()).Status(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(services))
			for _, s := range services {
				rows = append(rows, []string{
					s.Name,
					phaseCell(s.Phase),
					probeCell(s),
					strconv.Itoa(s.Restarts),
					detailCell(s),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.Table(
				[]string{"SERVICE", "STATE", "LAST PROBE", "RESTARTS", "DETAIL"}, rows))
			return nil
		},
	}
}

func phaseCell(p supervisor.Phase) string {
	switch p {
	case supervisor.PhaseHealthy:
		return ui.Success(string(p))
	case supervisor.PhaseStarting, supervisor.PhaseRestarting, supervisor.PhaseUnhealthy:
		return ui.Warn(string(p))
	case supervisor.PhaseFailed:
		return ui.Error(string(p))
	default:
		return ui.Muted(string(p))
	}
}

func probeCell(s supervisor.StateSnapshot) string {
	if s.LastProbe == nil {
		return ui.Muted("—")
	}
	age := time.Since(s.LastProbe.Time).Round(time.Second)
	if s.LastProbe.Healthy {
		return fmt.Sprintf("ok %s ago", age)
	}
	return ui.Error(fmt.Sprintf("failed %s ago", age))
}

func detailCell(s supervisor.StateSnapshot) string {
	switch {
	case s.Exhausted:
		return ui.Error("gave up; use `warden restart " + s.Name + "`")
	case !s.NextRestart.IsZero() && s.NextRestart.After(time.Now()):
		return fmt.Sprintf("retry in %s", time.Until(s.NextRestart).Round(time.Second))
	case s.LastProbe != nil && s.LastProbe.Err != "":
		return ui.Muted(s.LastProbe.Err)
	default:
		return ""
	}
}
