package main

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
	"warden/internal/pidfile"
	"warden/spec"
)

func stopCmd(configPath *string) *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running supervisor and all its services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := spec.Load(*configPath)
			if err != nil {
				return err
			}
			pidPath := cfg.EffectivePIDFile()

			pid, err := pidfile.Read(pidPath)
			if err != nil {
				return fmt.Errorf("no running supervisor (%v)", err)
			}

			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signalling pid %d: %w", pid, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.InfoMsg("sent SIGTERM to pid %d, waiting for shutdown", pid))

			deadline := time.Now().Add(timeout)
			for pidfile.Alive(pid) {
				if time.Now().After(deadline) {
					if !force {
						return fmt.Errorf("supervisor pid %d still running after %s (use --force to SIGKILL)", pid, timeout)
					}
					if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
						return fmt.Errorf("killing pid %d: %w", pid, err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), ui.WarnMsg("supervisor killed"))
					return pidfile.Remove(pidPath)
				}
				time.Sleep(100 * time.Millisecond)
			}

			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("supervisor stopped"))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 90*time.Second, "How long to wait for a clean shutdown")
	cmd.Flags().BoolVar(&force, "force", false, "SIGKILL the supervisor if it does not stop in time")
	return cmd
}
