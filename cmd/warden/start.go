package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
	"warden/internal/logging"
	"warden/internal/pidfile"
	"warden/spec"
	"warden/supervisor"
)

const shutdownTimeout = 60 * time.Second

func startCmd(configPath *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start every service and supervise until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := spec.Load(*configPath)
			if err != nil {
				return err
			}

			// Reconfigure now that the log directory is known.
			level := logging.LevelInfo
			if *debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level, cfg.LogDir); err != nil {
				return err
			}

			pidPath := cfg.EffectivePIDFile()
			if err := pidfile.Write(pidPath); err != nil {
				return err
			}
			defer pidfile.Remove(pidPath)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sup := supervisor.New(cfg)
			out := cmd.OutOrStdout()

			// Mirror the event stream into the structured log.
			go func() {
				for ev := range sup.Log.Subscribe(ctx, 0, nil) {
					slog.Info("event",
						"type", ev.Type, "service", ev.Service,
						"message", ev.Message, "error", ev.Error)
				}
			}()

			ln, err := net.Listen("tcp", cfg.EffectiveListen())
			if err != nil {
				return fmt.Errorf("control listener: %w", err)
			}
			srv := &http.Server{Handler: sup.Handler()}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("control listener", "error", err)
				}
			}()
			defer srv.Close()
			slog.Info("control api listening", "addr", ln.Addr().String())

			stopWatch, err := watchConfig(ctx, *configPath)
			if err != nil {
				slog.Warn("config watch unavailable", "error", err)
			} else {
				defer stopWatch()
			}

			results, err := sup.Start(ctx)
			if err != nil {
				shutdown(sup)
				return err
			}
			printLaunch(out, results)

			// On a partial startup the healthy services stay up and
			// the watchdog keeps retrying the failed ones. The
			// startup outcome only decides the eventual exit code.
			var startupErr error
			if supervisor.AllStarted(results) {
				fmt.Fprintln(out, ui.InfoMsg("all services healthy — supervising (ctrl-c to stop)"))
			} else {
				startupErr = errors.New("one or more services failed to start")
				fmt.Fprintln(out, ui.WarnMsg("startup incomplete — supervising anyway, failed services will be retried (ctrl-c to stop)"))
			}
			<-ctx.Done()
			stop() // restore default signal handling for a second ctrl-c

			fmt.Fprintln(out, ui.InfoMsg("shutting down"))
			if err := shutdown(sup); err != nil {
				return errors.Join(err, startupErr)
			}
			fmt.Fprintln(out, ui.SuccessMsg("all services stopped"))
			return startupErr
		},
	}
}

func shutdown(sup *supervisor.Supervisor) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return sup.Stop(ctx)
}

func printLaunch(out io.Writer, results []supervisor.LaunchResult) {
	for _, r := range results {
		switch r.Outcome {
		case supervisor.OutcomeStarted:
			fmt.Fprintln(out, ui.SuccessMsg("%s started", r.Name))
		case supervisor.OutcomeSkipped:
			fmt.Fprintln(out, ui.WarnMsg("%s skipped: %s", r.Name, r.Err))
		default:
			fmt.Fprintln(out, ui.ErrorMsg("%s failed: %s", r.Name, r.Err))
		}
	}
}
