package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"warden/internal/logging"
)

var version = "dev"

func main() {
	var (
		debug      bool
		configPath string
	)

	root := &cobra.Command{
		Use:           "warden",
		Short:         "Keep a fixed set of local services alive, in dependency order",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			// Log directory is wired in later by commands that load the
			// config; the early logger goes to stderr only.
			return logging.Configure(level, "")
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "warden.yaml", "Path to the service config")

	root.AddCommand(startCmd(&configPath, &debug))
	root.AddCommand(stopCmd(&configPath))
	root.AddCommand(statusCmd(&configPath))
	root.AddCommand(verifyCmd(&configPath))
	root.AddCommand(eventsCmd(&configPath))
	root.AddCommand(restartCmd(&configPath))
	root.AddCommand(explainCmd(&configPath))
	root.AddCommand(validateCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
