package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hub/internal/app"
	"hub/internal/config"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub",
		Long: `Starts the hub: recovers persisted server records, reconciles proxy
routes and serves the REST API until interrupted. Configuration comes
from a YAML file with environment overrides for secrets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if debug {
				cfg.LogLevel = "debug"
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, rootCmd.Version, commit)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the hub configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}
