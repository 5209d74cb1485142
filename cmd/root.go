package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point for the hub binary. The serve subcommand
// runs the hub itself; the rest are administration commands that talk
// to a running hub over its REST API.
var rootCmd = &cobra.Command{
	Use:   "hub",
	Short: "Multi-tenant server orchestration hub",
	Long: `hub runs single-user servers on behalf of authenticated users and keeps
an external reverse proxy routing to them. It exposes a REST API guarded
by scoped tokens; the admin subcommands here are thin clients of that
API.`,
	SilenceUsage: true,
}

var (
	// endpoint and token configure the API client used by the admin
	// subcommands.
	endpoint string
	apiToken string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", envOr("HUB_ENDPOINT", "http://127.0.0.1:8081"),
		"Hub API endpoint")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("HUB_TOKEN"),
		"API token (defaults to HUB_TOKEN)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newUserCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newServerCmd())
	rootCmd.AddCommand(newHashPasswordCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetVersion injects the build version, typically from main via ldflags.
func SetVersion(v, c string) {
	rootCmd.Version = v
	commit = c
}

var commit = "unknown"

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "hub version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
