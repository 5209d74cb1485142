package cmd

import (
	"fmt"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

// githubRepoSlug is the repository checked for new releases.
const githubRepoSlug = "hub-org/hub"

func newSelfUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "self-update",
		Short: "Update hub to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current := rootCmd.Version
			if current == "" || current == "dev" {
				return fmt.Errorf("cannot self-update a development version")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "current version: %s\n", current)

			updater, err := selfupdate.NewUpdater(selfupdate.Config{})
			if err != nil {
				return fmt.Errorf("creating updater: %w", err)
			}

			latest, found, err := updater.DetectLatest(cmd.Context(), selfupdate.ParseSlug(githubRepoSlug))
			if err != nil {
				return fmt.Errorf("detecting latest version: %w", err)
			}
			if !found {
				return fmt.Errorf("no release found for %s", githubRepoSlug)
			}
			if !latest.GreaterThan(current) {
				fmt.Fprintln(cmd.OutOrStdout(), "already up to date")
				return nil
			}

			exe, err := selfupdate.ExecutablePath()
			if err != nil {
				return fmt.Errorf("locating executable: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "updating to %s...\n", latest.Version())
			if err := updater.UpdateTo(cmd.Context(), latest, exe); err != nil {
				return fmt.Errorf("update failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated to %s\n", latest.Version())
			return nil
		},
	}
}
