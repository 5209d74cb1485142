package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage user servers",
	}
	cmd.AddCommand(newServerStartCmd())
	cmd.AddCommand(newServerStopCmd())
	cmd.AddCommand(newServerWatchCmd())
	return cmd
}

func serverPath(user, name string) string {
	if name == "" {
		return "/users/" + user + "/server"
	}
	return "/users/" + user + "/servers/" + name
}

func newServerStartCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "start <user> [server]",
		Short: "Start a user's server and wait for it to become ready",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := args[0]
			name := ""
			if len(args) == 2 {
				name = args[1]
			}

			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var created serverView
			if err := client.do(cmd.Context(), "POST", serverPath(user, name), map[string]any{}, &created); err != nil {
				return err
			}
			if created.Ready {
				fmt.Fprintf(cmd.OutOrStdout(), "server ready at %s\n", created.URL)
				return nil
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			s.Suffix = fmt.Sprintf(" Starting server for %s...", user)
			s.Start()
			defer s.Stop()

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			view, err := awaitServer(ctx, client, user, name, func(v serverView) bool {
				return v.Ready || v.State == "failed"
			})
			s.Stop()
			if err != nil {
				return err
			}
			if view.State == "failed" {
				return fmt.Errorf("server failed to start: %s", view.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "server ready at %s\n", view.URL)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 3*time.Minute, "How long to wait for readiness")
	return cmd
}

func newServerStopCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "stop <user> [server]",
		Short: "Stop a user's server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := args[0]
			name := ""
			if len(args) == 2 {
				name = args[1]
			}

			client, err := newAPIClient()
			if err != nil {
				return err
			}

			if err := client.do(cmd.Context(), "DELETE", serverPath(user, name), nil, nil); err != nil {
				return err
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			s.Suffix = fmt.Sprintf(" Stopping server for %s...", user)
			s.Start()
			defer s.Stop()

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			_, err = awaitServer(ctx, client, user, name, func(v serverView) bool {
				return v.State == "stopped"
			})
			s.Stop()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "server stopped")
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", time.Minute, "How long to wait for the stop to complete")
	return cmd
}

// awaitServer polls the user model until done reports true for the
// named server. A vanished record counts as stopped.
func awaitServer(ctx context.Context, client *apiClient, user, name string, done func(serverView) bool) (serverView, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		var u userView
		if err := client.do(ctx, "GET", "/users/"+user, nil, &u); err != nil {
			return serverView{}, err
		}
		view, ok := u.Servers[name]
		if !ok {
			view = serverView{Name: name, State: "stopped"}
		}
		if done(view) {
			return view, nil
		}

		select {
		case <-ctx.Done():
			return view, fmt.Errorf("timed out waiting for server %s/%s", user, name)
		case <-ticker.C:
		}
	}
}
