package cmd

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage hub users",
	}
	cmd.AddCommand(newUserListCmd())
	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users visible to the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var users []userView
			if err := client.do(cmd.Context(), "GET", "/users", nil, &users); err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"NAME", "ADMIN", "ROLES", "SERVERS", "LAST ACTIVITY"})
			for _, u := range users {
				running := 0
				for _, s := range u.Servers {
					if s.Ready {
						running++
					}
				}
				last := ""
				if !u.LastActivity.IsZero() {
					last = u.LastActivity.Format("2006-01-02 15:04:05")
				}
				t.AppendRow(table.Row{u.Name, u.Admin, strings.Join(u.Roles, ","), running, last})
			}
			t.Render()
			return nil
		},
	}
}
