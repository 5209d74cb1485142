package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenCreateCmd())
	cmd.AddCommand(newTokenRevokeCmd())
	return cmd
}

func newTokenListCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's API tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var tokens []tokenView
			if err := client.do(cmd.Context(), "GET", "/users/"+user+"/tokens", nil, &tokens); err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "SCOPES", "NOTE", "CREATED", "EXPIRES", "LAST USED"})
			for _, tok := range tokens {
				expires := "never"
				if tok.Expires != nil {
					expires = tok.Expires.Format(time.RFC3339)
				}
				lastUsed := ""
				if !tok.LastUsed.IsZero() {
					lastUsed = tok.LastUsed.Format(time.RFC3339)
				}
				t.AppendRow(table.Row{
					tok.ID, strings.Join(tok.Scopes, ","), tok.Note,
					tok.Created.Format(time.RFC3339), expires, lastUsed,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Token owner")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newTokenCreateCmd() *cobra.Command {
	var (
		user      string
		scopes    []string
		note      string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API token",
		Long: `Creates a token for a user. Without --scope the token inherits the
owner's scopes at request time; with --scope it is bounded to the
intersection of the named scopes and the owner's. The secret is printed
once and cannot be recovered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			body := map[string]any{"scopes": scopes, "note": note}
			if expiresIn > 0 {
				body["expires_in"] = int64(expiresIn.Seconds())
			}
			var tok tokenView
			if err := client.do(cmd.Context(), "POST", "/users/"+user+"/tokens", body, &tok); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "token id: %s\n", tok.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "secret:   %s\n", tok.Token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Token owner")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope to grant (repeatable; default inherits the owner's)")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Token lifetime (0 = no expiry)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newTokenRevokeCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.do(cmd.Context(), "DELETE", "/users/"+user+"/tokens/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token revoked")
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Token owner")
	cmd.MarkFlagRequired("user")
	return cmd
}
