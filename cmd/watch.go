package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// progressEvent mirrors the SSE payload of the progress endpoint.
type progressEvent struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Ready    bool   `json:"ready"`
	Failed   bool   `json:"failed"`
	URL      string `json:"url"`
}

func newServerWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <user> [server]",
		Short: "Stream the progress of a server transition",
		Long: `Follows the server's progress event stream until it reaches a terminal
state. Events already emitted are replayed first, so watching an
in-flight start shows its full history.`,
		Args: cobra.RangeArgs(1, 2),
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

			req, err := http.NewRequestWithContext(cmd.Context(), "GET",
				client.endpoint+"/hub/api"+serverPath(user, name)+"/progress", nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "token "+client.token)

			resp, err := client.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				var envelope struct {
					Message string `json:"message"`
				}
				json.NewDecoder(resp.Body).Decode(&envelope)
				return &apiError{Status: resp.StatusCode, Message: envelope.Message}
			}

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				var ev progressEvent
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%3d%%] %s\n", ev.Progress, ev.Message)
				if ev.Ready {
					fmt.Fprintf(cmd.OutOrStdout(), "server ready at %s\n", ev.URL)
					return nil
				}
				if ev.Failed {
					return fmt.Errorf("server failed: %s", ev.Message)
				}
			}
			return scanner.Err()
		},
	}
}
