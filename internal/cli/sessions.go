package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/genbi-gateway/internal/backend"
	"github.com/suPer8Hu/genbi-gateway/internal/protocol"
)

func newSessionsCmd(rt *runtime) *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions the backend keeps for the configured user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.cfg
			if profile == "" {
				profile = cfg.ProfileName
			}
			client := backend.NewClient(cfg.BackendURL)
			if cfg.BackendAccessToken != "" {
				client.Creds = func() protocol.Credentials {
					return protocol.Credentials{AccessToken: cfg.BackendAccessToken}
				}
			}

			list, err := client.ListSessions(cmd.Context(), cfg.UserID, profile)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION ID\tTITLE")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\n", s.SessionID, s.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "Data profile (defaults to PROFILE_NAME)")
	return cmd
}
