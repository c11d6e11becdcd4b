package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/genbi-gateway/internal/auth"
)

func newTokenCmd(rt *runtime) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a gateway JWT for the configured user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set; the gateway accepts requests without a token")
			}
			tok, err := auth.SignJWT(rt.cfg.UserID, rt.cfg.Username, rt.cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
