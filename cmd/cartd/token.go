package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shop-cart/config"
	"shop-cart/session"
)

// newTokenCmd issues a session token signed with the server secret. It stands
// in for an identity provider during development.
func newTokenCmd() *cobra.Command {
	var account string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if account == "" {
				return errors.New("--account is required")
			}
			cfg, err := config.LoadServer()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}
			tok, err := session.IssueToken([]byte(cfg.JWTSecret), account, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default CARTD_TOKEN_TTL)")
	return cmd
}
