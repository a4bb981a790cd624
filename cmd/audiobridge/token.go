package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"audiobridge/internal/app"
	"audiobridge/internal/auth"
)

func newTokenCmd(cfg app.Config) *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [email]",
		Short: "Mint an HS256 bearer token",
		Long:  "Mint an HS256 bearer token for the given email (default ADMIN_EMAIL), signed with AUTH_JWT_SECRET.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := cfg.AdminEmail
			if len(args) == 1 {
				email = args[0]
			}
			if email == "" {
				return errors.New("email argument or ADMIN_EMAIL is required")
			}
			provider, err := auth.NewProvider(secret)
			if err != nil {
				return err
			}
			sub := subject
			if sub == "" {
				sub = email
			}
			token, err := provider.GenerateToken(sub, email, ttl)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", cfg.JWTSecret, "Signing secret (AUTH_JWT_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (defaults to the email)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
