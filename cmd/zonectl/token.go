package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-zones/internal/auth"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/config"
)

// newTokenCmd creates the "zonectl token" subcommand.
//
// The signing secret comes from the same configuration file (and
// GRAYLOGIC_JWT_SECRET override) that serve uses, so tokens minted here are
// accepted by the running API.
func newTokenCmd(opts *globalOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(getConfigPath(opts.configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if ttl == 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}
			token, err := auth.GenerateAccessToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. a panel or user name (required)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer, operator or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	_ = cmd.MarkFlagRequired("subject") //nolint:errcheck // flag is defined above

	return cmd
}
