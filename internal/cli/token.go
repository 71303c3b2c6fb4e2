package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"qrattend/internal/auth"
	"qrattend/internal/config"
)

func newTokenCmd(load func() config.App) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue an access token for a faculty member or student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != auth.RoleFaculty && role != auth.RoleStudent {
				return fmt.Errorf("role must be %s or %s, got %q", auth.RoleFaculty, auth.RoleStudent, role)
			}
			cfg := load()
			if ttl <= 0 {
				ttl = cfg.AccessTTL
			}
			tok, err := auth.Issue(args[0], role, cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleStudent, "token role (faculty|student)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to ACCESS_TTL)")
	return cmd
}
