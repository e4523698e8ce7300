package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sjscal/pkg/auth"
)

var (
	tokenRole *string
	tokenTTL  *time.Duration
)

func init() {
	tokenRole = tokenCmd.Flags().String("role", string(auth.RoleOperator), "admin, operator or viewer.")
	tokenTTL = tokenCmd.Flags().Duration("ttl", 0, "Token lifetime; defaults to 24h.")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token <subject> [--role <role>] [--ttl <duration>]",
	Short: "Issues an API bearer token signed with JWT_SECRET.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		role, err := auth.ParseRole(*tokenRole)
		if err != nil {
			return err
		}
		svc, err := auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret))
		if err != nil {
			return err
		}
		token, err := svc.GenerateToken(args[0], role, *tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}
