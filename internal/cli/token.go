package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/idcstack/idc-control-plane/internal/auth"
	"github.com/idcstack/idc-control-plane/internal/model"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Work with API access tokens",
	}
	cmd.AddCommand(newTokenMintCommand(opts))
	return cmd
}

func newTokenMintCommand(opts *rootOptions) *cobra.Command {
	var (
		userID   string
		username string
		role     string
		secret   string
		issuer   string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a token the API server will accept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = opts.getenv("IDC_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or IDC_JWT_SECRET is required")
			}
			if issuer == "" {
				issuer = opts.getenv("IDC_JWT_ISSUER")
			}
			if issuer == "" {
				issuer = "idc-control-plane"
			}
			r := model.Role(role)
			if r != model.RoleUser && r != model.RoleAdmin {
				return fmt.Errorf("unsupported role %q (user or admin)", role)
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			token, exp, err := auth.NewIssuer(secret, issuer, ttl).Issue(auth.Identity{
				UserID:   userID,
				Username: username,
				Role:     r,
			})
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]any{
				"token":     token,
				"expiresAt": exp.Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (uid claim)")
	cmd.Flags().StringVar(&username, "username", "", "display name (usr claim)")
	cmd.Flags().StringVar(&role, "role", string(model.RoleUser), "role: user or admin")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret (default $IDC_JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer claim (default $IDC_JWT_ISSUER or idc-control-plane)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
