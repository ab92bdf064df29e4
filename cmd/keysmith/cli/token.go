package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}

	cmd.AddCommand(newTokenRevokeCmd())

	return cmd
}

// ---------- token revoke ----------

func newTokenRevokeCmd() *cobra.Command {
	var hash string

	cmd := &cobra.Command{
		Use:   "revoke [token]",
		Short: "Revoke an access token",
		Long: `Revoke an access token by its text, or by its SHA-256 hash as recorded in the
usage log. Revoking an already revoked token succeeds.`,
		Example: `  keysmith token revoke eyJhbGciOi...
  keysmith token revoke --hash 9f86d081884c7d65...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) > 0 {
				token = args[0]
			}
			if token == "" && hash == "" {
				return fmt.Errorf("specify a token or --hash")
			}
			return runTokenRevoke(token, hash)
		},
	}

	cmd.Flags().StringVar(&hash, "hash", "", "Hex SHA-256 of the token")

	return cmd
}

func runTokenRevoke(token, hash string) error {
	a, err := buildApp(os.Stderr, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.gateway.RevokeToken(context.Background(), cliClient, token, hash); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	fmt.Println("Token revoked.")
	return nil
}
