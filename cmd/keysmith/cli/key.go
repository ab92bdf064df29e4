package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/keycodec"
	"github.com/faucetdb/keysmith/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, inspect and revoke API keys.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyInspectCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		userID  int64
		scopes  []string
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  keysmith key create --user 1 --scope read --scope write
  keysmith key create --user 1 --expires 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(userID, scopes, expires)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "ID of the user that owns the key (required)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope granted to the key (repeatable)")
	cmd.Flags().DurationVar(&expires, "expires", 0, "Key lifetime, e.g. 720h (default: never expires)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyCreate(userID int64, scopes []string, expires time.Duration) error {
	if expires < 0 {
		return fmt.Errorf("--expires must not be negative")
	}

	a, err := buildApp(os.Stderr, true)
	if err != nil {
		return err
	}
	defer a.Close()

	req := service.IssueKeyRequest{UserID: userID, Scopes: scopes}
	if expires > 0 {
		at := time.Now().Add(expires).UTC()
		req.ExpiresAt = &at
	}

	issued, _, err := a.gateway.IssueKey(context.Background(), cliClient, req)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)

	green.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:     %s\n", issued.Text)
	fmt.Printf("  Prefix:  %s\n", issued.Key.KeyPrefix)
	fmt.Printf("  User:    %d\n", issued.Key.UserID)
	if len(issued.Key.Scopes) > 0 {
		fmt.Printf("  Scopes:  %s\n", strings.Join(issued.Key.Scopes, ", "))
	}
	if issued.Key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", issued.Key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	yellow.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		userID     int64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(userID, jsonOutput)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "Only list keys owned by this user")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(userID int64, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys issued. Use 'keysmith key create' to create one.")
		return nil
	}

	now := time.Now()
	fmt.Printf("%-36s %-6s %-24s %-8s %-8s\n", "PREFIX", "USER", "SCOPES", "STATUS", "USES")
	fmt.Printf("%-36s %-6s %-24s %-8s %-8s\n", "------", "----", "------", "------", "----")
	for _, k := range keys {
		status := "active"
		switch {
		case !k.IsActive:
			status = "revoked"
		case k.Expired(now):
			status = "expired"
		}
		fmt.Printf("%-36s %-6d %-24s %-8s %-8d\n", k.KeyPrefix, k.UserID, strings.Join(k.Scopes, ","), status, k.UsageCount)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its display prefix",
		Long: `Deactivate an API key, preventing it from being exchanged for new access tokens.
The prefix is the non-secret label shown by 'keysmith key list'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(prefix string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer store.Close()

	if err := store.DeactivateAPIKeyByPrefix(context.Background(), prefix); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Errorf("no API key found with prefix %q", prefix)
		}
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", prefix)
	return nil
}

// ---------- key inspect ----------

func newKeyInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [key]",
		Short: "Decode an API key and check its checksum offline",
		Long: `Decode an API key, verify its checksum and look up its stored record.
The key is read from a hidden prompt when not given as an argument, which
keeps it out of shell history.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) > 0 {
				text = args[0]
			} else {
				fmt.Print("API key: ")
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				if err != nil {
					return fmt.Errorf("failed to read key: %w", err)
				}
				fmt.Println()
				text = strings.TrimSpace(string(b))
			}
			return runKeyInspect(text)
		},
	}

	return cmd
}

func runKeyInspect(text string) error {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)

	parsed, err := keycodec.Parse(text)
	if err != nil {
		red.Printf("Invalid key (%s): %v\n", autherr.KindOf(err), err)
		return nil
	}

	green.Println("Checksum OK")
	fmt.Printf("  Prefix:      %s\n", parsed.Prefix)
	fmt.Printf("  Environment: %s\n", parsed.Environment)
	fmt.Printf("  Version:     %d\n", parsed.Version)
	fmt.Printf("  Issued:      %s\n", parsed.IssuedAt().Format(time.RFC3339))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if parsed.Prefix != cfg.Auth.KeyPrefix || parsed.Environment != cfg.Auth.Environment {
		color.New(color.FgYellow).Printf("  Not issued for %s_%s; this deployment will reject it.\n",
			cfg.Auth.KeyPrefix, cfg.Auth.Environment)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer store.Close()

	key, err := store.FindKeyByHash(context.Background(), keycodec.Hash(text))
	switch {
	case errors.Is(err, config.ErrNotFound):
		fmt.Println("  Stored:      no record (never issued here)")
		return nil
	case err != nil:
		return fmt.Errorf("look up key: %w", err)
	}

	status := "active"
	switch {
	case !key.IsActive:
		status = "revoked"
	case key.Expired(time.Now()):
		status = "expired"
	}
	fmt.Printf("  Stored:      id=%d user=%d status=%s uses=%d\n", key.ID, key.UserID, status, key.UsageCount)
	if len(key.Scopes) > 0 {
		fmt.Printf("  Scopes:      %s\n", strings.Join(key.Scopes, ", "))
	}
	return nil
}
