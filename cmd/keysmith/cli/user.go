package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  "Create and list the users that API keys are issued to.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		username string
		email    string
	)

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a new user",
		Example: `  keysmith user create --username alice --email alice@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(username, email)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Unique username (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(username, email string) error {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return fmt.Errorf("username must not be empty")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email address: %q", email)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer store.Close()

	u := &model.User{Username: username, Email: email}
	if err := store.CreateUser(context.Background(), u); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return fmt.Errorf("username or email already registered")
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("User created: id=%d username=%s\n", u.ID, u.Username)
	fmt.Printf("Issue a key with: keysmith key create --user %d\n", u.ID)
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer store.Close()

	users, err := store.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No users. Use 'keysmith user create' to add one.")
		return nil
	}

	fmt.Printf("%-6s %-24s %-32s\n", "ID", "USERNAME", "EMAIL")
	fmt.Printf("%-6s %-24s %-32s\n", "--", "--------", "-----")
	for _, u := range users {
		fmt.Printf("%-6d %-24s %-32s\n", u.ID, u.Username, u.Email)
	}
	return nil
}
