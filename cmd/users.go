package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matrixise/ethfolio/internal/config"
	"github.com/matrixise/ethfolio/internal/secrets"
	"github.com/matrixise/ethfolio/internal/storage"
)

var (
	userEmail     string
	walletAddress string
	etherscanKey  string
	moralisKey    string
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users, wallets and API keys",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	RunE:  runUsersCreate,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE:  runUsersList,
}

var usersWalletCmd = &cobra.Command{
	Use:   "set-wallet",
	Short: "Link a wallet address to a user",
	RunE:  runUsersWallet,
}

var usersKeysCmd = &cobra.Command{
	Use:   "set-keys",
	Short: "Store a user's Etherscan and Moralis API keys",
	Long: `Store a user's API keys. When keys_encryption_secret is configured the
keys are sealed with AES-256-GCM before they reach the database.`,
	RunE: runUsersKeys,
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersCreateCmd, usersListCmd, usersWalletCmd, usersKeysCmd)

	usersCreateCmd.Flags().StringVar(&userEmail, "email", "", "user email")
	usersCreateCmd.MarkFlagRequired("email")

	for _, c := range []*cobra.Command{usersWalletCmd, usersKeysCmd} {
		c.Flags().StringVar(&targetUser, "user", "", "user id")
		c.MarkFlagRequired("user")
	}

	usersWalletCmd.Flags().StringVar(&walletAddress, "address", "", "wallet address (0x...)")
	usersWalletCmd.MarkFlagRequired("address")

	usersKeysCmd.Flags().StringVar(&etherscanKey, "etherscan", "", "Etherscan API key")
	usersKeysCmd.Flags().StringVar(&moralisKey, "moralis", "", "Moralis API key")
}

// openStore loads the configuration and connects to PostgreSQL only
func openStore(ctx context.Context) (*config.Config, *storage.Store, error) {
	cfg, databaseURL, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewStore(ctx, databaseURL)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		return nil, nil, err
	}
	return cfg, store, nil
}

func runUsersCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := config.NewValidator().Var(userEmail, "required,email"); err != nil {
		return fmt.Errorf("invalid email %q", userEmail)
	}

	u, err := store.CreateUser(ctx, strings.ToLower(strings.TrimSpace(userEmail)))
	if err != nil {
		return err
	}
	slog.Info("User created", "user_id", u.ID, "email", u.Email)
	fmt.Fprintln(cmd.OutOrStdout(), u.ID)
	return nil
}

func runUsersList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, u := range users {
		address := "-"
		if w, err := store.GetWallet(ctx, u.ID); err == nil {
			address = w.Address
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", u.ID, u.Email, address)
	}
	return nil
}

func runUsersWallet(cmd *cobra.Command, args []string) error {
	id, err := parseUser(targetUser)
	if err != nil {
		return err
	}
	address := strings.TrimSpace(walletAddress)
	if err := config.ValidateWalletAddress(address); err != nil {
		return fmt.Errorf("invalid wallet address %q", address)
	}

	ctx := cmd.Context()
	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	w, err := store.SetWallet(ctx, id, strings.ToLower(address))
	if err != nil {
		return err
	}
	slog.Info("Wallet linked", "user_id", id, "address", w.Address)
	return nil
}

func runUsersKeys(cmd *cobra.Command, args []string) error {
	id, err := parseUser(targetUser)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	box, err := openBox(cfg)
	if err != nil {
		return err
	}

	settings := storage.UserSettings{UserID: id}
	if settings.EtherscanAPIKey, err = sealKey(box, etherscanKey); err != nil {
		return err
	}
	if settings.MoralisAPIKey, err = sealKey(box, moralisKey); err != nil {
		return err
	}

	if err := store.SaveSettings(ctx, settings); err != nil {
		return err
	}
	slog.Info("API keys saved", "user_id", id, "sealed", box != nil)
	return nil
}

// sealKey seals a non-empty key when box is set, otherwise stores it as is
func sealKey(box *secrets.Box, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || box == nil {
		return key, nil
	}
	return box.Seal(key)
}
