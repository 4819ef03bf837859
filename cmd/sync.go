package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matrixise/ethfolio/internal/scheduler"
)

var (
	targetUser string
	allUsers   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync a wallet from Etherscan",
	Long: `Fetch the wallet's native and ERC-20 transfers, store new ones with their
prices and refresh prices on known ones. With --all every linked wallet is
synced and then backfilled, the same pass the daemon schedules.`,
	RunE: runSync,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fill in missing transfer prices",
	RunE:  runBackfill,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(backfillCmd)

	syncCmd.Flags().StringVar(&targetUser, "user", "", "user id")
	syncCmd.Flags().BoolVar(&allUsers, "all", false, "sync every user with a wallet")
	syncCmd.MarkFlagsMutuallyExclusive("user", "all")
	syncCmd.MarkFlagsOneRequired("user", "all")

	backfillCmd.Flags().StringVar(&targetUser, "user", "", "user id")
	backfillCmd.MarkFlagRequired("user")
}

func parseUser(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q: %w", raw, err)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if allUsers {
		return scheduler.SyncAllWallets(a.store, a.engine)(ctx)
	}

	id, err := parseUser(targetUser)
	if err != nil {
		return err
	}

	result, err := a.engine.SyncWallet(ctx, id)
	if err != nil {
		slog.Error("Sync failed", "user_id", id, "error", err)
		return err
	}
	return printJSON(cmd, result)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	id, err := parseUser(targetUser)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.BackfillMissingPrices(ctx, id)
	if err != nil {
		slog.Error("Backfill failed", "user_id", id, "error", err)
		return err
	}
	return printJSON(cmd, result)
}
