package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/matrixise/ethfolio/internal/ledger"
)

// UserLister returns the users that have a wallet linked
type UserLister interface {
	UsersWithWallet(ctx context.Context) ([]uuid.UUID, error)
}

// WalletSyncer syncs one user's wallet and fills in missing prices
type WalletSyncer interface {
	SyncWallet(ctx context.Context, userID uuid.UUID) (ledger.SyncResult, error)
	BackfillMissingPrices(ctx context.Context, userID uuid.UUID) (ledger.BackfillResult, error)
}

// SyncAllWallets returns a job that syncs then backfills every linked
// wallet in turn. A failing user is logged and skipped; the job reports an
// error once all users were visited if any of them failed.
func SyncAllWallets(users UserLister, engine WalletSyncer) JobFunc {
	return func(ctx context.Context) error {
		start := time.Now()

		ids, err := users.UsersWithWallet(ctx)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		failed := 0
		for _, id := range ids {
			if ctx.Err() != nil {
				slog.Info("Shutdown requested, stopping wallet sync")
				return ctx.Err()
			}

			if _, err := engine.SyncWallet(ctx, id); err != nil {
				slog.Error("Wallet sync failed", "user_id", id, "error", err)
				failed++
				continue
			}
			if _, err := engine.BackfillMissingPrices(ctx, id); err != nil {
				slog.Error("Price backfill failed", "user_id", id, "error", err)
				failed++
			}
		}

		slog.Info("Scheduled sync completed",
			"users", len(ids),
			"failed", failed,
			"duration", time.Since(start).Round(time.Millisecond),
		)

		if failed > 0 {
			return fmt.Errorf("%d of %d wallets failed", failed, len(ids))
		}
		return nil
	}
}
