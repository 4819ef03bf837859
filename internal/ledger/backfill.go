package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	"github.com/matrixise/ethfolio/internal/pricing"
	"github.com/matrixise/ethfolio/internal/storage"
)

// BackfillResult counts rows examined and rows that received a price
type BackfillResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
}

// priceCache shares oracle answers between rows of one run that fall in
// the same token bucket
type priceCache struct {
	mu     sync.Mutex
	prices map[string]pricing.Prices
}

func (c *priceCache) get(key string) (pricing.Prices, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[key]
	return p, ok
}

func (c *priceCache) put(key string, p pricing.Prices) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[key] = p
}

// BackfillMissingPrices fills prices of the user's transfers that have no
// USD or RUB price and were not priced manually. Rows are read in id order
// in batches and priced concurrently in chunks, pausing between chunks.
// Live spot prices are never used.
func (e *Engine) BackfillMissingPrices(ctx context.Context, userID uuid.UUID) (BackfillResult, error) {
	start := e.now()

	k, err := e.loadKeys(ctx, userID)
	if err != nil {
		return BackfillResult{}, err
	}

	pool := pond.NewResultPool[bool](e.cfg.Concurrency, pond.WithContext(ctx))
	defer pool.StopAndWait()

	cache := &priceCache{prices: make(map[string]pricing.Prices)}

	var (
		result BackfillResult
		cursor int64
	)
	for batch := 0; batch < e.cfg.MaxBatches; batch++ {
		rows, err := e.store.PendingTransfers(ctx, userID, cursor, e.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		if len(rows) == 0 {
			break
		}
		cursor = rows[len(rows)-1].ID
		result.Scanned += len(rows)

		for i := 0; i < len(rows); i += e.cfg.Concurrency {
			chunk := rows[i:min(i+e.cfg.Concurrency, len(rows))]

			group := pool.NewGroup()
			for _, row := range chunk {
				group.SubmitErr(func() (bool, error) {
					return e.backfillRow(ctx, row, k.moralis, cache)
				})
			}
			updated, err := group.Wait()
			if err != nil {
				return result, err
			}
			for _, ok := range updated {
				if ok {
					result.Updated++
				}
			}

			if e.cfg.Throttle > 0 && i+e.cfg.Concurrency < len(rows) {
				if err := e.sleep(ctx, e.cfg.Throttle); err != nil {
					return result, err
				}
			}
		}
	}

	e.metrics.Increment("backfill.runs", 1)
	e.metrics.Increment("backfill.updated", int64(result.Updated))
	e.metrics.Timing("backfill.duration", e.now().Sub(start))

	slog.Info("Price backfill finished",
		"user_id", userID,
		"scanned", result.Scanned,
		"updated", result.Updated,
		"duration", e.now().Sub(start))

	return result, nil
}

// backfillRow prices one transfer, reporting whether it was updated
func (e *Engine) backfillRow(ctx context.Context, row storage.TransferWithToken, moralisKey string, cache *priceCache) (bool, error) {
	ts := row.BlockTime.Unix()
	key := row.TokenID.String() + ":" + strconv.FormatInt(e.oracle.Bucket(ts), 10)

	prices, ok := cache.get(key)
	if !ok {
		prices = e.oracle.GetPrices(ctx, row.Token, ts, pricing.Options{
			MoralisAPIKey:     moralisKey,
			AllowLiveFallback: false,
		})
		cache.put(key, prices)
	}
	if prices.Empty() {
		return false, nil
	}

	updated, err := e.store.UpdateTransferPrices(ctx, row.ID, pricesFor(prices, row.Amount))
	if err != nil {
		return false, fmt.Errorf("failed to backfill transfer %d: %w", row.ID, err)
	}
	if !updated {
		slog.Debug("Transfer became manual during backfill", "transfer_id", row.ID)
	}
	return updated, nil
}
