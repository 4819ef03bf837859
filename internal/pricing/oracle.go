// Package pricing resolves USD and RUB prices for a token at a point in time.
// Prices are cached per (token, bucket) and resolved through an ordered chain
// of providers, with FX conversion filling in the missing currency.
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/matrixise/ethfolio/internal/metrics"
	"github.com/matrixise/ethfolio/internal/storage"
)

const (
	DefaultBucketSeconds     = 3600
	DefaultFallbackMaxAgeSec = 72 * 3600

	// nearbyLimit is how many recent snapshots the nearby fallback considers
	nearbyLimit = 5
)

// SnapshotStore persists price snapshots
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, tokenID uuid.UUID, bucketTs int64) (storage.PriceSnapshot, error)
	RecentSnapshots(ctx context.Context, tokenID uuid.UUID, limit int) ([]storage.PriceSnapshot, error)
	// InsertSnapshotIfAbsent stores snap unless the bucket exists and returns
	// the row that survived, reporting whether it was created.
	InsertSnapshotIfAbsent(ctx context.Context, snap storage.PriceSnapshot) (storage.PriceSnapshot, bool, error)
	FillSnapshotRUB(ctx context.Context, tokenID uuid.UUID, bucketTs int64, priceRUB decimal.Decimal) error
}

// Prices is the oracle's answer; invalid fields mean no price was found
type Prices struct {
	USD      decimal.NullDecimal
	RUB      decimal.NullDecimal
	BucketTs int64
}

// Empty reports whether neither currency resolved
func (p Prices) Empty() bool {
	return !p.USD.Valid && !p.RUB.Valid
}

// Options tunes a single lookup
type Options struct {
	MoralisAPIKey     string
	AllowLiveFallback bool
}

// OracleConfig holds bucket sizing and fallback bounds
type OracleConfig struct {
	BucketSeconds     int64
	FallbackMaxAgeSec int64
}

// Oracle resolves prices through the snapshot cache and the provider chain
type Oracle struct {
	store     SnapshotStore
	fx        FXProvider
	providers []Provider
	cfg       OracleConfig
	metrics   metrics.Recorder
}

// NewOracle creates an oracle; providers are consulted in order
func NewOracle(store SnapshotStore, fx FXProvider, providers []Provider, cfg OracleConfig, rec metrics.Recorder) *Oracle {
	if cfg.BucketSeconds <= 0 {
		cfg.BucketSeconds = DefaultBucketSeconds
	}
	if cfg.FallbackMaxAgeSec <= 0 {
		cfg.FallbackMaxAgeSec = DefaultFallbackMaxAgeSec
	}
	if rec == nil {
		rec = metrics.Discard{}
	}
	return &Oracle{store: store, fx: fx, providers: providers, cfg: cfg, metrics: rec}
}

// Bucket aligns ts to the oracle's bucket size
func (o *Oracle) Bucket(ts int64) int64 {
	return BucketOf(ts, o.cfg.BucketSeconds)
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// resolve walks the provider chain for one currency
func (o *Oracle) resolve(ctx context.Context, q Query, allowLive bool) (decimal.Decimal, bool) {
	for _, p := range o.providers {
		if p.Live() && !allowLive {
			continue
		}
		if price, ok := p.Lookup(ctx, q); ok {
			o.metrics.Increment("prices.provider."+p.Name(), 1)
			return price, true
		}
	}
	return decimal.Decimal{}, false
}

// GetPrices never fails; missing data yields invalid prices
func (o *Oracle) GetPrices(ctx context.Context, token storage.Token, ts int64, opts Options) Prices {
	bucket := o.Bucket(ts)
	out := Prices{BucketTs: bucket}
	query := func(c Currency) Query {
		return Query{Token: token, Currency: c, BucketTs: bucket, TimestampSec: ts, MoralisAPIKey: opts.MoralisAPIKey}
	}

	cached, err := o.store.GetSnapshot(ctx, token.ID, bucket)
	switch {
	case err == nil:
		o.metrics.Increment("prices.snapshot_hit", 1)
		return o.completeSnapshot(ctx, cached, query(RUB))
	case !errors.Is(err, storage.ErrNotFound):
		slog.Warn("Failed to read price snapshot", "token_id", token.ID, "bucket_ts", bucket, "error", err)
	}

	var (
		usd, rub     decimal.Decimal
		usdOK, rubOK bool
		mu           sync.Mutex
		g            errgroup.Group
	)
	g.Go(func() error {
		p, ok := o.resolve(ctx, query(USD), opts.AllowLiveFallback)
		mu.Lock()
		usd, usdOK = p, ok
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		p, ok := o.resolve(ctx, query(RUB), opts.AllowLiveFallback)
		mu.Lock()
		rub, rubOK = p, ok
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	if !usdOK && !rubOK {
		return o.nearby(ctx, token.ID, bucket)
	}

	if usdOK && !rubOK {
		if rate, ok := o.fx.USDRUB(ctx, bucket); ok {
			rub, rubOK = usd.Mul(rate), true
		}
	}
	if rubOK && !usdOK {
		if rate, ok := o.fx.USDRUB(ctx, bucket); ok {
			usd, usdOK = rub.Div(rate), true
		}
	}
	if !usdOK {
		o.metrics.Increment("prices.unresolved", 1)
		return out
	}

	snap := storage.PriceSnapshot{TokenID: token.ID, BucketTs: bucket, PriceUSD: usd}
	if rubOK {
		snap.PriceRUB = valid(rub)
	}

	stored, created, err := o.store.InsertSnapshotIfAbsent(ctx, snap)
	if err != nil {
		slog.Warn("Failed to store price snapshot", "token_id", token.ID, "bucket_ts", bucket, "error", err)
		stored = snap
	} else if !created {
		o.metrics.Increment("prices.snapshot_race", 1)
	}

	out.USD = valid(stored.PriceUSD)
	out.RUB = stored.PriceRUB
	return out
}

// completeSnapshot fills a missing RUB side of a cached snapshot
func (o *Oracle) completeSnapshot(ctx context.Context, snap storage.PriceSnapshot, q Query) Prices {
	out := Prices{USD: valid(snap.PriceUSD), RUB: snap.PriceRUB, BucketTs: snap.BucketTs}
	if snap.PriceRUB.Valid {
		return out
	}

	rub, ok := o.resolve(ctx, q, false)
	if !ok {
		rate, fxOK := o.fx.USDRUB(ctx, snap.BucketTs)
		if !fxOK {
			return out
		}
		rub = snap.PriceUSD.Mul(rate)
	}

	if err := o.store.FillSnapshotRUB(ctx, snap.TokenID, snap.BucketTs, rub); err != nil {
		slog.Warn("Failed to fill snapshot RUB price", "token_id", snap.TokenID, "bucket_ts", snap.BucketTs, "error", err)
	}
	out.RUB = valid(rub)
	return out
}

// nearby falls back to the closest recent snapshot within the max age
func (o *Oracle) nearby(ctx context.Context, tokenID uuid.UUID, bucket int64) Prices {
	out := Prices{BucketTs: bucket}

	recent, err := o.store.RecentSnapshots(ctx, tokenID, nearbyLimit)
	if err != nil {
		slog.Warn("Failed to list recent snapshots", "token_id", tokenID, "error", err)
		return out
	}

	buckets := make([]int64, len(recent))
	for i, s := range recent {
		buckets[i] = s.BucketTs
	}
	picked, ok := PickNearbyBucket(bucket, buckets, o.cfg.FallbackMaxAgeSec)
	if !ok {
		o.metrics.Increment("prices.unresolved", 1)
		return out
	}

	for _, s := range recent {
		if s.BucketTs == picked {
			o.metrics.Increment("prices.nearby_fallback", 1)
			out.USD = valid(s.PriceUSD)
			out.RUB = s.PriceRUB
			break
		}
	}
	return out
}
