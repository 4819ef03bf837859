// Package ledger synchronizes a user's wallet history from the block explorer
// into storage and backfills prices that could not be resolved at sync time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matrixise/ethfolio/internal/blockchain"
	"github.com/matrixise/ethfolio/internal/explorer"
	"github.com/matrixise/ethfolio/internal/metrics"
	"github.com/matrixise/ethfolio/internal/pricing"
	"github.com/matrixise/ethfolio/internal/secrets"
	"github.com/matrixise/ethfolio/internal/storage"
)

// User-facing configuration errors, returned verbatim to API callers.
var (
	ErrWalletNotSet       = errors.New("Wallet is not set.")
	ErrMissingExplorerKey = errors.New("Etherscan API key is missing in settings.")
)

// IsConfigError reports whether err is caused by missing user configuration
func IsConfigError(err error) bool {
	return errors.Is(err, ErrWalletNotSet) || errors.Is(err, ErrMissingExplorerKey)
}

const (
	DefaultBatchSize   = 150
	DefaultMaxBatches  = 5
	DefaultConcurrency = 4

	// DefaultLiveFallbackMaxAgeSec bounds how old a transfer may be for live
	// providers to price it
	DefaultLiveFallbackMaxAgeSec = 3600

	sourceEtherscan = "etherscan"
)

// Store is the persistence the engine needs
type Store interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (storage.Wallet, error)
	GetSettings(ctx context.Context, userID uuid.UUID) (storage.UserSettings, error)
	EnsureToken(ctx context.Context, t storage.Token) (storage.Token, error)
	UpsertTransfer(ctx context.Context, t storage.Transfer) (bool, error)
	PendingTransfers(ctx context.Context, userID uuid.UUID, afterID int64, limit int) ([]storage.TransferWithToken, error)
	UpdateTransferPrices(ctx context.Context, id int64, p storage.TransferPrices) (bool, error)
}

// Explorer lists the wallet's transactions, oldest first
type Explorer interface {
	NativeTransfers(ctx context.Context, address, apiKey string) ([]explorer.Tx, error)
	TokenTransfers(ctx context.Context, address, apiKey string) ([]explorer.TokenTx, error)
}

// PriceOracle resolves token prices at a point in time
type PriceOracle interface {
	GetPrices(ctx context.Context, token storage.Token, ts int64, opts pricing.Options) pricing.Prices
	Bucket(ts int64) int64
}

// MetadataReader reads ERC-20 metadata from the chain
type MetadataReader interface {
	TokenMetadata(ctx context.Context, contract string) (blockchain.TokenMetadata, error)
}

// Config bounds sync and backfill runs
type Config struct {
	SystemMoralisKey      string
	LiveFallbackMaxAgeSec int64
	BatchSize             int
	MaxBatches            int
	Concurrency           int
	Throttle              time.Duration
}

// Engine runs wallet syncs and price backfills
type Engine struct {
	store    Store
	explorer Explorer
	oracle   PriceOracle
	box      *secrets.Box
	meta     MetadataReader
	cfg      Config
	metrics  metrics.Recorder

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine
type Option func(*Engine)

// WithMetadataReader enables on-chain ERC-20 metadata lookups
func WithMetadataReader(m MetadataReader) Option {
	return func(e *Engine) { e.meta = m }
}

// WithSecrets sets the box used to open sealed API keys
func WithSecrets(b *secrets.Box) Option {
	return func(e *Engine) { e.box = b }
}

// WithMetrics sets the metrics sink
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// NewEngine creates an engine. Zero config values fall back to defaults.
func NewEngine(store Store, ex Explorer, oracle PriceOracle, cfg Config, opts ...Option) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = DefaultMaxBatches
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.LiveFallbackMaxAgeSec <= 0 {
		cfg.LiveFallbackMaxAgeSec = DefaultLiveFallbackMaxAgeSec
	}
	if cfg.Throttle < 0 {
		cfg.Throttle = 0
	}

	e := &Engine{
		store:    store,
		explorer: ex,
		oracle:   oracle,
		cfg:      cfg,
		metrics:  metrics.Discard{},
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// keys holds the decrypted API keys of a user
type keys struct {
	etherscan string
	moralis   string
}

// loadKeys returns the user's opened API keys. Missing settings yield empty
// keys, and a key that cannot be opened is treated as missing.
func (e *Engine) loadKeys(ctx context.Context, userID uuid.UUID) (keys, error) {
	st, err := e.store.GetSettings(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return keys{moralis: e.cfg.SystemMoralisKey}, nil
	}
	if err != nil {
		return keys{}, fmt.Errorf("failed to load settings: %w", err)
	}

	open := func(name, value string) string {
		plain, err := e.box.Open(value)
		if err != nil {
			slog.Warn("Failed to open stored API key", "user_id", userID, "key", name, "error", err)
			return ""
		}
		return plain
	}

	k := keys{
		etherscan: open("etherscan", st.EtherscanAPIKey),
		moralis:   open("moralis", st.MoralisAPIKey),
	}
	if k.moralis == "" {
		k.moralis = e.cfg.SystemMoralisKey
	}
	return k, nil
}

// pricesFor converts oracle prices into transfer fields for amount
func pricesFor(p pricing.Prices, amount decimal.Decimal) storage.TransferPrices {
	out := storage.TransferPrices{PriceUSD: p.USD, PriceRUB: p.RUB}
	if p.USD.Valid {
		out.ValueUSD = decimal.NewNullDecimal(p.USD.Decimal.Mul(amount))
	}
	if p.RUB.Valid {
		out.ValueRUB = decimal.NewNullDecimal(p.RUB.Decimal.Mul(amount))
	}
	return out
}
