package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matrixise/ethfolio/internal/blockchain"
	"github.com/matrixise/ethfolio/internal/config"
	"github.com/matrixise/ethfolio/internal/explorer"
	"github.com/matrixise/ethfolio/internal/health"
	"github.com/matrixise/ethfolio/internal/httpclient"
	"github.com/matrixise/ethfolio/internal/ledger"
	"github.com/matrixise/ethfolio/internal/logger"
	"github.com/matrixise/ethfolio/internal/metrics"
	"github.com/matrixise/ethfolio/internal/portfolio"
	"github.com/matrixise/ethfolio/internal/pricing"
	"github.com/matrixise/ethfolio/internal/ratelimit"
	"github.com/matrixise/ethfolio/internal/secrets"
	"github.com/matrixise/ethfolio/internal/storage"
)

// app holds the wired components shared by the commands
type app struct {
	cfg       *config.Config
	store     *storage.Store
	box       *secrets.Box
	rpc       *blockchain.Client
	redis     *redis.Client
	registry  *metrics.Registry
	fx        *pricing.FXClient
	engine    *ledger.Engine
	portfolio *portfolio.Service
}

// loadConfig reads the configuration and applies its log settings
func loadConfig() (*config.Config, string, error) {
	logger.Setup(logLevel)

	cfg, databaseURL, err := config.LoadWithDefaults(cfgFile)
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return nil, "", err
	}

	if cfg.LogLevel != "" && !rootCmd.PersistentFlags().Changed("log-level") {
		logLevel = cfg.LogLevel
	}
	logger.SetupWithFormat(logLevel, cfg.LogFormat)
	return cfg, databaseURL, nil
}

// openBox returns nil when no encryption secret is configured; sealed keys
// then fail to open and are treated as missing
func openBox(cfg *config.Config) (*secrets.Box, error) {
	if cfg.KeysEncryptionSecret == "" {
		return nil, nil
	}
	box, err := secrets.New(cfg.KeysEncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("keys_encryption_secret: %w", err)
	}
	return box, nil
}

// newApp connects to PostgreSQL and builds the sync engine and views
func newApp(ctx context.Context) (*app, error) {
	cfg, databaseURL, err := loadConfig()
	if err != nil {
		return nil, err
	}

	box, err := openBox(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(ctx, databaseURL)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		return nil, err
	}
	slog.Info("PostgreSQL connection established")

	a := &app{cfg: cfg, store: store, box: box, registry: metrics.Default}

	hc := httpclient.New(
		httpclient.WithMetrics(a.registry),
		httpclient.WithDefaults(httpclient.Options{
			Timeout:   cfg.HTTP.Timeout(),
			Retries:   cfg.HTTP.RetryCount,
			RetryBase: cfg.HTTP.RetryBase(),
			CacheTTL:  cfg.HTTP.CacheTTL(),
		}),
	)

	a.fx = pricing.NewFXClient(hc, cfg.Prices.FXAPIBase)
	oracle := pricing.NewOracle(store, a.fx,
		pricing.DefaultProviders(hc, pricing.ProviderConfig{
			CoinGeckoAPIBase:   cfg.Prices.CoinGeckoAPIBase,
			MoralisAPIBase:     cfg.Prices.MoralisAPIBase,
			MoralisAPIKey:      cfg.Prices.MoralisAPIKey,
			DexScreenerAPIBase: cfg.Prices.DexScreenerAPIBase,
		}),
		pricing.OracleConfig{
			BucketSeconds:     cfg.Prices.BucketSeconds,
			FallbackMaxAgeSec: cfg.Prices.FallbackMaxAgeSec,
		},
		a.registry,
	)

	ex := explorer.New(hc, explorer.Config{
		APIBase:           cfg.Etherscan.APIBase,
		ChainID:           cfg.Etherscan.ChainID,
		PageSize:          cfg.Etherscan.PageSize,
		MaxPages:          cfg.Etherscan.MaxPages,
		RequestsPerSecond: cfg.Etherscan.RequestsPerSecond,
	})

	opts := []ledger.Option{ledger.WithSecrets(box), ledger.WithMetrics(a.registry)}
	if len(cfg.RPCUrls) > 0 {
		rpc, err := blockchain.NewClient(cfg.RPCUrls)
		if err != nil {
			slog.Warn("RPC unavailable, token metadata lookups disabled", "error", err)
		} else {
			a.rpc = rpc
			opts = append(opts, ledger.WithMetadataReader(rpc))
			slog.Info("RPC connection established", "endpoints", len(cfg.RPCUrls), "primary", cfg.RPCUrls[0])
		}
	}

	a.engine = ledger.NewEngine(store, ex, oracle, ledger.Config{
		SystemMoralisKey:      cfg.Prices.MoralisAPIKey,
		LiveFallbackMaxAgeSec: cfg.Prices.LiveFallbackMaxAgeSec,
		BatchSize:             cfg.Backfill.BatchSize,
		MaxBatches:            cfg.Backfill.MaxBatches,
		Concurrency:           cfg.Backfill.Concurrency,
		Throttle:              cfg.Backfill.Throttle(),
	}, opts...)

	a.portfolio = portfolio.NewService(store, a.fx)
	return a, nil
}

// limiter returns the Redis limiter when redis_url is set, otherwise the
// in-process one
func (a *app) limiter(ctx context.Context) (ratelimit.Limiter, error) {
	if a.cfg.RedisURL == "" {
		return ratelimit.NewMemoryLimiter(), nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis_url: %w", err)
	}
	a.redis = redis.NewClient(opts)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unreachable, rate limiting fails open until it recovers", "error", err)
	} else {
		slog.Info("Redis rate limiter connected", "addr", opts.Addr)
	}
	return ratelimit.NewRedisLimiter(a.redis), nil
}

// healthChecker builds the checker; the RPC check is only added when a
// client exists. interval is zero outside daemon mode.
func (a *app) healthChecker(interval time.Duration) *health.Checker {
	var rpc health.Endpoints
	if a.rpc != nil {
		rpc = a.rpc
	}
	return health.NewChecker(a.store, rpc, interval)
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			slog.Warn("Failed to close redis client", "error", err)
		}
	}
	if a.rpc != nil {
		a.rpc.Close()
	}
	a.store.Close()
}
