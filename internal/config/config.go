package config

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/matrixise/ethfolio/internal/scheduler"
)

// Config represents the application configuration
type Config struct {
	RPCUrl               string   `mapstructure:"rpc_url" validate:"omitempty,url"`
	RPCUrls              []string `mapstructure:"rpc_urls" validate:"omitempty,dive,url"`
	Interval             string   `mapstructure:"interval" validate:"omitempty,schedule"`
	Timezone             string   `mapstructure:"timezone" validate:"omitempty,timezone"`
	RunImmediately       *bool    `mapstructure:"run_immediately"`
	LogLevel             string   `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat            string   `mapstructure:"log_format" validate:"omitempty,oneof=text json"`
	HTTPPort             int      `mapstructure:"http_port" validate:"omitempty,min=1024,max=65535"`
	KeysEncryptionSecret string   `mapstructure:"keys_encryption_secret"`
	RedisURL             string   `mapstructure:"redis_url" validate:"omitempty,url"`

	Etherscan EtherscanConfig  `mapstructure:"etherscan"`
	Prices    PricesConfig     `mapstructure:"prices"`
	Backfill  BackfillConfig   `mapstructure:"backfill"`
	HTTP      HTTPClientConfig `mapstructure:"http"`
}

// EtherscanConfig configures the block explorer client
type EtherscanConfig struct {
	APIBase           string  `mapstructure:"api_base" validate:"required,url"`
	ChainID           string  `mapstructure:"chain_id" validate:"required,numeric"`
	PageSize          int     `mapstructure:"page_size" validate:"min=1,max=10000"`
	MaxPages          int     `mapstructure:"max_pages" validate:"min=1"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
}

// PricesConfig configures the price oracle and its providers
type PricesConfig struct {
	CoinGeckoAPIBase      string `mapstructure:"coingecko_api_base" validate:"required,url"`
	MoralisAPIBase        string `mapstructure:"moralis_api_base" validate:"required,url"`
	MoralisAPIKey         string `mapstructure:"moralis_api_key"`
	DexScreenerAPIBase    string `mapstructure:"dexscreener_api_base" validate:"required,url"`
	FXAPIBase             string `mapstructure:"fx_api_base" validate:"required,url"`
	BucketSeconds         int64  `mapstructure:"bucket_seconds" validate:"min=1"`
	LiveFallbackMaxAgeSec int64  `mapstructure:"live_fallback_max_age_sec" validate:"gte=0"`
	FallbackMaxAgeSec     int64  `mapstructure:"fallback_max_age_sec" validate:"gte=0"`
}

// BackfillConfig bounds a single backfill run
type BackfillConfig struct {
	BatchSize   int `mapstructure:"batch_size" validate:"min=1"`
	MaxBatches  int `mapstructure:"max_batches" validate:"min=1"`
	Concurrency int `mapstructure:"concurrency" validate:"min=1"`
	ThrottleMS  int `mapstructure:"throttle_ms" validate:"gte=0"`
}

// HTTPClientConfig holds defaults for outbound JSON requests
type HTTPClientConfig struct {
	TimeoutMS   int `mapstructure:"timeout_ms" validate:"min=1"`
	RetryCount  int `mapstructure:"retry_count" validate:"gte=0,max=10"`
	RetryBaseMS int `mapstructure:"retry_base_ms" validate:"gte=0"`
	CacheTTLMS  int `mapstructure:"cache_ttl_ms" validate:"gte=0"`
}

// Throttle returns the pause between backfill chunks
func (b BackfillConfig) Throttle() time.Duration {
	return time.Duration(b.ThrottleMS) * time.Millisecond
}

// Timeout returns the per-attempt request timeout
func (h HTTPClientConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutMS) * time.Millisecond
}

// RetryBase returns the linear retry step
func (h HTTPClientConfig) RetryBase() time.Duration {
	return time.Duration(h.RetryBaseMS) * time.Millisecond
}

// CacheTTL returns the response cache lifetime, zero disables caching
func (h HTTPClientConfig) CacheTTL() time.Duration {
	return time.Duration(h.CacheTTLMS) * time.Millisecond
}

// Normalize folds the single rpc_url into rpc_urls and clamps the explorer
// and backfill bounds to at least one.
func (c *Config) Normalize() error {
	if len(c.RPCUrls) == 0 && c.RPCUrl != "" {
		c.RPCUrls = []string{c.RPCUrl}
	}
	c.RPCUrl = ""

	c.Etherscan.PageSize = max(1, c.Etherscan.PageSize)
	c.Etherscan.MaxPages = max(1, c.Etherscan.MaxPages)
	c.Backfill.Concurrency = max(1, c.Backfill.Concurrency)
	c.Backfill.BatchSize = max(1, c.Backfill.BatchSize)
	c.Backfill.MaxBatches = max(1, c.Backfill.MaxBatches)

	c.Etherscan.APIBase = strings.TrimRight(c.Etherscan.APIBase, "/")
	c.Prices.CoinGeckoAPIBase = strings.TrimRight(c.Prices.CoinGeckoAPIBase, "/")
	c.Prices.MoralisAPIBase = strings.TrimRight(c.Prices.MoralisAPIBase, "/")
	c.Prices.DexScreenerAPIBase = strings.TrimRight(c.Prices.DexScreenerAPIBase, "/")
	c.Prices.FXAPIBase = strings.TrimRight(c.Prices.FXAPIBase, "/")
	return nil
}

// GetTimezone returns the configured location, UTC when unset or invalid
func (c *Config) GetTimezone() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ShouldRunImmediately reports whether the daemon runs a job on start (default true)
func (c *Config) ShouldRunImmediately() bool {
	if c.RunImmediately == nil {
		return true
	}
	return *c.RunImmediately
}

// IsCronExpression reports whether Interval is a cron expression
func (c *Config) IsCronExpression() bool {
	return len(strings.Fields(c.Interval)) >= 5
}

// ethAddressValidator validates Ethereum addresses
func ethAddressValidator(fl validator.FieldLevel) bool {
	return common.IsHexAddress(fl.Field().String())
}

// scheduleValidator validates a duration or cron interval
func scheduleValidator(fl validator.FieldLevel) bool {
	return scheduler.ValidateScheduleInterval(fl.Field().String()) == nil
}

// NewValidator creates a validator with custom validation rules
func NewValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterValidation("eth_addr", ethAddressValidator)
	validate.RegisterValidation("schedule", scheduleValidator)
	return validate
}

// ValidateWalletAddress checks a user supplied wallet address
func ValidateWalletAddress(address string) error {
	return NewValidator().Var(address, "required,startswith=0x,eth_addr")
}
