package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the bare environment variables the
// service has always honoured, in addition to the ETHFOLIO_ prefixed form.
var envBindings = map[string]string{
	"rpc_url":                          "RPC_URL",
	"rpc_urls":                         "RPC_URLS",
	"log_level":                        "LOG_LEVEL",
	"log_format":                       "LOG_FORMAT",
	"interval":                         "INTERVAL",
	"http_port":                        "HTTP_PORT",
	"run_immediately":                  "RUN_IMMEDIATELY",
	"timezone":                         "TIMEZONE",
	"keys_encryption_secret":           "KEYS_ENCRYPTION_SECRET",
	"redis_url":                        "REDIS_URL",
	"etherscan.api_base":               "ETHERSCAN_API_BASE",
	"etherscan.chain_id":               "ETHERSCAN_CHAIN_ID",
	"etherscan.page_size":              "ETHERSCAN_PAGE_SIZE",
	"etherscan.max_pages":              "ETHERSCAN_MAX_PAGES",
	"prices.coingecko_api_base":        "COINGECKO_API_BASE",
	"prices.moralis_api_key":           "MORALIS_API_KEY",
	"prices.bucket_seconds":            "PRICE_BUCKET_SECONDS",
	"prices.live_fallback_max_age_sec": "LIVE_FALLBACK_MAX_AGE_SEC",
	"prices.fallback_max_age_sec":      "PRICE_FALLBACK_MAX_AGE_SEC",
	"backfill.batch_size":              "BACKFILL_BATCH_SIZE",
	"backfill.max_batches":             "BACKFILL_MAX_BATCHES",
	"backfill.concurrency":             "BACKFILL_CONCURRENCY",
	"backfill.throttle_ms":             "BACKFILL_THROTTLE_MS",
	"http.timeout_ms":                  "HTTP_TIMEOUT_MS",
	"http.retry_count":                 "HTTP_RETRY_COUNT",
	"http.retry_base_ms":               "HTTP_RETRY_BASE_MS",
	"http.cache_ttl_ms":                "HTTP_CACHE_TTL_MS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("interval", "") // Run once by default
	v.SetDefault("http_port", 8080)
	v.SetDefault("run_immediately", true)
	v.SetDefault("timezone", "UTC")

	v.SetDefault("etherscan.api_base", "https://api.etherscan.io/v2/api")
	v.SetDefault("etherscan.chain_id", "1")
	v.SetDefault("etherscan.page_size", 100)
	v.SetDefault("etherscan.max_pages", 20)
	v.SetDefault("etherscan.requests_per_second", 5)

	v.SetDefault("prices.coingecko_api_base", "https://api.coingecko.com/api/v3")
	v.SetDefault("prices.moralis_api_base", "https://deep-index.moralis.io/api/v2.2")
	v.SetDefault("prices.dexscreener_api_base", "https://api.dexscreener.com/latest/dex")
	v.SetDefault("prices.fx_api_base", "https://api.exchangerate.host")
	v.SetDefault("prices.bucket_seconds", 3600)
	v.SetDefault("prices.live_fallback_max_age_sec", 3600)
	v.SetDefault("prices.fallback_max_age_sec", 72*3600)

	v.SetDefault("backfill.batch_size", 150)
	v.SetDefault("backfill.max_batches", 5)
	v.SetDefault("backfill.concurrency", 4)
	v.SetDefault("backfill.throttle_ms", 200)

	v.SetDefault("http.timeout_ms", 8000)
	v.SetDefault("http.retry_count", 2)
	v.SetDefault("http.retry_base_ms", 250)
	v.SetDefault("http.cache_ttl_ms", 0)
}

// loadDotEnv reads a .env file from the working directory when one exists.
// Variables already present in the environment win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	// 3. Environment variables
	// ETHFOLIO_ETHERSCAN_PAGE_SIZE -> etherscan.page_size
	v.SetEnvPrefix("ETHFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		v.BindEnv(key, "ETHFOLIO_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}

	// 4. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 5. Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Parse comma-separated RPC_URLS env var
	if rpcURLsEnv := v.GetString("rpc_urls"); rpcURLsEnv != "" {
		if strings.Contains(rpcURLsEnv, ",") {
			urls := strings.Split(rpcURLsEnv, ",")
			for i := range urls {
				urls[i] = strings.TrimSpace(urls[i])
			}
			cfg.RPCUrls = urls
		}
	}

	// 6. Normalize
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("config normalization failed: %w", err)
	}

	// 7. Validate with validator
	validate := NewValidator()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with DATABASE_URL from environment
func LoadWithDefaults(configPath string) (*Config, string, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, "", err
	}

	databaseURL, err := DatabaseURL()
	if err != nil {
		return nil, "", err
	}

	return cfg, databaseURL, nil
}

// DatabaseURL returns the required DATABASE_URL
func DatabaseURL() (string, error) {
	if err := loadDotEnv(); err != nil {
		return "", err
	}

	v := viper.New()
	v.BindEnv("database_url", "DATABASE_URL")
	databaseURL := v.GetString("database_url")

	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is required")
	}
	return databaseURL, nil
}
