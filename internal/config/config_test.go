package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a config that passes validation
func validConfig() *Config {
	return &Config{
		Etherscan: EtherscanConfig{
			APIBase:  "https://api.etherscan.io/v2/api",
			ChainID:  "1",
			PageSize: 100,
			MaxPages: 20,
		},
		Prices: PricesConfig{
			CoinGeckoAPIBase:   "https://api.coingecko.com/api/v3",
			MoralisAPIBase:     "https://deep-index.moralis.io/api/v2.2",
			DexScreenerAPIBase: "https://api.dexscreener.com/latest/dex",
			FXAPIBase:          "https://api.exchangerate.host",
			BucketSeconds:      3600,
		},
		Backfill: BackfillConfig{BatchSize: 150, MaxBatches: 5, Concurrency: 4, ThrottleMS: 200},
		HTTP:     HTTPClientConfig{TimeoutMS: 8000, RetryCount: 2, RetryBaseMS: 250},
	}
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name  string
		cfg   *Config
		check func(*Config)
	}{
		{
			name: "single rpc_url converts to rpc_urls",
			cfg: &Config{
				RPCUrl: "https://rpc1.example.com",
			},
			check: func(c *Config) {
				assert.Empty(t, c.RPCUrl)
				assert.Equal(t, []string{"https://rpc1.example.com"}, c.RPCUrls)
			},
		},
		{
			name: "rpc_urls takes precedence over rpc_url",
			cfg: &Config{
				RPCUrl:  "https://rpc1.example.com",
				RPCUrls: []string{"https://rpc2.example.com", "https://rpc3.example.com"},
			},
			check: func(c *Config) {
				assert.Empty(t, c.RPCUrl)
				assert.Equal(t, []string{"https://rpc2.example.com", "https://rpc3.example.com"}, c.RPCUrls)
			},
		},
		{
			name: "no rpc endpoints is allowed",
			cfg:  &Config{},
			check: func(c *Config) {
				assert.Empty(t, c.RPCUrls)
			},
		},
		{
			name: "explorer and backfill bounds clamp to one",
			cfg: &Config{
				Etherscan: EtherscanConfig{PageSize: 0, MaxPages: -3},
				Backfill:  BackfillConfig{Concurrency: 0, BatchSize: 0, MaxBatches: 0},
			},
			check: func(c *Config) {
				assert.Equal(t, 1, c.Etherscan.PageSize)
				assert.Equal(t, 1, c.Etherscan.MaxPages)
				assert.Equal(t, 1, c.Backfill.Concurrency)
				assert.Equal(t, 1, c.Backfill.BatchSize)
				assert.Equal(t, 1, c.Backfill.MaxBatches)
			},
		},
		{
			name: "trailing slashes trimmed from api bases",
			cfg: &Config{
				Etherscan: EtherscanConfig{APIBase: "https://api.etherscan.io/v2/api/"},
				Prices:    PricesConfig{CoinGeckoAPIBase: "https://api.coingecko.com/api/v3/"},
			},
			check: func(c *Config) {
				assert.Equal(t, "https://api.etherscan.io/v2/api", c.Etherscan.APIBase)
				assert.Equal(t, "https://api.coingecko.com/api/v3", c.Prices.CoinGeckoAPIBase)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.cfg.Normalize())
			tt.check(tt.cfg)
		})
	}
}

func TestConfigDurations(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.CacheTTLMS = 1500

	assert.Equal(t, 200*time.Millisecond, cfg.Backfill.Throttle())
	assert.Equal(t, 8*time.Second, cfg.HTTP.Timeout())
	assert.Equal(t, 250*time.Millisecond, cfg.HTTP.RetryBase())
	assert.Equal(t, 1500*time.Millisecond, cfg.HTTP.CacheTTL())
}

func TestConfigGetTimezone(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		wantName string
	}{
		{name: "UTC timezone", cfg: &Config{Timezone: "UTC"}, wantName: "UTC"},
		{name: "empty timezone defaults to UTC", cfg: &Config{Timezone: ""}, wantName: "UTC"},
		{name: "named timezone", cfg: &Config{Timezone: "Europe/Moscow"}, wantName: "Europe/Moscow"},
		{name: "unknown timezone falls back to UTC", cfg: &Config{Timezone: "Nowhere/Land"}, wantName: "UTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tz := tt.cfg.GetTimezone()
			assert.Equal(t, tt.wantName, tz.String())
		})
	}
}

func TestConfigShouldRunImmediately(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name    string
		cfg     *Config
		wantRun bool
	}{
		{name: "true when explicitly set", cfg: &Config{RunImmediately: &trueVal}, wantRun: true},
		{name: "false when explicitly disabled", cfg: &Config{RunImmediately: &falseVal}, wantRun: false},
		{name: "nil pointer defaults to true", cfg: &Config{RunImmediately: nil}, wantRun: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantRun, tt.cfg.ShouldRunImmediately())
		})
	}
}

func TestConfigIsCronExpression(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		expected bool
	}{
		{name: "duration is not cron", interval: "5m", expected: false},
		{name: "cron expression detected", interval: "*/5 * * * *", expected: true},
		{name: "six-field cron with seconds", interval: "*/30 * * * * *", expected: true},
		{name: "empty is not cron", interval: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Interval: tt.interval}
			assert.Equal(t, tt.expected, cfg.IsCronExpression())
		})
	}
}

func TestConfigHTTPPortValidation(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name      string
		httpPort  int
		wantError bool
	}{
		{name: "valid port 8080", httpPort: 8080},
		{name: "unset port", httpPort: 0},
		{name: "port too low (1023)", httpPort: 1023, wantError: true},
		{name: "port too high (65536)", httpPort: 65536, wantError: true},
		{name: "minimum valid port (1024)", httpPort: 1024},
		{name: "maximum valid port (65535)", httpPort: 65535},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.HTTPPort = tt.httpPort
			err := validator.Struct(cfg)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigLogLevelValidation(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name      string
		logLevel  string
		wantError bool
	}{
		{name: "valid debug", logLevel: "debug"},
		{name: "valid info", logLevel: "info"},
		{name: "valid warn", logLevel: "warn"},
		{name: "valid error", logLevel: "error"},
		{name: "empty is allowed", logLevel: ""},
		{name: "invalid level", logLevel: "invalid", wantError: true},
		{name: "uppercase rejected", logLevel: "DEBUG", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.LogLevel = tt.logLevel
			err := validator.Struct(cfg)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSectionValidation(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing explorer base", mutate: func(c *Config) { c.Etherscan.APIBase = "" }, wantError: true},
		{name: "non numeric chain id", mutate: func(c *Config) { c.Etherscan.ChainID = "mainnet" }, wantError: true},
		{name: "zero bucket size", mutate: func(c *Config) { c.Prices.BucketSeconds = 0 }, wantError: true},
		{name: "negative throttle", mutate: func(c *Config) { c.Backfill.ThrottleMS = -1 }, wantError: true},
		{name: "zero http timeout", mutate: func(c *Config) { c.HTTP.TimeoutMS = 0 }, wantError: true},
		{name: "too many retries", mutate: func(c *Config) { c.HTTP.RetryCount = 11 }, wantError: true},
		{name: "invalid redis url", mutate: func(c *Config) { c.RedisURL = "not a url" }, wantError: true},
		{name: "redis url accepted", mutate: func(c *Config) { c.RedisURL = "redis://localhost:6379/0" }},
		{name: "invalid rpc url in list", mutate: func(c *Config) { c.RPCUrls = []string{"nope"} }, wantError: true},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validator.Struct(cfg)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
