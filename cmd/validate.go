package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matrixise/ethfolio/internal/scheduler"
	"github.com/matrixise/ethfolio/internal/secrets"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file syntax and values without running the application.`,
	RunE:  validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, databaseURL, err := loadConfig()
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return err
	}

	if cfg.KeysEncryptionSecret != "" {
		if err := secrets.ValidateSecret(cfg.KeysEncryptionSecret); err != nil {
			slog.Error("Configuration validation failed", "error", err)
			return err
		}
	}

	schedule := "disabled"
	if cfg.Interval != "" {
		schedule = scheduler.DescribeSchedule(cfg.Interval, cfg.GetTimezone())
	}

	slog.Info("✓ Configuration valid",
		"etherscan_api_base", cfg.Etherscan.APIBase,
		"chain_id", cfg.Etherscan.ChainID,
		"rpc_endpoints", len(cfg.RPCUrls),
		"schedule", schedule,
		"log_level", cfg.LogLevel,
		"redis", cfg.RedisURL != "",
		"keys_sealed", cfg.KeysEncryptionSecret != "",
		"database_url_set", databaseURL != "",
	)
	return nil
}
