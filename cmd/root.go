package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ethfolio",
	Short: "Ethereum wallet ledger and price reconciliation",
	Long: `ethfolio syncs a user's Ethereum wallet history from Etherscan into
PostgreSQL, prices every transfer in USD and RUB through a chain of price
providers cached in hourly buckets, and serves holdings and the transfer
ledger over a JSON API.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
