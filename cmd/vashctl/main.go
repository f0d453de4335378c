// Command vashctl is the operator tool for a VashSender deployment.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"vashsender/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vashctl",
	Short: "VashSender operations tool",
	Long: `vashctl inspects and repairs a running VashSender deployment.

Configuration comes from the environment (and .env when present), or from a
JSON file given with --config.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "JSON config file (defaults to environment variables)")
	rootCmd.AddCommand(dnsCmd, smtpCmd, queueCmd, campaignsCmd)
}

// loadConfig is called lazily so commands that need no config (dns check
// with explicit flags) still work on a bare machine.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	return config.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
