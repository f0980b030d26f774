package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/powerswitch/internal/config"
)

var (
	version = "0.1.0"

	configPath string
	region     string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "powerswitch",
		Short: "Power EC2 instances on and off",
		Long: `powerswitch - EC2 power switch

Starts and stops EC2 instances on request, acting only on instances that
are currently in the opposite state. On power-on it can rewrite the
attached security groups so management ports only admit the caller.

Run it as an HTTP service with "serve", or drive it directly from the
command line.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`powerswitch {{.Version}}
`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.toml or .yaml)")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if region != "" {
		cfg.AWS.Region = region
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
