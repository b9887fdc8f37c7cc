package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/predwatch/predwatch/internal/config"
)

var configPath string

// Execute builds the command tree and runs it under ctx.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "predwatch",
		Short: "Prediction market anomaly detection",
		Long: `predwatch watches Polymarket trade flow for volume spikes, whale
activity, abnormal price moves, coordinated wallets and fresh-wallet
bets, scores the signals into alerts, and tracks whether alerts
predicted real price moves.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (built-in defaults when empty)")

	root.AddCommand(newMonitorCmd())
	root.AddCommand(newBacktestCmd())
	root.AddCommand(newTuneCmd())

	return root.ExecuteContext(ctx)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.DefaultConfig()
		return &cfg, nil
	}
	return config.Load(configPath)
}
