package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/airchains-network/simnode/config"
	"github.com/airchains-network/simnode/engine"
	"github.com/airchains-network/simnode/metrics"
	"github.com/airchains-network/simnode/proxy"
	"github.com/spf13/cobra"
)

// StartCmd represents the start command
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node",
	Long: `Start the node with the configuration from ~/.simnode/config.toml, or the
defaults if it does not exist. It serves JSON-RPC over HTTP and WebSocket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startCommand(cmd)
	},
}

func init() {
	StartCmd.Flags().String("fork.url", "", "JSON-RPC URL of the chain to fork (overrides config)")
	StartCmd.Flags().Uint64("fork.block-number", 0, "Block to fork at (overrides config)")
	StartCmd.Flags().Uint64("mining.block-time", 0, "Mine every given seconds instead of instantly")
}

func startCommand(cmd *cobra.Command) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if url, _ := cmd.Flags().GetString("fork.url"); url != "" {
		cfg.Fork.URL = url
	}
	if cmd.Flags().Changed("fork.block-number") {
		cfg.Fork.BlockNumber, _ = cmd.Flags().GetUint64("fork.block-number")
	}
	if blockTime, _ := cmd.Flags().GetUint64("mining.block-time"); blockTime > 0 {
		cfg.Mining.Mode = config.MiningInterval
		cfg.Mining.BlockTime = blockTime
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg.General.LogLevel)
	log.Infof("Using config %s", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.General.Metrics {
		m = metrics.New()
	}

	e := engine.New(cfg, engine.Options{Log: log, Metrics: m})
	defer e.Close()
	if err := e.Ready(ctx); err != nil {
		return fmt.Errorf("failed to initialize node: %v", err)
	}

	accounts, err := e.Accounts(ctx)
	if err != nil {
		return err
	}
	for i, addr := range accounts {
		log.Infof("Account (%d) %s", i, addr.Hex())
	}
	if cfg.Fork.URL != "" {
		log.Infof("Forked %s", cfg.Fork.URL)
	}

	log.Infof("Starting SimNode on %s...", cfg.General.RPCPort)
	server := proxy.NewServer(e, m, log)
	if err := server.Start(ctx, cfg.General.RPCPort, cfg.General.WSPort); err != nil {
		return fmt.Errorf("proxy server failed: %v", err)
	}
	log.Info("Shutting down")
	return nil
}
