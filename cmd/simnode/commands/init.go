package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/airchains-network/simnode/config"
	"github.com/spf13/cobra"
)

// InitCmd represents the init command
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the node home directory",
	Long: `Initialize the node home directory with a configuration file.
Flags override the defaults written to config.toml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(cmd)
	},
}

func init() {
	// Chain configuration flags
	InitCmd.Flags().Uint64("chain.id", 1337, "Chain ID")
	InitCmd.Flags().String("chain.hardfork", "petersburg", "Hardfork rules to run")
	InitCmd.Flags().Uint64("chain.gas-limit", 6721975, "Block gas limit")

	// Account configuration flags
	InitCmd.Flags().Int("accounts.count", 10, "Number of generated accounts")
	InitCmd.Flags().String("accounts.seed", "simnode", "Seed the accounts are derived from")
	InitCmd.Flags().Bool("accounts.secure", false, "Keep generated accounts locked")

	// Mining configuration flags
	InitCmd.Flags().String("mining.mode", config.MiningInstant, "Mining mode (instant/interval)")
	InitCmd.Flags().Uint64("mining.block-time", 0, "Seconds between blocks in interval mode")

	// Fork configuration flags
	InitCmd.Flags().String("fork.url", "", "JSON-RPC URL of the chain to fork")
	InitCmd.Flags().Uint64("fork.block-number", 0, "Block to fork at (default latest)")

	// General configuration flags
	InitCmd.Flags().String("rpc.port", ":8545", "HTTP JSON-RPC listen address")
	InitCmd.Flags().String("ws.port", ":8546", "WebSocket JSON-RPC listen address")
	InitCmd.Flags().Bool("persist", false, "Keep the chain in a database under the home directory")
}

func initCommand(cmd *cobra.Command) error {
	home, err := homeDir(cmd)
	if err != nil {
		return err
	}
	log := newLogger("info")

	cfg := config.DefaultConfig()
	cfg.Chain.ChainID, _ = cmd.Flags().GetUint64("chain.id")
	cfg.Chain.Hardfork, _ = cmd.Flags().GetString("chain.hardfork")
	cfg.Chain.GasLimit, _ = cmd.Flags().GetUint64("chain.gas-limit")
	cfg.Accounts.Count, _ = cmd.Flags().GetInt("accounts.count")
	cfg.Accounts.Seed, _ = cmd.Flags().GetString("accounts.seed")
	cfg.Accounts.Secure, _ = cmd.Flags().GetBool("accounts.secure")
	cfg.Mining.Mode, _ = cmd.Flags().GetString("mining.mode")
	cfg.Mining.BlockTime, _ = cmd.Flags().GetUint64("mining.block-time")
	cfg.Fork.URL, _ = cmd.Flags().GetString("fork.url")
	cfg.Fork.BlockNumber, _ = cmd.Flags().GetUint64("fork.block-number")
	cfg.General.RPCPort, _ = cmd.Flags().GetString("rpc.port")
	cfg.General.WSPort, _ = cmd.Flags().GetString("ws.port")

	if persist, _ := cmd.Flags().GetBool("persist"); persist {
		cfg.Database.Path = filepath.Join(home, "data", "chain_db")
		if err := os.MkdirAll(cfg.Database.Path, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", cfg.Database.Path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	configPath := filepath.Join(home, "config.toml")
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to create config file: %v", err)
	}
	log.Infof("Created config file at: %s", configPath)

	fmt.Println("\n=== Configuration Summary ===")
	fmt.Printf("Chain ID: %d\n", cfg.Chain.ChainID)
	fmt.Printf("Hardfork: %s\n", cfg.Chain.Hardfork)
	fmt.Printf("Accounts: %d\n", cfg.Accounts.Count)
	fmt.Printf("Mining: %s\n", cfg.Mining.Mode)
	if cfg.Fork.URL != "" {
		fmt.Printf("Fork: %s\n", cfg.Fork.URL)
	}
	if cfg.Database.Path != "" {
		fmt.Printf("Database: %s\n", cfg.Database.Path)
	}
	fmt.Printf("RPC Port: %s\n", cfg.General.RPCPort)
	fmt.Printf("WS Port: %s\n", cfg.General.WSPort)
	fmt.Printf("Config File: %s\n", configPath)

	log.Info("Initialization completed successfully!")
	log.Info("You can start the node using: ./simnode start")
	return nil
}
