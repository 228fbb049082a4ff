package config

import (
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/pelletier/go-toml"
)

// Mining modes.
const (
	MiningInstant  = "instant"
	MiningInterval = "interval"
)

// Intrinsic gas policies: reject at admission, or mine as a failed transaction.
const (
	IntrinsicGasReject = "reject"
	IntrinsicGasMine   = "mine"
)

// Hardforks lists the supported rule sets, oldest first.
var Hardforks = []string{"byzantium", "constantinople", "petersburg", "istanbul", "muirGlacier", "berlin"}

// Config holds the application configuration
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Chain    ChainConfig    `toml:"chain"`
	Accounts AccountsConfig `toml:"accounts"`
	Mining   MiningConfig   `toml:"mining"`
	Fork     ForkConfig     `toml:"fork"`
	Database DatabaseConfig `toml:"database"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	RPCPort  string `toml:"rpc_port"`
	WSPort   string `toml:"ws_port"`
	LogLevel string `toml:"log_level"`
	Metrics  bool   `toml:"metrics"`
}

// ChainConfig holds chain parameters
type ChainConfig struct {
	ChainID   uint64 `toml:"chain_id"`
	NetworkID uint64 `toml:"network_id"`
	Hardfork  string `toml:"hardfork"`
	GasLimit  uint64 `toml:"gas_limit"`
	GasPrice  uint64 `toml:"gas_price"`
	Coinbase  string `toml:"coinbase"`
	StartTime int64  `toml:"start_time"`
}

// AccountsConfig holds the generated account settings
type AccountsConfig struct {
	Count               int      `toml:"count"`
	Seed                string   `toml:"seed"`
	DefaultBalanceEther uint64   `toml:"default_balance_ether"`
	Secure              bool     `toml:"secure"`
	Unlocked            []string `toml:"unlocked"`
}

// MiningConfig holds block production settings
type MiningConfig struct {
	Mode               string `toml:"mode"`
	BlockTime          uint64 `toml:"block_time"`
	IntrinsicGasPolicy string `toml:"intrinsic_gas_policy"`
}

// ForkConfig holds the remote chain to fork from
type ForkConfig struct {
	URL         string `toml:"url"`
	BlockNumber uint64 `toml:"block_number"`
	Timeout     string `toml:"timeout"`
	Retries     int    `toml:"retries"`
}

// DatabaseConfig holds database paths
type DatabaseConfig struct {
	Path string `toml:"path"` // empty keeps everything in memory
}

// DefaultConfig returns a configuration usable without any file.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			RPCPort:  ":8545",
			WSPort:   ":8546",
			LogLevel: "info",
			Metrics:  true,
		},
		Chain: ChainConfig{
			ChainID:  1337,
			Hardfork: "petersburg",
			GasLimit: 6721975,
			GasPrice: 20 * params.GWei,
			Coinbase: common.Address{}.Hex(),
		},
		Accounts: AccountsConfig{
			Count:               10,
			Seed:                "simnode",
			DefaultBalanceEther: 100,
		},
		Mining: MiningConfig{
			Mode:               MiningInstant,
			IntrinsicGasPolicy: IntrinsicGasReject,
		},
		Fork: ForkConfig{
			Timeout: "10s",
			Retries: 3,
		},
	}
}

// LoadConfig reads from config.toml and returns Config struct
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	file, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	err = toml.Unmarshal(file, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the values that cannot be defaulted.
func (c Config) Validate() error {
	if _, err := c.ChainRules(); err != nil {
		return err
	}
	switch c.Mining.Mode {
	case MiningInstant:
	case MiningInterval:
		if c.Mining.BlockTime == 0 {
			return fmt.Errorf("invalid mining.block_time: interval mining needs a block time")
		}
	default:
		return fmt.Errorf("invalid mining.mode: %s. Must be either '%s' or '%s'", c.Mining.Mode, MiningInstant, MiningInterval)
	}
	switch c.Mining.IntrinsicGasPolicy {
	case IntrinsicGasReject, IntrinsicGasMine:
	default:
		return fmt.Errorf("invalid mining.intrinsic_gas_policy: %s", c.Mining.IntrinsicGasPolicy)
	}
	if c.Chain.GasLimit == 0 {
		return fmt.Errorf("invalid chain.gas_limit: must be positive")
	}
	if c.Chain.Coinbase != "" && !common.IsHexAddress(c.Chain.Coinbase) {
		return fmt.Errorf("invalid chain.coinbase: %s", c.Chain.Coinbase)
	}
	if c.Accounts.Count < 0 {
		return fmt.Errorf("invalid accounts.count: %d", c.Accounts.Count)
	}
	if _, err := c.ForkTimeout(); err != nil {
		return err
	}
	return nil
}

// ForkTimeout parses the fork fetch timeout.
func (c Config) ForkTimeout() (time.Duration, error) {
	if c.Fork.Timeout == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Fork.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid fork.timeout: %w", err)
	}
	return d, nil
}

// ChainRules builds the go-ethereum chain config for the configured hardfork.
// Every fork up to and including the selected one is active from genesis.
func (c Config) ChainRules() (*params.ChainConfig, error) {
	idx := -1
	for i, name := range Hardforks {
		if strings.EqualFold(name, c.Chain.Hardfork) {
			idx = i
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("invalid chain.hardfork: %s. Must be one of %s", c.Chain.Hardfork, strings.Join(Hardforks, ", "))
	}
	cfg := &params.ChainConfig{
		ChainID:        new(big.Int).SetUint64(c.Chain.ChainID),
		HomesteadBlock: common.Big0,
		EIP150Block:    common.Big0,
		EIP155Block:    common.Big0,
		EIP158Block:    common.Big0,
		ByzantiumBlock: common.Big0,
		Ethash:         new(params.EthashConfig),
	}
	if idx >= 1 {
		cfg.ConstantinopleBlock = common.Big0
		// go-ethereum treats a nil Petersburg block as active alongside
		// Constantinople, so net gas metering needs it pushed out of reach.
		cfg.PetersburgBlock = new(big.Int).SetUint64(math.MaxInt64)
	}
	if idx >= 2 {
		cfg.PetersburgBlock = common.Big0
	}
	if idx >= 3 {
		cfg.IstanbulBlock = common.Big0
	}
	if idx >= 4 {
		cfg.MuirGlacierBlock = common.Big0
	}
	if idx >= 5 {
		cfg.BerlinBlock = common.Big0
	}
	return cfg, nil
}
