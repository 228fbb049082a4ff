package config

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfig_SaveAndLoad(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "simnode", "config.toml")

	cfg := DefaultConfig()
	cfg.Chain.Hardfork = "constantinople"
	cfg.Mining.Mode = MiningInterval
	cfg.Mining.BlockTime = 3
	cfg.Fork.URL = "http://localhost:8545"
	cfg.Accounts.Unlocked = []string{"0", "0x1000000000000000000000000000000000000001"}
	require.NoError(cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(err)
	require.Equal(cfg, loaded)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown hardfork", func(c *Config) { c.Chain.Hardfork = "shanghai" }},
		{"unknown mining mode", func(c *Config) { c.Mining.Mode = "sometimes" }},
		{"interval without block time", func(c *Config) { c.Mining.Mode = MiningInterval }},
		{"unknown intrinsic gas policy", func(c *Config) { c.Mining.IntrinsicGasPolicy = "maybe" }},
		{"zero gas limit", func(c *Config) { c.Chain.GasLimit = 0 }},
		{"bad coinbase", func(c *Config) { c.Chain.Coinbase = "0x12" }},
		{"bad fork timeout", func(c *Config) { c.Fork.Timeout = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_ChainRules(t *testing.T) {
	require := require.New(t)
	zero := big.NewInt(0)

	cfg := DefaultConfig()
	cfg.Chain.Hardfork = "constantinople"
	rules, err := cfg.ChainRules()
	require.NoError(err)
	require.True(rules.IsConstantinople(zero))
	require.False(rules.IsPetersburg(zero))

	cfg.Chain.Hardfork = "petersburg"
	rules, err = cfg.ChainRules()
	require.NoError(err)
	require.True(rules.IsPetersburg(zero))
	require.False(rules.IsIstanbul(zero))

	cfg.Chain.Hardfork = "berlin"
	rules, err = cfg.ChainRules()
	require.NoError(err)
	require.True(rules.IsBerlin(zero))
	require.Equal(uint64(1337), rules.ChainID.Uint64())
}

func TestConfig_ForkTimeout(t *testing.T) {
	cfg := DefaultConfig()
	d, err := cfg.ForkTimeout()
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, d)

	cfg.Fork.Timeout = ""
	d, err = cfg.ForkTimeout()
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, d)
}
