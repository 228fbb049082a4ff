package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/airchains-network/simnode/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// homeDir returns --home, or ~/.simnode.
func homeDir(cmd *cobra.Command) (string, error) {
	if home, _ := cmd.Flags().GetString("home"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %v", err)
	}
	return filepath.Join(home, ".simnode"), nil
}

// loadConfig reads config.toml from the home directory. A missing file
// yields the defaults.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	home, err := homeDir(cmd)
	if err != nil {
		return config.Config{}, "", err
	}
	path := filepath.Join(home, "config.toml")
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.DefaultConfig(), path, nil
	}
	return cfg, path, err
}
