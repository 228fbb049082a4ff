package main

import (
	"os"

	"github.com/airchains-network/simnode/cmd/simnode/commands"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "simnode",
		Short: "A deterministic local Ethereum node for development and testing",
		Long: `A deterministic local Ethereum node for development and testing.
It mines blocks instantly or on an interval, supports snapshots and time travel,
and can fork the state of a remote chain at a given block.`,
	}
	rootCmd.PersistentFlags().String("home", "", "Node home directory (default ~/.simnode)")

	rootCmd.AddCommand(commands.InitCmd)
	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.AccountsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
