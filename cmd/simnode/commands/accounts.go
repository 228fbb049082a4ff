package commands

import (
	"fmt"

	"github.com/airchains-network/simnode/engine"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// AccountsCmd prints the generated accounts and their private keys.
var AccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the generated accounts",
	Long:  `List the accounts derived from the configured seed along with their private keys`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}
		keys, err := engine.GeneratedKeys(cfg.Accounts)
		if err != nil {
			return err
		}

		fmt.Println("Available Accounts")
		fmt.Println("==================")
		for i, key := range keys {
			fmt.Printf("(%d) %s (%d ETH)\n", i, crypto.PubkeyToAddress(key.PublicKey).Hex(), cfg.Accounts.DefaultBalanceEther)
		}
		fmt.Println("\nPrivate Keys")
		fmt.Println("==================")
		for i, key := range keys {
			fmt.Printf("(%d) %s\n", i, hexutil.Encode(crypto.FromECDSA(key)))
		}
		fmt.Println("\nIMPORTANT: These keys are derived from a public seed. Never use them on a real network!")
		return nil
	},
}
