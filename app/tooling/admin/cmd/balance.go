package cmd

import (
	"fmt"
	"net/http"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the balance of the account",
	RunE:  balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func balanceRun(cmd *cobra.Command, args []string) error {
	kp, err := loadKeypair()
	if err != nil {
		return err
	}

	address := accounts.AddressFromPublicKey(kp.PublicKey)

	var act accounts.Account
	if err := call(http.MethodGet, "/v1/accounts/"+address, nil, &act); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Address:    ", act.Address)
	fmt.Fprintln(cmd.OutOrStdout(), "Balance:    ", act.Balance)
	fmt.Fprintln(cmd.OutOrStdout(), "Unconfirmed:", act.UBalance)
	if act.IsDelegate {
		fmt.Fprintln(cmd.OutOrStdout(), "Delegate:   ", act.Username, "vote", act.Vote)
	}

	return nil
}
