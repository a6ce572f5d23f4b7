package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ardanlabs/dpos/foundation/blockchain/genesis"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/blockchain/txtypes"
	"github.com/spf13/cobra"
)

var (
	to       string
	amount   int64
	username string
	votes    []string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send funds to an address",
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, transaction.CreateArgs{
			Type:        transaction.TypeSend,
			RecipientID: to,
			Amount:      amount,
		})
	},
}

var delegateCmd = &cobra.Command{
	Use:   "delegate",
	Short: "Register the account as a delegate",
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, transaction.CreateArgs{
			Type:     transaction.TypeDelegate,
			Username: username,
		})
	},
}

var voteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Vote for or unvote delegates, as +publickey or -publickey",
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, transaction.CreateArgs{
			Type:  transaction.TypeVote,
			Votes: votes,
		})
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address of the recipient.")
	sendCmd.Flags().Int64VarP(&amount, "amount", "v", 0, "Amount to send.")
	sendCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(delegateCmd)
	delegateCmd.Flags().StringVarP(&username, "username", "n", "", "Delegate name.")
	delegateCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(voteCmd)
	voteCmd.Flags().StringSliceVar(&votes, "votes", nil, "Votes to cast.")
	voteCmd.MarkFlagRequired("votes")
}

// submit signs a transaction with the account and submits it to the node.
func submit(cmd *cobra.Command, args transaction.CreateArgs) error {
	gen, err := loadGenesis()
	if err != nil {
		return err
	}

	args.Sender, err = loadKeypair()
	if err != nil {
		return err
	}

	processor, err := newProcessor(gen)
	if err != nil {
		return err
	}

	tx, err := processor.Create(args)
	if err != nil {
		return err
	}

	log.Infow("submit", "type", tx.Type, "id", tx.ID, "fee", tx.Fee, "recipient", tx.RecipientID, "amount", tx.Amount)

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := call(http.MethodPost, "/v1/tx/submit", tx, &resp); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(resp.ID), resp.Status)

	return nil
}

// newProcessor constructs a processor that can only create transactions
// for the network described by the genesis file.
func newProcessor(gen genesis.Genesis) (*transaction.Processor, error) {
	registry, err := txtypes.NewRegistry(txtypes.Config{
		Fees:          gen.Fees,
		Exceptions:    gen.Exceptions,
		MaxVotes:      gen.MaxVotes,
		MaxVotesPerTx: gen.MaxVotesPerTx,
	})
	if err != nil {
		return nil, err
	}

	return transaction.NewProcessor(transaction.Config{
		Registry:    registry,
		Slots:       gen.Slots(),
		TotalAmount: gen.TotalAmount,
		Exceptions:  gen.Exceptions,
	}), nil
}
