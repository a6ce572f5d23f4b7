package cmd

import (
	"fmt"
	"net/http"

	"github.com/ardanlabs/dpos/foundation/blockchain/block"
	"github.com/spf13/cobra"
)

var popCmd = &cobra.Command{
	Use:   "pop",
	Short: "Delete the last block of the node, --url must name the private host",
	RunE:  popRun,
}

func init() {
	rootCmd.AddCommand(popCmd)
}

func popRun(cmd *cobra.Command, args []string) error {
	var latest block.Block
	if err := call(http.MethodDelete, "/v1/node/block/last", nil, &latest); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Latest block:", latest.Height, latest.ID)

	return nil
}
