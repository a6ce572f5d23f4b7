package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage account key files",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new secret for the account",
	RunE:  keysGenerateRun,
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the address and public key of the account",
	RunE:  keysShowRun,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysShowCmd)
}

func keysGenerateRun(cmd *cobra.Command, args []string) error {
	path := keyPath()
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("key file %s already exists", path)
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0600); err != nil {
		return errors.Wrap(err, "writing key file")
	}

	log.Infow("keys", "status", "generated", "path", path)

	return keysShowRun(cmd, args)
}

func keysShowRun(cmd *cobra.Command, args []string) error {
	kp, err := loadKeypair()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Address:   ", accounts.AddressFromPublicKey(kp.PublicKey))
	fmt.Fprintln(cmd.OutOrStdout(), "Public Key:", kp.PublicKeyHex())

	return nil
}
