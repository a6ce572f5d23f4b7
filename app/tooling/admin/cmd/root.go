// Package cmd contains the admin app commands.
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ardanlabs/dpos/foundation/blockchain/genesis"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	accountName string
	accountPath string
	genesisPath string
	url         string
)

const keyExtension = ".key"

// log is constructed before any command runs.
var log *zap.SugaredLogger

var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "Administer a dpos node and its accounts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		log, err = logger.New("ADMIN", "stderr")
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "kennedy", "Name of the account key file.")
	rootCmd.PersistentFlags().StringVarP(&accountPath, "account-path", "p", "zblock/accounts/", "Path to the directory with the key files.")
	rootCmd.PersistentFlags().StringVarP(&genesisPath, "genesis", "g", "zblock/genesis.json", "Path to the genesis file.")
	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
}

// Execute runs the command named on the command line.
func Execute(build string) {
	rootCmd.Version = build

	if err := rootCmd.Execute(); err != nil {
		if log != nil {
			log.Errorw("admin", "ERROR", err)
			log.Sync()
		}
		os.Exit(1)
	}
}

// keyPath returns the path of the key file of the account.
func keyPath() string {
	name := accountName
	if !strings.HasSuffix(name, keyExtension) {
		name += keyExtension
	}

	return filepath.Join(accountPath, name)
}

// loadKeypair reads the secret of the account and derives its keypair.
func loadKeypair() (signature.Keypair, error) {
	secret, err := os.ReadFile(keyPath())
	if err != nil {
		return signature.Keypair{}, errors.Wrap(err, "reading key file")
	}

	return signature.MakeKeypair(strings.TrimSpace(string(secret))), nil
}

// loadGenesis reads the network constants.
func loadGenesis() (genesis.Genesis, error) {
	gen, err := genesis.Load(genesisPath)
	if err != nil {
		return genesis.Genesis{}, errors.Wrap(err, "loading genesis")
	}

	return gen, nil
}
