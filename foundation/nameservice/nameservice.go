// Package nameservice reads the zblock/accounts folder and creates a name
// service lookup for the known accounts. Each account is a `.key` file
// holding the secret passphrase of its keypair.
package nameservice

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/cockroachdb/errors"
)

// ErrUnknownName is returned when no key file exists for a name.
var ErrUnknownName = errors.New("unknown account name")

// keyExt is the extension of the secret files.
const keyExt = ".key"

// NameService maintains a map of accounts for name lookup.
type NameService struct {
	names    map[string]string
	keypairs map[string]signature.Keypair
}

// New constructs a name service with the accounts of the root folder.
func New(root string) (*NameService, error) {
	ns := NameService{
		names:    make(map[string]string),
		keypairs: make(map[string]signature.Keypair),
	}

	fn := func(fileName string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrap(err, "walkdir failure")
		}

		if d.IsDir() || filepath.Ext(fileName) != keyExt {
			return nil
		}

		secret, err := os.ReadFile(fileName)
		if err != nil {
			return errors.Wrapf(err, "reading %s", fileName)
		}

		name := strings.TrimSuffix(filepath.Base(fileName), keyExt)
		kp := signature.MakeKeypair(strings.TrimSpace(string(secret)))

		ns.keypairs[name] = kp
		ns.names[accounts.AddressFromPublicKey(kp.PublicKey)] = name

		return nil
	}

	if err := filepath.WalkDir(root, fn); err != nil {
		return nil, errors.Wrap(err, "walking directory")
	}

	return &ns, nil
}

// Lookup returns the name for the specified address, or the address itself
// when it is not known.
func (ns *NameService) Lookup(address string) string {
	name, exists := ns.names[address]
	if !exists {
		return address
	}
	return name
}

// Keypair returns the keypair stored under the name.
func (ns *NameService) Keypair(name string) (signature.Keypair, error) {
	kp, exists := ns.keypairs[name]
	if !exists {
		return signature.Keypair{}, errors.Wrapf(ErrUnknownName, "%q", name)
	}
	return kp, nil
}

// Copy returns a copy of the map of addresses and names.
func (ns *NameService) Copy() map[string]string {
	cpy := make(map[string]string, len(ns.names))
	for address, name := range ns.names {
		cpy[address] = name
	}
	return cpy
}
