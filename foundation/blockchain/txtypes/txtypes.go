// Package txtypes provides the handlers of every supported transaction
// type and a registry wired with all of them.
package txtypes

import (
	"context"
	"regexp"
	"strings"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/genesis"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

// Set of errors raised by the handlers.
var (
	ErrDuplicateVote   = errors.New("duplicate vote")
	ErrUsernameTaken   = errors.New("username already exists")
	ErrAlreadyDelegate = errors.New("account is already a delegate")
	ErrVoteLimit       = errors.New("maximum number of votes exceeded")
)

// Config represents the configuration shared by the handlers.
type Config struct {
	Accounts      *accounts.Store
	Fees          genesis.Fees
	Exceptions    genesis.Exceptions
	MaxVotes      int
	MaxVotesPerTx int
}

// NewRegistry constructs a registry holding the handler of every
// supported transaction type.
func NewRegistry(cfg Config) (*transaction.Registry, error) {
	reg := transaction.NewRegistry()

	// The multisignature handler checks co-signatures itself, so it gets a
	// processor over the same registry that can only encode and verify.
	codec := transaction.NewProcessor(transaction.Config{Registry: reg})

	b := base{accounts: cfg.Accounts}

	handlers := []struct {
		typ transaction.Type
		h   transaction.Handler
	}{
		{transaction.TypeSend, &Send{base: b, fee: cfg.Fees.Send}},
		{transaction.TypeSignature, &Signature{base: b, fee: cfg.Fees.Signature}},
		{transaction.TypeDelegate, &Delegate{base: b, fee: cfg.Fees.Delegate}},
		{transaction.TypeVote, &Vote{base: b, fee: cfg.Fees.Vote, exceptions: cfg.Exceptions.Votes, maxVotes: cfg.MaxVotes, maxVotesPerTx: cfg.MaxVotesPerTx}},
		{transaction.TypeUsername, &Username{base: b, fee: cfg.Fees.Username}},
		{transaction.TypeContact, &Contact{base: b, fee: cfg.Fees.Contact}},
		{transaction.TypeMultisignature, &Multisignature{base: b, fee: cfg.Fees.Multisignature, verifier: codec}},
	}

	for _, e := range handlers {
		if err := reg.Register(e.typ, e.h); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// =============================================================================

// base holds the defaults shared by the handlers.
type base struct {
	accounts *accounts.Store
}

func (base) Process(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	return nil
}

func (base) ApplyUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	return nil
}

func (base) UndoUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	return nil
}

func (base) DBRead(ctx context.Context, q sqlx.QueryerContext, tx *transaction.Tx) error {
	return nil
}

func (base) DBSave(ctx context.Context, e sqlx.ExecerContext, tx transaction.Tx) error {
	return nil
}

// Ready requires a multisignature sender to collect at least multimin
// co-signatures.
func (base) Ready(tx transaction.Tx, sender accounts.Account) bool {
	if !sender.IsMultisignature() {
		return true
	}
	return int64(len(tx.Signatures)) >= sender.Multimin
}

// merge writes the ops to the account, tagging them with the block.
func (b base) merge(ctx context.Context, address string, blk transaction.BlockRef, ops ...accounts.Op) error {
	_, err := b.accounts.Merge(ctx, address, accounts.Diff{Ops: ops, BlockID: blk.ID, Round: blk.Round})
	return err
}

// =============================================================================

var (
	nameRE        = regexp.MustCompile(`^[a-z0-9!@$&_.]+$`)
	addressLikeRE = regexp.MustCompile(`^[0-9]{1,21}[Ll]$`)
)

// checkName applies the rules shared by delegate usernames and aliases.
func checkName(name string) error {
	switch {
	case name == "":
		return errors.Wrap(transaction.ErrInvalidAsset, "empty name")
	case name != strings.ToLower(name):
		return errors.Wrapf(transaction.ErrInvalidAsset, "name %q must be lowercase", name)
	case len(name) > 20:
		return errors.Wrapf(transaction.ErrInvalidAsset, "name %q is longer than 20 characters", name)
	case addressLikeRE.MatchString(name):
		return errors.Wrapf(transaction.ErrInvalidAsset, "name %q can not be a potential address", name)
	case !nameRE.MatchString(name):
		return errors.Wrapf(transaction.ErrInvalidAsset, "name %q has invalid characters", name)
	}
	return nil
}

// checkNameFree rejects a name held by another account in the selected
// view of the ledger.
func (b base) checkNameFree(ctx context.Context, filter accounts.Filter, sender accounts.Account) error {
	acc, err := b.accounts.Get(ctx, filter)
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		return nil
	case err != nil:
		return err
	case acc.Address != sender.Address:
		return errors.Wrapf(ErrUsernameTaken, "%s%s", filter.Username, filter.UUsername)
	}
	return nil
}

// noTransfer rejects a recipient or an amount on types that move no funds.
func noTransfer(tx transaction.Tx) error {
	if tx.RecipientID != "" {
		return errors.Wrapf(transaction.ErrInvalidRecipient, "%s carries a recipient", tx.Type)
	}
	if tx.Amount != 0 {
		return errors.Wrapf(transaction.ErrInvalidAmount, "%s carries an amount", tx.Type)
	}
	return nil
}

// onlyAsset rejects assets carrying more than the variant of the type.
func onlyAsset(tx transaction.Tx, set bool) error {
	if !set {
		return errors.Newf("missing %s asset", tx.Type)
	}
	if tx.Asset.Count() != 1 {
		return errors.Newf("%s carries foreign asset", tx.Type)
	}
	return nil
}
