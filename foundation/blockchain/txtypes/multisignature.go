package txtypes

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/validate"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

var _ transaction.Handler = (*Multisignature)(nil)

var keysgroupRE = regexp.MustCompile(`^\+[0-9a-f]{64}$`)

// Set of multisignature limits.
const (
	MaxKeysgroup = 15
	MaxLifetime  = 72
)

// verifier checks co-signatures of a transaction.
type verifier interface {
	VerifySignature(tx transaction.Tx, publicKey []byte, sig []byte) (bool, error)
}

// Multisignature turns the sender into an account that needs min
// co-signatures out of a keysgroup for every transaction.
type Multisignature struct {
	base
	fee      int64
	verifier verifier
}

// CalculateFee implements transaction.Handler. The fee is charged once for
// the sender and once per keysgroup member.
func (h *Multisignature) CalculateFee(tx transaction.Tx) int64 {
	var n int64
	if tx.Asset.Multisignature != nil {
		n = int64(len(tx.Asset.Multisignature.Keysgroup))
	}
	return (n + 1) * h.fee
}

// Create implements transaction.Handler.
func (h *Multisignature) Create(tx *transaction.Tx, args transaction.CreateArgs) error {
	tx.Asset.Multisignature = &transaction.MultisignatureAsset{
		Min:       args.Min,
		Lifetime:  args.Lifetime,
		Keysgroup: args.Keysgroup,
	}
	return nil
}

// Verify implements transaction.Handler.
func (h *Multisignature) Verify(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if err := noTransfer(tx); err != nil {
		return err
	}

	asset := tx.Asset.Multisignature
	if asset == nil {
		return errors.Wrap(transaction.ErrInvalidAsset, "missing multisignature asset")
	}

	if sender.IsMultisignature() {
		return errors.Wrap(transaction.ErrMultisignature, "account already has multisignatures")
	}

	n := len(asset.Keysgroup)
	switch {
	case n == 0 || n > MaxKeysgroup:
		return errors.Wrapf(transaction.ErrInvalidAsset, "keysgroup has %d keys, allowed 1 to %d", n, MaxKeysgroup)
	case asset.Min < 1 || asset.Min > MaxKeysgroup || asset.Min > n:
		return errors.Wrapf(transaction.ErrInvalidAsset, "invalid min %d for %d keys", asset.Min, n)
	case asset.Lifetime < 1 || asset.Lifetime > MaxLifetime:
		return errors.Wrapf(transaction.ErrInvalidAsset, "invalid lifetime %d", asset.Lifetime)
	}

	self := "+" + accounts.PublicKeyHex(tx.SenderPublicKey)
	seen := make(map[string]struct{}, n)
	for _, key := range asset.Keysgroup {
		if !keysgroupRE.MatchString(key) {
			return errors.Wrapf(transaction.ErrInvalidAsset, "invalid keysgroup member %q", key)
		}
		if key == self {
			return errors.Wrap(transaction.ErrInvalidAsset, "keysgroup can not contain the sender")
		}
		if _, exists := seen[key]; exists {
			return errors.Wrapf(transaction.ErrInvalidAsset, "duplicate keysgroup member %s", key)
		}
		seen[key] = struct{}{}
	}

	if !h.Ready(tx, sender) {
		return nil
	}

	for _, key := range asset.Keysgroup {
		publicKey, err := signature.DecodePublicKey(key[1:])
		if err != nil {
			return errors.Wrapf(transaction.ErrInvalidAsset, "keysgroup member %s: %s", key, err)
		}

		signed, err := h.signedBy(tx, publicKey)
		if err != nil {
			return err
		}
		if !signed {
			return errors.Wrapf(transaction.ErrMultisignature, "missing signature of %s", key[1:])
		}
	}

	return nil
}

// signedBy reports whether one of the co-signatures belongs to the key.
func (h *Multisignature) signedBy(tx transaction.Tx, publicKey []byte) (bool, error) {
	for _, sig := range tx.Signatures {
		ok, err := h.verifier.VerifySignature(tx, publicKey, sig)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Ready implements transaction.Handler. A registration needs a signature
// from every member of the new keysgroup.
func (h *Multisignature) Ready(tx transaction.Tx, sender accounts.Account) bool {
	if !sender.IsMultisignature() {
		if tx.Asset.Multisignature == nil {
			return false
		}
		return len(tx.Signatures) >= len(tx.Asset.Multisignature.Keysgroup)
	}
	return int64(len(tx.Signatures)) >= sender.Multimin
}

// GetBytes implements transaction.Handler.
func (h *Multisignature) GetBytes(tx transaction.Tx) ([]byte, error) {
	asset := tx.Asset.Multisignature
	if asset == nil {
		return nil, errors.New("missing multisignature asset")
	}
	if asset.Min < 0 || asset.Min > 255 || asset.Lifetime < 0 || asset.Lifetime > 255 {
		return nil, errors.Newf("min %d or lifetime %d out of range", asset.Min, asset.Lifetime)
	}

	keys := strings.Join(asset.Keysgroup, "")

	data := make([]byte, 0, 2+len(keys))
	data = append(data, byte(asset.Min), byte(asset.Lifetime))
	data = append(data, keys...)

	return data, nil
}

// ObjectNormalize implements transaction.Handler.
func (h *Multisignature) ObjectNormalize(tx *transaction.Tx) error {
	if err := onlyAsset(*tx, tx.Asset.Multisignature != nil); err != nil {
		return err
	}
	return validate.Check(tx.Asset.Multisignature)
}

// Apply installs the keysgroup on the sender and creates the accounts of
// its members.
func (h *Multisignature) Apply(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	asset := tx.Asset.Multisignature

	for _, key := range asset.Keysgroup {
		publicKey, err := signature.DecodePublicKey(key[1:])
		if err != nil {
			return err
		}
		if _, err := h.accounts.SetAccountAndGet(ctx, publicKey); err != nil {
			return err
		}
	}

	return h.merge(ctx, sender.Address, blk, multisignatureOps(asset, false, false)...)
}

// Undo removes the keysgroup from the sender.
func (h *Multisignature) Undo(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk, multisignatureOps(tx.Asset.Multisignature, false, true)...)
}

// ApplyUnconfirmed reserves the keysgroup on the sender.
func (h *Multisignature) ApplyUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if len(sender.UMultisignatures) > 0 {
		return errors.Wrap(transaction.ErrMultisignature, "account already has pending multisignatures")
	}
	return h.merge(ctx, sender.Address, transaction.BlockRef{}, multisignatureOps(tx.Asset.Multisignature, true, false)...)
}

// UndoUnconfirmed releases the reservation.
func (h *Multisignature) UndoUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, transaction.BlockRef{}, multisignatureOps(tx.Asset.Multisignature, true, true)...)
}

// multisignatureOps builds the ops installing the asset on the confirmed
// or the unconfirmed fields, or removing it when inverse is set.
func multisignatureOps(asset *transaction.MultisignatureAsset, unconfirmed bool, inverse bool) []accounts.Op {
	minField, lifetimeField, m := accounts.FieldMultimin, accounts.FieldMultilifetime, accounts.Multisignatures
	if unconfirmed {
		minField, lifetimeField, m = accounts.FieldUMultimin, accounts.FieldUMultilifetime, accounts.UMultisignatures
	}

	ops := []accounts.Op{
		accounts.Increment(minField, int64(asset.Min)),
		accounts.Increment(lifetimeField, int64(asset.Lifetime)),
	}
	for _, key := range asset.Keysgroup {
		ops = append(ops, accounts.MembershipAdd(m, strings.TrimPrefix(key, "+")))
	}

	if inverse {
		for i := range ops {
			ops[i] = ops[i].Inverse()
		}
	}

	return ops
}

// DBSave implements transaction.Handler.
func (h *Multisignature) DBSave(ctx context.Context, e sqlx.ExecerContext, tx transaction.Tx) error {
	asset := tx.Asset.Multisignature

	const q = `INSERT INTO tx_multisignatures (transaction_id, min, lifetime, keysgroup) VALUES (?, ?, ?, ?)`
	_, err := e.ExecContext(ctx, q, tx.ID, asset.Min, asset.Lifetime, strings.Join(asset.Keysgroup, ","))
	return err
}

// DBRead implements transaction.Handler.
func (h *Multisignature) DBRead(ctx context.Context, q sqlx.QueryerContext, tx *transaction.Tx) error {
	var row struct {
		Min       int    `db:"min"`
		Lifetime  int    `db:"lifetime"`
		Keysgroup string `db:"keysgroup"`
	}

	const query = `SELECT min, lifetime, keysgroup FROM tx_multisignatures WHERE transaction_id = ?`
	if err := q.QueryRowxContext(ctx, query, tx.ID).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Newf("missing multisignature asset of %s", tx.ID)
		}
		return err
	}

	tx.Asset.Multisignature = &transaction.MultisignatureAsset{
		Min:       row.Min,
		Lifetime:  row.Lifetime,
		Keysgroup: strings.Split(row.Keysgroup, ","),
	}
	return nil
}
