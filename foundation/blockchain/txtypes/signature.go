package txtypes

import (
	"context"
	"database/sql"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/validate"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

var _ transaction.Handler = (*Signature)(nil)

// Signature registers a second public key. Once applied, every transaction
// of the sender must carry a second signature.
type Signature struct {
	base
	fee int64
}

// CalculateFee implements transaction.Handler.
func (h *Signature) CalculateFee(tx transaction.Tx) int64 {
	return h.fee
}

// Create implements transaction.Handler.
func (h *Signature) Create(tx *transaction.Tx, args transaction.CreateArgs) error {
	if len(args.SecondPublicKey) != signature.PublicKeySize {
		return errors.Wrap(transaction.ErrInvalidAsset, "invalid second public key")
	}

	tx.Asset.Signature = &transaction.SignatureAsset{PublicKey: args.SecondPublicKey}
	return nil
}

// Verify implements transaction.Handler.
func (h *Signature) Verify(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if err := noTransfer(tx); err != nil {
		return err
	}
	if tx.Asset.Signature == nil || len(tx.Asset.Signature.PublicKey) != signature.PublicKeySize {
		return errors.Wrap(transaction.ErrInvalidAsset, "invalid second public key")
	}
	if sender.SecondSignature {
		return errors.Wrap(transaction.ErrSecondSignature, "second signature already enabled")
	}
	return nil
}

// GetBytes implements transaction.Handler.
func (h *Signature) GetBytes(tx transaction.Tx) ([]byte, error) {
	if tx.Asset.Signature == nil {
		return nil, errors.New("missing signature asset")
	}
	return tx.Asset.Signature.PublicKey, nil
}

// ObjectNormalize implements transaction.Handler.
func (h *Signature) ObjectNormalize(tx *transaction.Tx) error {
	if err := onlyAsset(*tx, tx.Asset.Signature != nil); err != nil {
		return err
	}
	return validate.Check(tx.Asset.Signature)
}

// Apply enables the second signature on the sender.
func (h *Signature) Apply(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk,
		accounts.SetField(accounts.FieldSecondSignature, 1),
		accounts.SetField(accounts.FieldSecondPublicKey, []byte(tx.Asset.Signature.PublicKey)),
	)
}

// Undo disables the second signature on the sender.
func (h *Signature) Undo(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk,
		accounts.SetField(accounts.FieldSecondSignature, 0),
		accounts.SetField(accounts.FieldSecondPublicKey, nil),
	)
}

// ApplyUnconfirmed reserves the second signature for the sender.
func (h *Signature) ApplyUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if sender.USecondSignature || sender.SecondSignature {
		return errors.Wrap(transaction.ErrSecondSignature, "second signature already enabled")
	}
	return h.merge(ctx, sender.Address, transaction.BlockRef{},
		accounts.SetField(accounts.FieldUSecondSignature, 1),
	)
}

// UndoUnconfirmed releases the reservation.
func (h *Signature) UndoUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, transaction.BlockRef{},
		accounts.SetField(accounts.FieldUSecondSignature, 0),
	)
}

// DBSave implements transaction.Handler.
func (h *Signature) DBSave(ctx context.Context, e sqlx.ExecerContext, tx transaction.Tx) error {
	const q = `INSERT INTO tx_signatures (transaction_id, public_key) VALUES (?, ?)`
	_, err := e.ExecContext(ctx, q, tx.ID, []byte(tx.Asset.Signature.PublicKey))
	return err
}

// DBRead implements transaction.Handler.
func (h *Signature) DBRead(ctx context.Context, q sqlx.QueryerContext, tx *transaction.Tx) error {
	var publicKey []byte
	if err := q.QueryRowxContext(ctx, `SELECT public_key FROM tx_signatures WHERE transaction_id = ?`, tx.ID).Scan(&publicKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Newf("missing signature asset of %s", tx.ID)
		}
		return err
	}

	tx.Asset.Signature = &transaction.SignatureAsset{PublicKey: publicKey}
	return nil
}
