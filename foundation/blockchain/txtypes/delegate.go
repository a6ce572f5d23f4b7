package txtypes

import (
	"context"
	"database/sql"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/validate"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

var _ transaction.Handler = (*Delegate)(nil)

// Delegate registers the sender as a delegate under a unique username.
type Delegate struct {
	base
	fee int64
}

// CalculateFee implements transaction.Handler.
func (h *Delegate) CalculateFee(tx transaction.Tx) int64 {
	return h.fee
}

// Create implements transaction.Handler.
func (h *Delegate) Create(tx *transaction.Tx, args transaction.CreateArgs) error {
	tx.Asset.Delegate = &transaction.DelegateAsset{Username: args.Username}
	return nil
}

// Verify implements transaction.Handler.
func (h *Delegate) Verify(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if err := noTransfer(tx); err != nil {
		return err
	}
	if tx.Asset.Delegate == nil {
		return errors.Wrap(transaction.ErrInvalidAsset, "missing delegate asset")
	}

	username := tx.Asset.Delegate.Username
	if err := checkName(username); err != nil {
		return err
	}

	if sender.IsDelegate {
		return errors.Wrapf(ErrAlreadyDelegate, "%s", sender.Address)
	}
	if sender.Username != "" && sender.Username != username {
		return errors.Wrapf(transaction.ErrInvalidAsset, "account already has username %q", sender.Username)
	}

	return h.checkNameFree(ctx, accounts.Filter{Username: username}, sender)
}

// GetBytes implements transaction.Handler.
func (h *Delegate) GetBytes(tx transaction.Tx) ([]byte, error) {
	if tx.Asset.Delegate == nil {
		return nil, errors.New("missing delegate asset")
	}
	return []byte(tx.Asset.Delegate.Username), nil
}

// ObjectNormalize implements transaction.Handler.
func (h *Delegate) ObjectNormalize(tx *transaction.Tx) error {
	if err := onlyAsset(*tx, tx.Asset.Delegate != nil); err != nil {
		return err
	}
	return validate.Check(tx.Asset.Delegate)
}

// Apply marks the sender as a delegate.
func (h *Delegate) Apply(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk,
		accounts.SetField(accounts.FieldIsDelegate, 1),
		accounts.SetField(accounts.FieldUsername, tx.Asset.Delegate.Username),
	)
}

// Undo clears the delegate registration.
func (h *Delegate) Undo(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk,
		accounts.SetField(accounts.FieldIsDelegate, 0),
		accounts.SetField(accounts.FieldUsername, ""),
	)
}

// ApplyUnconfirmed reserves the registration and the username.
func (h *Delegate) ApplyUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	username := tx.Asset.Delegate.Username

	if sender.UIsDelegate {
		return errors.Wrapf(ErrAlreadyDelegate, "%s", sender.Address)
	}
	if err := h.checkNameFree(ctx, accounts.Filter{UUsername: username}, sender); err != nil {
		return err
	}

	return h.merge(ctx, sender.Address, transaction.BlockRef{},
		accounts.SetField(accounts.FieldUIsDelegate, 1),
		accounts.SetField(accounts.FieldUUsername, username),
	)
}

// UndoUnconfirmed releases the reservation.
func (h *Delegate) UndoUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, transaction.BlockRef{},
		accounts.SetField(accounts.FieldUIsDelegate, 0),
		accounts.SetField(accounts.FieldUUsername, ""),
	)
}

// DBSave implements transaction.Handler.
func (h *Delegate) DBSave(ctx context.Context, e sqlx.ExecerContext, tx transaction.Tx) error {
	const q = `INSERT INTO tx_delegates (transaction_id, username) VALUES (?, ?)`
	_, err := e.ExecContext(ctx, q, tx.ID, tx.Asset.Delegate.Username)
	return err
}

// DBRead implements transaction.Handler.
func (h *Delegate) DBRead(ctx context.Context, q sqlx.QueryerContext, tx *transaction.Tx) error {
	var username string
	if err := q.QueryRowxContext(ctx, `SELECT username FROM tx_delegates WHERE transaction_id = ?`, tx.ID).Scan(&username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Newf("missing delegate asset of %s", tx.ID)
		}
		return err
	}

	tx.Asset.Delegate = &transaction.DelegateAsset{Username: username}
	return nil
}
