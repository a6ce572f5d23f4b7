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

var _ transaction.Handler = (*Username)(nil)

// Username registers an alias for the sender.
type Username struct {
	base
	fee int64
}

// CalculateFee implements transaction.Handler.
func (h *Username) CalculateFee(tx transaction.Tx) int64 {
	return h.fee
}

// Create implements transaction.Handler.
func (h *Username) Create(tx *transaction.Tx, args transaction.CreateArgs) error {
	tx.Asset.Username = &transaction.UsernameAsset{Alias: args.Alias}
	return nil
}

// Verify implements transaction.Handler.
func (h *Username) Verify(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if err := noTransfer(tx); err != nil {
		return err
	}
	if tx.Asset.Username == nil {
		return errors.Wrap(transaction.ErrInvalidAsset, "missing username asset")
	}

	alias := tx.Asset.Username.Alias
	if err := checkName(alias); err != nil {
		return err
	}

	if sender.Username != "" {
		return errors.Wrapf(transaction.ErrInvalidAsset, "account already has username %q", sender.Username)
	}

	return h.checkNameFree(ctx, accounts.Filter{Username: alias}, sender)
}

// GetBytes implements transaction.Handler.
func (h *Username) GetBytes(tx transaction.Tx) ([]byte, error) {
	if tx.Asset.Username == nil {
		return nil, errors.New("missing username asset")
	}
	return []byte(tx.Asset.Username.Alias), nil
}

// ObjectNormalize implements transaction.Handler.
func (h *Username) ObjectNormalize(tx *transaction.Tx) error {
	if err := onlyAsset(*tx, tx.Asset.Username != nil); err != nil {
		return err
	}
	return validate.Check(tx.Asset.Username)
}

// Apply sets the username of the sender.
func (h *Username) Apply(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk, accounts.SetField(accounts.FieldUsername, tx.Asset.Username.Alias))
}

// Undo clears the username of the sender.
func (h *Username) Undo(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk, accounts.SetField(accounts.FieldUsername, ""))
}

// ApplyUnconfirmed reserves the alias.
func (h *Username) ApplyUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	alias := tx.Asset.Username.Alias

	if sender.UUsername != "" {
		return errors.Wrapf(transaction.ErrInvalidAsset, "account already has username %q", sender.UUsername)
	}
	if err := h.checkNameFree(ctx, accounts.Filter{UUsername: alias}, sender); err != nil {
		return err
	}

	return h.merge(ctx, sender.Address, transaction.BlockRef{}, accounts.SetField(accounts.FieldUUsername, alias))
}

// UndoUnconfirmed releases the alias.
func (h *Username) UndoUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, transaction.BlockRef{}, accounts.SetField(accounts.FieldUUsername, ""))
}

// DBSave implements transaction.Handler.
func (h *Username) DBSave(ctx context.Context, e sqlx.ExecerContext, tx transaction.Tx) error {
	const q = `INSERT INTO tx_usernames (transaction_id, alias) VALUES (?, ?)`
	_, err := e.ExecContext(ctx, q, tx.ID, tx.Asset.Username.Alias)
	return err
}

// DBRead implements transaction.Handler.
func (h *Username) DBRead(ctx context.Context, q sqlx.QueryerContext, tx *transaction.Tx) error {
	var alias string
	if err := q.QueryRowxContext(ctx, `SELECT alias FROM tx_usernames WHERE transaction_id = ?`, tx.ID).Scan(&alias); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Newf("missing username asset of %s", tx.ID)
		}
		return err
	}

	tx.Asset.Username = &transaction.UsernameAsset{Alias: alias}
	return nil
}
