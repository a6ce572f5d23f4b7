package txtypes

import (
	"context"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/cockroachdb/errors"
)

var _ transaction.Handler = (*Send)(nil)

// Send moves funds from the sender to the recipient.
type Send struct {
	base
	fee int64
}

// CalculateFee implements transaction.Handler.
func (h *Send) CalculateFee(tx transaction.Tx) int64 {
	return h.fee
}

// Create implements transaction.Handler.
func (h *Send) Create(tx *transaction.Tx, args transaction.CreateArgs) error {
	tx.RecipientID = args.RecipientID
	tx.Amount = args.Amount
	return nil
}

// Verify implements transaction.Handler.
func (h *Send) Verify(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if tx.RecipientID == "" {
		return errors.Wrap(transaction.ErrInvalidRecipient, "missing recipient")
	}
	if tx.Amount <= 0 {
		return errors.Wrapf(transaction.ErrInvalidAmount, "%d", tx.Amount)
	}
	return nil
}

// GetBytes implements transaction.Handler. A send carries no asset.
func (h *Send) GetBytes(tx transaction.Tx) ([]byte, error) {
	return nil, nil
}

// ObjectNormalize implements transaction.Handler.
func (h *Send) ObjectNormalize(tx *transaction.Tx) error {
	if tx.Asset.Count() != 0 {
		return errors.New("send carries an asset")
	}
	return nil
}

// Apply credits the recipient.
func (h *Send) Apply(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, tx.RecipientID, blk,
		accounts.Increment(accounts.FieldBalance, tx.Amount),
		accounts.Increment(accounts.FieldUBalance, tx.Amount),
	)
}

// Undo debits the recipient.
func (h *Send) Undo(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, tx.RecipientID, blk,
		accounts.Decrement(accounts.FieldBalance, tx.Amount),
		accounts.Decrement(accounts.FieldUBalance, tx.Amount),
	)
}
