package txtypes

import (
	"context"
	"database/sql"
	"regexp"
	"slices"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/validate"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

var _ transaction.Handler = (*Contact)(nil)

var contactRE = regexp.MustCompile(`^[-+][0-9]{1,20}L$`)

// Contact follows (+address) or unfollows (-address) another account.
type Contact struct {
	base
	fee int64
}

// CalculateFee implements transaction.Handler.
func (h *Contact) CalculateFee(tx transaction.Tx) int64 {
	return h.fee
}

// Create implements transaction.Handler.
func (h *Contact) Create(tx *transaction.Tx, args transaction.CreateArgs) error {
	tx.Asset.Contact = &transaction.ContactAsset{Address: args.Contact}
	return nil
}

// Verify implements transaction.Handler.
func (h *Contact) Verify(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if err := noTransfer(tx); err != nil {
		return err
	}
	if tx.Asset.Contact == nil {
		return errors.Wrap(transaction.ErrInvalidAsset, "missing contact asset")
	}
	return checkContact(tx.Asset.Contact.Address, sender.Address, sender.Contacts)
}

// checkContact checks a follow or unfollow against the current contacts.
func checkContact(contact string, self string, current []string) error {
	if !contactRE.MatchString(contact) {
		return errors.Wrapf(transaction.ErrInvalidAsset, "invalid contact %q", contact)
	}

	address := contact[1:]
	if address == self {
		return errors.Wrap(transaction.ErrInvalidAsset, "can not follow self")
	}

	following := slices.Contains(current, address)
	switch {
	case contact[0] == '+' && following:
		return errors.Wrapf(transaction.ErrInvalidAsset, "already following %s", address)
	case contact[0] == '-' && !following:
		return errors.Wrapf(transaction.ErrInvalidAsset, "not following %s", address)
	}

	return nil
}

// GetBytes implements transaction.Handler.
func (h *Contact) GetBytes(tx transaction.Tx) ([]byte, error) {
	if tx.Asset.Contact == nil {
		return nil, errors.New("missing contact asset")
	}
	return []byte(tx.Asset.Contact.Address), nil
}

// ObjectNormalize implements transaction.Handler.
func (h *Contact) ObjectNormalize(tx *transaction.Tx) error {
	if err := onlyAsset(*tx, tx.Asset.Contact != nil); err != nil {
		return err
	}
	return validate.Check(tx.Asset.Contact)
}

// Apply changes the confirmed contacts of the sender.
func (h *Contact) Apply(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk, contactOp(accounts.Contacts, tx.Asset.Contact.Address))
}

// Undo reverts the confirmed contacts of the sender.
func (h *Contact) Undo(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk, contactOp(accounts.Contacts, tx.Asset.Contact.Address).Inverse())
}

// ApplyUnconfirmed changes the pending contacts of the sender.
func (h *Contact) ApplyUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if err := checkContact(tx.Asset.Contact.Address, sender.Address, sender.UContacts); err != nil {
		return err
	}
	return h.merge(ctx, sender.Address, transaction.BlockRef{}, contactOp(accounts.UContacts, tx.Asset.Contact.Address))
}

// UndoUnconfirmed reverts the pending contacts of the sender.
func (h *Contact) UndoUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, transaction.BlockRef{}, contactOp(accounts.UContacts, tx.Asset.Contact.Address).Inverse())
}

func contactOp(m accounts.Membership, contact string) accounts.Op {
	if contact[0] == '-' {
		return accounts.MembershipRemove(m, contact[1:])
	}
	return accounts.MembershipAdd(m, contact[1:])
}

// DBSave implements transaction.Handler.
func (h *Contact) DBSave(ctx context.Context, e sqlx.ExecerContext, tx transaction.Tx) error {
	const q = `INSERT INTO tx_contacts (transaction_id, address) VALUES (?, ?)`
	_, err := e.ExecContext(ctx, q, tx.ID, tx.Asset.Contact.Address)
	return err
}

// DBRead implements transaction.Handler.
func (h *Contact) DBRead(ctx context.Context, q sqlx.QueryerContext, tx *transaction.Tx) error {
	var address string
	if err := q.QueryRowxContext(ctx, `SELECT address FROM tx_contacts WHERE transaction_id = ?`, tx.ID).Scan(&address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Newf("missing contact asset of %s", tx.ID)
		}
		return err
	}

	tx.Asset.Contact = &transaction.ContactAsset{Address: address}
	return nil
}
