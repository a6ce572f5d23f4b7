package accounts

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

// Field names an account column a diff may write.
type Field string

// Set of account fields.
const (
	FieldPublicKey        Field = "public_key"
	FieldSecondPublicKey  Field = "second_public_key"
	FieldSecondSignature  Field = "second_signature"
	FieldUSecondSignature Field = "u_second_signature"
	FieldBalance          Field = "balance"
	FieldUBalance         Field = "u_balance"
	FieldIsDelegate       Field = "is_delegate"
	FieldUIsDelegate      Field = "u_is_delegate"
	FieldUsername         Field = "username"
	FieldUUsername        Field = "u_username"
	FieldVote             Field = "vote"
	FieldMultimin         Field = "multimin"
	FieldUMultimin        Field = "u_multimin"
	FieldMultilifetime    Field = "multilifetime"
	FieldUMultilifetime   Field = "u_multilifetime"
	FieldProducedBlocks   Field = "produced_blocks"
	FieldMissedBlocks     Field = "missed_blocks"
	FieldFees             Field = "fees"
	FieldRewards          Field = "rewards"
	FieldBlockID          Field = "block_id"
)

// numeric lists the fields Increment and Decrement accept, with whether
// the field may never drop below zero.
var numeric = map[Field]bool{
	FieldBalance:        true,
	FieldUBalance:       true,
	FieldVote:           false,
	FieldMultimin:       true,
	FieldUMultimin:      true,
	FieldMultilifetime:  true,
	FieldUMultilifetime: true,
	FieldProducedBlocks: false,
	FieldMissedBlocks:   false,
	FieldFees:           false,
	FieldRewards:        false,
}

// settable lists the fields SetField accepts.
var settable = map[Field]bool{
	FieldPublicKey:        true,
	FieldSecondPublicKey:  true,
	FieldSecondSignature:  true,
	FieldUSecondSignature: true,
	FieldIsDelegate:       true,
	FieldUIsDelegate:      true,
	FieldUsername:         true,
	FieldUUsername:        true,
	FieldMultimin:         true,
	FieldUMultimin:        true,
	FieldMultilifetime:    true,
	FieldUMultilifetime:   true,
	FieldVote:             true,
	FieldBlockID:          true,
}

// =============================================================================

// Membership names a per-account membership list.
type Membership string

// Set of membership lists.
const (
	Delegates        Membership = "delegates"
	UDelegates       Membership = "u_delegates"
	Contacts         Membership = "contacts"
	UContacts        Membership = "u_contacts"
	Multisignatures  Membership = "multisignatures"
	UMultisignatures Membership = "u_multisignatures"
)

var memberships = []Membership{Delegates, UDelegates, Contacts, UContacts, Multisignatures, UMultisignatures}

func (m Membership) table() string {
	return "account_" + string(m)
}

func (m Membership) list(acc *Account) *[]string {
	switch m {
	case Delegates:
		return &acc.Delegates
	case UDelegates:
		return &acc.UDelegates
	case Contacts:
		return &acc.Contacts
	case UContacts:
		return &acc.UContacts
	case Multisignatures:
		return &acc.Multisignatures
	default:
		return &acc.UMultisignatures
	}
}

func (m Membership) valid() bool {
	for _, v := range memberships {
		if m == v {
			return true
		}
	}
	return false
}

// =============================================================================

// OpKind identifies the kind of change an Op makes.
type OpKind int

// Set of op kinds.
const (
	OpSetField OpKind = iota
	OpIncrement
	OpDecrement
	OpMembershipAdd
	OpMembershipRemove
)

func (k OpKind) String() string {
	switch k {
	case OpSetField:
		return "set"
	case OpIncrement:
		return "increment"
	case OpDecrement:
		return "decrement"
	case OpMembershipAdd:
		return "add"
	case OpMembershipRemove:
		return "remove"
	}
	return "unknown"
}

// Op is one change to an account.
type Op struct {
	Kind       OpKind
	Field      Field
	Value      any
	Amount     int64
	Membership Membership
	Member     string
}

// SetField replaces the value of a field.
func SetField(f Field, v any) Op {
	return Op{Kind: OpSetField, Field: f, Value: v}
}

// Increment adds n to a numeric field.
func Increment(f Field, n int64) Op {
	return Op{Kind: OpIncrement, Field: f, Amount: n}
}

// Decrement subtracts n from a numeric field.
func Decrement(f Field, n int64) Op {
	return Op{Kind: OpDecrement, Field: f, Amount: n}
}

// Delta increments or decrements a numeric field by a signed amount.
func Delta(f Field, n int64) Op {
	if n < 0 {
		return Decrement(f, -n)
	}
	return Increment(f, n)
}

// MembershipAdd inserts a member into a membership list.
func MembershipAdd(m Membership, member string) Op {
	return Op{Kind: OpMembershipAdd, Membership: m, Member: member}
}

// MembershipRemove deletes a member from a membership list.
func MembershipRemove(m Membership, member string) Op {
	return Op{Kind: OpMembershipRemove, Membership: m, Member: member}
}

// Inverse returns the op undoing o. SetField has no inverse without the
// previous value, so it is returned unchanged.
func (o Op) Inverse() Op {
	switch o.Kind {
	case OpIncrement:
		o.Kind = OpDecrement
	case OpDecrement:
		o.Kind = OpIncrement
	case OpMembershipAdd:
		o.Kind = OpMembershipRemove
	case OpMembershipRemove:
		o.Kind = OpMembershipAdd
	}
	return o
}

func (o Op) String() string {
	switch o.Kind {
	case OpSetField:
		return fmt.Sprintf("%s %s=%v", o.Kind, o.Field, o.Value)
	case OpIncrement, OpDecrement:
		return fmt.Sprintf("%s %s by %d", o.Kind, o.Field, o.Amount)
	}
	return fmt.Sprintf("%s %s %s", o.Kind, o.Membership, o.Member)
}

// Diff is an ordered set of changes to one account, tagged with the block
// and round that caused them.
type Diff struct {
	Ops     []Op
	BlockID string
	Round   int64
}

// =============================================================================

// Merge applies the diff to the account at the address, creating the
// account when it does not exist. Either every op is applied or none is.
// Balance changes and confirmed vote changes record the weight they move
// in the round ledger.
func (s *Store) Merge(ctx context.Context, address string, diff Diff) (Account, error) {
	if address == "" {
		return Account{}, errors.Wrap(ErrInvalidDelta, "missing address")
	}

	for _, op := range diff.Ops {
		if err := op.validate(); err != nil {
			return Account{}, err
		}
	}

	var acc Account
	err := s.db.Atomic(ctx, "merge", func(ctx context.Context) error {
		ext := s.db.Ext(ctx)

		if _, err := ext.ExecContext(ctx, "INSERT OR IGNORE INTO accounts (address) VALUES (?)", address); err != nil {
			return errors.Wrapf(err, "merge %s: create", address)
		}

		for _, op := range diff.Ops {
			if err := s.apply(ctx, ext, address, op, diff); err != nil {
				return err
			}
		}

		var err error
		acc, err = s.Get(ctx, Filter{Address: address})
		return err
	})

	return acc, err
}

func (o Op) validate() error {
	switch o.Kind {
	case OpSetField:
		if !settable[o.Field] {
			return errors.Wrapf(ErrInvalidDelta, "field %q cannot be set", o.Field)
		}

	case OpIncrement, OpDecrement:
		if _, ok := numeric[o.Field]; !ok {
			return errors.Wrapf(ErrInvalidDelta, "field %q is not numeric", o.Field)
		}
		if o.Amount < 0 {
			return errors.Wrapf(ErrInvalidDelta, "negative amount %d for %s", o.Amount, o.Kind)
		}

	case OpMembershipAdd, OpMembershipRemove:
		if !o.Membership.valid() {
			return errors.Wrapf(ErrInvalidDelta, "unknown membership %q", o.Membership)
		}
		if o.Member == "" {
			return errors.Wrapf(ErrInvalidDelta, "missing member for %s", o.Membership)
		}

	default:
		return errors.Wrapf(ErrInvalidDelta, "unknown op kind %d", o.Kind)
	}

	return nil
}

// apply executes a single op against the account.
func (s *Store) apply(ctx context.Context, ext sqlx.ExtContext, address string, op Op, diff Diff) error {
	switch op.Kind {
	case OpSetField:
		q := fmt.Sprintf("UPDATE accounts SET %s = ? WHERE address = ?", op.Field)
		if _, err := ext.ExecContext(ctx, q, op.Value, address); err != nil {
			return errors.Wrapf(err, "merge %s: %s", address, op)
		}
		return nil

	case OpIncrement, OpDecrement:
		if op.Amount == 0 {
			return nil
		}

		delta := op.Amount
		if op.Kind == OpDecrement {
			delta = -delta
		}

		q := fmt.Sprintf("UPDATE accounts SET %[1]s = %[1]s + ? WHERE address = ?", op.Field)
		args := []any{delta, address}
		if numeric[op.Field] {
			q += fmt.Sprintf(" AND %s + ? >= 0", op.Field)
			args = append(args, delta)
		}

		res, err := ext.ExecContext(ctx, q, args...)
		if err != nil {
			return errors.Wrapf(err, "merge %s: %s", address, op)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return errors.Wrapf(ErrInvalidDelta, "merge %s: %s below zero", address, op)
		}

		if op.Field == FieldBalance && diff.Round > 0 {
			const q = `
			INSERT INTO round_ledger (address, amount, delegate, block_id, round)
			SELECT account_id, ?, dependent_id, ?, ? FROM account_delegates WHERE account_id = ?`

			if _, err := ext.ExecContext(ctx, q, delta, diff.BlockID, diff.Round, address); err != nil {
				return errors.Wrapf(err, "merge %s: round ledger", address)
			}
		}
		return nil

	case OpMembershipAdd:
		q := fmt.Sprintf("INSERT INTO %s (account_id, dependent_id) VALUES (?, ?)", op.Membership.table())
		if _, err := ext.ExecContext(ctx, q, address, op.Member); err != nil {
			return errors.Wrapf(ErrInvalidDelta, "merge %s: %s: %s", address, op, err)
		}
		return s.recordVote(ctx, ext, address, op, diff, 1)

	case OpMembershipRemove:
		q := fmt.Sprintf("DELETE FROM %s WHERE account_id = ? AND dependent_id = ?", op.Membership.table())
		res, err := ext.ExecContext(ctx, q, address, op.Member)
		if err != nil {
			return errors.Wrapf(err, "merge %s: %s", address, op)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return errors.Wrapf(ErrInvalidDelta, "merge %s: %s is not a member", address, op)
		}
		return s.recordVote(ctx, ext, address, op, diff, -1)
	}

	return nil
}

// recordVote moves the voter's current balance to or from the delegate in
// the round ledger when a confirmed vote changes.
func (s *Store) recordVote(ctx context.Context, ext sqlx.ExtContext, address string, op Op, diff Diff, sign int64) error {
	if op.Membership != Delegates || diff.Round <= 0 {
		return nil
	}

	const q = `
	INSERT INTO round_ledger (address, amount, delegate, block_id, round)
	SELECT address, ? * balance, ?, ?, ? FROM accounts WHERE address = ?`

	if _, err := ext.ExecContext(ctx, q, sign, op.Member, diff.BlockID, diff.Round, address); err != nil {
		return errors.Wrapf(err, "merge %s: round ledger", address)
	}

	return nil
}

// =============================================================================

// Atomic runs fn inside the store's atomic scope.
func (s *Store) Atomic(ctx context.Context, fnDescription string, fn func(ctx context.Context) error) error {
	return s.db.Atomic(ctx, fnDescription, fn)
}
