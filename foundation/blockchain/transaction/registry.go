package transaction

import (
	"context"
	"reflect"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

// MaxTypes is the capacity of the registry.
const MaxTypes = 16

// Handler is the contract every transaction type implements. Handlers only
// see the transaction and the sender; the processor owns the generic
// checks, debits and credits around them.
type Handler interface {

	// CalculateFee returns the fee the transaction must carry.
	CalculateFee(tx Tx) int64

	// Create fills the type specific fields of a new transaction.
	Create(tx *Tx, args CreateArgs) error

	// Verify checks the transaction against the sender's confirmed state.
	Verify(ctx context.Context, tx Tx, sender accounts.Account) error

	// Process performs any read-only preparation before verification.
	Process(ctx context.Context, tx Tx, sender accounts.Account) error

	// GetBytes returns the canonical encoding of the asset.
	GetBytes(tx Tx) ([]byte, error)

	// ObjectNormalize checks the asset shape for the type.
	ObjectNormalize(tx *Tx) error

	// DBRead loads the asset of a stored transaction.
	DBRead(ctx context.Context, q sqlx.QueryerContext, tx *Tx) error

	// DBSave stores the asset of a confirmed transaction.
	DBSave(ctx context.Context, e sqlx.ExecerContext, tx Tx) error

	// Apply and Undo write the type's confirmed effects.
	Apply(ctx context.Context, tx Tx, blk BlockRef, sender accounts.Account) error
	Undo(ctx context.Context, tx Tx, blk BlockRef, sender accounts.Account) error

	// ApplyUnconfirmed and UndoUnconfirmed write the type's pending effects.
	ApplyUnconfirmed(ctx context.Context, tx Tx, sender accounts.Account) error
	UndoUnconfirmed(ctx context.Context, tx Tx, sender accounts.Account) error

	// Ready reports whether the transaction carries enough co-signatures.
	Ready(tx Tx, sender accounts.Account) bool
}

// CreateArgs carries everything a handler may need to build a new
// transaction of its type.
type CreateArgs struct {
	Type        Type
	Sender      signature.Keypair
	Second      *signature.Keypair
	Requester   *signature.Keypair
	Timestamp   int64
	RecipientID string
	Amount      int64

	SecondPublicKey []byte
	Username        string
	Votes           []string
	Alias           string
	Contact         string
	Min             int
	Lifetime        int
	Keysgroup       []string
}

// Registry maps transaction types to their handlers.
type Registry struct {
	handlers [MaxTypes]Handler
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register attaches the handler to the type.
func (r *Registry) Register(t Type, h Handler) error {
	if int(t) >= MaxTypes {
		return errors.Newf("register %s: type %d out of range", t, t)
	}
	if isNil(h) {
		return errors.Newf("register %s: nil handler", t)
	}
	if r.handlers[t] != nil {
		return errors.Newf("register %s: type %d already registered", t, t)
	}

	r.handlers[t] = h
	return nil
}

// Handler returns the handler registered for the type.
func (r *Registry) Handler(t Type) (Handler, error) {
	if int(t) >= MaxTypes || r.handlers[t] == nil {
		return nil, errors.Mark(errors.Wrapf(ErrUnknownType, "type %d", t), ErrValidation)
	}
	return r.handlers[t], nil
}

// isNil reports whether the handler is nil, including a nil pointer held
// in the interface.
func isNil(h Handler) bool {
	if h == nil {
		return true
	}

	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
