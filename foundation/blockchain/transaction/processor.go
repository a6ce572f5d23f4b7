package transaction

import (
	"bytes"
	"context"
	"encoding/hex"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/genesis"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/slots"
	"github.com/ardanlabs/dpos/foundation/validate"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethmath "github.com/ethereum/go-ethereum/common/math"
)

// Config represents the configuration required to construct a processor.
type Config struct {
	Registry    *Registry
	Accounts    *accounts.Store
	Slots       slots.Slots
	TotalAmount int64
	Exceptions  genesis.Exceptions
	Now         func() time.Time
}

// Processor runs transactions through their lifecycle.
type Processor struct {
	registry    *Registry
	accounts    *accounts.Store
	slots       slots.Slots
	totalAmount int64
	exceptions  genesis.Exceptions
	now         func() time.Time
}

// NewProcessor constructs a processor. Accounts may be nil for a processor
// that only creates and encodes transactions.
func NewProcessor(cfg Config) *Processor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Processor{
		registry:    cfg.Registry,
		accounts:    cfg.Accounts,
		slots:       cfg.Slots,
		totalAmount: cfg.TotalAmount,
		exceptions:  cfg.Exceptions,
		now:         now,
	}
}

// Registry returns the handler registry.
func (p *Processor) Registry() *Registry {
	return p.registry
}

// =============================================================================

// Create builds, signs and identifies a new transaction.
func (p *Processor) Create(args CreateArgs) (Tx, error) {
	h, err := p.registry.Handler(args.Type)
	if err != nil {
		return Tx{}, err
	}

	tx := Tx{
		Type:            args.Type,
		Timestamp:       args.Timestamp,
		SenderPublicKey: hexutil.Bytes(args.Sender.PublicKey),
	}
	if tx.Timestamp == 0 {
		tx.Timestamp = p.slots.EpochTime(p.now())
	}

	signer := args.Sender
	if args.Requester != nil {
		tx.RequesterPublicKey = hexutil.Bytes(args.Requester.PublicKey)
		signer = *args.Requester
	}

	if err := h.Create(&tx, args); err != nil {
		return Tx{}, Validation(err, "create %s", tx.Type)
	}

	if tx.Signature, err = p.Sign(signer, tx); err != nil {
		return Tx{}, err
	}

	if args.Second != nil {
		if tx.SignSignature, err = p.SignSecond(*args.Second, tx); err != nil {
			return Tx{}, err
		}
	}

	if tx.ID, err = p.GetID(tx); err != nil {
		return Tx{}, err
	}

	tx.Fee = h.CalculateFee(tx)

	return tx, nil
}

// GetBytes returns the canonical encoding of the transaction.
func (p *Processor) GetBytes(tx Tx, skipSignature bool, skipSecondSignature bool) ([]byte, error) {
	h, err := p.registry.Handler(tx.Type)
	if err != nil {
		return nil, err
	}

	asset, err := h.GetBytes(tx)
	if err != nil {
		return nil, Validation(errors.CombineErrors(ErrInvalidAsset, err), "encode %s", tx.Type)
	}

	data, err := encode(tx, asset, skipSignature, skipSecondSignature)
	if err != nil {
		return nil, Validation(err, "encode %s", tx.Type)
	}

	return data, nil
}

// Hash returns the SHA-256 of the encoding with every signature stripped.
// Both the id and the signatures are computed over it.
func (p *Processor) Hash(tx Tx) ([signature.HashSize]byte, error) {
	data, err := p.GetBytes(tx, true, true)
	if err != nil {
		return [signature.HashSize]byte{}, err
	}
	return signature.Hash(data), nil
}

// GetID returns the identifier of the transaction.
func (p *Processor) GetID(tx Tx) (string, error) {
	hash, err := p.Hash(tx)
	if err != nil {
		return "", err
	}
	return signature.IDFromHash(hash), nil
}

// Sign returns the primary signature of the transaction.
func (p *Processor) Sign(kp signature.Keypair, tx Tx) (hexutil.Bytes, error) {
	hash, err := p.Hash(tx)
	if err != nil {
		return nil, err
	}
	return signature.Sign(hash[:], kp), nil
}

// MultiSign returns a co-signature by a member of the sender's
// multisignature group. Co-signatures sign the same hash as the primary.
func (p *Processor) MultiSign(kp signature.Keypair, tx Tx) (hexutil.Bytes, error) {
	return p.Sign(kp, tx)
}

// SignSecond returns the second signature, which covers the primary one.
func (p *Processor) SignSecond(kp signature.Keypair, tx Tx) (hexutil.Bytes, error) {
	data, err := p.GetBytes(tx, false, true)
	if err != nil {
		return nil, err
	}
	hash := signature.Hash(data)
	return signature.Sign(hash[:], kp), nil
}

// VerifySignature checks a primary or co-signature against the key.
func (p *Processor) VerifySignature(tx Tx, publicKey []byte, sig []byte) (bool, error) {
	hash, err := p.Hash(tx)
	if err != nil {
		return false, err
	}
	return signature.Verify(hash[:], sig, publicKey), nil
}

// VerifySecondSignature checks the second signature against the key.
func (p *Processor) VerifySecondSignature(tx Tx, publicKey []byte, sig []byte) (bool, error) {
	data, err := p.GetBytes(tx, false, true)
	if err != nil {
		return false, err
	}
	hash := signature.Hash(data)
	return signature.Verify(hash[:], sig, publicKey), nil
}

// Normalize checks the shape of the transaction and of its asset.
func (p *Processor) Normalize(tx *Tx) error {
	if err := validate.Check(tx); err != nil {
		return Validation(err, "normalize")
	}

	h, err := p.registry.Handler(tx.Type)
	if err != nil {
		return err
	}

	if err := h.ObjectNormalize(tx); err != nil {
		return Validation(errors.CombineErrors(ErrInvalidAsset, err), "normalize %s", tx.Type)
	}

	return nil
}

// Ready reports whether the transaction carries enough co-signatures to
// be included in a block.
func (p *Processor) Ready(tx Tx, sender accounts.Account) bool {
	h, err := p.registry.Handler(tx.Type)
	if err != nil {
		return false
	}
	return h.Ready(tx, sender)
}

// CheckConfirmed reports whether a transaction with the id is stored.
func (p *Processor) CheckConfirmed(ctx context.Context, id string) (bool, error) {
	var n int
	if err := p.accounts.DB().Ext(ctx).QueryRowxContext(ctx, "SELECT COUNT(*) FROM transactions WHERE id = ?", id).Scan(&n); err != nil {
		return false, errors.Mark(errors.Wrapf(err, "check confirmed %s", id), ErrFatal)
	}

	return n > 0, nil
}

// =============================================================================

// Process binds the transaction to its sender, fixes its id, checks the
// primary signature and runs the handler's preparation. A requester is
// required when the transaction names one.
func (p *Processor) Process(ctx context.Context, tx *Tx, sender accounts.Account, requester *accounts.Account) error {
	h, err := p.registry.Handler(tx.Type)
	if err != nil {
		return err
	}

	if !sender.Exists() {
		return Validation(ErrInvalidSender, "missing sender")
	}

	if len(tx.RequesterPublicKey) > 0 && (requester == nil || !requester.Exists()) {
		return Validation(ErrInvalidSender, "missing requester")
	}

	id, err := p.GetID(*tx)
	if err != nil {
		return err
	}

	if tx.ID != "" && tx.ID != id {
		return Validation(ErrIDMismatch, "got %s, computed %s", tx.ID, id)
	}
	tx.ID = id

	ok, err := p.VerifySignature(*tx, tx.SignerPublicKey(), tx.Signature)
	if err != nil {
		return err
	}
	if !ok && !slices.Contains(p.exceptions.Signatures, tx.ID) {
		return Validation(ErrSignature, "%s", tx.ID)
	}

	if tx.SenderID != "" && tx.SenderID != sender.Address {
		return Validation(ErrInvalidSender, "invalid sender address %s", tx.SenderID)
	}
	tx.SenderID = sender.Address

	if err := h.Process(ctx, *tx, sender); err != nil {
		return classify(err, ErrValidation)
	}

	confirmed, err := p.CheckConfirmed(ctx, tx.ID)
	if err != nil {
		return err
	}
	if confirmed {
		return Validation(ErrAlreadyConfirmed, "%s", tx.ID)
	}

	return nil
}

// Verify checks the transaction against the sender's confirmed state. The
// checks run in a fixed order and the first failure is returned.
func (p *Processor) Verify(ctx context.Context, tx Tx, sender accounts.Account, requester *accounts.Account) error {
	if !sender.Exists() {
		return Validation(ErrInvalidSender, "missing sender")
	}

	h, err := p.registry.Handler(tx.Type)
	if err != nil {
		return err
	}

	if err := p.verifySender(tx, sender, requester); err != nil {
		return err
	}

	if err := p.verifySignatures(tx, sender); err != nil {
		return err
	}

	if fee := h.CalculateFee(tx); tx.Fee != fee {
		return Validation(ErrFeeMismatch, "got %d, expected %d", tx.Fee, fee)
	}

	if tx.Amount < 0 || tx.Amount > p.totalAmount {
		return Validation(ErrInvalidAmount, "%d", tx.Amount)
	}

	if p.slots.SlotNumber(tx.Timestamp) > p.slots.CurrentSlot(p.now()) {
		return Validation(ErrStaleTimestamp, "timestamp %d is in the future", tx.Timestamp)
	}

	if err := h.Verify(ctx, tx, sender); err != nil {
		return classify(err, ErrValidation)
	}

	return nil
}

// verifySender checks the sender key and the requester's membership.
func (p *Processor) verifySender(tx Tx, sender accounts.Account, requester *accounts.Account) error {
	if accounts.AddressFromPublicKey(tx.SenderPublicKey) != sender.Address {
		return Validation(ErrInvalidSender, "sender key does not match address %s", sender.Address)
	}

	if len(sender.PublicKey) > 0 && !bytes.Equal(sender.PublicKey, tx.SenderPublicKey) && !slices.Contains(p.exceptions.SenderPublicKey, tx.ID) {
		return Validation(ErrInvalidSender, "invalid sender public key")
	}

	if len(tx.RequesterPublicKey) > 0 {
		if requester == nil || !requester.Exists() {
			return Validation(ErrInvalidSender, "missing requester")
		}
		if !sender.IsMultisignature() {
			return Validation(ErrInvalidSender, "account does not belong to a multisignature group")
		}
		if !slices.Contains(sender.Multisignatures, hex.EncodeToString(tx.RequesterPublicKey)) {
			return Validation(ErrInvalidSender, "requester is not a member of the multisignature group")
		}
	}

	return nil
}

// verifySignatures checks the primary, second and co-signatures.
func (p *Processor) verifySignatures(tx Tx, sender accounts.Account) error {
	ok, err := p.VerifySignature(tx, tx.SignerPublicKey(), tx.Signature)
	if err != nil {
		return err
	}
	if !ok && !slices.Contains(p.exceptions.Signatures, tx.ID) {
		return Validation(ErrSignature, "%s", tx.ID)
	}

	switch {
	case sender.SecondSignature && len(tx.RequesterPublicKey) == 0:
		ok, err := p.VerifySecondSignature(tx, sender.SecondPublicKey, tx.SignSignature)
		if err != nil {
			return err
		}
		if !ok {
			return Validation(ErrSecondSignature, "%s", tx.ID)
		}

	case !sender.SecondSignature && len(tx.SignSignature) > 0:
		return Validation(ErrSecondSignature, "sender does not have a second signature")
	}

	if len(tx.Signatures) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		key := string(sig)
		if _, exists := seen[key]; exists {
			return Validation(ErrDuplicateSignature, "%s", tx.ID)
		}
		seen[key] = struct{}{}
	}

	keys := p.multisignatureKeys(tx, sender)
	requester := hex.EncodeToString(tx.RequesterPublicKey)

	for _, sig := range tx.Signatures {
		var verified bool
		for _, key := range keys {
			if len(tx.RequesterPublicKey) > 0 && key == requester {
				continue
			}

			publicKey, err := signature.DecodePublicKey(key)
			if err != nil {
				continue
			}

			ok, err := p.VerifySignature(tx, publicKey, sig)
			if err != nil {
				return err
			}
			if ok {
				verified = true
				break
			}
		}

		if !verified && !slices.Contains(p.exceptions.Multisignatures, tx.ID) {
			return Validation(ErrMultisignature, "%s", tx.ID)
		}
	}

	return nil
}

// multisignatureKeys returns the keys co-signatures may come from: the
// sender's group, or the keysgroup being registered.
func (p *Processor) multisignatureKeys(tx Tx, sender accounts.Account) []string {
	keys := slices.Clone(sender.Multisignatures)

	if len(keys) == 0 && tx.Asset.Multisignature != nil {
		for _, key := range tx.Asset.Multisignature.Keysgroup {
			keys = append(keys, strings.TrimPrefix(key, "+"))
		}
	}

	if len(tx.RequesterPublicKey) > 0 {
		keys = append(keys, hex.EncodeToString(tx.SenderPublicKey))
	}

	return keys
}

// =============================================================================

// Apply debits amount plus fee from the sender's confirmed balance, then
// runs the handler's confirmed effects. The genesis block is not debited.
// When the handler fails after the debit, the debit is credited back and
// the error is marked as a consistency error.
func (p *Processor) Apply(ctx context.Context, tx Tx, blk BlockRef, sender accounts.Account) error {
	h, err := p.registry.Handler(tx.Type)
	if err != nil {
		return err
	}

	if !h.Ready(tx, sender) {
		return Validation(ErrNotReady, "%s", tx.ID)
	}

	amount, err := total(tx)
	if err != nil {
		return err
	}

	diff := func(op accounts.Op) accounts.Diff {
		return accounts.Diff{Ops: []accounts.Op{op}, BlockID: blk.ID, Round: blk.Round}
	}

	debited := !blk.IsGenesis() && amount > 0
	if debited {
		if sender.Balance < amount {
			return Validation(ErrInsufficientFunds, "%s: balance %d, required %d", sender.Address, sender.Balance, amount)
		}

		sender, err = p.accounts.Merge(ctx, sender.Address, diff(accounts.Decrement(accounts.FieldBalance, amount)))
		if err != nil {
			return p.ledgerError(err, "debit %s", sender.Address)
		}
	}

	if err := h.Apply(ctx, tx, blk, sender); err != nil {
		if !debited {
			return classify(err, ErrValidation)
		}

		if _, cerr := p.accounts.Merge(ctx, sender.Address, diff(accounts.Increment(accounts.FieldBalance, amount))); cerr != nil {
			return errors.Mark(errors.CombineErrors(err, cerr), ErrFatal)
		}
		return errors.Mark(errors.Wrapf(err, "apply %s", tx.ID), ErrConsistency)
	}

	return nil
}

// Undo credits amount plus fee back to the sender, then reverts the
// handler's confirmed effects.
func (p *Processor) Undo(ctx context.Context, tx Tx, blk BlockRef, sender accounts.Account) error {
	h, err := p.registry.Handler(tx.Type)
	if err != nil {
		return err
	}

	amount, err := total(tx)
	if err != nil {
		return err
	}

	diff := func(op accounts.Op) accounts.Diff {
		return accounts.Diff{Ops: []accounts.Op{op}, BlockID: blk.ID, Round: blk.Round}
	}

	credited := !blk.IsGenesis() && amount > 0
	if credited {
		sender, err = p.accounts.Merge(ctx, sender.Address, diff(accounts.Increment(accounts.FieldBalance, amount)))
		if err != nil {
			return p.ledgerError(err, "credit %s", sender.Address)
		}
	}

	if err := h.Undo(ctx, tx, blk, sender); err != nil {
		if !credited {
			return classify(err, ErrValidation)
		}

		if _, cerr := p.accounts.Merge(ctx, sender.Address, diff(accounts.Decrement(accounts.FieldBalance, amount))); cerr != nil {
			return errors.Mark(errors.CombineErrors(err, cerr), ErrFatal)
		}
		return errors.Mark(errors.Wrapf(err, "undo %s", tx.ID), ErrConsistency)
	}

	return nil
}

// ApplyUnconfirmed debits the sender's unconfirmed balance and runs the
// handler's pending effects.
func (p *Processor) ApplyUnconfirmed(ctx context.Context, tx Tx, sender accounts.Account) error {
	h, err := p.registry.Handler(tx.Type)
	if err != nil {
		return err
	}

	switch {
	case sender.SecondSignature && len(tx.SignSignature) == 0 && len(tx.RequesterPublicKey) == 0:
		return Validation(ErrSecondSignature, "missing sender second signature")
	case !sender.SecondSignature && len(tx.SignSignature) > 0:
		return Validation(ErrSecondSignature, "sender does not have a second signature")
	}

	amount, err := total(tx)
	if err != nil {
		return err
	}

	diff := func(op accounts.Op) accounts.Diff {
		return accounts.Diff{Ops: []accounts.Op{op}}
	}

	if sender.UBalance < amount {
		return Validation(ErrInsufficientFunds, "%s: unconfirmed balance %d, required %d", sender.Address, sender.UBalance, amount)
	}

	sender, err = p.accounts.Merge(ctx, sender.Address, diff(accounts.Decrement(accounts.FieldUBalance, amount)))
	if err != nil {
		return p.ledgerError(err, "debit unconfirmed %s", sender.Address)
	}

	if err := h.ApplyUnconfirmed(ctx, tx, sender); err != nil {
		if _, cerr := p.accounts.Merge(ctx, sender.Address, diff(accounts.Increment(accounts.FieldUBalance, amount))); cerr != nil {
			return errors.Mark(errors.CombineErrors(err, cerr), ErrFatal)
		}
		return errors.Mark(errors.Wrapf(err, "apply unconfirmed %s", tx.ID), ErrConsistency)
	}

	return nil
}

// UndoUnconfirmed credits the sender's unconfirmed balance back and
// reverts the handler's pending effects.
func (p *Processor) UndoUnconfirmed(ctx context.Context, tx Tx, sender accounts.Account) error {
	h, err := p.registry.Handler(tx.Type)
	if err != nil {
		return err
	}

	amount, err := total(tx)
	if err != nil {
		return err
	}

	diff := func(op accounts.Op) accounts.Diff {
		return accounts.Diff{Ops: []accounts.Op{op}}
	}

	sender, err = p.accounts.Merge(ctx, sender.Address, diff(accounts.Increment(accounts.FieldUBalance, amount)))
	if err != nil {
		return p.ledgerError(err, "credit unconfirmed %s", sender.Address)
	}

	if err := h.UndoUnconfirmed(ctx, tx, sender); err != nil {
		if _, cerr := p.accounts.Merge(ctx, sender.Address, diff(accounts.Decrement(accounts.FieldUBalance, amount))); cerr != nil {
			return errors.Mark(errors.CombineErrors(err, cerr), ErrFatal)
		}
		return errors.Mark(errors.Wrapf(err, "undo unconfirmed %s", tx.ID), ErrConsistency)
	}

	return nil
}

// =============================================================================

// total returns amount plus fee, rejecting overflow.
func total(tx Tx) (int64, error) {
	if tx.Amount < 0 || tx.Fee < 0 {
		return 0, Validation(ErrInvalidAmount, "amount %d, fee %d", tx.Amount, tx.Fee)
	}

	sum, overflow := ethmath.SafeAdd(uint64(tx.Amount), uint64(tx.Fee))
	if overflow || sum > math.MaxInt64 {
		return 0, Validation(ErrInvalidAmount, "amount %d plus fee %d overflows", tx.Amount, tx.Fee)
	}

	return int64(sum), nil
}

// ledgerError classifies a failed merge: a rejected delta means the
// sender cannot afford the transaction, anything else is fatal.
func (p *Processor) ledgerError(err error, format string, args ...any) error {
	if errors.Is(err, accounts.ErrInvalidDelta) {
		return Validation(errors.CombineErrors(ErrInsufficientFunds, err), format, args...)
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrFatal)
}
