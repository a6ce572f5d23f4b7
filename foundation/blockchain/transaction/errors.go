package transaction

import (
	"github.com/cockroachdb/errors"
)

// Error classes. Every error surfaced by the processor is marked with one
// of them so callers can decide between rejecting the input, treating the
// ledger as compensated, or stopping.
var (
	// ErrValidation marks errors caused by the transaction itself. Nothing
	// was written to the ledger.
	ErrValidation = errors.New("validation")

	// ErrConsistency marks a handler failure that happened after the
	// sender was debited or credited. The counter operation was issued.
	ErrConsistency = errors.New("consistency")

	// ErrFatal marks errors that leave the ledger in an unknown state.
	ErrFatal = errors.New("fatal")
)

// Set of validation errors.
var (
	ErrUnknownType        = errors.New("unknown transaction type")
	ErrInvalidSender      = errors.New("invalid sender")
	ErrSignature          = errors.New("failed to verify signature")
	ErrSecondSignature    = errors.New("failed to verify second signature")
	ErrDuplicateSignature = errors.New("encountered duplicate signature in transaction")
	ErrMultisignature     = errors.New("failed to verify multisignature")
	ErrInsufficientFunds  = errors.New("account does not have enough funds")
	ErrFeeMismatch        = errors.New("invalid transaction fee")
	ErrInvalidAmount      = errors.New("invalid transaction amount")
	ErrStaleTimestamp     = errors.New("invalid transaction timestamp")
	ErrAlreadyConfirmed   = errors.New("transaction is already confirmed")
	ErrIDMismatch         = errors.New("invalid transaction id")
	ErrNotReady           = errors.New("transaction is not ready")
	ErrInvalidAsset       = errors.New("invalid transaction asset")
	ErrInvalidRecipient   = errors.New("invalid recipient")
)

// Validation wraps err with the message and marks it as a validation error.
func Validation(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrValidation)
}

// IsValidation reports whether err was caused by the transaction itself.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConsistency reports whether err followed a compensated ledger write.
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency)
}

// IsFatal reports whether err left the ledger in an unknown state.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// classify marks an error from a lower layer that carries no class yet.
// Ledger failures raised by the account store are validation failures of
// the transaction when they are delta rejections, fatal otherwise.
func classify(err error, class error) error {
	if err == nil || errors.Is(err, ErrValidation) || errors.Is(err, ErrConsistency) || errors.Is(err, ErrFatal) {
		return err
	}
	return errors.Mark(err, class)
}
