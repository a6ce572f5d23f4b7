// Package transaction implements the lifecycle of a single transaction:
// canonical encoding, identity, signing, verification and the confirmed
// and unconfirmed apply and undo against the account ledger. Type specific
// behavior is delegated to the Handler registered for the transaction type.
package transaction

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Type is the numeric tag of a transaction type.
type Type uint8

// Set of transaction types.
const (
	TypeSend Type = iota
	TypeSignature
	TypeDelegate
	TypeVote
	TypeUsername
	TypeContact
	TypeMultisignature
)

var typeNames = [...]string{
	TypeSend:           "send",
	TypeSignature:      "signature",
	TypeDelegate:       "delegate",
	TypeVote:           "vote",
	TypeUsername:       "username",
	TypeContact:        "contact",
	TypeMultisignature: "multisignature",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// =============================================================================

// Tx is a signed transaction.
type Tx struct {
	ID                 string          `json:"id,omitempty" validate:"omitempty,numeric,max=20"`
	BlockID            string          `json:"block_id,omitempty"`
	Type               Type            `json:"type" validate:"lte=15"`
	Timestamp          int64           `json:"timestamp" validate:"gte=0,lte=4294967295"`
	SenderPublicKey    hexutil.Bytes   `json:"sender_public_key" validate:"len=32"`
	SenderID           string          `json:"sender_id,omitempty" validate:"omitempty,address"`
	RequesterPublicKey hexutil.Bytes   `json:"requester_public_key,omitempty" validate:"omitempty,len=32"`
	RecipientID        string          `json:"recipient_id,omitempty" validate:"omitempty,address"`
	Amount             int64           `json:"amount" validate:"gte=0"`
	Fee                int64           `json:"fee" validate:"gte=0"`
	Signature          hexutil.Bytes   `json:"signature,omitempty" validate:"omitempty,len=64"`
	SignSignature      hexutil.Bytes   `json:"sign_signature,omitempty" validate:"omitempty,len=64"`
	Signatures         []hexutil.Bytes `json:"signatures,omitempty" validate:"omitempty,dive,len=64"`
	Asset              Asset           `json:"asset"`
	Bundled            bool            `json:"bundled,omitempty"`
}

// SignerPublicKey returns the key the primary signature is checked
// against: the requester when one acts for the sender, the sender otherwise.
func (tx Tx) SignerPublicKey() []byte {
	if len(tx.RequesterPublicKey) > 0 {
		return tx.RequesterPublicKey
	}
	return tx.SenderPublicKey
}

// Asset carries the type specific payload. At most one field is set and it
// matches the transaction type.
type Asset struct {
	Signature      *SignatureAsset      `json:"signature,omitempty"`
	Delegate       *DelegateAsset       `json:"delegate,omitempty"`
	Vote           *VoteAsset           `json:"vote,omitempty"`
	Username       *UsernameAsset       `json:"username,omitempty"`
	Contact        *ContactAsset        `json:"contact,omitempty"`
	Multisignature *MultisignatureAsset `json:"multisignature,omitempty"`
}

// Count returns how many asset variants are set.
func (a Asset) Count() int {
	var n int
	if a.Signature != nil {
		n++
	}
	if a.Delegate != nil {
		n++
	}
	if a.Vote != nil {
		n++
	}
	if a.Username != nil {
		n++
	}
	if a.Contact != nil {
		n++
	}
	if a.Multisignature != nil {
		n++
	}
	return n
}

// SignatureAsset registers a second public key.
type SignatureAsset struct {
	PublicKey hexutil.Bytes `json:"public_key" validate:"len=32"`
}

// DelegateAsset registers the sender as a delegate.
type DelegateAsset struct {
	Username string `json:"username" validate:"required,max=20"`
}

// VoteAsset adds (+key) or removes (-key) votes for delegates.
type VoteAsset struct {
	Votes []string `json:"votes" validate:"required,min=1,dive,len=65"`
}

// UsernameAsset registers an alias for a non delegate account.
type UsernameAsset struct {
	Alias string `json:"alias" validate:"required,max=20"`
}

// ContactAsset follows (+address) or unfollows (-address) an account.
type ContactAsset struct {
	Address string `json:"address" validate:"required,max=22"`
}

// MultisignatureAsset turns the sender into a multisignature account.
type MultisignatureAsset struct {
	Min       int      `json:"min" validate:"gte=1,lte=15"`
	Lifetime  int      `json:"lifetime" validate:"gte=1,lte=72"`
	Keysgroup []string `json:"keysgroup" validate:"required,min=1,max=15,dive,len=65"`
}

// =============================================================================

// BlockRef identifies the block a confirmed transaction is applied in.
type BlockRef struct {
	ID     string
	Height int64
	Round  int64
}

// IsGenesis reports whether the block is the genesis block, whose
// transactions are exempt from debits and signature checks.
func (b BlockRef) IsGenesis() bool {
	return b.Height == 1
}
