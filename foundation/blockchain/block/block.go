// Package block builds, encodes, signs and validates blocks, and stores
// them with their transactions.
package block

import (
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Version is the only block version produced and accepted.
const Version = 0

// Set of errors raised while validating a block.
var (
	ErrVersion       = errors.New("invalid block version")
	ErrPreviousBlock = errors.New("invalid previous block")
	ErrHeight        = errors.New("invalid block height")
	ErrReward        = errors.New("invalid block reward")
	ErrSignature     = errors.New("failed to verify block signature")
	ErrID            = errors.New("invalid block id")
	ErrPayload       = errors.New("invalid block payload")
	ErrDuplicateTx   = errors.New("encountered duplicate transaction")
	ErrTotals        = errors.New("invalid block totals")
	ErrTimestamp     = errors.New("invalid block timestamp")
	ErrNotFound      = errors.New("block not found")
)

// Block represents a group of transactions forged by one delegate in one
// slot.
type Block struct {
	ID                   string           `json:"id" validate:"omitempty,numeric,max=20"`
	Version              uint32           `json:"version"`
	Timestamp            int64            `json:"timestamp" validate:"gte=0,lte=4294967295"`
	Height               int64            `json:"height" validate:"gte=1"`
	PreviousBlock        string           `json:"previous_block,omitempty" validate:"omitempty,numeric,max=20"`
	NumberOfTransactions int              `json:"number_of_transactions" validate:"gte=0"`
	TotalAmount          int64            `json:"total_amount" validate:"gte=0"`
	TotalFee             int64            `json:"total_fee" validate:"gte=0"`
	Reward               int64            `json:"reward" validate:"gte=0"`
	PayloadLength        int              `json:"payload_length" validate:"gte=0"`
	PayloadHash          hexutil.Bytes    `json:"payload_hash" validate:"len=32"`
	GeneratorPublicKey   hexutil.Bytes    `json:"generator_public_key" validate:"len=32"`
	BlockSignature       hexutil.Bytes    `json:"block_signature,omitempty" validate:"omitempty,len=64"`
	Transactions         []transaction.Tx `json:"transactions" validate:"-"`
}

// Ref returns the reference transactions applied in this block carry.
func (b Block) Ref(round int64) transaction.BlockRef {
	return transaction.BlockRef{
		ID:     b.ID,
		Height: b.Height,
		Round:  round,
	}
}

// TxIDs returns the ids of the block's transactions in stored order.
func (b Block) TxIDs() []string {
	ids := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID
	}
	return ids
}
