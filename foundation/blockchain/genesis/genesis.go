// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/reward"
	"github.com/ardanlabs/dpos/foundation/blockchain/slots"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date             time.Time        `json:"date"`                 // Network epoch, timestamps count seconds from here.
	BlockTime        int64            `json:"block_time"`           // Seconds per forging slot.
	ActiveDelegates  int              `json:"active_delegates"`     // Delegates forging in a round.
	MaxVotes         int              `json:"max_votes"`            // Max delegates an account may vote for.
	MaxVotesPerTx    int              `json:"max_votes_per_tx"`     // Max votes carried by one vote transaction.
	MaxTxsPerBlock   int              `json:"max_txs_per_block"`    // Max transactions in a block.
	MaxPayloadLength int              `json:"max_payload_length"`   // Max bytes of transaction payload in a block.
	TotalAmount      int64            `json:"total_amount"`         // Supply before any reward is paid.
	Rewards          Rewards          `json:"rewards"`              // Block reward milestones.
	Fees             Fees             `json:"fees"`                 // Flat fee per transaction type.
	Pool             Pool             `json:"pool"`                 // Unconfirmed pool limits.
	Exceptions       Exceptions       `json:"exceptions"`           // Legacy transactions allowed to skip a rule.
	GeneratorSecret  string           `json:"generator_secret"`     // Passphrase signing the genesis block.
	GeneratorKey     hexutil.Bytes    `json:"generator_public_key"` // Account funding the genesis balances.
	Balances         map[string]int64 `json:"balances"`             // Genesis balances keyed by address.
	Delegates        []Delegate       `json:"delegates"`            // Delegates registered in the genesis block.
}

// Rewards holds the block reward milestones.
type Rewards struct {
	Milestones []int64 `json:"milestones"`
	Offset     int64   `json:"offset"`
	Distance   int64   `json:"distance"`
}

// Fees holds the flat fee of every transaction type. Multisignature is
// charged once per keysgroup member plus one.
type Fees struct {
	Send           int64 `json:"send"`
	Signature      int64 `json:"signature"`
	Delegate       int64 `json:"delegate"`
	Vote           int64 `json:"vote"`
	Username       int64 `json:"username"`
	Contact        int64 `json:"contact"`
	Multisignature int64 `json:"multisignature"`
}

// Pool holds the limits of the unconfirmed transaction pool.
type Pool struct {
	MaxTxsPerQueue      int   `json:"max_txs_per_queue"`
	UnconfirmedTimeout  int64 `json:"unconfirmed_timeout"` // Seconds.
	MultisignatureLimit int   `json:"multisignature_limit"`
}

// Exceptions lists legacy transaction ids that are allowed to skip a
// specific verification rule.
type Exceptions struct {
	SenderPublicKey []string `json:"sender_public_key"`
	Signatures      []string `json:"signatures"`
	Multisignatures []string `json:"multisignatures"`
	Votes           []string `json:"votes"`
}

// Delegate is a delegate registered by the genesis block.
type Delegate struct {
	Username  string        `json:"username"`
	PublicKey hexutil.Bytes `json:"public_key"`
}

// =============================================================================

// Default returns the network constants with no genesis accounts.
func Default() Genesis {
	return Genesis{
		Date:             time.Date(2016, 5, 24, 17, 0, 0, 0, time.UTC),
		BlockTime:        10,
		ActiveDelegates:  101,
		MaxVotes:         101,
		MaxVotesPerTx:    33,
		MaxTxsPerBlock:   25,
		MaxPayloadLength: 1024 * 1024,
		TotalAmount:      10000000000000000,
		Rewards: Rewards{
			Milestones: []int64{500000000, 400000000, 300000000, 200000000, 100000000},
			Offset:     1451520,
			Distance:   3000000,
		},
		Fees: Fees{
			Send:           10000000,
			Signature:      500000000,
			Delegate:       2500000000,
			Vote:           100000000,
			Username:       100000000,
			Contact:        100000000,
			Multisignature: 500000000,
		},
		Pool: Pool{
			MaxTxsPerQueue:      1000,
			UnconfirmedTimeout:  10800,
			MultisignatureLimit: 5,
		},
		Balances: make(map[string]int64),
	}
}

// Load opens and consumes the genesis file. Values missing from the file
// keep their network defaults.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	genesis := Default()
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// =============================================================================

// Schedule returns the block reward schedule.
func (g Genesis) Schedule() reward.Schedule {
	return reward.Schedule{
		Milestones:  g.Rewards.Milestones,
		Offset:      g.Rewards.Offset,
		Distance:    g.Rewards.Distance,
		TotalAmount: g.TotalAmount,
	}
}

// Slots returns the forging slot layout.
func (g Genesis) Slots() slots.Slots {
	return slots.New(g.Date, g.BlockTime)
}

// UnconfirmedTimeout returns the base pool expiry.
func (g Genesis) UnconfirmedTimeout() time.Duration {
	return time.Duration(g.Pool.UnconfirmedTimeout) * time.Second
}
