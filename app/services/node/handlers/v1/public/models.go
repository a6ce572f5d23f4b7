package public

import (
	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/mempool"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// account is an account with the name the name service knows it by.
type account struct {
	Name string `json:"name"`
	accounts.Account
}

// submitted is returned once a transaction is accepted by the pool.
type submitted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// signature is a co-signature of a pooled multisignature transaction.
type signature struct {
	ID        string        `json:"id" validate:"required,numeric,max=20"`
	Signature hexutil.Bytes `json:"signature" validate:"len=64"`
}

// delegateList is the forging order of a round.
type delegateList struct {
	Round     int64    `json:"round"`
	Delegates []string `json:"delegates"`
}

// pool is a page of a pool queue along with the size of every queue.
type pool struct {
	Queue  string           `json:"queue"`
	Counts mempool.Counts   `json:"counts"`
	Txs    []transaction.Tx `json:"transactions"`
}
