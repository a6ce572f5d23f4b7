package errs

import (
	"net/http"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/block"
	"github.com/ardanlabs/dpos/foundation/blockchain/database"
	"github.com/ardanlabs/dpos/foundation/blockchain/mempool"
	"github.com/ardanlabs/dpos/foundation/blockchain/round"
	"github.com/ardanlabs/dpos/foundation/blockchain/state"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
)

// ledgerRules maps the errors of the blockchain packages onto statuses.
// Consistency and fatal errors match nothing and surface as 500.
var ledgerRules = []Rule{
	Is(mempool.ErrAlreadyProcessed, http.StatusConflict),
	Is(transaction.ErrAlreadyConfirmed, http.StatusConflict),
	Is(mempool.ErrPoolFull, http.StatusServiceUnavailable),
	Is(mempool.ErrNotFound, http.StatusNotFound),
	Is(accounts.ErrNotFound, http.StatusNotFound),
	Is(block.ErrNotFound, http.StatusNotFound),
	Is(database.ErrNotFound, http.StatusNotFound),
	Is(state.ErrGenesisDelete, http.StatusConflict),
	Is(round.ErrNoSnapshot, http.StatusConflict),
	Is(state.ErrGenerator, http.StatusNotAcceptable),
	Is(block.ErrVersion, http.StatusNotAcceptable),
	Is(block.ErrPreviousBlock, http.StatusNotAcceptable),
	Is(block.ErrHeight, http.StatusNotAcceptable),
	Is(block.ErrReward, http.StatusNotAcceptable),
	Is(block.ErrSignature, http.StatusNotAcceptable),
	Is(block.ErrID, http.StatusNotAcceptable),
	Is(block.ErrPayload, http.StatusNotAcceptable),
	Is(block.ErrDuplicateTx, http.StatusNotAcceptable),
	Is(block.ErrTotals, http.StatusNotAcceptable),
	Is(block.ErrTimestamp, http.StatusNotAcceptable),
	{Match: transaction.IsValidation, Status: http.StatusBadRequest},
}

// Ledger classifies an error returned by the state package.
func Ledger(err error) error {
	return Classify(err, ledgerRules...)
}
