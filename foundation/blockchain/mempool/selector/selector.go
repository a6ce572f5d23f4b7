// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"

	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
)

// List of different select strategies.
const (
	StrategyArrival = "arrival"
	StrategyFee     = "fee"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyArrival: arrivalSelect,
	StrategyFee:     feeSelect,
}

// Func defines a function that takes pool transactions in the order they
// were received and selects howMany of them in an order based on the
// functions strategy. All selector functions MUST keep the transactions of
// one sender in the order they were received. Receiving -1 for howMany
// must return all the transactions in the strategies ordering.
type Func func(transactions []transaction.Tx, howMany int) []transaction.Tx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// arrivalSelect returns the first transactions received.
var arrivalSelect = func(txs []transaction.Tx, howMany int) []transaction.Tx {
	if howMany < 0 || howMany > len(txs) {
		howMany = len(txs)
	}

	final := make([]transaction.Tx, howMany)
	copy(final, txs)

	return final
}
