package selector

import (
	"slices"

	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
)

// feeSelect returns transactions paying the best fee while respecting the
// arrival order for each sender.
var feeSelect = func(txs []transaction.Tx, howMany int) []transaction.Tx {
	if howMany < 0 {
		howMany = len(txs)
	}

	/*
		Bill: {ID: 1, Fee: 10}, {ID: 4, Fee: 50}
		Pavl: {ID: 2, Fee: 60}
		Edua: {ID: 3, Fee: 10}, {ID: 5, Fee: 30}
	*/

	// Group the transactions by sender keeping the order senders were
	// first seen so the result does not depend on map iteration.
	var senders []string
	m := make(map[string][]transaction.Tx)
	for _, tx := range txs {
		key := string(tx.SenderPublicKey)
		if _, exists := m[key]; !exists {
			senders = append(senders, key)
		}
		m[key] = append(m[key], tx)
	}

	// Pick the first transaction in the slice for each sender. Each
	// iteration represents a new row of selections. Keep doing that until
	// all the transactions have been selected.
	var rows [][]transaction.Tx
	for {
		var row []transaction.Tx
		for _, key := range senders {
			if len(m[key]) > 0 {
				row = append(row, m[key][0])
				m[key] = m[key][1:]
			}
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}

	/*
		0: Bill: {ID: 1, Fee: 10}
		0: Pavl: {ID: 2, Fee: 60}
		0: Edua: {ID: 3, Fee: 10}
		1: Bill: {ID: 4, Fee: 50}
		1: Edua: {ID: 5, Fee: 30}
	*/

	// Sort each row by fee unless we will take all transactions from that
	// row anyway. Keep pulling transactions from each row until the amount
	// is fulfilled or there are no more transactions.
	final := []transaction.Tx{}
	for _, row := range rows {
		need := howMany - len(final)
		if len(row) > need {
			slices.SortStableFunc(row, func(a, b transaction.Tx) int {
				switch {
				case a.Fee > b.Fee:
					return -1
				case a.Fee < b.Fee:
					return 1
				}
				return 0
			})
			final = append(final, row[:need]...)
			break
		}
		final = append(final, row...)
	}

	return final
}
