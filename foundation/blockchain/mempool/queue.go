package mempool

import (
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/cockroachdb/errors"
)

// entry is a transaction waiting in a queue.
type entry struct {
	tx       transaction.Tx
	received time.Time
}

// queue keeps transactions in the order they were added with an index by
// id. Removing leaves a hole in the list until the queue is reindexed.
type queue struct {
	name  string
	limit int
	list  []*entry
	index map[string]int
}

func newQueue(name string, limit int) *queue {
	return &queue{
		name:  name,
		limit: limit,
		index: make(map[string]int),
	}
}

func (q *queue) count() int {
	return len(q.index)
}

func (q *queue) add(tx transaction.Tx, received time.Time) error {
	if _, exists := q.index[tx.ID]; exists {
		return errors.Wrapf(ErrAlreadyProcessed, "%s", tx.ID)
	}

	if q.limit > 0 && len(q.index) >= q.limit {
		return errors.Wrapf(ErrPoolFull, "%s queue holds %d transactions", q.name, len(q.index))
	}

	q.list = append(q.list, &entry{tx: tx, received: received})
	q.index[tx.ID] = len(q.list) - 1

	return nil
}

func (q *queue) get(id string) (*entry, bool) {
	i, ok := q.index[id]
	if !ok {
		return nil, false
	}
	return q.list[i], true
}

// update replaces the transaction kept under its id.
func (q *queue) update(tx transaction.Tx) {
	if i, ok := q.index[tx.ID]; ok {
		q.list[i].tx = tx
	}
}

func (q *queue) remove(id string) bool {
	i, ok := q.index[id]
	if !ok {
		return false
	}

	q.list[i] = nil
	delete(q.index, id)

	return true
}

// entries returns the live entries in order.
func (q *queue) entries() []*entry {
	out := make([]*entry, 0, len(q.index))
	for _, e := range q.list {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// values returns up to limit transactions in order. A negative limit
// returns all of them.
func (q *queue) values(limit int) []transaction.Tx {
	if limit < 0 {
		limit = len(q.index)
	}

	out := make([]transaction.Tx, 0, min(limit, len(q.index)))
	for _, e := range q.list {
		if len(out) == limit {
			break
		}
		if e != nil {
			out = append(out, e.tx)
		}
	}
	return out
}

// reindex drops the holes left by removals.
func (q *queue) reindex() {
	live := q.entries()

	q.list = live
	q.index = make(map[string]int, len(live))
	for i, e := range live {
		q.index[e.tx.ID] = i
	}
}

func (q *queue) clear() {
	q.list = nil
	q.index = make(map[string]int)
}
