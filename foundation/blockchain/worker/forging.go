package worker

import (
	"context"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/state"
	"github.com/cockroachdb/errors"
)

// The forging operation runs on its own goroutine. The node wakes up at the
// start of every slot, asks the round for the delegate owning the slot and
// forges a block when that delegate is one of the keypairs of this node.

// forgingOperations handles forging.
func (w *Worker) forgingOperations() {
	w.evHandler("worker: forgingOperations: G started")
	defer w.evHandler("worker: forgingOperations: G completed")

	interval := time.Duration(w.state.Genesis().BlockTime) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Start this on a slot boundary.
	resetTicker(ticker, interval, w.state.Genesis().Date)

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.runForgingOperation()
			}
		case <-w.shut:
			w.evHandler("worker: forgingOperations: received shut signal")
			return
		}

		// Reset the ticker for the next slot.
		resetTicker(ticker, interval, w.state.Genesis().Date)
	}
}

// runForgingOperation forges the current slot if it belongs to this node.
func (w *Worker) runForgingOperation() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t := time.Now()
	b, err := w.state.Forge(ctx, t)
	duration := time.Since(t)

	switch {
	case errors.Is(err, state.ErrNotForger):
		return
	case err != nil:
		w.evHandler("worker: runForgingOperation: FORGING: ERROR: %s", err)
		return
	}

	w.evHandler("worker: runForgingOperation: FORGING: blk[%d]: txs[%d]: duration[%v]", b.Height, b.NumberOfTransactions, duration)
}

// =============================================================================

// resetTicker makes sure the next tick happens at the start of the next
// slot counted from the epoch.
func resetTicker(ticker *time.Ticker, interval time.Duration, epoch time.Time) {
	elapsed := time.Since(epoch) % interval
	ticker.Reset(interval - elapsed)
}
