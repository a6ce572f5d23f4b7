package worker

import (
	"context"
	"time"
)

// operationTimeout bounds one pool maintenance pass.
const operationTimeout = 10 * time.Second

// bundleOperations verifies the transactions received in bulk.
func (w *Worker) bundleOperations() {
	w.every("bundleOperations", bundleInterval, nil, func() {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		if err := w.state.ProcessBundled(ctx); err != nil {
			w.evHandler("worker: bundleOperations: ERROR: %s", err)
		}
	})
}

// expireOperations drops the transactions that waited too long.
func (w *Worker) expireOperations() {
	w.every("expireOperations", expireInterval, nil, func() {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		ids, err := w.state.ExpirePool(ctx)
		if err != nil {
			w.evHandler("worker: expireOperations: ERROR: %s", err)
			return
		}
		if len(ids) > 0 {
			w.evHandler("worker: expireOperations: expired[%d]", len(ids))
		}
	})
}

// fillPoolOperations promotes queued transactions for the next block.
func (w *Worker) fillPoolOperations() {
	w.every("fillPoolOperations", fillInterval, w.fillPool, func() {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		n, err := w.state.FillPool(ctx)
		if err != nil {
			w.evHandler("worker: fillPoolOperations: ERROR: %s", err)
			return
		}
		if n > 0 {
			w.evHandler("worker: fillPoolOperations: promoted[%d]", n)
		}
	})
}
