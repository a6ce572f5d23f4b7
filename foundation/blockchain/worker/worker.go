// Package worker implements forging and the periodic pool maintenance for
// the blockchain.
package worker

import (
	"sync"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/state"
)

// Set of intervals the pool maintenance runs on.
const (
	bundleInterval = 5 * time.Second
	expireInterval = 30 * time.Second
	fillInterval   = 2 * time.Second
)

// =============================================================================

// Worker manages the forging and pool workflows for the blockchain.
type Worker struct {
	state     *state.State
	wg        sync.WaitGroup
	shut      chan struct{}
	fillPool  chan bool
	evHandler state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, evHandler state.EventHandler) *Worker {
	w := Worker{
		state:     st,
		shut:      make(chan struct{}),
		fillPool:  make(chan bool, 1),
		evHandler: evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Load the set of operations we need to run.
	operations := []func(){
		w.forgingOperations,
		w.bundleOperations,
		w.expireOperations,
		w.fillPoolOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalFillPool starts a fill pool operation. If there is already a signal
// pending in the channel, just return since an operation will run.
func (w *Worker) SignalFillPool() {
	select {
	case w.fillPool <- true:
	default:
	}
	w.evHandler("worker: SignalFillPool: fill pool signaled")
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

// every runs op on each tick of the interval and, when signal is not nil,
// every time it is signaled, until shutdown.
func (w *Worker) every(name string, interval time.Duration, signal <-chan bool, op func()) {
	w.evHandler("worker: %s: G started", name)
	defer w.evHandler("worker: %s: G completed", name)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				op()
			}
		case <-signal:
			if !w.isShutdown() {
				op()
			}
		case <-w.shut:
			w.evHandler("worker: %s: received shut signal", name)
			return
		}
	}
}
