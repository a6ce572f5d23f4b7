// Package mempool maintains the pool of transactions waiting to be
// included in a block. Transactions move through four queues: bundled
// ones wait for a batched verification, queued and multisignature ones
// are verified and wait for the next fill, and unconfirmed ones have had
// their unconfirmed effects applied to the ledger.
package mempool

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/database"
	"github.com/ardanlabs/dpos/foundation/blockchain/mempool/selector"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// Set of errors raised by the pool.
var (
	ErrPoolFull         = errors.New("transaction pool is full")
	ErrAlreadyProcessed = errors.New("transaction is already processed")
	ErrNotFound         = errors.New("transaction not found in pool")
)

// Names of the queues.
const (
	QueueBundled        = "bundled"
	QueueQueued         = "queued"
	QueueMultisignature = "multisignature"
	QueueUnconfirmed    = "unconfirmed"
)

// multisignatureFactor stretches the timeout of transactions carrying
// co-signatures.
const multisignatureFactor = 8

var queueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "dpos",
	Subsystem: "mempool",
	Name:      "transactions",
	Help:      "Number of transactions in the pool, by queue.",
}, []string{"queue"})

// Processor declares the transaction behavior the pool depends on.
type Processor interface {
	GetID(tx transaction.Tx) (string, error)
	Normalize(tx *transaction.Tx) error
	Process(ctx context.Context, tx *transaction.Tx, sender accounts.Account, requester *accounts.Account) error
	Verify(ctx context.Context, tx transaction.Tx, sender accounts.Account, requester *accounts.Account) error
	Ready(tx transaction.Tx, sender accounts.Account) bool
	ApplyUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error
	UndoUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error
}

// Accounts declares the account lookups the pool depends on.
type Accounts interface {
	SetAccountAndGet(ctx context.Context, publicKey []byte) (accounts.Account, error)
	Get(ctx context.Context, filter accounts.Filter) (accounts.Account, error)
}

// Config represents the configuration of the pool.
type Config struct {
	Processor           Processor
	Accounts            Accounts
	MaxTxsPerQueue      int
	MaxTxsPerBlock      int
	MultisignatureLimit int
	Timeout             time.Duration
	Strategy            string
	Workers             int
	Syncing             func() bool
	Now                 func() time.Time
	EvHandler           func(v string, args ...any)
}

// Counts holds the number of transactions in every queue.
type Counts struct {
	Bundled        int `json:"bundled"`
	Queued         int `json:"queued"`
	Multisignature int `json:"multisignature"`
	Unconfirmed    int `json:"unconfirmed"`
}

// Mempool represents the unconfirmed transaction pool.
type Mempool struct {
	mu sync.RWMutex

	processor      Processor
	accounts       Accounts
	selectFn       selector.Func
	maxTxsPerBlock int
	multiLimit     int
	timeout        time.Duration
	workers        int
	syncing        func() bool
	now            func() time.Time
	evHandler      func(v string, args ...any)

	bundled        *queue
	queued         *queue
	multisignature *queue
	unconfirmed    *queue
}

// New constructs a pool using the configured select strategy.
func New(cfg Config) (*Mempool, error) {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = selector.StrategyArrival
	}

	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	syncing := cfg.Syncing
	if syncing == nil {
		syncing = func() bool { return false }
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	mp := Mempool{
		processor:      cfg.Processor,
		accounts:       cfg.Accounts,
		selectFn:       selectFn,
		maxTxsPerBlock: cfg.MaxTxsPerBlock,
		multiLimit:     cfg.MultisignatureLimit,
		timeout:        cfg.Timeout,
		workers:        workers,
		syncing:        syncing,
		now:            now,
		evHandler:      ev,
		bundled:        newQueue(QueueBundled, cfg.MaxTxsPerQueue),
		queued:         newQueue(QueueQueued, cfg.MaxTxsPerQueue),
		multisignature: newQueue(QueueMultisignature, cfg.MaxTxsPerQueue),
		unconfirmed:    newQueue(QueueUnconfirmed, cfg.MaxTxsPerQueue),
	}

	mp.observe()

	return &mp, nil
}

// Counts returns the current number of transactions in every queue.
func (mp *Mempool) Counts() Counts {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return Counts{
		Bundled:        mp.bundled.count(),
		Queued:         mp.queued.count(),
		Multisignature: mp.multisignature.count(),
		Unconfirmed:    mp.unconfirmed.count(),
	}
}

// Has reports whether any queue holds the transaction.
func (mp *Mempool) Has(id string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, _, ok := mp.find(id)
	return ok
}

// Get returns the transaction from whichever queue holds it.
func (mp *Mempool) Get(id string) (transaction.Tx, error) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, e, ok := mp.find(id)
	if !ok {
		return transaction.Tx{}, ErrNotFound
	}
	return e.tx, nil
}

// List returns up to limit transactions of the named queue in the order
// they were received. A negative limit returns all of them.
func (mp *Mempool) List(name string, limit int) []transaction.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	q := mp.queue(name)
	if q == nil {
		return nil
	}
	return q.values(limit)
}

// GetMergedTransactionList returns up to limit transactions: unconfirmed
// first, then multisignature, then queued. A negative limit returns all
// of them.
func (mp *Mempool) GetMergedTransactionList(limit int) []transaction.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if limit < 0 {
		limit = mp.unconfirmed.count() + mp.multisignature.count() + mp.queued.count()
	}

	var txs []transaction.Tx
	for _, q := range []*queue{mp.unconfirmed, mp.multisignature, mp.queued} {
		n := limit - len(txs)
		if n <= 0 {
			break
		}
		txs = append(txs, q.values(n)...)
	}

	return txs
}

// Remove drops the transaction from every queue. Its unconfirmed effects,
// if any, are left in place.
func (mp *Mempool) Remove(id string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.remove(id)
	mp.observe()
}

// ReindexQueues compacts the queues after removals.
func (mp *Mempool) ReindexQueues() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, q := range mp.queues() {
		q.reindex()
	}
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, q := range mp.queues() {
		q.clear()
	}
	mp.observe()
}

// =============================================================================

// Receive adds a transaction to the pool. A bundled transaction waits for
// the next bundling pass, any other one is verified against its sender
// before it is queued.
func (mp *Mempool) Receive(ctx context.Context, tx transaction.Tx) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	id, err := mp.processor.GetID(tx)
	if err != nil {
		return err
	}
	if tx.ID == "" {
		tx.ID = id
	}

	if _, _, ok := mp.find(tx.ID); ok {
		return errors.Wrapf(ErrAlreadyProcessed, "%s", tx.ID)
	}

	if tx.Bundled {
		if err := mp.bundled.add(tx, mp.now()); err != nil {
			return err
		}
		mp.observe()
		mp.evHandler("mempool: receive: tx[%s]: queue[%s]", tx.ID, QueueBundled)
		return nil
	}

	sender, err := mp.processVerify(ctx, &tx)
	if err != nil {
		return err
	}

	q := mp.classify(tx, sender)
	if err := q.add(tx, mp.now()); err != nil {
		return err
	}

	mp.observe()
	mp.evHandler("mempool: receive: tx[%s]: queue[%s]", tx.ID, q.name)

	return nil
}

// ProcessBundled verifies the bundled transactions and requeues the ones
// that pass. The ones that fail are dropped.
func (mp *Mempool) ProcessBundled(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	txs := mp.bundled.values(-1)
	if len(txs) == 0 {
		return nil
	}

	type result struct {
		sender accounts.Account
		err    error
	}
	results := make([]result, len(txs))

	g, gctx := errgroup.WithContext(ctx)

	// Work done inside an atomic scope shares one database transaction, which
	// can not be used from several goroutines.
	workers := mp.workers
	if database.InScope(ctx) {
		workers = 1
	}
	g.SetLimit(workers)

	for i := range txs {
		g.Go(func() error {
			tx := txs[i]
			tx.Bundled = false

			sender, err := mp.processVerify(gctx, &tx)
			txs[i] = tx
			results[i] = result{sender: sender, err: err}

			if transaction.IsFatal(err) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for i, tx := range txs {
		mp.bundled.remove(tx.ID)

		if err := results[i].err; err != nil {
			mp.evHandler("mempool: bundled: tx[%s]: dropped: %s", tx.ID, err)
			continue
		}

		if _, _, ok := mp.find(tx.ID); ok {
			continue
		}

		q := mp.classify(tx, results[i].sender)
		if err := q.add(tx, mp.now()); err != nil {
			mp.evHandler("mempool: bundled: tx[%s]: dropped: %s", tx.ID, err)
			continue
		}
		mp.evHandler("mempool: bundled: tx[%s]: queue[%s]", tx.ID, q.name)
	}

	mp.bundled.reindex()
	mp.observe()

	return nil
}

// Expire removes the transactions that waited longer than their timeout
// and returns their ids. Expired unconfirmed transactions have their
// unconfirmed effects undone first.
func (mp *Mempool) Expire(ctx context.Context) ([]string, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	now := mp.now()

	var expired []string
	for _, q := range mp.queues() {
		for _, e := range q.entries() {
			if now.Sub(e.received) <= mp.timeoutOf(e.tx) {
				continue
			}

			if q == mp.unconfirmed {
				if err := mp.undoUnconfirmed(ctx, e.tx); err != nil {
					return expired, err
				}
			}

			q.remove(e.tx.ID)
			expired = append(expired, e.tx.ID)
			mp.evHandler("mempool: expire: tx[%s]: queue[%s]", e.tx.ID, q.name)
		}
	}

	mp.observe()

	return expired, nil
}

// FillPool promotes up to a block's worth of transactions into the
// unconfirmed queue: ready multisignature transactions first, then queued
// ones. A transaction that fails at this stage is dropped from the pool.
// Nothing happens while the node is syncing.
func (mp *Mempool) FillPool(ctx context.Context) ([]transaction.Tx, error) {
	if mp.syncing() {
		return nil, nil
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	spare := mp.maxTxsPerBlock - mp.unconfirmed.count()
	if spare <= 0 {
		return nil, nil
	}

	var candidates []transaction.Tx

	multiLimit := min(spare, mp.multiLimit)
	for _, tx := range mp.multisignature.values(-1) {
		if len(candidates) >= multiLimit {
			break
		}

		sender, err := mp.accounts.SetAccountAndGet(ctx, tx.SenderPublicKey)
		if err != nil {
			return nil, err
		}
		if mp.processor.Ready(tx, sender) {
			candidates = append(candidates, tx)
		}
	}

	candidates = append(candidates, mp.selectFn(mp.queued.values(-1), spare-len(candidates))...)

	promoted, err := mp.applyUnconfirmedList(ctx, candidates)
	mp.observe()

	return promoted, err
}

// UndoUnconfirmedList undoes the unconfirmed effects of every unconfirmed
// transaction, newest first, and returns their ids. The transactions stay
// in the unconfirmed queue so ApplyUnconfirmedIDs can restore them. A
// transaction failing to undo is dropped.
func (mp *Mempool) UndoUnconfirmedList(ctx context.Context) ([]string, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	txs := mp.unconfirmed.values(-1)
	slices.Reverse(txs)

	var ids []string
	for _, tx := range txs {
		err := mp.undoUnconfirmed(ctx, tx)
		switch {
		case transaction.IsFatal(err):
			return ids, err
		case err != nil:
			mp.evHandler("mempool: undo: tx[%s]: dropped: %s", tx.ID, err)
			mp.remove(tx.ID)
			continue
		}
		ids = append(ids, tx.ID)
	}

	slices.Reverse(ids)
	mp.observe()

	return ids, nil
}

// ApplyUnconfirmedIDs re-applies the unconfirmed effects of the
// transactions, in the order given, that are still in the unconfirmed
// queue. A transaction that no longer verifies is dropped.
func (mp *Mempool) ApplyUnconfirmedIDs(ctx context.Context, ids []string) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, id := range ids {
		e, ok := mp.unconfirmed.get(id)
		if !ok {
			continue
		}

		tx := e.tx
		sender, err := mp.processVerify(ctx, &tx)
		if err == nil {
			err = mp.processor.ApplyUnconfirmed(ctx, tx, sender)
		}

		switch {
		case transaction.IsFatal(err):
			return err
		case err != nil:
			mp.evHandler("mempool: apply: tx[%s]: dropped: %s", id, err)
			mp.unconfirmed.remove(id)
		}
	}

	mp.observe()

	return nil
}

// Snapshot is a copy of the unconfirmed queue.
type Snapshot struct {
	entries []entry
}

// SnapshotUnconfirmed copies the unconfirmed queue. Take one before a
// ledger scope that changes the queue, so it can be put back when the
// scope rolls back.
func (mp *Mempool) SnapshotUnconfirmed() Snapshot {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	live := mp.unconfirmed.entries()

	snap := Snapshot{entries: make([]entry, len(live))}
	for i, e := range live {
		snap.entries[i] = *e
	}

	return snap
}

// RestoreUnconfirmed replaces the unconfirmed queue with the snapshot.
// Restored transactions are taken out of any other queue they entered.
func (mp *Mempool) RestoreUnconfirmed(snap Snapshot) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.unconfirmed.clear()
	for _, e := range snap.entries {
		mp.remove(e.tx.ID)
		mp.unconfirmed.list = append(mp.unconfirmed.list, &e)
	}
	mp.unconfirmed.reindex()

	mp.evHandler("mempool: restore: unconfirmed[%d]", len(snap.entries))
	mp.observe()
}

// AddSignature attaches a co-signature to a pooled transaction once it
// verifies against the transaction and its sender.
func (mp *Mempool) AddSignature(ctx context.Context, id string, sig []byte) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	q, e, ok := mp.find(id)
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s", id)
	}

	tx := e.tx
	tx.Signatures = append(slices.Clone(tx.Signatures), sig)

	sender, requester, err := mp.parties(ctx, tx)
	if err != nil {
		return err
	}

	if err := mp.processor.Verify(ctx, tx, sender, requester); err != nil {
		return err
	}

	q.update(tx)
	mp.evHandler("mempool: signature: tx[%s]: signatures[%d]", id, len(tx.Signatures))

	return nil
}

// =============================================================================

// processVerify normalizes, processes and verifies the transaction against
// its sender and returns the sender.
func (mp *Mempool) processVerify(ctx context.Context, tx *transaction.Tx) (accounts.Account, error) {
	if err := mp.processor.Normalize(tx); err != nil {
		return accounts.Account{}, err
	}

	sender, requester, err := mp.parties(ctx, *tx)
	if err != nil {
		return accounts.Account{}, err
	}

	if err := mp.processor.Process(ctx, tx, sender, requester); err != nil {
		return accounts.Account{}, err
	}

	if err := mp.processor.Verify(ctx, *tx, sender, requester); err != nil {
		return accounts.Account{}, err
	}

	return sender, nil
}

// parties fetches the sender, creating it when new, and the requester
// when the transaction names one.
func (mp *Mempool) parties(ctx context.Context, tx transaction.Tx) (accounts.Account, *accounts.Account, error) {
	sender, err := mp.accounts.SetAccountAndGet(ctx, tx.SenderPublicKey)
	if err != nil {
		return accounts.Account{}, nil, err
	}

	if len(tx.RequesterPublicKey) == 0 {
		return sender, nil, nil
	}

	requester, err := mp.accounts.Get(ctx, accounts.Filter{PublicKey: tx.RequesterPublicKey})
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		return sender, nil, nil
	case err != nil:
		return accounts.Account{}, nil, err
	}

	return sender, &requester, nil
}

// applyUnconfirmedList moves the transactions into the unconfirmed queue
// after applying their unconfirmed effects.
func (mp *Mempool) applyUnconfirmedList(ctx context.Context, txs []transaction.Tx) ([]transaction.Tx, error) {
	var promoted []transaction.Tx

	for _, tx := range txs {
		mp.remove(tx.ID)

		sender, err := mp.processVerify(ctx, &tx)
		if err == nil {
			err = mp.processor.ApplyUnconfirmed(ctx, tx, sender)
		}

		switch {
		case transaction.IsFatal(err):
			return promoted, err
		case err != nil:
			mp.evHandler("mempool: fill: tx[%s]: dropped: %s", tx.ID, err)
			continue
		}

		if err := mp.unconfirmed.add(tx, mp.now()); err != nil {
			if uerr := mp.undoUnconfirmed(ctx, tx); uerr != nil {
				return promoted, uerr
			}
			mp.evHandler("mempool: fill: tx[%s]: dropped: %s", tx.ID, err)
			continue
		}

		promoted = append(promoted, tx)
	}

	return promoted, nil
}

func (mp *Mempool) undoUnconfirmed(ctx context.Context, tx transaction.Tx) error {
	sender, err := mp.accounts.SetAccountAndGet(ctx, tx.SenderPublicKey)
	if err != nil {
		return err
	}
	return mp.processor.UndoUnconfirmed(ctx, tx, sender)
}

// classify picks the queue a verified transaction waits in.
func (mp *Mempool) classify(tx transaction.Tx, sender accounts.Account) *queue {
	if tx.Type == transaction.TypeMultisignature || len(tx.Signatures) > 0 || sender.IsMultisignature() {
		return mp.multisignature
	}
	return mp.queued
}

// timeoutOf returns how long a transaction may wait in the pool.
func (mp *Mempool) timeoutOf(tx transaction.Tx) time.Duration {
	switch {
	case tx.Type == transaction.TypeMultisignature && tx.Asset.Multisignature != nil:
		return time.Duration(tx.Asset.Multisignature.Lifetime) * time.Hour
	case len(tx.Signatures) > 0:
		return mp.timeout * multisignatureFactor
	}
	return mp.timeout
}

func (mp *Mempool) queues() []*queue {
	return []*queue{mp.bundled, mp.queued, mp.multisignature, mp.unconfirmed}
}

func (mp *Mempool) queue(name string) *queue {
	for _, q := range mp.queues() {
		if q.name == name {
			return q
		}
	}
	return nil
}

func (mp *Mempool) find(id string) (*queue, *entry, bool) {
	for _, q := range mp.queues() {
		if e, ok := q.get(id); ok {
			return q, e, true
		}
	}
	return nil, nil, false
}

func (mp *Mempool) remove(id string) {
	for _, q := range mp.queues() {
		q.remove(id)
	}
}

func (mp *Mempool) observe() {
	for _, q := range mp.queues() {
		queueSize.WithLabelValues(q.name).Set(float64(q.count()))
	}
}
