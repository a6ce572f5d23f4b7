// Package state is the core API for the blockchain and implements all the
// business rules and processing. It wires the ledger, the transaction
// processor, the block assembler, the round engine and the pool together
// and serializes every write to them.
package state

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/block"
	"github.com/ardanlabs/dpos/foundation/blockchain/database"
	"github.com/ardanlabs/dpos/foundation/blockchain/genesis"
	"github.com/ardanlabs/dpos/foundation/blockchain/mempool"
	"github.com/ardanlabs/dpos/foundation/blockchain/round"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/slots"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/blockchain/txtypes"
	"github.com/cockroachdb/errors"
)

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for forging and pool maintenance.
type Worker interface {
	Shutdown()
	SignalFillPool()
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Genesis        genesis.Genesis
	DBPath         string
	Forgers        []signature.Keypair
	SelectStrategy string
	PoolWorkers    int
	Now            func() time.Time
	EvHandler      EventHandler
}

// State manages the blockchain database.
type State struct {
	mu          sync.RWMutex
	syncing     atomic.Bool
	evHandler   EventHandler
	now         func() time.Time
	latestBlock block.Block

	genesis   genesis.Genesis
	slots     slots.Slots
	forgers   []signature.Keypair
	db        *database.DB
	accounts  *accounts.Store
	processor *transaction.Processor
	assembler *block.Assembler
	blocks    *block.Store
	engine    *round.Engine
	mempool   *mempool.Mempool

	Worker Worker
}

// New constructs a new blockchain for data management. When the chain is
// empty the genesis block is built and applied.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	gen := cfg.Genesis

	db, err := database.Open(database.Config{Path: cfg.DBPath, InMemory: cfg.DBPath == ""})
	if err != nil {
		return nil, err
	}

	store := accounts.NewStore(db)

	registry, err := txtypes.NewRegistry(txtypes.Config{
		Accounts:      store,
		Fees:          gen.Fees,
		Exceptions:    gen.Exceptions,
		MaxVotes:      gen.MaxVotes,
		MaxVotesPerTx: gen.MaxVotesPerTx,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	sl := gen.Slots()

	processor := transaction.NewProcessor(transaction.Config{
		Registry:    registry,
		Accounts:    store,
		Slots:       sl,
		TotalAmount: gen.TotalAmount,
		Exceptions:  gen.Exceptions,
		Now:         now,
	})

	assembler := block.NewAssembler(block.Config{
		Processor:        processor,
		Schedule:         gen.Schedule(),
		Slots:            sl,
		MaxPayloadLength: gen.MaxPayloadLength,
		MaxTxsPerBlock:   gen.MaxTxsPerBlock,
		Now:              now,
	})

	blocks := block.NewStore(db, processor)

	engine := round.NewEngine(round.Config{
		DB:        db,
		Accounts:  store,
		Blocks:    blocks,
		Delegates: gen.ActiveDelegates,
		EvHandler: ev,
	})

	s := State{
		evHandler: ev,
		now:       now,
		genesis:   gen,
		slots:     sl,
		forgers:   cfg.Forgers,
		db:        db,
		accounts:  store,
		processor: processor,
		assembler: assembler,
		blocks:    blocks,
		engine:    engine,
	}

	s.mempool, err = mempool.New(mempool.Config{
		Processor:           processor,
		Accounts:            store,
		MaxTxsPerQueue:      gen.Pool.MaxTxsPerQueue,
		MaxTxsPerBlock:      gen.MaxTxsPerBlock,
		MultisignatureLimit: gen.Pool.MultisignatureLimit,
		Timeout:             gen.UnconfirmedTimeout(),
		Strategy:            cfg.SelectStrategy,
		Workers:             cfg.PoolWorkers,
		Syncing:             s.syncing.Load,
		Now:                 now,
		EvHandler:           ev,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := s.load(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &s, nil
}

// load reads the latest block, applying the genesis block to an empty chain.
func (s *State) load(ctx context.Context) error {
	latest, err := s.blocks.Latest(ctx)
	switch {
	case err == nil:
		s.latestBlock = latest
		s.evHandler("state: load: latest blk[%d]: id[%s]", latest.Height, latest.ID)
		return nil

	case !errors.Is(err, block.ErrNotFound):
		return err
	}

	b, err := s.genesisBlock()
	if err != nil {
		return errors.Wrap(err, "build genesis block")
	}

	if err := s.applyGenesis(ctx, b); err != nil {
		return errors.Wrap(err, "apply genesis block")
	}

	s.latestBlock = b
	s.evHandler("state: load: genesis blk[%s] applied: txs[%d]", b.ID, len(b.Transactions))

	return nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {

	// Make sure the database file is properly closed.
	defer func() {
		s.db.Close()
	}()

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return nil
}

// Truncate resets the chain back to the genesis block. This is used to
// correct an identified fork.
func (s *State) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mempool.Truncate()

	if err := s.db.Reset(ctx); err != nil {
		return err
	}
	s.latestBlock = block.Block{}

	return s.load(ctx)
}
