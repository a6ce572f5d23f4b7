package state

import (
	"context"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/block"
	"github.com/ardanlabs/dpos/foundation/blockchain/genesis"
	"github.com/ardanlabs/dpos/foundation/blockchain/mempool"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = -1

// =============================================================================

// Genesis returns a copy of the genesis information.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// LatestBlock returns a copy the current latest block.
func (s *State) LatestBlock() block.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latestBlock
}

// IsSyncing reports whether a batch of blocks is being applied.
func (s *State) IsSyncing() bool {
	return s.syncing.Load()
}

// QueryAccount returns the account stored for the address.
func (s *State) QueryAccount(ctx context.Context, address string) (accounts.Account, error) {
	return s.accounts.Get(ctx, accounts.Filter{Address: address})
}

// QueryDelegates returns the registered delegates.
func (s *State) QueryDelegates(ctx context.Context) ([]accounts.Account, error) {
	return s.accounts.GetAll(ctx, accounts.Filter{IsDelegate: true})
}

// QueryBlock returns the block at the height, or the latest block for
// QueryLatest.
func (s *State) QueryBlock(ctx context.Context, height int64) (block.Block, error) {
	if height == QueryLatest {
		return s.LatestBlock(), nil
	}
	return s.blocks.ByHeight(ctx, height)
}

// QueryBlocksByNumber returns the headers of the blocks in the inclusive
// height range.
func (s *State) QueryBlocksByNumber(ctx context.Context, from int64, to int64) ([]block.Block, error) {
	if to == QueryLatest {
		to = s.LatestBlock().Height
	}
	return s.blocks.Headers(ctx, from, to)
}

// QueryDelegateList returns the forging order of the round.
func (s *State) QueryDelegateList(ctx context.Context, round int64) ([][]byte, error) {
	return s.engine.GenerateDelegateList(ctx, round)
}

// QueryRound returns the round of the height.
func (s *State) QueryRound(height int64) int64 {
	return s.engine.Calc(height)
}

// QueryPool returns up to limit transactions of a pool queue. A negative
// limit returns them all.
func (s *State) QueryPool(queue string, limit int) []transaction.Tx {
	return s.mempool.List(queue, limit)
}

// QueryPoolTransaction returns a pooled transaction.
func (s *State) QueryPoolTransaction(id string) (transaction.Tx, error) {
	return s.mempool.Get(id)
}

// QueryPoolCounts returns the number of transactions in every pool queue.
func (s *State) QueryPoolCounts() mempool.Counts {
	return s.mempool.Counts()
}
