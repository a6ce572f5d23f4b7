package state

import (
	"bytes"
	"context"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/block"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
)

// These functions are called by the worker. Each one holds the write lock
// for the whole operation.

// ProcessBundled verifies the transactions received in bulk and queues the
// ones that pass.
func (s *State) ProcessBundled(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mempool.ProcessBundled(ctx)
}

// ExpirePool drops the transactions that waited in the pool for too long.
func (s *State) ExpirePool(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mempool.Expire(ctx)
}

// FillPool promotes queued transactions into the unconfirmed queue.
func (s *State) FillPool(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promoted, err := s.mempool.FillPool(ctx)
	return len(promoted), err
}

// Forge generates a block when the slot of now belongs to one of the
// forging keypairs of this node and the slot has no block yet.
func (s *State) Forge(ctx context.Context, now time.Time) (block.Block, error) {
	kp, timestamp, err := s.forger(ctx, now)
	if err != nil {
		return block.Block{}, err
	}

	return s.GenerateBlock(ctx, kp, timestamp)
}

// forger returns the keypair owning the current slot and the timestamp the
// slot starts at.
func (s *State) forger(ctx context.Context, now time.Time) (signature.Keypair, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot := s.slots.CurrentSlot(now)
	if slot <= s.slots.SlotNumber(s.latestBlock.Timestamp) {
		return signature.Keypair{}, 0, ErrNotForger
	}

	timestamp := s.slots.SlotTime(slot)

	publicKey, err := s.slotDelegate(ctx, s.latestBlock.Height+1, timestamp)
	if err != nil {
		return signature.Keypair{}, 0, err
	}

	for _, kp := range s.forgers {
		if bytes.Equal(kp.PublicKey, publicKey) {
			return kp, timestamp, nil
		}
	}

	return signature.Keypair{}, 0, ErrNotForger
}
