package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/block"
	"github.com/ardanlabs/dpos/foundation/blockchain/mempool"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/cockroachdb/errors"
)

// Set of errors raised while processing blocks.
var (
	ErrGenerator     = errors.New("block generated by the wrong delegate")
	ErrGenesisDelete = errors.New("cannot delete the genesis block")
	ErrNotForger     = errors.New("keypair does not forge this slot")
)

// =============================================================================

// ProcessBlock validates the block against the tip of the chain and, if that
// passes, applies it. The whole block is applied or nothing is.
func (s *State) ProcessBlock(ctx context.Context, b block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.processBlock(ctx, b)
}

// ProcessBlocks applies a run of blocks received in bulk. The pool is not
// refilled while the run is applied.
func (s *State) ProcessBlocks(ctx context.Context, blocks []block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncing.Store(true)
	defer s.syncing.Store(false)

	for _, b := range blocks {
		if err := s.processBlock(ctx, b); err != nil {
			return errors.Wrapf(err, "blk[%d]", b.Height)
		}
	}

	return nil
}

// GenerateBlock forges the next block with the ready transactions of the
// unconfirmed queue and applies it.
func (s *State) GenerateBlock(ctx context.Context, kp signature.Keypair, timestamp int64) (block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evHandler("state: GenerateBlock: started: slot[%d]", s.slots.SlotNumber(timestamp))

	var ready []transaction.Tx
	for _, tx := range s.mempool.List(mempool.QueueUnconfirmed, s.genesis.MaxTxsPerBlock) {
		sender, requester, err := s.parties(ctx, tx)
		if err != nil {
			return block.Block{}, err
		}

		if !s.processor.Ready(tx, sender) {
			continue
		}

		if err := s.processor.Verify(ctx, tx, sender, requester); err != nil {
			s.evHandler("state: GenerateBlock: tx[%s]: skipped: %s", tx.ID, err)
			continue
		}

		ready = append(ready, tx)
	}

	b, err := s.assembler.Create(block.CreateArgs{
		Previous:     s.latestBlock,
		Transactions: ready,
		Timestamp:    timestamp,
		Keypair:      kp,
	})
	if err != nil {
		return block.Block{}, err
	}

	if err := s.processBlock(ctx, b); err != nil {
		return block.Block{}, err
	}

	return b, nil
}

// DeleteLastBlock removes the tip of the chain and reverts every effect it
// had. Its transactions go back to the pool.
func (s *State) DeleteLastBlock(ctx context.Context) (block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.latestBlock
	if b.Height <= 1 {
		return block.Block{}, ErrGenesisDelete
	}

	s.evHandler("state: DeleteLastBlock: started: blk[%d]: id[%s]", b.Height, b.ID)

	snap := s.mempool.SnapshotUnconfirmed()

	var previous block.Block
	err := s.db.Atomic(ctx, "delete last block", func(ctx context.Context) error {
		ids, err := s.mempool.UndoUnconfirmedList(ctx)
		if err != nil {
			return err
		}

		ref := b.Ref(s.engine.Calc(b.Height))

		for i := len(b.Transactions) - 1; i >= 0; i-- {
			tx := b.Transactions[i]

			sender, err := s.accounts.SetAccountAndGet(ctx, tx.SenderPublicKey)
			if err != nil {
				return err
			}

			if err := s.processor.Undo(ctx, tx, ref, sender); err != nil {
				return errors.Wrapf(err, "undo %s", tx.ID)
			}

			if sender, err = s.accounts.Get(ctx, accounts.Filter{Address: sender.Address}); err != nil {
				return err
			}

			if err := s.processor.UndoUnconfirmed(ctx, tx, sender); err != nil {
				return errors.Wrapf(err, "undo unconfirmed %s", tx.ID)
			}
		}

		if err := s.engine.BackwardTick(ctx, b); err != nil {
			return err
		}

		if err := s.blocks.Delete(ctx, b.ID); err != nil {
			return err
		}

		if previous, err = s.blocks.ByID(ctx, b.PreviousBlock); err != nil {
			return err
		}

		return s.mempool.ApplyUnconfirmedIDs(ctx, ids)
	})
	if err != nil {
		s.mempool.RestoreUnconfirmed(snap)
		return block.Block{}, err
	}

	s.latestBlock = previous

	for _, tx := range b.Transactions {
		tx.BlockID = ""
		if err := s.mempool.Receive(ctx, tx); err != nil {
			s.evHandler("state: DeleteLastBlock: tx[%s]: not returned to pool: %s", tx.ID, err)
		}
	}

	s.evHandler("state: DeleteLastBlock: completed: tip blk[%d]", previous.Height)

	return b, nil
}

// =============================================================================

// processBlock verifies the block and applies it with its transactions in
// a single atomic scope. The unconfirmed queue is undone first and
// re-applied last, which drops the transactions the block confirmed.
func (s *State) processBlock(ctx context.Context, b block.Block) error {
	s.evHandler("state: processBlock: started: blk[%d]: id[%s]: txs[%d]", b.Height, b.ID, len(b.Transactions))

	if err := s.assembler.Normalize(&b); err != nil {
		return err
	}

	if err := s.assembler.Verify(b, s.latestBlock); err != nil {
		return err
	}

	if err := s.verifyGenerator(ctx, b); err != nil {
		return err
	}

	ref := b.Ref(s.engine.Calc(b.Height))
	snap := s.mempool.SnapshotUnconfirmed()

	err := s.db.Atomic(ctx, "process block", func(ctx context.Context) error {
		ids, err := s.mempool.UndoUnconfirmedList(ctx)
		if err != nil {
			return err
		}

		for i := range b.Transactions {
			if err := s.applyTransaction(ctx, &b.Transactions[i], ref); err != nil {
				return err
			}
		}

		if err := s.blocks.Save(ctx, b); err != nil {
			return err
		}

		if err := s.engine.Tick(ctx, b); err != nil {
			return err
		}

		return s.mempool.ApplyUnconfirmedIDs(ctx, ids)
	})
	if err != nil {
		s.mempool.RestoreUnconfirmed(snap)
		return err
	}

	for _, tx := range b.Transactions {
		s.mempool.Remove(tx.ID)
	}
	s.mempool.ReindexQueues()

	s.latestBlock = b
	s.blockEvent(b)

	return nil
}

// applyTransaction runs one block transaction through verification and
// both the unconfirmed and the confirmed apply.
func (s *State) applyTransaction(ctx context.Context, tx *transaction.Tx, ref transaction.BlockRef) error {
	sender, requester, err := s.parties(ctx, *tx)
	if err != nil {
		return err
	}

	if err := s.processor.Process(ctx, tx, sender, requester); err != nil {
		return errors.Wrapf(err, "process %s", tx.ID)
	}

	if err := s.processor.Verify(ctx, *tx, sender, requester); err != nil {
		return errors.Wrapf(err, "verify %s", tx.ID)
	}

	if err := s.processor.ApplyUnconfirmed(ctx, *tx, sender); err != nil {
		return errors.Wrapf(err, "apply unconfirmed %s", tx.ID)
	}

	if sender, err = s.accounts.Get(ctx, accounts.Filter{Address: sender.Address}); err != nil {
		return err
	}

	if err := s.processor.Apply(ctx, *tx, ref, sender); err != nil {
		return errors.Wrapf(err, "apply %s", tx.ID)
	}

	return nil
}

// verifyGenerator checks the block was forged by the delegate owning its
// slot in the round.
func (s *State) verifyGenerator(ctx context.Context, b block.Block) error {
	publicKey, err := s.slotDelegate(ctx, b.Height, b.Timestamp)
	if err != nil {
		return err
	}

	if !bytes.Equal(publicKey, b.GeneratorPublicKey) {
		return errors.Wrapf(ErrGenerator, "slot %d belongs to %s", s.slots.SlotNumber(b.Timestamp), accounts.PublicKeyHex(publicKey))
	}

	return nil
}

// slotDelegate returns the delegate forging the slot of the timestamp in the
// round of the height.
func (s *State) slotDelegate(ctx context.Context, height int64, timestamp int64) ([]byte, error) {
	list, err := s.engine.GenerateDelegateList(ctx, s.engine.Calc(height))
	if err != nil {
		return nil, err
	}

	if len(list) == 0 {
		return nil, errors.Wrap(ErrGenerator, "no active delegates")
	}

	slot := s.slots.SlotNumber(timestamp)
	return list[slot%int64(len(list))], nil
}

// parties fetches the sender, creating it when new, and the requester when
// the transaction names one.
func (s *State) parties(ctx context.Context, tx transaction.Tx) (accounts.Account, *accounts.Account, error) {
	sender, err := s.accounts.SetAccountAndGet(ctx, tx.SenderPublicKey)
	if err != nil {
		return accounts.Account{}, nil, err
	}

	if len(tx.RequesterPublicKey) == 0 {
		return sender, nil, nil
	}

	requester, err := s.accounts.Get(ctx, accounts.Filter{PublicKey: tx.RequesterPublicKey})
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		return sender, nil, nil
	case err != nil:
		return accounts.Account{}, nil, err
	}

	return sender, &requester, nil
}

// blockEvent provides a specific event about a new block in the chain for
// application specific support.
func (s *State) blockEvent(b block.Block) {
	header := b
	header.Transactions = nil

	blockHeaderJSON, err := json.Marshal(header)
	if err != nil {
		blockHeaderJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	s.evHandler(`state: block: {"height":%d,"id":%q,"header":%s,"txs":%d}`, b.Height, b.ID, string(blockHeaderJSON), len(b.Transactions))
}
