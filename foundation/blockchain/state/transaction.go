package state

import (
	"context"

	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SubmitTransaction accepts a transaction from a wallet for inclusion.
func (s *State) SubmitTransaction(ctx context.Context, tx transaction.Tx) (transaction.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.processor.Normalize(&tx); err != nil {
		return transaction.Tx{}, err
	}

	if err := s.mempool.Receive(ctx, tx); err != nil {
		return transaction.Tx{}, err
	}

	if tx.ID == "" {
		id, err := s.processor.GetID(tx)
		if err != nil {
			return transaction.Tx{}, err
		}
		tx.ID = id
	}

	if s.Worker != nil {
		s.Worker.SignalFillPool()
	}

	return tx, nil
}

// SubmitSignature attaches a co-signature to a pooled multisignature
// transaction.
func (s *State) SubmitSignature(ctx context.Context, id string, sig hexutil.Bytes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mempool.AddSignature(ctx, id, sig); err != nil {
		return err
	}

	if s.Worker != nil {
		s.Worker.SignalFillPool()
	}

	return nil
}

// CreateTransaction builds and signs a transaction with the network
// constants of this node without submitting it.
func (s *State) CreateTransaction(args transaction.CreateArgs) (transaction.Tx, error) {
	return s.processor.Create(args)
}
