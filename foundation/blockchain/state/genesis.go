package state

import (
	"bytes"
	"context"
	"slices"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/block"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrGeneratorKey is returned when the genesis secret does not produce the
// generator key named by the genesis file.
var ErrGeneratorKey = errors.New("genesis secret does not match the generator key")

// genesisBlock builds the first block from the genesis file. Every node
// derives the same block: the generator pays out the balances, then the
// genesis delegates register and vote for themselves. Transactions carry a
// zero timestamp and no fee.
func (s *State) genesisBlock() (block.Block, error) {
	generator := signature.MakeKeypair(s.genesis.GeneratorSecret)
	if len(s.genesis.GeneratorKey) > 0 && !bytes.Equal(s.genesis.GeneratorKey, generator.PublicKey) {
		return block.Block{}, ErrGeneratorKey
	}

	addresses := make([]string, 0, len(s.genesis.Balances))
	for address := range s.genesis.Balances {
		addresses = append(addresses, address)
	}
	slices.Sort(addresses)

	var txs []transaction.Tx
	for _, address := range addresses {
		txs = append(txs, transaction.Tx{
			Type:            transaction.TypeSend,
			SenderPublicKey: hexutil.Bytes(generator.PublicKey),
			RecipientID:     address,
			Amount:          s.genesis.Balances[address],
		})
	}

	for _, d := range s.genesis.Delegates {
		txs = append(txs, transaction.Tx{
			Type:            transaction.TypeDelegate,
			SenderPublicKey: d.PublicKey,
			Asset:           transaction.Asset{Delegate: &transaction.DelegateAsset{Username: d.Username}},
		})
	}

	for _, d := range s.genesis.Delegates {
		txs = append(txs, transaction.Tx{
			Type:            transaction.TypeVote,
			SenderPublicKey: d.PublicKey,
			Asset:           transaction.Asset{Vote: &transaction.VoteAsset{Votes: []string{"+" + accounts.PublicKeyHex(d.PublicKey)}}},
		})
	}

	for i := range txs {
		tx := &txs[i]

		sig, err := s.processor.Sign(generator, *tx)
		if err != nil {
			return block.Block{}, err
		}
		tx.Signature = sig

		if tx.ID, err = s.processor.GetID(*tx); err != nil {
			return block.Block{}, err
		}
		tx.SenderID = accounts.AddressFromPublicKey(tx.SenderPublicKey)
	}

	return s.assembler.Create(block.CreateArgs{
		Previous:     block.Block{},
		Transactions: txs,
		Timestamp:    0,
		Keypair:      generator,
	})
}

// applyGenesis applies the genesis block without verification. The
// generator is debited neither in the confirmed nor the unconfirmed ledger.
func (s *State) applyGenesis(ctx context.Context, b block.Block) error {
	ref := b.Ref(s.engine.Calc(b.Height))

	return s.db.Atomic(ctx, "apply genesis", func(ctx context.Context) error {
		for _, tx := range b.Transactions {
			sender, err := s.accounts.SetAccountAndGet(ctx, tx.SenderPublicKey)
			if err != nil {
				return err
			}

			if tx.Amount == 0 {
				if err := s.processor.ApplyUnconfirmed(ctx, tx, sender); err != nil {
					return errors.Wrapf(err, "apply unconfirmed %s", tx.ID)
				}

				if sender, err = s.accounts.Get(ctx, accounts.Filter{Address: sender.Address}); err != nil {
					return err
				}
			}

			if err := s.processor.Apply(ctx, tx, ref, sender); err != nil {
				return errors.Wrapf(err, "apply %s", tx.ID)
			}
		}

		if err := s.blocks.Save(ctx, b); err != nil {
			return err
		}

		return s.engine.Tick(ctx, b)
	})
}
