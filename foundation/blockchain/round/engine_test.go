package round_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/block"
	"github.com/ardanlabs/dpos/foundation/blockchain/database"
	"github.com/ardanlabs/dpos/foundation/blockchain/genesis"
	"github.com/ardanlabs/dpos/foundation/blockchain/round"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/slots"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/blockchain/txtypes"
	"github.com/stretchr/testify/require"
)

const delegates = 3

type env struct {
	ctx      context.Context
	db       *database.DB
	accounts *accounts.Store
	blocks   *block.Store
	engine   *round.Engine
	events   []string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := database.Open(database.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gen := genesis.Default()
	store := accounts.NewStore(db)

	reg, err := txtypes.NewRegistry(txtypes.Config{
		Accounts:      store,
		Fees:          gen.Fees,
		MaxVotes:      gen.MaxVotes,
		MaxVotesPerTx: gen.MaxVotesPerTx,
	})
	require.NoError(t, err)

	proc := transaction.NewProcessor(transaction.Config{
		Registry:    reg,
		Accounts:    store,
		Slots:       slots.New(time.Now().Add(-time.Hour), 10),
		TotalAmount: gen.TotalAmount,
	})

	e := env{
		ctx:      context.Background(),
		db:       db,
		accounts: store,
		blocks:   block.NewStore(db, proc),
	}

	e.engine = round.NewEngine(round.Config{
		DB:        db,
		Accounts:  store,
		Blocks:    e.blocks,
		Delegates: delegates,
		EvHandler: func(v string, args ...any) { e.events = append(e.events, v) },
	})

	return &e
}

// delegate registers the keypair as a delegate.
func (e *env) delegate(t *testing.T, kp signature.Keypair) string {
	t.Helper()

	address := accounts.AddressFromPublicKey(kp.PublicKey)
	_, err := e.accounts.Merge(e.ctx, address, accounts.Diff{Ops: []accounts.Op{
		accounts.SetField(accounts.FieldPublicKey, []byte(kp.PublicKey)),
		accounts.SetField(accounts.FieldIsDelegate, true),
	}})
	require.NoError(t, err)

	return address
}

// store saves an empty block at the height.
func (e *env) store(t *testing.T, height int64, generator signature.Keypair, fee int64, reward int64) block.Block {
	t.Helper()

	b := block.Block{
		ID:                 strconv.FormatInt(1000+height, 10),
		Height:             height,
		Timestamp:          height * 10,
		TotalFee:           fee,
		Reward:             reward,
		PayloadHash:        make([]byte, 32),
		GeneratorPublicKey: []byte(generator.PublicKey),
	}
	if height > 1 {
		b.PreviousBlock = strconv.FormatInt(1000+height-1, 10)
	}

	require.NoError(t, e.blocks.Save(e.ctx, b))
	return b
}

func (e *env) get(t *testing.T, address string) accounts.Account {
	t.Helper()

	acc, err := e.accounts.Get(e.ctx, accounts.Filter{Address: address})
	require.NoError(t, err)
	return acc
}

func (e *env) ledgerRows(t *testing.T) int {
	t.Helper()

	var n int
	require.NoError(t, e.db.Get(&n, "SELECT COUNT(*) FROM round_ledger"))
	return n
}

// =============================================================================

func TestTickLandsRound(t *testing.T) {
	e := newEnv(t)

	d1 := signature.MakeKeypair("d1")
	d2 := signature.MakeKeypair("d2")
	d3 := signature.MakeKeypair("d3")
	a1, a2, a3 := e.delegate(t, d1), e.delegate(t, d2), e.delegate(t, d3)

	voter := accounts.AddressFromPublicKey(signature.MakeKeypair("voter").PublicKey)
	_, err := e.accounts.Merge(e.ctx, voter, accounts.Diff{Ops: []accounts.Op{
		accounts.Increment(accounts.FieldBalance, 1000),
	}})
	require.NoError(t, err)

	for h := int64(1); h <= 3; h++ {
		e.store(t, h, d1, 0, 0)
	}

	// Blocks of round 2: the first and last are forged by different
	// delegates so the fee remainder lands on a single one of them.
	b4 := e.store(t, 4, d1, 10, 5)
	_, err = e.accounts.Merge(e.ctx, voter, accounts.Diff{
		Ops:     []accounts.Op{accounts.MembershipAdd(accounts.Delegates, d1.PublicKeyHex())},
		BlockID: b4.ID,
		Round:   2,
	})
	require.NoError(t, err)
	b5 := e.store(t, 5, d1, 0, 5)
	b6 := e.store(t, 6, d2, 0, 5)

	require.NoError(t, e.engine.Tick(e.ctx, b4))
	require.NoError(t, e.engine.Tick(e.ctx, b5))
	require.Equal(t, 1, e.ledgerRows(t))
	require.Equal(t, int64(0), e.get(t, a1).Vote)

	require.NoError(t, e.engine.Tick(e.ctx, b6))

	settled := func() {
		acc1 := e.get(t, a1)
		require.Equal(t, int64(16), acc1.Balance)
		require.Equal(t, int64(16), acc1.UBalance)
		require.Equal(t, int64(6), acc1.Fees)
		require.Equal(t, int64(10), acc1.Rewards)
		require.Equal(t, int64(2), acc1.ProducedBlocks)
		require.Equal(t, int64(1000), acc1.Vote)

		acc2 := e.get(t, a2)
		require.Equal(t, int64(9), acc2.Balance)
		require.Equal(t, int64(4), acc2.Fees)
		require.Equal(t, int64(5), acc2.Rewards)
		require.Equal(t, int64(1), acc2.ProducedBlocks)
		require.Equal(t, b6.ID, acc2.BlockID)

		acc3 := e.get(t, a3)
		require.Equal(t, int64(1), acc3.MissedBlocks)
		require.Equal(t, int64(0), acc3.Balance)

		require.Equal(t, 0, e.ledgerRows(t))
	}
	settled()
	require.Contains(t, e.events, "round: tick: round[%d] finished: blk[%d]")

	require.NoError(t, e.engine.BackwardTick(e.ctx, b6))

	acc1 := e.get(t, a1)
	require.Equal(t, int64(0), acc1.Balance)
	require.Equal(t, int64(0), acc1.Fees)
	require.Equal(t, int64(0), acc1.Rewards)
	require.Equal(t, int64(0), acc1.Vote)
	require.Equal(t, int64(2), acc1.ProducedBlocks)

	acc2 := e.get(t, a2)
	require.Equal(t, int64(0), acc2.Balance)
	require.Equal(t, int64(0), acc2.ProducedBlocks)
	require.Equal(t, b5.ID, acc2.BlockID)

	require.Equal(t, int64(0), e.get(t, a3).MissedBlocks)
	require.Equal(t, 1, e.ledgerRows(t))

	require.NoError(t, e.engine.Tick(e.ctx, b6))
	settled()
}

func TestSnapshotsArePruned(t *testing.T) {
	e := newEnv(t)

	forgers := []signature.Keypair{signature.MakeKeypair("d1"), signature.MakeKeypair("d2"), signature.MakeKeypair("d3")}
	for _, kp := range forgers {
		e.delegate(t, kp)
	}

	var blocks []block.Block
	for h := int64(1); h <= 4*delegates; h++ {
		b := e.store(t, h, forgers[(h-1)%delegates], 0, 0)
		require.NoError(t, e.engine.Tick(e.ctx, b))
		blocks = append(blocks, b)
	}

	snapshotRounds := func() []int64 {
		var rounds []int64
		require.NoError(t, e.db.Select(&rounds, "SELECT DISTINCT round FROM votes_snapshot ORDER BY round"))
		return rounds
	}
	require.Equal(t, []int64{3, 4}, snapshotRounds())

	var stale int
	require.NoError(t, e.db.Get(&stale, "SELECT COUNT(*) FROM round_ledger_snapshot WHERE round < 3"))
	require.Zero(t, stale)

	// The last two settled rounds can still be reverted.
	for i := len(blocks) - 1; i >= 2*delegates; i-- {
		require.NoError(t, e.engine.BackwardTick(e.ctx, blocks[i]))
	}
	require.Empty(t, snapshotRounds())

	err := e.engine.BackwardTick(e.ctx, blocks[2*delegates-1])
	require.ErrorIs(t, err, round.ErrNoSnapshot)
}

func TestGenesisLandsFirstRound(t *testing.T) {
	e := newEnv(t)

	d1 := signature.MakeKeypair("d1")
	a1 := e.delegate(t, d1)
	a2 := e.delegate(t, signature.MakeKeypair("d2"))

	b1 := e.store(t, 1, d1, 0, 0)
	require.NoError(t, e.engine.Tick(e.ctx, b1))

	require.Equal(t, int64(1), e.get(t, a1).ProducedBlocks)
	require.Equal(t, int64(0), e.get(t, a2).MissedBlocks)
}

func TestGenerateDelegateList(t *testing.T) {
	e := newEnv(t)

	votes := map[string]int64{"d1": 400, "d2": 300, "d3": 200, "d4": 100}
	for name, vote := range votes {
		address := e.delegate(t, signature.MakeKeypair(name))
		_, err := e.accounts.Merge(e.ctx, address, accounts.Diff{Ops: []accounts.Op{
			accounts.Increment(accounts.FieldVote, vote),
		}})
		require.NoError(t, err)
	}

	list, err := e.engine.GenerateDelegateList(e.ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, delegates)

	want := []string{
		signature.MakeKeypair("d1").PublicKeyHex(),
		signature.MakeKeypair("d2").PublicKeyHex(),
		signature.MakeKeypair("d3").PublicKeyHex(),
	}
	got := make([]string, len(list))
	for i, pk := range list {
		got[i] = accounts.PublicKeyHex(pk)
	}
	require.ElementsMatch(t, want, got)

	again, err := e.engine.GenerateDelegateList(e.ctx, 7)
	require.NoError(t, err)
	require.Equal(t, list, again)
}
