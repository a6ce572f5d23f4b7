package transaction_test

import (
	"context"
	"testing"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/database"
	"github.com/ardanlabs/dpos/foundation/blockchain/genesis"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/slots"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/blockchain/txtypes"
	"github.com/stretchr/testify/require"
)

const sendFee = 10_000

type env struct {
	ctx      context.Context
	accounts *accounts.Store
	proc     *transaction.Processor
	now      time.Time
	slots    slots.Slots
}

func newEnv(t *testing.T) env {
	t.Helper()

	db, err := database.Open(database.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gen := genesis.Default()
	gen.Fees.Send = sendFee

	store := accounts.NewStore(db)

	reg, err := txtypes.NewRegistry(txtypes.Config{
		Accounts:      store,
		Fees:          gen.Fees,
		MaxVotes:      gen.MaxVotes,
		MaxVotesPerTx: gen.MaxVotesPerTx,
	})
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sl := slots.New(now.Add(-time.Hour), 10)

	proc := transaction.NewProcessor(transaction.Config{
		Registry:    reg,
		Accounts:    store,
		Slots:       sl,
		TotalAmount: gen.TotalAmount,
		Now:         func() time.Time { return now },
	})

	return env{
		ctx:      context.Background(),
		accounts: store,
		proc:     proc,
		now:      now,
		slots:    sl,
	}
}

// fund creates the account of the keypair with the balance.
func (e env) fund(t *testing.T, kp signature.Keypair, balance int64) accounts.Account {
	t.Helper()

	acc, err := e.accounts.SetAccountAndGet(e.ctx, kp.PublicKey)
	require.NoError(t, err)

	acc, err = e.accounts.Merge(e.ctx, acc.Address, accounts.Diff{Ops: []accounts.Op{
		accounts.Increment(accounts.FieldBalance, balance),
		accounts.Increment(accounts.FieldUBalance, balance),
	}})
	require.NoError(t, err)

	return acc
}

func (e env) get(t *testing.T, address string) accounts.Account {
	t.Helper()

	acc, err := e.accounts.Get(e.ctx, accounts.Filter{Address: address})
	require.NoError(t, err)
	return acc
}

func (e env) send(t *testing.T, from signature.Keypair, to string, amount int64) transaction.Tx {
	t.Helper()

	tx, err := e.proc.Create(transaction.CreateArgs{
		Type:        transaction.TypeSend,
		Sender:      from,
		RecipientID: to,
		Amount:      amount,
	})
	require.NoError(t, err)
	return tx
}

// =============================================================================

func TestBytes(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")

	tx := e.send(t, alice, "12345L", 100)

	data, err := e.proc.GetBytes(tx, false, false)
	require.NoError(t, err)
	require.Len(t, data, 117)

	data, err = e.proc.GetBytes(tx, true, true)
	require.NoError(t, err)
	require.Len(t, data, 53)

	feeless := tx
	feeless.Fee = 0
	other, err := e.proc.GetBytes(feeless, true, true)
	require.NoError(t, err)
	require.Equal(t, data, other, "fee must not be encoded")
}

func TestID(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")

	tx := e.send(t, alice, "12345L", 100)

	data, err := e.proc.GetBytes(tx, true, true)
	require.NoError(t, err)
	require.Equal(t, signature.IDFromHash(signature.Hash(data)), tx.ID)

	id, err := e.proc.GetID(tx)
	require.NoError(t, err)
	require.Equal(t, tx.ID, id)

	tx.Amount++
	id, err = e.proc.GetID(tx)
	require.NoError(t, err)
	require.NotEqual(t, tx.ID, id)
}

func TestApplyUndoSend(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")
	bob := accounts.AddressFromPublicKey(signature.MakeKeypair("bob").PublicKey)

	sender := e.fund(t, alice, 1_000_000)
	tx := e.send(t, alice, bob, 400_000)
	require.Equal(t, int64(sendFee), tx.Fee)

	require.NoError(t, e.proc.Normalize(&tx))
	require.NoError(t, e.proc.Process(e.ctx, &tx, sender, nil))
	require.Equal(t, sender.Address, tx.SenderID)
	require.NoError(t, e.proc.Verify(e.ctx, tx, sender, nil))

	blk := transaction.BlockRef{ID: "42", Height: 2, Round: 1}
	require.NoError(t, e.proc.Apply(e.ctx, tx, blk, sender))

	require.Equal(t, int64(590_000), e.get(t, sender.Address).Balance)
	require.Equal(t, int64(400_000), e.get(t, bob).Balance)
	require.Equal(t, int64(400_000), e.get(t, bob).UBalance)

	require.NoError(t, e.proc.Undo(e.ctx, tx, blk, e.get(t, sender.Address)))

	require.Equal(t, int64(1_000_000), e.get(t, sender.Address).Balance)
	require.Equal(t, int64(0), e.get(t, bob).Balance)
}

func TestApplyUnconfirmed(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")

	sender := e.fund(t, alice, 1_000_000)
	tx := e.send(t, alice, "12345L", 400_000)

	require.NoError(t, e.proc.ApplyUnconfirmed(e.ctx, tx, sender))
	acc := e.get(t, sender.Address)
	require.Equal(t, int64(590_000), acc.UBalance)
	require.Equal(t, int64(1_000_000), acc.Balance)

	require.NoError(t, e.proc.UndoUnconfirmed(e.ctx, tx, acc))
	require.Equal(t, int64(1_000_000), e.get(t, sender.Address).UBalance)

	poor := e.fund(t, signature.MakeKeypair("poor"), 10)
	tx = e.send(t, signature.MakeKeypair("poor"), "12345L", 400_000)
	err := e.proc.ApplyUnconfirmed(e.ctx, tx, poor)
	require.ErrorIs(t, err, transaction.ErrInsufficientFunds)
	require.Equal(t, int64(10), e.get(t, poor.Address).UBalance)
}

func TestGenesisIsNotDebited(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")

	sender, err := e.accounts.SetAccountAndGet(e.ctx, alice.PublicKey)
	require.NoError(t, err)

	tx := e.send(t, alice, "12345L", 500)
	require.NoError(t, e.proc.Apply(e.ctx, tx, transaction.BlockRef{ID: "1", Height: 1, Round: 1}, sender))

	require.Equal(t, int64(0), e.get(t, sender.Address).Balance)
	require.Equal(t, int64(500), e.get(t, "12345L").Balance)
}

func TestApplyInsufficientFunds(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")

	sender := e.fund(t, alice, 1_000)
	tx := e.send(t, alice, "12345L", 400_000)

	err := e.proc.Apply(e.ctx, tx, transaction.BlockRef{ID: "42", Height: 2, Round: 1}, sender)
	require.ErrorIs(t, err, transaction.ErrInsufficientFunds)
	require.True(t, transaction.IsValidation(err))

	require.Equal(t, int64(1_000), e.get(t, sender.Address).Balance)

	_, err = e.accounts.Get(e.ctx, accounts.Filter{Address: "12345L"})
	require.ErrorIs(t, err, accounts.ErrNotFound)
}

func TestVerifyRejects(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")
	sender := e.fund(t, alice, 1_000_000)

	t.Run("fee", func(t *testing.T) {
		tx := e.send(t, alice, "12345L", 100)
		tx.Fee++
		err := e.proc.Verify(e.ctx, tx, sender, nil)
		require.ErrorIs(t, err, transaction.ErrFeeMismatch)
		require.True(t, transaction.IsValidation(err))
	})

	t.Run("amount", func(t *testing.T) {
		tx := e.send(t, alice, "12345L", genesis.Default().TotalAmount+1)
		require.ErrorIs(t, e.proc.Verify(e.ctx, tx, sender, nil), transaction.ErrInvalidAmount)
	})

	t.Run("future", func(t *testing.T) {
		tx, err := e.proc.Create(transaction.CreateArgs{
			Type:        transaction.TypeSend,
			Sender:      alice,
			RecipientID: "12345L",
			Amount:      100,
			Timestamp:   e.slots.EpochTime(e.now) + 3600,
		})
		require.NoError(t, err)
		require.ErrorIs(t, e.proc.Verify(e.ctx, tx, sender, nil), transaction.ErrStaleTimestamp)
	})

	t.Run("signature", func(t *testing.T) {
		tx := e.send(t, alice, "12345L", 100)
		tx.Amount = 200
		require.ErrorIs(t, e.proc.Verify(e.ctx, tx, sender, nil), transaction.ErrSignature)
	})

	t.Run("sender", func(t *testing.T) {
		tx := e.send(t, signature.MakeKeypair("mallory"), "12345L", 100)
		require.ErrorIs(t, e.proc.Verify(e.ctx, tx, sender, nil), transaction.ErrInvalidSender)
	})

	t.Run("duplicate co-signature", func(t *testing.T) {
		tx := e.send(t, alice, "12345L", 100)
		sig, err := e.proc.MultiSign(signature.MakeKeypair("carol"), tx)
		require.NoError(t, err)

		tx.Signatures = append(tx.Signatures, sig, sig)
		require.ErrorIs(t, e.proc.Verify(e.ctx, tx, sender, nil), transaction.ErrDuplicateSignature)
	})

	t.Run("foreign co-signature", func(t *testing.T) {
		tx := e.send(t, alice, "12345L", 100)
		sig, err := e.proc.MultiSign(signature.MakeKeypair("carol"), tx)
		require.NoError(t, err)

		tx.Signatures = append(tx.Signatures, sig)
		require.ErrorIs(t, e.proc.Verify(e.ctx, tx, sender, nil), transaction.ErrMultisignature)
	})

	t.Run("no recipient", func(t *testing.T) {
		tx := e.send(t, alice, "", 100)
		require.ErrorIs(t, e.proc.Verify(e.ctx, tx, sender, nil), transaction.ErrInvalidRecipient)
	})
}

func TestDuplicateVote(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")
	sender := e.fund(t, alice, 1_000_000_000)

	key := accounts.PublicKeyHex(signature.MakeKeypair("delegate").PublicKey)

	tx, err := e.proc.Create(transaction.CreateArgs{
		Type:   transaction.TypeVote,
		Sender: alice,
		Votes:  []string{"+" + key, "-" + key},
	})
	require.NoError(t, err)

	err = e.proc.Verify(e.ctx, tx, sender, nil)
	require.ErrorIs(t, err, txtypes.ErrDuplicateVote)
	require.True(t, transaction.IsValidation(err))

	acc := e.get(t, sender.Address)
	require.Equal(t, int64(1_000_000_000), acc.Balance)
	require.Equal(t, int64(1_000_000_000), acc.UBalance)
	require.Empty(t, acc.Delegates)
}

func TestMultisignatureNotReady(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")
	k1 := signature.MakeKeypair("k1")
	k2 := signature.MakeKeypair("k2")

	e.fund(t, alice, 1_000_000)
	sender, err := e.accounts.Merge(e.ctx, accounts.AddressFromPublicKey(alice.PublicKey), accounts.Diff{Ops: []accounts.Op{
		accounts.Increment(accounts.FieldMultimin, 2),
		accounts.Increment(accounts.FieldMultilifetime, 24),
		accounts.MembershipAdd(accounts.Multisignatures, accounts.PublicKeyHex(k1.PublicKey)),
		accounts.MembershipAdd(accounts.Multisignatures, accounts.PublicKeyHex(k2.PublicKey)),
	}})
	require.NoError(t, err)

	tx := e.send(t, alice, "12345L", 100)
	sig, err := e.proc.MultiSign(k1, tx)
	require.NoError(t, err)
	tx.Signatures = append(tx.Signatures, sig)

	require.False(t, e.proc.Ready(tx, sender))
	require.NoError(t, e.proc.Verify(e.ctx, tx, sender, nil))

	err = e.proc.Apply(e.ctx, tx, transaction.BlockRef{ID: "42", Height: 2, Round: 1}, sender)
	require.ErrorIs(t, err, transaction.ErrNotReady)
	require.Equal(t, int64(1_000_000), e.get(t, sender.Address).Balance)

	sig, err = e.proc.MultiSign(k2, tx)
	require.NoError(t, err)
	tx.Signatures = append(tx.Signatures, sig)
	require.True(t, e.proc.Ready(tx, sender))
}

func TestSecondSignatureRequired(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")
	second := signature.MakeKeypair("alice second")

	e.fund(t, alice, 1_000_000)
	sender, err := e.accounts.Merge(e.ctx, accounts.AddressFromPublicKey(alice.PublicKey), accounts.Diff{Ops: []accounts.Op{
		accounts.SetField(accounts.FieldSecondSignature, 1),
		accounts.SetField(accounts.FieldSecondPublicKey, []byte(second.PublicKey)),
	}})
	require.NoError(t, err)
	require.True(t, sender.SecondSignature)

	tx := e.send(t, alice, "12345L", 100)
	require.ErrorIs(t, e.proc.Verify(e.ctx, tx, sender, nil), transaction.ErrSecondSignature)
	require.ErrorIs(t, e.proc.ApplyUnconfirmed(e.ctx, tx, sender), transaction.ErrSecondSignature)

	tx, err = e.proc.Create(transaction.CreateArgs{
		Type:        transaction.TypeSend,
		Sender:      alice,
		Second:      &second,
		RecipientID: "12345L",
		Amount:      100,
	})
	require.NoError(t, err)
	require.NoError(t, e.proc.Verify(e.ctx, tx, sender, nil))
}

func TestHandlerFailureCompensates(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")
	bob := accounts.AddressFromPublicKey(signature.MakeKeypair("bob").PublicKey)

	sender := e.fund(t, alice, 1_000_000)
	tx := e.send(t, alice, bob, 400_000)

	// Undoing a send that was never applied fails when debiting the
	// recipient, after the sender was credited.
	err := e.proc.Undo(e.ctx, tx, transaction.BlockRef{ID: "42", Height: 2, Round: 1}, sender)
	require.Error(t, err)
	require.True(t, transaction.IsConsistency(err))
	require.ErrorIs(t, err, accounts.ErrInvalidDelta)

	require.Equal(t, int64(1_000_000), e.get(t, sender.Address).Balance)
}

func TestProcessIDMismatch(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")
	sender := e.fund(t, alice, 1_000_000)

	tx := e.send(t, alice, "12345L", 100)
	tx.ID = "123"

	require.ErrorIs(t, e.proc.Process(e.ctx, &tx, sender, nil), transaction.ErrIDMismatch)

	_, err := e.proc.Create(transaction.CreateArgs{Type: transaction.Type(12), Sender: alice})
	require.ErrorIs(t, err, transaction.ErrUnknownType)
}

func TestProcessSignature(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")
	sender := e.fund(t, alice, 1_000_000)

	tx := e.send(t, alice, "12345L", 100)
	tx.Amount = 200
	tx.ID = ""

	require.ErrorIs(t, e.proc.Process(e.ctx, &tx, sender, nil), transaction.ErrSignature)
	require.True(t, transaction.IsValidation(e.proc.Process(e.ctx, &tx, sender, nil)))
}

func TestRegister(t *testing.T) {
	reg := transaction.NewRegistry()

	require.Error(t, reg.Register(transaction.TypeSend, nil))
	require.Error(t, reg.Register(transaction.TypeSend, (*txtypes.Send)(nil)))
	require.Error(t, reg.Register(transaction.Type(transaction.MaxTypes), &txtypes.Send{}))

	require.NoError(t, reg.Register(transaction.TypeSend, &txtypes.Send{}))
	require.Error(t, reg.Register(transaction.TypeSend, &txtypes.Send{}))

	_, err := reg.Handler(transaction.TypeSend)
	require.NoError(t, err)

	_, err = reg.Handler(transaction.TypeVote)
	require.ErrorIs(t, err, transaction.ErrUnknownType)
}

func TestNormalize(t *testing.T) {
	e := newEnv(t)
	alice := signature.MakeKeypair("alice")

	tx := e.send(t, alice, "12345L", 100)
	require.NoError(t, e.proc.Normalize(&tx))

	tx.Asset.Delegate = &transaction.DelegateAsset{Username: "alice"}
	require.Error(t, e.proc.Normalize(&tx))

	tx = e.send(t, alice, "12345L", 100)
	tx.RecipientID = "not-an-address"
	require.Error(t, e.proc.Normalize(&tx))
}
