package mempool_test

import (
	"context"
	"testing"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/database"
	"github.com/ardanlabs/dpos/foundation/blockchain/genesis"
	"github.com/ardanlabs/dpos/foundation/blockchain/mempool"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/slots"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/blockchain/txtypes"
	"github.com/cockroachdb/errors"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const funds = 100_000_000_000

type env struct {
	ctx      context.Context
	db       *database.DB
	accounts *accounts.Store
	proc     *transaction.Processor
	fees     genesis.Fees
	now      time.Time
	syncing  bool
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := database.Open(database.Config{InMemory: true})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the database: %v", failed, err)
	}
	t.Cleanup(func() { db.Close() })

	gen := genesis.Default()
	store := accounts.NewStore(db)

	reg, err := txtypes.NewRegistry(txtypes.Config{
		Accounts:      store,
		Fees:          gen.Fees,
		MaxVotes:      gen.MaxVotes,
		MaxVotesPerTx: gen.MaxVotesPerTx,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to build the registry: %v", failed, err)
	}

	e := env{
		ctx:      context.Background(),
		db:       db,
		accounts: store,
		fees:     gen.Fees,
		now:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	e.proc = transaction.NewProcessor(transaction.Config{
		Registry:    reg,
		Accounts:    store,
		Slots:       slots.New(e.now.Add(-time.Hour), 10),
		TotalAmount: gen.TotalAmount,
		Now:         func() time.Time { return e.now },
	})

	return &e
}

func (e *env) pool(t *testing.T, maxPerQueue int, maxPerBlock int) *mempool.Mempool {
	t.Helper()

	mp, err := mempool.New(mempool.Config{
		Processor:           e.proc,
		Accounts:            e.accounts,
		MaxTxsPerQueue:      maxPerQueue,
		MaxTxsPerBlock:      maxPerBlock,
		MultisignatureLimit: 5,
		Timeout:             10 * time.Second,
		Workers:             4,
		Syncing:             func() bool { return e.syncing },
		Now:                 func() time.Time { return e.now },
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the pool: %v", failed, err)
	}

	return mp
}

func (e *env) fund(t *testing.T, kp signature.Keypair, balance int64) {
	t.Helper()

	_, err := e.accounts.Merge(e.ctx, accounts.AddressFromPublicKey(kp.PublicKey), accounts.Diff{Ops: []accounts.Op{
		accounts.Increment(accounts.FieldBalance, balance),
		accounts.Increment(accounts.FieldUBalance, balance),
	}})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to fund the account: %v", failed, err)
	}
}

func (e *env) send(t *testing.T, kp signature.Keypair, amount int64) transaction.Tx {
	t.Helper()

	tx, err := e.proc.Create(transaction.CreateArgs{
		Type:        transaction.TypeSend,
		Sender:      kp,
		RecipientID: "12345L",
		Amount:      amount,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create a transaction: %v", failed, err)
	}

	return tx
}

func (e *env) uBalance(t *testing.T, kp signature.Keypair) int64 {
	t.Helper()

	acc, err := e.accounts.Get(e.ctx, accounts.Filter{PublicKey: kp.PublicKey})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to read the account: %v", failed, err)
	}

	return acc.UBalance
}

func counts(t *testing.T, testID int, mp *mempool.Mempool, exp mempool.Counts) {
	t.Helper()

	got := mp.Counts()
	if got != exp {
		t.Logf("\t%s\tTest %d:\tgot: %+v", failed, testID, got)
		t.Logf("\t%s\tTest %d:\texp: %+v", failed, testID, exp)
		t.Fatalf("\t%s\tTest %d:\tShould have the right queue counts.", failed, testID)
	}
	t.Logf("\t%s\tTest %d:\tShould have the right queue counts.", success, testID)
}

// =============================================================================

func TestReceive(t *testing.T) {
	t.Log("Given the need to accept transactions into the pool.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a valid transaction.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			e.fund(t, alice, funds)
			mp := e.pool(t, 10, 25)

			tx := e.send(t, alice, 100)
			if err := mp.Receive(e.ctx, tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to receive the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to receive the transaction.", success, testID)

			counts(t, testID, mp, mempool.Counts{Queued: 1})

			if !mp.Has(tx.ID) {
				t.Fatalf("\t%s\tTest %d:\tShould find the transaction by id.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould find the transaction by id.", success, testID)

			if err := mp.Receive(e.ctx, tx); !errors.Is(err, mempool.ErrAlreadyProcessed) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the same transaction twice: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the same transaction twice.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen handling a tampered transaction.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			e.fund(t, alice, funds)
			mp := e.pool(t, 10, 25)

			tx := e.send(t, alice, 100)
			tx.Amount = 1000
			tx.ID = ""

			err := mp.Receive(e.ctx, tx)
			if !errors.Is(err, transaction.ErrSignature) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a bad signature: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a bad signature.", success, testID)

			counts(t, testID, mp, mempool.Counts{})
		}

		testID++
		t.Logf("\tTest %d:\tWhen a queue reaches its ceiling.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			e.fund(t, alice, funds)
			mp := e.pool(t, 2, 25)

			for i := range 2 {
				if err := mp.Receive(e.ctx, e.send(t, alice, int64(i+1))); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to receive the transaction: %v", failed, testID, err)
				}
			}

			err := mp.Receive(e.ctx, e.send(t, alice, 3))
			if !errors.Is(err, mempool.ErrPoolFull) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a transaction over the ceiling: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a transaction over the ceiling.", success, testID)

			counts(t, testID, mp, mempool.Counts{Queued: 2})
		}
	}
}

func TestFillPool(t *testing.T) {
	t.Log("Given the need to promote pool transactions for the next block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen more transactions wait than fit in a block.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			e.fund(t, alice, funds)
			mp := e.pool(t, 10, 2)

			var txs []transaction.Tx
			for i := range 3 {
				tx := e.send(t, alice, int64(100*(i+1)))
				if err := mp.Receive(e.ctx, tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to receive the transaction: %v", failed, testID, err)
				}
				txs = append(txs, tx)
			}

			promoted, err := mp.FillPool(e.ctx)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to fill the pool: %v", failed, testID, err)
			}
			if len(promoted) != 2 || promoted[0].ID != txs[0].ID || promoted[1].ID != txs[1].ID {
				t.Fatalf("\t%s\tTest %d:\tShould promote the first two transactions.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould promote the first two transactions.", success, testID)

			counts(t, testID, mp, mempool.Counts{Queued: 1, Unconfirmed: 2})

			exp := int64(funds - 300 - 2*e.fees.Send)
			if got := e.uBalance(t, alice); got != exp {
				t.Fatalf("\t%s\tTest %d:\tShould debit the unconfirmed balance, got %d exp %d.", failed, testID, got, exp)
			}
			t.Logf("\t%s\tTest %d:\tShould debit the unconfirmed balance.", success, testID)

			promoted, err = mp.FillPool(e.ctx)
			if err != nil || len(promoted) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not promote past a block's worth: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not promote past a block's worth.", success, testID)

			merged := mp.GetMergedTransactionList(-1)
			if len(merged) != 3 || merged[2].ID != txs[2].ID {
				t.Fatalf("\t%s\tTest %d:\tShould list unconfirmed before queued.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould list unconfirmed before queued.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a transaction can not be applied.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			e.fund(t, alice, 1_000_000_000)
			mp := e.pool(t, 10, 25)

			for i := range 2 {
				if err := mp.Receive(e.ctx, e.send(t, alice, int64(600_000_000+i))); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to receive the transaction: %v", failed, testID, err)
				}
			}

			promoted, err := mp.FillPool(e.ctx)
			if err != nil || len(promoted) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould promote only the funded transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould promote only the funded transaction.", success, testID)

			counts(t, testID, mp, mempool.Counts{Unconfirmed: 1})
		}

		testID++
		t.Logf("\tTest %d:\tWhen the node is syncing.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			e.fund(t, alice, funds)
			mp := e.pool(t, 10, 25)

			if err := mp.Receive(e.ctx, e.send(t, alice, 1)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to receive the transaction: %v", failed, testID, err)
			}

			e.syncing = true
			promoted, err := mp.FillPool(e.ctx)
			if err != nil || promoted != nil {
				t.Fatalf("\t%s\tTest %d:\tShould not fill while syncing: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not fill while syncing.", success, testID)

			counts(t, testID, mp, mempool.Counts{Queued: 1})
		}
	}
}

func TestUnconfirmedList(t *testing.T) {
	t.Log("Given the need to set aside unconfirmed effects around a block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen undoing and re-applying the unconfirmed list.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			e.fund(t, alice, funds)
			mp := e.pool(t, 10, 25)

			var txs []transaction.Tx
			for i := range 2 {
				tx := e.send(t, alice, int64(i+1))
				if err := mp.Receive(e.ctx, tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to receive the transaction: %v", failed, testID, err)
				}
				txs = append(txs, tx)
			}
			if _, err := mp.FillPool(e.ctx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to fill the pool: %v", failed, testID, err)
			}
			applied := e.uBalance(t, alice)

			ids, err := mp.UndoUnconfirmedList(e.ctx)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to undo the list: %v", failed, testID, err)
			}
			if len(ids) != 2 || ids[0] != txs[0].ID || ids[1] != txs[1].ID {
				t.Fatalf("\t%s\tTest %d:\tShould return the ids in pool order: %v", failed, testID, ids)
			}
			t.Logf("\t%s\tTest %d:\tShould return the ids in pool order.", success, testID)

			if got := e.uBalance(t, alice); got != funds {
				t.Fatalf("\t%s\tTest %d:\tShould restore the unconfirmed balance, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould restore the unconfirmed balance.", success, testID)

			if err := mp.ApplyUnconfirmedIDs(e.ctx, ids); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to re-apply the list: %v", failed, testID, err)
			}
			if got := e.uBalance(t, alice); got != applied {
				t.Fatalf("\t%s\tTest %d:\tShould debit the unconfirmed balance again, got %d exp %d.", failed, testID, got, applied)
			}
			t.Logf("\t%s\tTest %d:\tShould debit the unconfirmed balance again.", success, testID)

			counts(t, testID, mp, mempool.Counts{Unconfirmed: 2})

			mp.Remove(txs[0].ID)
			mp.ReindexQueues()
			counts(t, testID, mp, mempool.Counts{Unconfirmed: 1})

			if list := mp.List(mempool.QueueUnconfirmed, -1); len(list) != 1 || list[0].ID != txs[1].ID {
				t.Fatalf("\t%s\tTest %d:\tShould keep the remaining transaction after reindex.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the remaining transaction after reindex.", success, testID)
		}
	}
}

func TestRestoreUnconfirmed(t *testing.T) {
	t.Log("Given the need to keep the pool in line with a rolled back ledger scope.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a scope drops an unconfirmed transaction and rolls back.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			e.fund(t, alice, 100+e.fees.Send)
			mp := e.pool(t, 10, 25)

			tx := e.send(t, alice, 100)
			if err := mp.Receive(e.ctx, tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to receive the transaction: %v", failed, testID, err)
			}
			if _, err := mp.FillPool(e.ctx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to fill the pool: %v", failed, testID, err)
			}
			counts(t, testID, mp, mempool.Counts{Unconfirmed: 1})

			snap := mp.SnapshotUnconfirmed()
			address := accounts.AddressFromPublicKey(alice.PublicKey)

			err := e.db.Atomic(e.ctx, "spend and fail", func(ctx context.Context) error {
				ids, err := mp.UndoUnconfirmedList(ctx)
				if err != nil {
					return err
				}

				spend := accounts.Diff{Ops: []accounts.Op{accounts.Decrement(accounts.FieldUBalance, 100+e.fees.Send)}}
				if _, err := e.accounts.Merge(ctx, address, spend); err != nil {
					return err
				}

				if err := mp.ApplyUnconfirmedIDs(ctx, ids); err != nil {
					return err
				}

				return errors.New("block rejected")
			})
			if err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould roll back the scope.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould roll back the scope.", success, testID)

			counts(t, testID, mp, mempool.Counts{})

			if got := e.uBalance(t, alice); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the pending debit after the rollback, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the pending debit after the rollback.", success, testID)

			mp.RestoreUnconfirmed(snap)
			counts(t, testID, mp, mempool.Counts{Unconfirmed: 1})

			got, err := mp.Get(tx.ID)
			if err != nil || got.ID != tx.ID {
				t.Fatalf("\t%s\tTest %d:\tShould find the restored transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould find the restored transaction.", success, testID)

			if err := mp.Receive(e.ctx, tx); !errors.Is(err, mempool.ErrAlreadyProcessed) {
				t.Fatalf("\t%s\tTest %d:\tShould index the restored transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould index the restored transaction.", success, testID)
		}
	}
}

func TestExpire(t *testing.T) {
	t.Log("Given the need to drop transactions waiting too long.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen queued and unconfirmed transactions time out.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			e.fund(t, alice, funds)
			mp := e.pool(t, 10, 1)

			var txs []transaction.Tx
			for i := range 2 {
				tx := e.send(t, alice, int64(i+1))
				if err := mp.Receive(e.ctx, tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to receive the transaction: %v", failed, testID, err)
				}
				txs = append(txs, tx)
			}
			if _, err := mp.FillPool(e.ctx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to fill the pool: %v", failed, testID, err)
			}

			e.now = e.now.Add(5 * time.Second)
			expired, err := mp.Expire(e.ctx)
			if err != nil || len(expired) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould keep transactions within the timeout: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould keep transactions within the timeout.", success, testID)

			e.now = e.now.Add(6 * time.Second)
			expired, err = mp.Expire(e.ctx)
			if err != nil || len(expired) != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould expire both transactions: %v %v", failed, testID, expired, err)
			}
			t.Logf("\t%s\tTest %d:\tShould expire both transactions.", success, testID)

			counts(t, testID, mp, mempool.Counts{})

			for _, tx := range txs {
				if mp.Has(tx.ID) {
					t.Fatalf("\t%s\tTest %d:\tShould not list an expired transaction.", failed, testID)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould not list an expired transaction.", success, testID)

			if got := e.uBalance(t, alice); got != funds {
				t.Fatalf("\t%s\tTest %d:\tShould undo the expired unconfirmed transaction, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould undo the expired unconfirmed transaction.", success, testID)
		}
	}
}

func TestProcessBundled(t *testing.T) {
	t.Log("Given the need to verify bundled transactions in batches.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a valid and a tampered transaction are bundled.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			e.fund(t, alice, funds)
			mp := e.pool(t, 10, 25)

			good := e.send(t, alice, 1)
			good.Bundled = true

			bad := e.send(t, alice, 2)
			bad.Bundled = true
			bad.Signature[0] ^= 0xff

			for _, tx := range []transaction.Tx{good, bad} {
				if err := mp.Receive(e.ctx, tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to receive the bundled transaction: %v", failed, testID, err)
				}
			}
			counts(t, testID, mp, mempool.Counts{Bundled: 2})

			if err := mp.ProcessBundled(e.ctx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to process bundled transactions: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to process bundled transactions.", success, testID)

			counts(t, testID, mp, mempool.Counts{Queued: 1})

			if !mp.Has(good.ID) || mp.Has(bad.ID) {
				t.Fatalf("\t%s\tTest %d:\tShould keep only the valid transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep only the valid transaction.", success, testID)
		}
	}
}

func TestMultisignature(t *testing.T) {
	t.Log("Given the need to collect co-signatures in the pool.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a multisignature registration waits for its group.", testID)
		{
			e := newEnv(t)
			alice := signature.MakeKeypair("alice")
			k1 := signature.MakeKeypair("k1")
			k2 := signature.MakeKeypair("k2")
			e.fund(t, alice, funds)
			mp := e.pool(t, 10, 25)

			tx, err := e.proc.Create(transaction.CreateArgs{
				Type:      transaction.TypeMultisignature,
				Sender:    alice,
				Min:       2,
				Lifetime:  1,
				Keysgroup: []string{"+" + k1.PublicKeyHex(), "+" + k2.PublicKeyHex()},
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create the transaction: %v", failed, testID, err)
			}

			if err := mp.Receive(e.ctx, tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to receive the transaction: %v", failed, testID, err)
			}
			counts(t, testID, mp, mempool.Counts{Multisignature: 1})

			if promoted, err := mp.FillPool(e.ctx); err != nil || len(promoted) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not promote an unready transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not promote an unready transaction.", success, testID)

			stranger, err := e.proc.MultiSign(signature.MakeKeypair("k3"), tx)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to co-sign: %v", failed, testID, err)
			}
			if err := mp.AddSignature(e.ctx, tx.ID, stranger); !errors.Is(err, transaction.ErrMultisignature) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a signature from outside the group: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a signature from outside the group.", success, testID)

			for _, kp := range []signature.Keypair{k1, k2} {
				sig, err := e.proc.MultiSign(kp, tx)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to co-sign: %v", failed, testID, err)
				}
				if err := mp.AddSignature(e.ctx, tx.ID, sig); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould accept a signature from the group: %v", failed, testID, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould accept a signature from the group.", success, testID)

			promoted, err := mp.FillPool(e.ctx)
			if err != nil || len(promoted) != 1 || len(promoted[0].Signatures) != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould promote the ready transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould promote the ready transaction.", success, testID)

			counts(t, testID, mp, mempool.Counts{Unconfirmed: 1})

			e.now = e.now.Add(30 * time.Minute)
			if expired, _ := mp.Expire(e.ctx); len(expired) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the registration for its lifetime.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the registration for its lifetime.", success, testID)
		}
	}
}
