package state_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/genesis"
	"github.com/ardanlabs/dpos/foundation/blockchain/mempool"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/state"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/events"
	"github.com/ardanlabs/dpos/foundation/logger"
	"github.com/cockroachdb/errors"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var (
	delegateNames = []string{"genesis_1", "genesis_2", "genesis_3"}
	alice         = signature.MakeKeypair("alice")
	bob           = signature.MakeKeypair("bob")
)

func ifErrFailNow(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Error(err)
		t.FailNow()
	}
}

func newState(t *testing.T, evts *events.Events) (*state.State, time.Time) {
	t.Helper()

	log, err := logger.New("TEST")
	ifErrFailNow(t, err)
	t.Cleanup(func() { log.Sync() })

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	gen := genesis.Default()
	gen.Date = now.Add(-time.Hour)
	gen.ActiveDelegates = len(delegateNames)
	gen.GeneratorSecret = "genesis"
	gen.Balances[accounts.AddressFromPublicKey(alice.PublicKey)] = 10_000_000_000

	var forgers []signature.Keypair
	for _, name := range delegateNames {
		kp := signature.MakeKeypair(name)
		forgers = append(forgers, kp)
		gen.Delegates = append(gen.Delegates, genesis.Delegate{Username: name, PublicKey: []byte(kp.PublicKey)})
		gen.Balances[accounts.AddressFromPublicKey(kp.PublicKey)] = 1_000
	}

	// Only block events reach subscribers.
	ev := logger.EventHandler(log, func(s string) {
		if strings.HasPrefix(s, "state: block:") {
			evts.Send(s)
		}
	})

	st, err := state.New(state.Config{
		Genesis:   gen,
		Forgers:   forgers,
		Now:       func() time.Time { return now },
		EvHandler: ev,
	})
	ifErrFailNow(t, err)
	t.Cleanup(func() { st.Shutdown() })

	return st, now
}

func account(t *testing.T, st *state.State, kp signature.Keypair) accounts.Account {
	t.Helper()

	acc, err := st.QueryAccount(context.Background(), accounts.AddressFromPublicKey(kp.PublicKey))
	if errors.Is(err, accounts.ErrNotFound) {
		return accounts.Account{}
	}
	ifErrFailNow(t, err)

	return acc
}

// =============================================================================

func Test_Genesis(t *testing.T) {
	t.Log("Given the need to start a chain from a genesis file.")
	{
		t.Logf("\tTest 0:\tWhen the chain is empty.")
		{
			st, _ := newState(t, events.New())
			ctx := context.Background()

			latest := st.LatestBlock()
			if latest.Height != 1 || latest.PreviousBlock != "" {
				t.Fatalf("\t%s\tTest 0:\tShould apply the genesis block, got height %d.", failed, latest.Height)
			}
			t.Logf("\t%s\tTest 0:\tShould apply the genesis block.", success)

			acc := account(t, st, alice)
			if acc.Balance != 10_000_000_000 || acc.UBalance != acc.Balance {
				t.Fatalf("\t%s\tTest 0:\tShould fund the genesis balances, got %d/%d.", failed, acc.Balance, acc.UBalance)
			}
			t.Logf("\t%s\tTest 0:\tShould fund the genesis balances.", success)

			delegates, err := st.QueryDelegates(ctx)
			ifErrFailNow(t, err)
			if len(delegates) != len(delegateNames) {
				t.Fatalf("\t%s\tTest 0:\tShould register %d delegates, got %d.", failed, len(delegateNames), len(delegates))
			}
			t.Logf("\t%s\tTest 0:\tShould register the genesis delegates.", success)

			for _, d := range delegates {
				if d.Vote != 1_000 {
					t.Fatalf("\t%s\tTest 0:\tShould count the self vote of %s, got %d.", failed, d.Username, d.Vote)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould count the self votes when the first round lands.", success)

			list, err := st.QueryDelegateList(ctx, 1)
			ifErrFailNow(t, err)
			if len(list) != len(delegateNames) {
				t.Fatalf("\t%s\tTest 0:\tShould list every delegate in the round, got %d.", failed, len(list))
			}
			t.Logf("\t%s\tTest 0:\tShould list every delegate in the round.", success)

			if _, err := st.DeleteLastBlock(ctx); !errors.Is(err, state.ErrGenesisDelete) {
				t.Fatalf("\t%s\tTest 0:\tShould refuse to delete the genesis block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould refuse to delete the genesis block.", success)
		}
	}
}

func Test_ForgeAndDelete(t *testing.T) {
	t.Log("Given the need to forge and revert blocks.")
	{
		evts := events.New()
		blocks := evts.Acquire("test")
		st, now := newState(t, evts)
		ctx := context.Background()
		fee := genesis.Default().Fees.Send
		const amount = 1_000_000_000

		t.Logf("\tTest 0:\tWhen a transaction is submitted and forged.")
		{
			tx, err := st.CreateTransaction(transaction.CreateArgs{
				Type:        transaction.TypeSend,
				Sender:      alice,
				RecipientID: accounts.AddressFromPublicKey(bob.PublicKey),
				Amount:      amount,
			})
			ifErrFailNow(t, err)

			tx, err = st.SubmitTransaction(ctx, tx)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the transaction: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the transaction.", success)

			if _, err := st.SubmitTransaction(ctx, tx); !errors.Is(err, mempool.ErrAlreadyProcessed) {
				t.Fatalf("\t%s\tTest 0:\tShould reject the duplicate: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject the duplicate.", success)

			n, err := st.FillPool(ctx)
			ifErrFailNow(t, err)
			if n != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould promote the transaction, got %d.", failed, n)
			}
			t.Logf("\t%s\tTest 0:\tShould promote the transaction.", success)

			if acc := account(t, st, alice); acc.UBalance != 10_000_000_000-amount-fee || acc.Balance != 10_000_000_000 {
				t.Fatalf("\t%s\tTest 0:\tShould only debit the unconfirmed balance, got %d/%d.", failed, acc.Balance, acc.UBalance)
			}
			t.Logf("\t%s\tTest 0:\tShould only debit the unconfirmed balance.", success)

			b, err := st.Forge(ctx, now)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould forge the slot: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould forge the slot.", success)

			if b.Height != 2 || b.NumberOfTransactions != 1 || b.Transactions[0].ID != tx.ID {
				t.Fatalf("\t%s\tTest 0:\tShould include the transaction, got %d txs.", failed, b.NumberOfTransactions)
			}
			t.Logf("\t%s\tTest 0:\tShould include the transaction.", success)

			if st.LatestBlock().ID != b.ID {
				t.Fatalf("\t%s\tTest 0:\tShould move the tip to the new block.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould move the tip to the new block.", success)

			select {
			case msg := <-blocks:
				if !strings.Contains(msg, `"height":2`) {
					t.Fatalf("\t%s\tTest 0:\tShould publish the block event, got %s.", failed, msg)
				}
			default:
				t.Fatalf("\t%s\tTest 0:\tShould publish the block event.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould publish the block event.", success)

			acc := account(t, st, alice)
			if acc.Balance != 10_000_000_000-amount-fee || acc.UBalance != acc.Balance {
				t.Fatalf("\t%s\tTest 0:\tShould debit the sender, got %d/%d.", failed, acc.Balance, acc.UBalance)
			}
			if acc := account(t, st, bob); acc.Balance != amount || acc.UBalance != amount {
				t.Fatalf("\t%s\tTest 0:\tShould credit the recipient, got %d/%d.", failed, acc.Balance, acc.UBalance)
			}
			t.Logf("\t%s\tTest 0:\tShould move the funds.", success)

			if counts := st.QueryPoolCounts(); counts != (mempool.Counts{}) {
				t.Fatalf("\t%s\tTest 0:\tShould empty the pool, got %+v.", failed, counts)
			}
			t.Logf("\t%s\tTest 0:\tShould empty the pool.", success)

			if _, err := st.Forge(ctx, now); !errors.Is(err, state.ErrNotForger) {
				t.Fatalf("\t%s\tTest 0:\tShould not forge the same slot twice: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould not forge the same slot twice.", success)
		}

		t.Logf("\tTest 1:\tWhen the block is deleted.")
		{
			b, err := st.DeleteLastBlock(ctx)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould delete the block: %s", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould delete the block.", success)

			if st.LatestBlock().Height != 1 || st.LatestBlock().ID != b.PreviousBlock {
				t.Fatalf("\t%s\tTest 1:\tShould move the tip back to genesis.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould move the tip back to genesis.", success)

			if acc := account(t, st, alice); acc.Balance != 10_000_000_000 || acc.UBalance != acc.Balance {
				t.Fatalf("\t%s\tTest 1:\tShould restore the sender, got %d/%d.", failed, acc.Balance, acc.UBalance)
			}
			if acc := account(t, st, bob); acc.Balance != 0 || acc.UBalance != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould restore the recipient, got %d/%d.", failed, acc.Balance, acc.UBalance)
			}
			t.Logf("\t%s\tTest 1:\tShould restore the balances.", success)

			if counts := st.QueryPoolCounts(); counts.Queued != 1 {
				t.Fatalf("\t%s\tTest 1:\tShould return the transaction to the pool, got %+v.", failed, counts)
			}
			t.Logf("\t%s\tTest 1:\tShould return the transaction to the pool.", success)
		}

		t.Logf("\tTest 2:\tWhen the slot is forged again.")
		{
			_, err := st.FillPool(ctx)
			ifErrFailNow(t, err)

			b, err := st.Forge(ctx, now)
			if err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould forge the slot again: %s", failed, err)
			}
			if b.NumberOfTransactions != 1 {
				t.Fatalf("\t%s\tTest 2:\tShould include the returned transaction, got %d.", failed, b.NumberOfTransactions)
			}
			t.Logf("\t%s\tTest 2:\tShould include the returned transaction.", success)

			if acc := account(t, st, bob); acc.Balance != amount {
				t.Fatalf("\t%s\tTest 2:\tShould credit the recipient again, got %d.", failed, acc.Balance)
			}
			t.Logf("\t%s\tTest 2:\tShould credit the recipient again.", success)
		}
	}
}

func Test_RejectBlock(t *testing.T) {
	t.Log("Given the need to reject blocks that break the rules.")
	{
		st, now := newState(t, events.New())
		ctx := context.Background()
		timestamp := st.Genesis().Slots().EpochTime(now)

		t.Logf("\tTest 0:\tWhen a block is forged by an account outside the round.")
		{
			_, err := st.GenerateBlock(ctx, signature.MakeKeypair("stranger"), timestamp)
			if !errors.Is(err, state.ErrGenerator) {
				t.Fatalf("\t%s\tTest 0:\tShould reject the generator: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject the generator.", success)

			if st.LatestBlock().Height != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould keep the tip.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould keep the tip.", success)
		}

		t.Logf("\tTest 1:\tWhen a block carries a transaction the sender cannot pay.")
		{
			tx, err := st.CreateTransaction(transaction.CreateArgs{
				Type:        transaction.TypeSend,
				Sender:      bob,
				RecipientID: accounts.AddressFromPublicKey(alice.PublicKey),
				Amount:      1,
			})
			ifErrFailNow(t, err)

			if _, err := st.SubmitTransaction(ctx, tx); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould queue the transaction: %s", failed, err)
			}

			n, err := st.FillPool(ctx)
			ifErrFailNow(t, err)
			if n != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould not promote the unaffordable transaction, got %d.", failed, n)
			}
			t.Logf("\t%s\tTest 1:\tShould not promote the unaffordable transaction.", success)

			b, err := st.Forge(ctx, now)
			ifErrFailNow(t, err)
			if b.NumberOfTransactions != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould forge an empty block, got %d.", failed, b.NumberOfTransactions)
			}
			t.Logf("\t%s\tTest 1:\tShould forge an empty block.", success)
		}
	}
}
