package selector_test

import (
	"testing"

	"github.com/ardanlabs/dpos/foundation/blockchain/mempool/selector"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func tran(id string, sender string, fee int64) transaction.Tx {
	return transaction.Tx{
		ID:              id,
		SenderPublicKey: hexutil.Bytes(signature.MakeKeypair(sender).PublicKey),
		Fee:             fee,
	}
}

func ids(txs []transaction.Tx) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func TestSelect(t *testing.T) {
	type test struct {
		name     string
		strategy string
		howMany  int
		best     []string
	}

	txs := []transaction.Tx{
		tran("1", "bill", 10),
		tran("2", "pavel", 60),
		tran("3", "ed", 10),
		tran("4", "bill", 50),
		tran("5", "ed", 30),
	}

	tt := []test{
		{name: "arrival all", strategy: selector.StrategyArrival, howMany: -1, best: []string{"1", "2", "3", "4", "5"}},
		{name: "arrival some", strategy: selector.StrategyArrival, howMany: 2, best: []string{"1", "2"}},
		{name: "fee first row", strategy: selector.StrategyFee, howMany: 2, best: []string{"2", "1"}},
		{name: "fee second row", strategy: selector.StrategyFee, howMany: 4, best: []string{"1", "2", "3", "4"}},
		{name: "fee all", strategy: selector.StrategyFee, howMany: -1, best: []string{"1", "2", "3", "4", "5"}},
	}

	t.Log("Given the need to select pool transactions for a block.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling %s.", testID, tst.name)
			{
				f := func(t *testing.T) {
					fn, err := selector.Retrieve(tst.strategy)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to retrieve strategy: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould be able to retrieve strategy.", success, testID)

					in := make([]transaction.Tx, len(txs))
					copy(in, txs)

					got := ids(fn(in, tst.howMany))
					if len(got) != len(tst.best) {
						t.Fatalf("\t%s\tTest %d:\tShould get %d transactions, got %v.", failed, testID, len(tst.best), got)
					}
					for i := range got {
						if got[i] != tst.best[i] {
							t.Logf("\t%s\tTest %d:\tgot: %v", failed, testID, got)
							t.Logf("\t%s\tTest %d:\texp: %v", failed, testID, tst.best)
							t.Fatalf("\t%s\tTest %d:\tShould get back the right order.", failed, testID)
						}
					}
					t.Logf("\t%s\tTest %d:\tShould get back the right order.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func TestRetrieveUnknown(t *testing.T) {
	if _, err := selector.Retrieve("tip"); err == nil {
		t.Fatalf("\t%s\tShould not retrieve an unknown strategy.", failed)
	}
	t.Logf("\t%s\tShould not retrieve an unknown strategy.", success)
}
