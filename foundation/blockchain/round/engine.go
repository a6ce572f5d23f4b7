package round

import (
	"bytes"
	"context"
	"encoding/hex"
	"slices"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/block"
	"github.com/ardanlabs/dpos/foundation/blockchain/database"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var landed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dpos",
	Subsystem: "round",
	Name:      "landed_total",
	Help:      "Number of rounds settled, by direction.",
}, []string{"direction"})

// ErrNoSnapshot is returned when a settled round is reverted after its
// snapshot was pruned.
var ErrNoSnapshot = errors.New("round snapshot not kept")

// keptSnapshots is how many of the latest settled rounds can be reverted.
const keptSnapshots = 2

// Config represents the dependencies of the engine.
type Config struct {
	DB        *database.DB
	Accounts  *accounts.Store
	Blocks    *block.Store
	Delegates int
	EvHandler func(v string, args ...any)
}

// Engine settles rounds as blocks are applied and removed.
type Engine struct {
	db        *database.DB
	accounts  *accounts.Store
	blocks    *block.Store
	delegates int
	evHandler func(v string, args ...any)
}

// NewEngine constructs a round engine.
func NewEngine(cfg Config) *Engine {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	return &Engine{
		db:        cfg.DB,
		accounts:  cfg.Accounts,
		blocks:    cfg.Blocks,
		delegates: cfg.Delegates,
		evHandler: ev,
	}
}

// Delegates returns the number of delegates forging a round.
func (e *Engine) Delegates() int {
	return e.delegates
}

// Calc returns the round of the height.
func (e *Engine) Calc(height int64) int64 {
	return Calc(height, e.delegates)
}

// finishRound reports whether the block at the height settles its round.
// The genesis block settles the first round on its own.
func (e *Engine) finishRound(height int64) bool {
	return e.Calc(height) != e.Calc(height+1) || height == 1
}

// =============================================================================

// Tick records the block for its generator and settles the round when the
// block is the last of it. The block must already be stored.
func (e *Engine) Tick(ctx context.Context, b block.Block) error {
	r := e.Calc(b.Height)

	return e.db.Atomic(ctx, "round tick", func(ctx context.Context) error {
		diff := accounts.Diff{
			Ops: []accounts.Op{
				accounts.Increment(accounts.FieldProducedBlocks, 1),
				accounts.SetField(accounts.FieldBlockID, b.ID),
			},
			BlockID: b.ID,
			Round:   r,
		}

		if _, err := e.accounts.Merge(ctx, accounts.AddressFromPublicKey(b.GeneratorPublicKey), diff); err != nil {
			return errors.Wrapf(err, "tick %d: generator", b.Height)
		}

		if !e.finishRound(b.Height) {
			return nil
		}

		if err := e.snapshot(ctx, r); err != nil {
			return err
		}

		if err := e.land(ctx, r, b, false); err != nil {
			return err
		}

		landed.WithLabelValues("forward").Inc()
		e.evHandler("round: tick: round[%d] finished: blk[%d]", r, b.Height)

		return nil
	})
}

// BackwardTick reverses Tick for a block about to be removed. The block
// must still be stored and its transactions already undone.
func (e *Engine) BackwardTick(ctx context.Context, b block.Block) error {
	r := e.Calc(b.Height)

	return e.db.Atomic(ctx, "round backward tick", func(ctx context.Context) error {
		diff := accounts.Diff{
			Ops: []accounts.Op{
				accounts.Decrement(accounts.FieldProducedBlocks, 1),
				accounts.SetField(accounts.FieldBlockID, b.PreviousBlock),
			},
			BlockID: b.ID,
			Round:   r,
		}

		if _, err := e.accounts.Merge(ctx, accounts.AddressFromPublicKey(b.GeneratorPublicKey), diff); err != nil {
			return errors.Wrapf(err, "backward tick %d: generator", b.Height)
		}

		if !e.finishRound(b.Height) {
			return nil
		}

		if err := e.backwardLand(ctx, r, b); err != nil {
			return err
		}

		landed.WithLabelValues("backward").Inc()
		e.evHandler("round: backward tick: round[%d] reverted: blk[%d]", r, b.Height)

		return nil
	})
}

// =============================================================================

// info is what the blocks of a round add up to.
type info struct {
	generators [][]byte
	rewards    []int64
	fees       int64
}

// roundInfo collects the blocks of the round up to the block settling it.
func (e *Engine) roundInfo(ctx context.Context, r int64, b block.Block) (info, error) {
	headers, err := e.blocks.Headers(ctx, FirstHeight(r, e.delegates), b.Height)
	if err != nil {
		return info{}, err
	}

	var ri info
	for _, h := range headers {
		ri.generators = append(ri.generators, h.GeneratorPublicKey)
		ri.rewards = append(ri.rewards, h.Reward)
		ri.fees += h.TotalFee
	}

	return ri, nil
}

// land runs the settlement steps of the round in either direction.
func (e *Engine) land(ctx context.Context, r int64, b block.Block, backward bool) error {
	ri, err := e.roundInfo(ctx, r, b)
	if err != nil {
		return err
	}

	if err := e.updateVotes(ctx, r); err != nil {
		return err
	}

	if b.Height != 1 {
		if err := e.updateMissedBlocks(ctx, r, ri, backward); err != nil {
			return err
		}
	}

	if err := e.flush(ctx, r); err != nil {
		return err
	}

	if err := e.applyRound(ctx, r, b, ri, backward); err != nil {
		return err
	}

	if err := e.updateVotes(ctx, r); err != nil {
		return err
	}

	return e.flush(ctx, r)
}

// backwardLand reverses the settlement of the round. The ledger rows the
// undone transactions left behind are kept on top of the rows the round
// had before it was settled.
func (e *Engine) backwardLand(ctx context.Context, r int64, b block.Block) error {
	var kept int
	if err := e.db.Ext(ctx).QueryRowxContext(ctx, "SELECT COUNT(*) FROM round_snapshots WHERE round = ?", r).Scan(&kept); err != nil {
		return errors.Wrapf(err, "round %d: find snapshot", r)
	}
	if kept == 0 {
		return errors.Wrapf(ErrNoSnapshot, "round %d", r)
	}

	pending, err := e.ledgerRows(ctx, "round_ledger", r)
	if err != nil {
		return err
	}

	if err := e.land(ctx, r, b, true); err != nil {
		return err
	}

	return e.restore(ctx, r, pending)
}

// =============================================================================

// updateVotes moves the weight recorded in the round ledger onto the
// delegates it was voted to.
func (e *Engine) updateVotes(ctx context.Context, r int64) error {
	const q = `
	SELECT
		delegate, SUM(amount) AS amount
	FROM
		round_ledger
	WHERE
		round = ?
	GROUP BY
		delegate
	ORDER BY
		delegate`

	var rows []struct {
		Delegate string `db:"delegate"`
		Amount   int64  `db:"amount"`
	}
	if err := sqlx.SelectContext(ctx, e.db.Ext(ctx), &rows, q, r); err != nil {
		return errors.Wrapf(err, "round %d: sum votes", r)
	}

	for _, row := range rows {
		if row.Amount == 0 {
			continue
		}

		pk, err := hex.DecodeString(row.Delegate)
		if err != nil {
			return errors.Wrapf(err, "round %d: delegate %q", r, row.Delegate)
		}

		diff := accounts.Diff{Ops: []accounts.Op{accounts.Delta(accounts.FieldVote, row.Amount)}}
		if _, err := e.accounts.Merge(ctx, accounts.AddressFromPublicKey(pk), diff); err != nil {
			return errors.Wrapf(err, "round %d: vote of %s", r, row.Delegate)
		}
	}

	return nil
}

// updateMissedBlocks counts a missed block for every delegate scheduled
// in the round that forged none of its blocks.
func (e *Engine) updateMissedBlocks(ctx context.Context, r int64, ri info, backward bool) error {
	scheduled, err := e.GenerateDelegateList(ctx, r)
	if err != nil {
		return err
	}

	op := accounts.Increment(accounts.FieldMissedBlocks, 1)
	if backward {
		op = op.Inverse()
	}

	for _, pk := range scheduled {
		if slices.ContainsFunc(ri.generators, func(g []byte) bool { return bytes.Equal(g, pk) }) {
			continue
		}

		address := accounts.AddressFromPublicKey(pk)
		if _, err := e.accounts.Merge(ctx, address, accounts.Diff{Ops: []accounts.Op{op}}); err != nil {
			return errors.Wrapf(err, "round %d: outsider %s", r, address)
		}
	}

	return nil
}

// flush clears the round ledger of the round.
func (e *Engine) flush(ctx context.Context, r int64) error {
	if _, err := e.db.Ext(ctx).ExecContext(ctx, "DELETE FROM round_ledger WHERE round = ?", r); err != nil {
		return errors.Wrapf(err, "round %d: flush", r)
	}
	return nil
}

// applyRound shares the fees and rewards of the round among the
// generators of its blocks. Going forward the fee remainder goes to the
// generator of the last block, going backward the generators are walked
// in reverse and the remainder is taken back from the first of them,
// which is the same block.
func (e *Engine) applyRound(ctx context.Context, r int64, b block.Block, ri info, backward bool) error {
	generators := slices.Clone(ri.generators)
	rewards := slices.Clone(ri.rewards)

	remainderAt, blockID := len(generators)-1, b.ID
	if backward {
		slices.Reverse(generators)
		slices.Reverse(rewards)
		remainderAt, blockID = 0, b.PreviousBlock
	}

	changes := NewChanges(ri.fees, rewards)

	for i, pk := range generators {
		c := changes.At(i)

		balance, fees := c.Balance, c.Fees
		if i == remainderAt {
			balance += c.FeesRemaining
			fees += c.FeesRemaining
		}

		ops := []accounts.Op{
			accounts.Increment(accounts.FieldBalance, balance),
			accounts.Increment(accounts.FieldUBalance, balance),
			accounts.Increment(accounts.FieldFees, fees),
			accounts.Increment(accounts.FieldRewards, c.Rewards),
		}
		if backward {
			for j := range ops {
				ops[j] = ops[j].Inverse()
			}
		}
		ops = append(ops, accounts.SetField(accounts.FieldBlockID, blockID))

		address := accounts.AddressFromPublicKey(pk)
		if _, err := e.accounts.Merge(ctx, address, accounts.Diff{Ops: ops, BlockID: b.ID, Round: r}); err != nil {
			return errors.Wrapf(err, "round %d: credit %s", r, address)
		}
	}

	e.evHandler("round: apply: round[%d]: generators[%d]: fees[%d]: backward[%t]", r, len(generators), ri.fees, backward)

	return nil
}

// =============================================================================

// ledgerRow is a row of the round ledger or of its snapshot.
type ledgerRow struct {
	Address  string `db:"address"`
	Amount   int64  `db:"amount"`
	Delegate string `db:"delegate"`
	BlockID  string `db:"block_id"`
	Round    int64  `db:"round"`
}

func (e *Engine) ledgerRows(ctx context.Context, table string, r int64) ([]ledgerRow, error) {
	q := "SELECT address, amount, delegate, block_id, round FROM " + table + " WHERE round = ?"

	var rows []ledgerRow
	if err := sqlx.SelectContext(ctx, e.db.Ext(ctx), &rows, q, r); err != nil {
		return nil, errors.Wrapf(err, "round %d: read %s", r, table)
	}

	return rows, nil
}

// snapshot keeps the round ledger and the delegate votes as they are
// before the round is settled. A snapshot left from an earlier
// settlement of the same round is replaced. Only the snapshots of the
// latest keptSnapshots rounds are kept.
func (e *Engine) snapshot(ctx context.Context, r int64) error {
	stmts := []string{
		"DELETE FROM round_ledger_snapshot WHERE round = ?",
		`INSERT INTO round_ledger_snapshot (address, amount, delegate, block_id, round)
		SELECT address, amount, delegate, block_id, round FROM round_ledger WHERE round = ?`,
		"DELETE FROM votes_snapshot WHERE round = ?",
		`INSERT INTO votes_snapshot (round, address, vote)
		SELECT ?, address, vote FROM accounts WHERE is_delegate = 1 OR vote <> 0`,
		"INSERT OR IGNORE INTO round_snapshots (round) VALUES (?)",
	}

	ext := e.db.Ext(ctx)
	for _, q := range stmts {
		if _, err := ext.ExecContext(ctx, q, r); err != nil {
			return errors.Wrapf(err, "round %d: snapshot", r)
		}
	}

	for _, q := range []string{
		"DELETE FROM round_ledger_snapshot WHERE round <= ?",
		"DELETE FROM votes_snapshot WHERE round <= ?",
		"DELETE FROM round_snapshots WHERE round <= ?",
	} {
		if _, err := ext.ExecContext(ctx, q, r-keptSnapshots); err != nil {
			return errors.Wrapf(err, "round %d: prune snapshots", r)
		}
	}

	return nil
}

// restore puts back the round ledger and votes of the snapshot, adds the
// pending rows on top and drops the snapshot.
func (e *Engine) restore(ctx context.Context, r int64, pending []ledgerRow) error {
	ext := e.db.Ext(ctx)

	stmts := []string{
		"DELETE FROM round_ledger WHERE round = ?",
		`INSERT INTO round_ledger (address, amount, delegate, block_id, round)
		SELECT address, amount, delegate, block_id, round FROM round_ledger_snapshot WHERE round = ?`,
		`UPDATE accounts SET vote = (
			SELECT s.vote FROM votes_snapshot s WHERE s.round = ?1 AND s.address = accounts.address
		) WHERE address IN (SELECT address FROM votes_snapshot WHERE round = ?1)`,
	}

	for _, q := range stmts {
		if _, err := ext.ExecContext(ctx, q, r); err != nil {
			return errors.Wrapf(err, "round %d: restore", r)
		}
	}

	const ins = `
	INSERT INTO round_ledger
		(address, amount, delegate, block_id, round)
	VALUES
		(:address, :amount, :delegate, :block_id, :round)`

	for _, row := range pending {
		if _, err := sqlx.NamedExecContext(ctx, ext, ins, row); err != nil {
			return errors.Wrapf(err, "round %d: restore pending", r)
		}
	}

	for _, q := range []string{
		"DELETE FROM round_ledger_snapshot WHERE round = ?",
		"DELETE FROM votes_snapshot WHERE round = ?",
		"DELETE FROM round_snapshots WHERE round = ?",
	} {
		if _, err := ext.ExecContext(ctx, q, r); err != nil {
			return errors.Wrapf(err, "round %d: drop snapshot", r)
		}
	}

	return nil
}
