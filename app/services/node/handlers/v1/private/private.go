// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ardanlabs/dpos/business/web/errs"
	"github.com/ardanlabs/dpos/foundation/blockchain/block"
	"github.com/ardanlabs/dpos/foundation/blockchain/mempool"
	"github.com/ardanlabs/dpos/foundation/blockchain/state"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/validate"
	"github.com/ardanlabs/dpos/foundation/web"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// maxBulk is the largest run of blocks accepted by ProcessBlocks.
const maxBulk = 500

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// status is the view of the chain a node reports to its peers.
type status struct {
	LatestBlockID     string         `json:"latest_block_id"`
	LatestBlockHeight int64          `json:"latest_block_height"`
	Round             int64          `json:"round"`
	Syncing           bool           `json:"syncing"`
	Pool              mempool.Counts `json:"pool"`
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latest := h.State.LatestBlock()

	resp := status{
		LatestBlockID:     latest.ID,
		LatestBlockHeight: latest.Height,
		Round:             h.State.QueryRound(latest.Height),
		Syncing:           h.State.IsSyncing(),
		Pool:              h.State.QueryPoolCounts(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlocksByNumber returns the block headers based on the specified to/from
// values. Either value may be "latest".
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := height(web.Param(r, "from"))
	if err != nil {
		return errs.BadRequest(err)
	}
	to, err := height(web.Param(r, "to"))
	if err != nil {
		return errs.BadRequest(err)
	}

	if from == state.QueryLatest {
		from = h.State.LatestBlock().Height
	}
	if to != state.QueryLatest && from > to {
		return errs.BadRequest(errors.New("from greater than to"))
	}

	blocks, err := h.State.QueryBlocksByNumber(ctx, from, to)
	if err != nil {
		return errs.Ledger(err)
	}

	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// ProcessBlock takes the next block from a peer, validates it and if that
// passes, adds the block to the local chain.
func (h Handlers) ProcessBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var b block.Block
	if err := web.Decode(r, &b); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.BadRequest(errors.Wrap(err, "unable to decode payload"))
	}

	h.Log.Infow("process block", "traceid", web.GetTraceID(ctx), "blk", b.ID, "height", b.Height, "txs", len(b.Transactions))

	if err := h.State.ProcessBlock(ctx, b); err != nil {
		return errs.Ledger(err)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "accepted",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// ProcessBlocks applies a run of blocks in height order.
func (h Handlers) ProcessBlocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var blocks []block.Block
	if err := web.Decode(r, &blocks); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.BadRequest(errors.Wrap(err, "unable to decode payload"))
	}

	if len(blocks) > maxBulk {
		return errs.BadRequest(errors.Newf("more than %d blocks", maxBulk))
	}

	if err := h.State.ProcessBlocks(ctx, blocks); err != nil {
		return errs.Ledger(err)
	}

	resp := struct {
		Status string `json:"status"`
		Height int64  `json:"height"`
	}{
		Status: "accepted",
		Height: h.State.LatestBlock().Height,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// DeleteLastBlock reverts the tip of the chain. Its transactions go back
// into the pool.
func (h Handlers) DeleteLastBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	deleted, err := h.State.DeleteLastBlock(ctx)
	if err != nil {
		return errs.Ledger(err)
	}

	h.Log.Infow("delete block", "traceid", web.GetTraceID(ctx), "blk", deleted.ID, "height", deleted.Height)

	return web.Respond(ctx, w, h.State.LatestBlock(), http.StatusOK)
}

// SubmitBundled queues transactions relayed by a peer. They are verified by
// the next bundling pass.
func (h Handlers) SubmitBundled(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var txs []transaction.Tx
	if err := web.Decode(r, &txs); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.BadRequest(errors.Wrap(err, "unable to decode payload"))
	}

	var accepted int
	for _, tx := range txs {
		tx.Bundled = true
		if _, err := h.State.SubmitTransaction(ctx, tx); err != nil {
			if errors.Is(err, mempool.ErrAlreadyProcessed) {
				continue
			}
			return errs.Ledger(err)
		}
		accepted++
	}

	resp := struct {
		Accepted int `json:"accepted"`
	}{
		Accepted: accepted,
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}

// height parses a height parameter.
func height(s string) (int64, error) {
	if s == "latest" || s == "" {
		return state.QueryLatest, nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 1 {
		return 0, errors.Newf("invalid height %q", s)
	}

	return n, nil
}
