// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/dpos/business/web/errs"
	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/mempool"
	"github.com/ardanlabs/dpos/foundation/blockchain/state"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/events"
	"github.com/ardanlabs/dpos/foundation/nameservice"
	"github.com/ardanlabs/dpos/foundation/validate"
	"github.com/ardanlabs/dpos/foundation/web"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// defaultLimit is the page size of pool listings without a limit.
const defaultLimit = 100

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v := web.GetValues(ctx)

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	// The upgrade wrote the response.
	web.SetStatusCode(ctx, http.StatusSwitchingProtocols)

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Genesis(), http.StatusOK)
}

// SubmitTransaction adds a signed wallet transaction to the pool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var tx transaction.Tx
	if err := web.Decode(r, &tx); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.BadRequest(errors.Wrap(err, "unable to decode payload"))
	}

	h.Log.Infow("submit tx", "traceid", web.GetTraceID(ctx), "type", tx.Type, "recipient", tx.RecipientID, "amount", tx.Amount)

	tx, err := h.State.SubmitTransaction(ctx, tx)
	if err != nil {
		return errs.Ledger(err)
	}

	resp := submitted{
		ID:     tx.ID,
		Status: "transaction added to pool",
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}

// SubmitSignature attaches a co-signature to a pooled multisignature
// transaction.
func (h Handlers) SubmitSignature(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var sig signature
	if err := web.Decode(r, &sig); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.BadRequest(errors.Wrap(err, "unable to decode payload"))
	}

	if err := h.State.SubmitSignature(ctx, sig.ID, sig.Signature); err != nil {
		return errs.Ledger(err)
	}

	resp := submitted{
		ID:     sig.ID,
		Status: "signature added",
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}

// Account returns the ledger record of an address.
func (h Handlers) Account(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")
	if !validate.IsAddress(address) {
		return errs.BadRequest(errors.Newf("invalid address %q", address))
	}

	act, err := h.State.QueryAccount(ctx, address)
	if err != nil {
		return errs.Ledger(err)
	}

	return web.Respond(ctx, w, account{Name: h.NS.Lookup(address), Account: act}, http.StatusOK)
}

// Delegates returns the registered delegates.
func (h Handlers) Delegates(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	dels, err := h.State.QueryDelegates(ctx)
	if err != nil {
		return errs.Ledger(err)
	}

	resp := make([]account, len(dels))
	for i, del := range dels {
		resp[i] = account{Name: h.NS.Lookup(del.Address), Account: del}
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// DelegateList returns the forging order of a round. The round "current"
// is the round of the next block.
func (h Handlers) DelegateList(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var round int64
	switch param := web.Param(r, "round"); param {
	case "current":
		round = h.State.QueryRound(h.State.LatestBlock().Height + 1)
	default:
		n, err := strconv.ParseInt(param, 10, 64)
		if err != nil || n < 1 {
			return errs.BadRequest(errors.Newf("invalid round %q", param))
		}
		round = n
	}

	keys, err := h.State.QueryDelegateList(ctx, round)
	if err != nil {
		return errs.Ledger(err)
	}

	resp := delegateList{
		Round:     round,
		Delegates: make([]string, len(keys)),
	}
	for i, key := range keys {
		resp.Delegates[i] = accounts.PublicKeyHex(key)
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// LatestBlock returns the tip of the chain.
func (h Handlers) LatestBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.LatestBlock(), http.StatusOK)
}

// BlockByHeight returns the block at a height with its transactions.
func (h Handlers) BlockByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height, err := strconv.ParseInt(web.Param(r, "height"), 10, 64)
	if err != nil || height < 1 {
		return errs.BadRequest(errors.Newf("invalid height %q", web.Param(r, "height")))
	}

	blk, err := h.State.QueryBlock(ctx, height)
	if err != nil {
		return errs.Ledger(err)
	}

	return web.Respond(ctx, w, blk, http.StatusOK)
}

// PoolCounts returns the number of transactions in every pool queue.
func (h Handlers) PoolCounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.QueryPoolCounts(), http.StatusOK)
}

// Pool returns a page of a pool queue.
func (h Handlers) Pool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.pool(ctx, w, r, web.Param(r, "queue"))
}

// Unconfirmed returns the transactions offered to the next block.
func (h Handlers) Unconfirmed(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.pool(ctx, w, r, mempool.QueueUnconfirmed)
}

// PoolTransaction returns a pooled transaction.
func (h Handlers) PoolTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tx, err := h.State.QueryPoolTransaction(web.Param(r, "id"))
	if err != nil {
		return errs.Ledger(err)
	}

	return web.Respond(ctx, w, tx, http.StatusOK)
}

func (h Handlers) pool(ctx context.Context, w http.ResponseWriter, r *http.Request, queue string) error {
	switch queue {
	case mempool.QueueBundled, mempool.QueueQueued, mempool.QueueMultisignature, mempool.QueueUnconfirmed:
	default:
		return errs.NewTrusted(errors.Newf("unknown queue %q", queue), http.StatusNotFound)
	}

	limit := defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return errs.BadRequest(errors.Newf("invalid limit %q", s))
		}
		limit = n
	}

	resp := pool{
		Queue:  queue,
		Counts: h.State.QueryPoolCounts(),
		Txs:    h.State.QueryPool(queue, limit),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
