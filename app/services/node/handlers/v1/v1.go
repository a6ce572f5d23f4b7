// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/dpos/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/dpos/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/dpos/foundation/blockchain/state"
	"github.com/ardanlabs/dpos/foundation/events"
	"github.com/ardanlabs/dpos/foundation/nameservice"
	"github.com/ardanlabs/dpos/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/accounts/:address", pbl.Account)
	app.Handle(http.MethodGet, version, "/delegates", pbl.Delegates)
	app.Handle(http.MethodGet, version, "/delegates/round/:round", pbl.DelegateList)
	app.Handle(http.MethodGet, version, "/blocks/latest", pbl.LatestBlock)
	app.Handle(http.MethodGet, version, "/blocks/height/:height", pbl.BlockByHeight)
	app.Handle(http.MethodGet, version, "/tx/pool", pbl.PoolCounts)
	app.Handle(http.MethodGet, version, "/tx/pool/:queue", pbl.Pool)
	app.Handle(http.MethodGet, version, "/tx/unconfirmed/list", pbl.Unconfirmed)
	app.Handle(http.MethodGet, version, "/tx/id/:id", pbl.PoolTransaction)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTransaction)
	app.Handle(http.MethodPost, version, "/tx/signature", pbl.SubmitSignature)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/block/list/:from/:to", prv.BlocksByNumber)
	app.Handle(http.MethodPost, version, "/node/block/next", prv.ProcessBlock)
	app.Handle(http.MethodPost, version, "/node/block/bulk", prv.ProcessBlocks)
	app.Handle(http.MethodDelete, version, "/node/block/last", prv.DeleteLastBlock)
	app.Handle(http.MethodPost, version, "/node/tx/bundle", prv.SubmitBundled)
}
