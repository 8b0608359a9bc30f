package dispatch

import (
	"github.com/s00inx/goserver/server/protocol"
	"github.com/s00inx/goserver/server/router"
)

// RouterDispatcher adapts a router.HTTPRouter into a Dispatcher, exercising
// the dispatch boundary in tests and in cmd/goserver's demo binary. Routing
// is synchronous and CPU-cheap by construction (trie lookup + a handler
// closure), so DispatchAsync just runs it inline like SyncDispatcher does.
type RouterDispatcher struct {
	Router *router.HTTPRouter
}

func NewRouterDispatcher(r *router.HTTPRouter) RouterDispatcher {
	return RouterDispatcher{Router: r}
}

func (d RouterDispatcher) DispatchSync(req Request) (*protocol.ResponseEnvelope, error) {
	return d.Router.Serve(req.Parsed, req.Body), nil
}

func (d RouterDispatcher) DispatchAsync(req Request, done ResultFunc) {
	env, err := d.DispatchSync(req)
	done(req.Seq, env, err)
}
