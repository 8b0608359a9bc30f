// HTTPRouter is the example dispatcher backing used by server/dispatch's
// demo Dispatcher and by cmd/goserver — adapted from the teacher's
// server/router/router.go trie-of-Node wrapper, now built on protocol
// types instead of engine.RawRequest.
package router

import "github.com/s00inx/goserver/server/protocol"

type HTTPRouter struct {
	root node
}

func NewHTTPRouter() *HTTPRouter {
	return &HTTPRouter{root: newRoot()}
}

func (r *HTTPRouter) Route(path string, h Handler) {
	r.root.insert(path, h)
}

// Serve matches req's path and runs the handler, returning the resulting
// response envelope. It never returns nil: an unmatched path produces a 404
// through the same Context.Envelope fallback a handler falling through
// would get.
func (r *HTTPRouter) Serve(req *protocol.ParsedRequest, body []byte) *protocol.ResponseEnvelope {
	h, params := r.root.match(req.URL)
	c := newContext(req, body, params)
	if h != nil {
		h(c)
	}
	return c.Envelope()
}
