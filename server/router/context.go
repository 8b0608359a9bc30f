// Context is the request/response abstraction handlers see — adapted from
// the teacher's server/router/context.go, which was a thin wrapper over an
// engine.Session's fixed-array header slots. That shape assumed direct
// syscall.Write access; here a Context only ever produces a
// protocol.ResponseEnvelope, which CommTask (not the handler) is
// responsible for framing and writing.
package router

import "github.com/s00inx/goserver/server/protocol"

// Context wraps one parsed request together with the params the trie match
// extracted, and accumulates the response the handler wants sent.
type Context struct {
	Req    *protocol.ParsedRequest
	body   []byte
	params map[string]string

	env  protocol.ResponseEnvelope
	sent bool
}

func newContext(req *protocol.ParsedRequest, body []byte, params map[string]string) *Context {
	return &Context{Req: req, body: body, params: params}
}

func (c *Context) Method() protocol.Method   { return c.Req.Method }
func (c *Context) Path() string              { return c.Req.URL }
func (c *Context) Header(key string) string  { return c.Req.Headers.Get(key) }
func (c *Context) Body() []byte              { return c.body }
func (c *Context) Param(key string) string   { return c.params[key] }
func (c *Context) Params() map[string]string { return c.params }

// SetHeader stages a response header; last call for a given key (compared
// case-insensitively) wins, matching protocol.ResponseHeaders.Set.
func (c *Context) SetHeader(key, val string) {
	c.env.Headers.Set(key, val)
}

// Send stages a fixed-body response. Calling Send more than once for the
// same Context keeps only the final call.
func (c *Context) Send(code int, body []byte) {
	c.env.Status = code
	c.env.Kind = protocol.BodyBytes
	c.env.Body = body
	c.sent = true
}

// Envelope returns the response the handler produced, or a 404 if the
// handler never called Send — the example dispatcher's fallback for
// handlers that fall through without responding.
func (c *Context) Envelope() *protocol.ResponseEnvelope {
	if !c.sent {
		c.env.Status = 404
		c.env.Kind = protocol.BodyBytes
		c.env.Body = []byte("not found")
	}
	return &c.env
}
