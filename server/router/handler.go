package router

// Handler answers one request through a Context. It is the example
// dispatcher backing's request/response contract — the core spec makes no
// assumptions about how a handler is shaped, only that a Dispatcher can turn
// a *protocol.ParsedRequest into a *protocol.ResponseEnvelope (see
// server/dispatch).
type Handler func(c *Context)
