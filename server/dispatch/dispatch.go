// Package dispatch defines the boundary between CommTask and application
// logic that spec.md §1 places outside the core: "how a completed request
// gets turned into a response is a separate concern (the Dispatcher)". This
// mirrors the teacher's split between server/engine (transport) and
// server/router (application handlers), generalized to also support
// asynchronous completion since spec.md §4.4 requires the pipelining
// reorder slot to work "regardless of processing order".
package dispatch

import "github.com/s00inx/goserver/server/protocol"

// Request is what CommTask hands to a Dispatcher: a fully parsed request
// with its body detached (safe to read after the connection's ReadBuffer
// compacts or after control returns to CommTask), plus the sequence number
// CommTask needs back to slot the response into pipelining order.
type Request struct {
	Parsed *protocol.ParsedRequest
	Body   []byte
	Seq    uint64
}

// ResultFunc is how an asynchronous Dispatcher reports completion. CommTask
// passes one to DispatchAsync and expects it invoked exactly once, from any
// goroutine, once the response is ready — this is the hand-off spec.md §4.4
// describes as "an async completion callback that hands a ResponseEnvelope
// (or error) back to the connection's CommTask, tagged with the originating
// request's sequence number so the pipelining logic can reorder it."
type ResultFunc func(seq uint64, env *protocol.ResponseEnvelope, err error)

// Dispatcher turns requests into responses. CommTask always calls
// DispatchAsync; an implementation decides for itself whether to resolve
// inline (calling done before returning) or on another goroutine, and
// CommTask continues serving other connections while an async result is
// pending. DispatchSync returns the response directly, for callers outside
// CommTask that want it without a callback.
type Dispatcher interface {
	DispatchSync(req Request) (*protocol.ResponseEnvelope, error)
	DispatchAsync(req Request, done ResultFunc)
}

// SyncDispatcher adapts any synchronous handler function into a Dispatcher
// whose DispatchAsync just runs the handler inline and calls done before
// returning — for embedders who never need genuine async dispatch (the
// common case demonstrated by cmd/goserver).
type SyncDispatcher struct {
	Handle func(req Request) (*protocol.ResponseEnvelope, error)
}

func (d SyncDispatcher) DispatchSync(req Request) (*protocol.ResponseEnvelope, error) {
	return d.Handle(req)
}

func (d SyncDispatcher) DispatchAsync(req Request, done ResultFunc) {
	env, err := d.Handle(req)
	done(req.Seq, env, err)
}
