package dispatch

import "github.com/s00inx/goserver/server/protocol"

// GoroutineDispatcher demonstrates the asynchronous half of the Dispatcher
// contract: DispatchAsync hands the request to a fresh goroutine and calls
// done once Handle returns, so CommTask's event-loop goroutine never blocks
// on Handle regardless of how long it takes. Not meant for production
// fan-out (it starts one goroutine per request, with no bound on how many
// run at once); it exists to exercise
// spec.md §4.4's "processing order may differ from arrival order" pipelining
// requirement in tests.
type GoroutineDispatcher struct {
	Handle func(req Request) (*protocol.ResponseEnvelope, error)
}

func (d GoroutineDispatcher) DispatchSync(req Request) (*protocol.ResponseEnvelope, error) {
	return d.Handle(req)
}

func (d GoroutineDispatcher) DispatchAsync(req Request, done ResultFunc) {
	go func() {
		env, err := d.Handle(req)
		done(req.Seq, env, err)
	}()
}
