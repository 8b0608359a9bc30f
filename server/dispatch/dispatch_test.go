package dispatch

import (
	"sync"
	"testing"

	"github.com/s00inx/goserver/server/protocol"
)

func TestSyncDispatcherDispatchAsyncCallsDoneInline(t *testing.T) {
	d := SyncDispatcher{Handle: func(req Request) (*protocol.ResponseEnvelope, error) {
		return &protocol.ResponseEnvelope{Status: 200}, nil
	}}

	called := false
	d.DispatchAsync(Request{Seq: 1}, func(seq uint64, env *protocol.ResponseEnvelope, err error) {
		called = true
		if seq != 1 || env.Status != 200 || err != nil {
			t.Fatalf("unexpected callback args: seq=%d env=%v err=%v", seq, env, err)
		}
	})
	if !called {
		t.Fatal("expected DispatchAsync to invoke done before returning")
	}
}

func TestGoroutineDispatcherResolvesOffTheCallingGoroutine(t *testing.T) {
	callerGoroutine := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	d := GoroutineDispatcher{Handle: func(req Request) (*protocol.ResponseEnvelope, error) {
		<-callerGoroutine // would deadlock if DispatchAsync ran this inline
		return &protocol.ResponseEnvelope{Status: 200}, nil
	}}

	d.DispatchAsync(Request{Seq: 7}, func(seq uint64, env *protocol.ResponseEnvelope, err error) {
		defer wg.Done()
		if seq != 7 || env.Status != 200 {
			t.Errorf("unexpected callback args: seq=%d env=%v", seq, env)
		}
	})

	close(callerGoroutine)
	wg.Wait()
}
