package server

import (
	"testing"

	"github.com/s00inx/goserver/server/dispatch"
	"github.com/s00inx/goserver/server/protocol"
	"github.com/s00inx/goserver/server/router"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.Comm.MaximalHeaderSize == 0 {
		t.Fatal("expected a non-zero default MaximalHeaderSize")
	}
}

func TestNewFillsZeroFields(t *testing.T) {
	r := router.NewHTTPRouter()
	s := New(Config{Addr: [4]byte{0, 0, 0, 0}, Port: 9999}, dispatch.NewRouterDispatcher(r))
	if s.cfg.Workers == 0 {
		t.Fatal("expected New to default Workers to a positive value")
	}
	if s.cfg.MaxConnsPerWorker == 0 {
		t.Fatal("expected New to default MaxConnsPerWorker")
	}
	if s.cfg.TimeoutSweepInterval == 0 {
		t.Fatal("expected New to default TimeoutSweepInterval")
	}
	if s.log == nil || s.collector == nil {
		t.Fatal("expected New to install non-nil defaults for log/collector")
	}
}

func BenchmarkServeHTTP(b *testing.B) {
	r := router.NewHTTPRouter()
	r.Route("/h", func(c *router.Context) {
		c.Send(200, []byte("hello"))
	})
	d := dispatch.NewRouterDispatcher(r)

	req := &protocol.ParsedRequest{Method: protocol.MethodGET, URL: "/h", Version: protocol.HTTP11}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		env, err := d.DispatchSync(dispatch.Request{Parsed: req, Seq: uint64(i)})
		if err != nil || env.Status != 200 {
			b.Fatalf("unexpected result: %v %v", env, err)
		}
	}
}
