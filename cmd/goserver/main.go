// Command goserver runs the demo binary the teacher's server/server.go
// Test() function sketched but never wired up: a router with a couple of
// example routes, served through the full CommTask/event-loop stack, with
// SIGINT/SIGTERM triggering a graceful drain instead of an unceremonious
// process exit.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/s00inx/goserver/server"
	"github.com/s00inx/goserver/server/dispatch"
	"github.com/s00inx/goserver/server/logging"
	"github.com/s00inx/goserver/server/router"
)

func main() {
	r := router.NewHTTPRouter()

	r.Route("/", func(c *router.Context) {
		c.SetHeader("content-type", "text/plain; charset=utf-8")
		c.Send(200, []byte("ok"))
	})

	r.Route("/echo/:word", func(c *router.Context) {
		c.SetHeader("content-type", "text/plain; charset=utf-8")
		c.Send(200, []byte(c.Param("word")))
	})

	cfg := server.DefaultConfig()
	cfg.Logger = logging.Default()

	srv := server.New(cfg, dispatch.NewRouterDispatcher(r))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cfg.Logger.Info("shutting down")
		if err := srv.Stop(); err != nil {
			cfg.Logger.Error("stop: %v", err)
		}
	}()

	cfg.Logger.Info("listening on %d.%d.%d.%d:%d", cfg.Addr[0], cfg.Addr[1], cfg.Addr[2], cfg.Addr[3], cfg.Port)
	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}
}
