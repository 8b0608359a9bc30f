// Package server assembles the pieces the rest of this module leaves
// decoupled — server/engine's event loop, server/comm's per-connection
// state machine, and a caller-supplied server/dispatch.Dispatcher — into
// something an embedder can start with one call. Adapted from the teacher's
// server/server.go, whose Server/Test sketched this wiring around a single
// global engine.StartEpoll call and a Server.R field; here Server owns one
// or more engine.Loop workers explicitly (spec.md §5's "N independent
// worker loops, no shared state between them") and drives the periodic
// timeout sweep and graceful shutdown the teacher's sketch never got to.
package server

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/s00inx/goserver/server/comm"
	"github.com/s00inx/goserver/server/dispatch"
	"github.com/s00inx/goserver/server/engine"
	"github.com/s00inx/goserver/server/logging"
	"github.com/s00inx/goserver/server/stats"
)

// timeoutable is the slice of comm.Task's surface the sweep needs; declared
// locally so this package doesn't have to import comm.Task's full type for
// what is really just one method.
type timeoutable interface {
	CheckTimeout(now time.Time)
}

// closable is the slice of comm.Task's surface graceful shutdown needs.
type closable interface {
	Close()
}

// Config bundles comm.Config with the listener and worker-count settings
// spec.md leaves to the embedder ("N independent worker loops" — how many N
// is is never pinned down in the core, per §5).
type Config struct {
	Addr [4]byte
	Port int

	// Workers is how many independent engine.Loop instances to run, each
	// with its own epoll instance and its own accepted connections
	// (spec.md §5). Defaults to runtime.NumCPU() when zero.
	Workers int

	// MaxConnsPerWorker sizes each worker's engine.Registry.
	MaxConnsPerWorker int

	// TimeoutSweepInterval is how often CheckTimeout runs over every live
	// connection. Defaults to 1s.
	TimeoutSweepInterval time.Duration

	Comm      comm.Config
	Logger    *logging.Logger
	Collector stats.Collector
}

// DefaultConfig returns a Config listening on 127.0.0.1:8080 with one
// worker per CPU, matching the teacher's Test() sketch's single hard-coded
// listener address.
func DefaultConfig() Config {
	return Config{
		Addr:                 [4]byte{127, 0, 0, 1},
		Port:                 8080,
		MaxConnsPerWorker:    1 << 16,
		TimeoutSweepInterval: time.Second,
		Comm:                 comm.DefaultConfig(),
	}
}

// Server owns a fixed set of worker loops and the connections they accept,
// each answered through dispatcher.
type Server struct {
	cfg        Config
	dispatcher dispatch.Dispatcher
	log        *logging.Logger
	collector  stats.Collector

	loops []*engine.Loop

	sweepStop chan struct{}
	sweepDone sync.WaitGroup
}

// New builds a Server. cfg.Workers/MaxConnsPerWorker/TimeoutSweepInterval
// fall back to DefaultConfig's values when left zero.
func New(cfg Config, dispatcher dispatch.Dispatcher) *Server {
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxConnsPerWorker == 0 {
		cfg.MaxConnsPerWorker = 1 << 16
	}
	if cfg.TimeoutSweepInterval == 0 {
		cfg.TimeoutSweepInterval = time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = stats.Noop{}
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        log,
		collector:  collector,
		sweepStop:  make(chan struct{}),
	}
}

// Run creates cfg.Workers independent listening loops all bound to the same
// address (SO_REUSEPORT lets the kernel load-balance accept() across them),
// starts the timeout sweep, and blocks until every loop's Run returns or
// one of them errors. Stop unblocks it.
func (s *Server) Run() error {
	s.loops = make([]*engine.Loop, s.cfg.Workers)
	for i := range s.loops {
		// acceptFunc needs the *engine.Loop it will end up registered
		// with, to hand each comm.Task its Setup call — but that Loop
		// doesn't exist until NewLoop returns, and NewLoop takes the
		// AcceptFunc as an argument. holder breaks the cycle: acceptFunc
		// closes over holder, and holder.loop is filled in immediately
		// after NewLoop returns, before anything can call accept() (Run
		// hasn't started yet for any loop at this point in the setup
		// phase).
		holder := &loopHolder{}
		loop, err := engine.NewLoop(s.cfg.Addr, s.cfg.Port, s.cfg.MaxConnsPerWorker, s.acceptFunc(holder))
		if err != nil {
			for _, l := range s.loops[:i] {
				l.Close()
			}
			return err
		}
		holder.loop = loop
		s.loops[i] = loop
	}

	s.sweepDone.Add(1)
	go s.sweepLoop()

	errCh := make(chan error, len(s.loops))
	for _, l := range s.loops {
		go func(l *engine.Loop) { errCh <- l.Run() }(l)
	}

	var firstErr error
	for range s.loops {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// loopHolder carries the *engine.Loop an acceptFunc closure needs to finish
// setting up each comm.Task it constructs, filled in after NewLoop returns
// (see Run).
type loopHolder struct {
	loop *engine.Loop
}

func (s *Server) acceptFunc(holder *loopHolder) engine.AcceptFunc {
	return func(fd int, peer [4]byte) engine.EventTarget {
		conn := &engine.Connection{Fd: fd, PeerAddr: peer}
		task := comm.New(conn, s.dispatcher, s.cfg.Comm, s.log, s.collector)
		task.Setup(holder.loop)
		return task
	}
}

func (s *Server) sweepLoop() {
	defer s.sweepDone.Done()
	ticker := time.NewTicker(s.cfg.TimeoutSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case now := <-ticker.C:
			for _, loop := range s.loops {
				loop.Registry().Each(func(fd int, t engine.EventTarget) {
					if to, ok := t.(timeoutable); ok {
						to.CheckTimeout(now)
					}
				})
			}
		}
	}
}

// Stop closes every listening socket (no new connections are accepted
// after this returns), then gives in-flight connections up to
// cfg.Comm.GracefulDrainTimeout to finish their current response before
// force-closing whatever remains — the drain semantics spec.md's onTimeout
// describes for a single connection, applied here to shutdown as a whole
// (SPEC_FULL.md's supplemented-features section).
func (s *Server) Stop() error {
	if s.loops == nil {
		return ErrNotRunning
	}
	close(s.sweepStop)
	s.sweepDone.Wait()

	var closeErr error
	for _, loop := range s.loops {
		if err := loop.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}

	deadline := time.Now().Add(s.cfg.Comm.GracefulDrainTimeout)
	for time.Now().Before(deadline) {
		if s.liveConnCount() == 0 {
			return closeErr
		}
		time.Sleep(20 * time.Millisecond)
	}

	for _, loop := range s.loops {
		loop.Registry().Each(func(fd int, t engine.EventTarget) {
			if c, ok := t.(closable); ok {
				c.Close()
			}
		})
	}
	return closeErr
}

func (s *Server) liveConnCount() int {
	n := 0
	for _, loop := range s.loops {
		loop.Registry().Each(func(fd int, t engine.EventTarget) { n++ })
	}
	return n
}

// ErrNotRunning is returned by operations that require Run to have been
// called first.
var ErrNotRunning = errors.New("server: not running")
