// Event-loop plumbing: an epoll(7) readiness multiplexer fanning events out
// to a worker pool, adapted from the teacher's server/engine/epoll.go and
// server/engine/pool.go onto golang.org/x/sys/unix (see SPEC_FULL.md's
// domain-stack section for why) and onto the EventTarget abstraction so the
// loop never needs to know about HTTP.
package engine

import (
	"errors"
	"runtime"

	"golang.org/x/sys/unix"
)

// AcceptFunc builds the EventTarget for a freshly-accepted connection. The
// server layer (server.Server) supplies this; it is how a comm.Task gets
// constructed and handed its socket.
type AcceptFunc func(fd int, peer [4]byte) EventTarget

// Loop owns one epoll instance, its listening socket, and the worker pool
// that drains readiness events onto registered EventTargets. One Loop is
// one of the N worker loops spec.md §5 describes; a real deployment runs
// several, each with its own Loop and its own affinitized connections.
type Loop struct {
	epollFd  int
	listenFd int
	registry *Registry
	accept   AcceptFunc
	jobs     chan epollJob
	closed   chan struct{}
}

type epollJob struct {
	fd     int32
	events uint32
}

// NewLoop creates the listening socket, the epoll instance, and the worker
// pool, but does not start accepting connections until Run is called.
func NewLoop(addr [4]byte, port int, maxFDs int, accept AcceptFunc) (*Loop, error) {
	listenFd, err := ListenSocket(addr, port)
	if err != nil {
		return nil, err
	}
	epollFd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(listenFd)
		return nil, err
	}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, listenFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(listenFd),
	}); err != nil {
		unix.Close(epollFd)
		unix.Close(listenFd)
		return nil, err
	}
	return &Loop{
		epollFd:  epollFd,
		listenFd: listenFd,
		registry: NewRegistry(maxFDs),
		accept:   accept,
		jobs:     make(chan epollJob, 1024),
		closed:   make(chan struct{}),
	}, nil
}

// Registry exposes the fd->EventTarget map so callers (server.Server's
// timeout sweep and shutdown) can enumerate live connections.
func (l *Loop) Registry() *Registry { return l.registry }

// EpollFd exposes the raw epoll descriptor for callers that issue their own
// epoll_ctl calls. comm.Task does not use it; it rearms through Rearm.
func (l *Loop) EpollFd() int { return l.epollFd }

// Register adds fd to the epoll set in oneshot mode, watching for read
// readiness (the state every new connection and every post-dispatch
// re-entry into ReadingHead starts in).
func (l *Loop) Register(fd int) error {
	return unix.EpollCtl(l.epollFd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLONESHOT | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	})
}

// Rearm re-registers a oneshot descriptor for the event set its EventTarget
// currently wants. Called by the worker pool after it finishes handling a
// readiness event, and by an EventTarget itself (comm.Task.rearmLocked) when
// a response becomes ready on a goroutine other than the one that owns this
// fd's epoll readiness — EPOLL_CTL_MOD is safe to issue concurrently with
// the worker pool's own rearm of the same fd; the kernel serializes it.
func (l *Loop) Rearm(fd int, wantRead, wantWrite bool) error {
	return SetReadInterest(l.epollFd, fd, wantRead, wantWrite)
}

// Deregister removes fd from the epoll set and the registry. Safe to call
// on an fd already closed.
func (l *Loop) Deregister(fd int) {
	unix.EpollCtl(l.epollFd, unix.EPOLL_CTL_DEL, fd, nil)
	l.registry.Delete(fd)
}

// Run starts the worker pool and blocks draining epoll_wait forever (or
// until Close is called). One goroutine owns epoll_wait itself; NumCPU
// workers drain the jobs channel, matching the teacher's startWorkerPool
// sizing.
func (l *Loop) Run() error {
	numWorkers := runtime.NumCPU()
	for i := 0; i < numWorkers; i++ {
		go l.work()
	}

	events := make([]unix.EpollEvent, MaxEvents)
	for {
		select {
		case <-l.closed:
			return nil
		default:
		}

		n, err := unix.EpollWait(l.epollFd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.listenFd {
				l.acceptAll()
				continue
			}
			select {
			case l.jobs <- epollJob{fd: events[i].Fd, events: events[i].Events}:
			case <-l.closed:
				return nil
			}
		}
	}
}

// Close stops the loop and releases the listening and epoll descriptors.
// In-flight connections are left to their own Task.Close handling.
func (l *Loop) Close() error {
	close(l.closed)
	unix.Close(l.listenFd)
	return unix.Close(l.epollFd)
}

func (l *Loop) acceptAll() {
	for {
		fd, peer, err := Accept(l.listenFd)
		if err != nil || fd < 0 {
			return
		}
		target := l.accept(fd, peer)
		l.registry.Store(fd, target)
		if err := l.Register(fd); err != nil {
			l.registry.Delete(fd)
			Close(fd)
		}
	}
}

func (l *Loop) work() {
	for job := range l.jobs {
		fd := int(job.fd)
		target := l.registry.Load(fd)
		if target == nil {
			continue
		}

		switch {
		case job.events&unix.EPOLLERR != 0:
			target.OnError(errors.New("engine: EPOLLERR on socket"))
		case job.events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0:
			target.OnHangup()
		default:
			if job.events&unix.EPOLLOUT != 0 {
				target.OnWriteReady()
			}
			if job.events&unix.EPOLLIN != 0 {
				target.OnReadReady()
			}
		}

		if l.registry.Load(fd) == nil {
			// The target closed itself (e.g. OnHangup/OnError tore it
			// down and deregistered); nothing left to rearm.
			continue
		}
		wantRead, wantWrite := target.DesiredEvents()
		l.Rearm(fd, wantRead, wantWrite)
	}
}
