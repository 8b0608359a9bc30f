package engine

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Backlog and MaxEvents mirror the teacher's engine/epoll.go constants;
// pulled up to package variables here so an embedder can override them
// before creating a Loop instead of editing the source. server.Config does
// not carry them.
var (
	Backlog   = 16
	MaxEvents = 128
)

// ListenSocket creates, binds and starts listening on a non-blocking TCP
// socket, adapted from the teacher's listenSocket to use golang.org/x/sys/unix
// in place of the standard library's frozen syscall package (see
// DESIGN.md and SPEC_FULL.md's domain-stack section).
func ListenSocket(addr [4]byte, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	// SO_REUSEPORT lets several Loops listen on the same address, with the
	// kernel spreading incoming connections across them.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, Backlog); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Accept wraps unix.Accept, setting the returned descriptor non-blocking
// before CommTask ever touches it. Returns (-1, nil) for EAGAIN, meaning
// "no pending connection right now" rather than an error.
func Accept(listenFd int) (int, [4]byte, error) {
	nfd, sa, err := unix.Accept(listenFd)
	if err != nil {
		if err == unix.EAGAIN {
			return -1, [4]byte{}, nil
		}
		return -1, [4]byte{}, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, [4]byte{}, err
	}
	var peer [4]byte
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		peer = sa4.Addr
	}
	return nfd, peer, nil
}

// ErrWouldBlock reports that a non-blocking read or write had nothing to do
// right now (EAGAIN/EWOULDBLOCK) — distinct from a genuine (0, nil) read,
// which unix.Read reserves for peer-closed (EOF). Callers that conflated the
// two would treat every spurious readiness wakeup as a closed connection.
var ErrWouldBlock = errors.New("engine: operation would block")

// Read performs one non-blocking read. A genuine (0, nil) return means the
// peer closed the connection (EOF); EAGAIN is reported as (0, ErrWouldBlock)
// so callers can tell the two apart.
func Read(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Write performs one non-blocking write, reporting EAGAIN as (0, ErrWouldBlock).
func Write(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Close releases the socket descriptor.
func Close(fd int) error {
	return unix.Close(fd)
}

// SetReadInterest re-registers a oneshot fd for exactly the event set
// wantRead/wantWrite ask for, preserving EPOLLONESHOT|EPOLLRDHUP the way
// every registration on this fd carries them. Used both by Loop.Rearm
// after a worker finishes handling a readiness event and by CommTask's
// back-pressure policy (spec.md §5) and cross-thread response delivery
// (spec.md §5's "plus an event-loop wakeup") to change a fd's armed
// interest from outside the loop's own goroutine.
func SetReadInterest(epollFd, fd int, wantRead, wantWrite bool) error {
	events := uint32(unix.EPOLLONESHOT | unix.EPOLLRDHUP)
	if wantRead {
		events |= unix.EPOLLIN
	}
	if wantWrite {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(epollFd, unix.EPOLL_CTL_MOD, fd, &ev)
}
