package engine

import "sync/atomic"

// EventTarget is what the epoll loop drives once a file descriptor is
// registered. server/comm.Task implements it; engine never imports comm,
// keeping the non-blocking socket plumbing independent of HTTP semantics
// (spec.md's component decomposition keeps CommTask a consumer of this
// layer, not the other way around).
type EventTarget interface {
	// OnReadReady is invoked when the descriptor has bytes to read.
	OnReadReady()
	// OnWriteReady is invoked when the descriptor can accept more writes.
	OnWriteReady()
	// OnHangup is invoked on EPOLLHUP/EPOLLRDHUP — the peer went away.
	OnHangup()
	// OnError is invoked on EPOLLERR.
	OnError(err error)
	// DesiredEvents reports which readiness events the loop should
	// re-arm for after handling one, since EPOLLONESHOT drops interest
	// on every delivery (back-pressure toggles wantRead off; having
	// something still queued to write toggles wantWrite on).
	DesiredEvents() (wantRead, wantWrite bool)
}

// Registry maps file descriptors to their EventTarget using an array of
// atomic pointers, the same approach the teacher's server/engine/pool.go
// takes for Sessions — one slot per possible fd (sized off RLIMIT_NOFILE),
// avoiding a mutex-guarded map on the hot event-dispatch path. Per
// DESIGN_NOTES.md's "cyclic ownership" note, the registry holds only
// non-owning handles: a Task never reaches back into the Registry except
// to deregister itself.
type Registry struct {
	slots []atomic.Pointer[EventTarget]
}

// NewRegistry sizes the registry for up to n file descriptors.
func NewRegistry(n int) *Registry {
	return &Registry{slots: make([]atomic.Pointer[EventTarget], n)}
}

// Store registers t as the handler for fd.
func (r *Registry) Store(fd int, t EventTarget) {
	if fd < 0 || fd >= len(r.slots) {
		return
	}
	r.slots[fd].Store(&t)
}

// Load returns the handler registered for fd, or nil if none.
func (r *Registry) Load(fd int) EventTarget {
	if fd < 0 || fd >= len(r.slots) {
		return nil
	}
	p := r.slots[fd].Load()
	if p == nil {
		return nil
	}
	return *p
}

// Delete deregisters fd. Called once a Task closes so a later fd reuse
// (the kernel recycles descriptor numbers aggressively) never sees a stale
// handler.
func (r *Registry) Delete(fd int) {
	if fd < 0 || fd >= len(r.slots) {
		return
	}
	r.slots[fd].Store(nil)
}

// Each calls fn once for every fd currently holding a live EventTarget, in
// slot order. Used by the owning server's timeout sweep and graceful-drain
// shutdown (SPEC_FULL.md's supplemented-features section), neither of which
// the teacher's Registry/pool.go had an equivalent for — the teacher never
// enumerated live sessions, only looked them up by fd.
func (r *Registry) Each(fn func(fd int, t EventTarget)) {
	for fd := range r.slots {
		p := r.slots[fd].Load()
		if p == nil {
			continue
		}
		fn(fd, *p)
	}
}
