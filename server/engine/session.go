package engine

import "time"

// Connection is the top-level per-socket entity spec.md §3 names: the data
// a CommTask owns about the peer it is talking to, independent of whatever
// request is currently in flight. Adapted from the teacher's Session
// (server/engine/session.go), which bundled this together with the raw
// buffer and header views; here the buffer lives in ReadBuffer and the
// header views live in protocol.ParsedRequest, so Connection only carries
// what spec.md's data model actually assigns to it.
type Connection struct {
	Fd int

	PeerAddr  [4]byte
	PeerPort  int
	LocalAddr [4]byte
	LocalPort int

	// KeepAliveTimeout is the idle-between-requests grace period; 0 means
	// the configured default applies.
	KeepAliveTimeout time.Duration

	// HTTP11 is the capability-version tag: true once a request on this
	// connection has declared HTTP/1.1 (vs 1.0). Successive pipelined
	// requests on the same connection are assumed to share one version in
	// this implementation, matching real-world client behavior.
	HTTP11 bool

	// setupDone guards event delivery that races ahead of onSetup
	// completing (spec.md §4.1, §9 "Open question"). Events observed
	// before it is set are dropped rather than queued, per spec.md's
	// documented policy — this is intentionally a latch reproducing the
	// source behavior, not a recommendation for new designs (see
	// DESIGN.md).
	setupDone bool
}

// MarkSetupDone flips the setup-done latch. Idempotent.
func (c *Connection) MarkSetupDone() { c.setupDone = true }

// SetupDone reports whether onSetup has completed registering this
// connection with the event loop.
func (c *Connection) SetupDone() bool { return c.setupDone }

// Reset restores a pooled Connection to its zero state for reuse by a new
// socket descriptor.
func (c *Connection) Reset() {
	*c = Connection{}
}
