// Package stats defines the hook points the core hands statistics data
// through, without owning any aggregation itself (spec.md §3 "WriteQueue
// entry" and §9 "replace process-wide state with an explicit
// statistics-handle passed alongside each WriteQueue entry"). Aggregation
// lives entirely outside this module; Collector is the seam a real
// deployment plugs a metrics backend into.
package stats

// Handle is an opaque token a Collector attaches to one outbound buffer.
// The core never inspects it — it only carries it from WriteQueue.Enqueue
// through to the Collector callback once the buffer has fully drained.
type Handle any

// ErrorCategory is the coarse bucket spec.md §7 asks errors be reported
// under ("All errors are reported to the statistics collaborator with a
// coarse category").
type ErrorCategory int

const (
	CategoryProtocol ErrorCategory = iota
	CategoryTransport
	CategoryTimeout
	CategoryHandler
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryProtocol:
		return "protocol"
	case CategoryTransport:
		return "transport"
	case CategoryTimeout:
		return "timeout"
	case CategoryHandler:
		return "handler"
	default:
		return "unknown"
	}
}

// Collector is the statistics-collection seam. Implementations must be
// thread-safe: WriteComplete and RecordError may be called from any of the
// server's worker loops.
type Collector interface {
	// WriteComplete fires once the buffer a Handle was attached to has
	// fully drained from the socket.
	WriteComplete(h Handle, bytesWritten int)
	// RecordError fires for any error CommTask terminates or degrades a
	// connection for.
	RecordError(category ErrorCategory, err error)
}

// Noop is a Collector that discards everything; the default when no
// collector is configured.
type Noop struct{}

func (Noop) WriteComplete(Handle, int)        {}
func (Noop) RecordError(ErrorCategory, error) {}

var _ Collector = Noop{}
