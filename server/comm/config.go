package comm

import (
	"time"

	"github.com/s00inx/goserver/server/protocol"
)

// Config carries every tunable spec.md's CommTask design leaves as an
// implementation-defined constant, promoted to fields per SPEC_FULL.md's
// ambient-stack configuration section (the teacher never had a config
// loader; its constants were baked into server/server.go).
type Config struct {
	// MaximalHeaderSize bounds readCursor-startOfCurrentRequest while
	// scanning for the end-of-headers sentinel (spec.md §4.1 step 1).
	MaximalHeaderSize int
	// MaximalBodySize bounds an accepted Content-Length (spec.md §4.7).
	MaximalBodySize int64
	// MaximalPipelineSize bounds in-flight (dispatched, not yet written)
	// requests before read-interest is disabled (spec.md §4.1, §5).
	MaximalPipelineSize int
	// MaximalWriteQueueBytes is the WriteQueue byte-threshold half of
	// back-pressure (spec.md §5).
	MaximalWriteQueueBytes int
	// RunCompactEvery is the served-request threshold that triggers
	// ReadBuffer.Compact (spec.md §3, default 500).
	RunCompactEvery int
	// KeepAliveTimeout is the idle grace period once the peer has sent at
	// least one byte on this connection.
	KeepAliveTimeout time.Duration
	// IdleTimeout bounds a connection that has not yet sent a single byte
	// — a gap spec.md's onTimeout leaves unaddressed (see SPEC_FULL.md's
	// supplemented-features section).
	IdleTimeout time.Duration
	// GracefulDrainTimeout bounds how long onTimeout lets an in-flight
	// response finish writing before forcing the connection closed
	// (spec.md §4.1's "let the in-flight response complete if within
	// grace, else force-close").
	GracefulDrainTimeout time.Duration

	// DeflateThreshold is the body-size cutoff for Content-Encoding
	// negotiation (spec.md §4.6).
	DeflateThreshold int
	// CORS is the policy CORS preflight and cross-origin header injection
	// consult (spec.md §4.5).
	CORS protocol.CORSPolicy
}

// DefaultConfig matches spec.md's own examples for every constant it names
// explicitly (431/413 boundary sizes, 1800-second CORS max-age via
// protocol.DefaultCORSPolicy, 500-request compaction threshold, 16 KiB
// deflate threshold), and picks conservative values for the ones it leaves
// unspecified.
func DefaultConfig() Config {
	return Config{
		MaximalHeaderSize:      8 << 10,
		MaximalBodySize:        8 << 20,
		MaximalPipelineSize:    64,
		MaximalWriteQueueBytes: 4 << 20,
		RunCompactEvery:        500,
		KeepAliveTimeout:       75 * time.Second,
		IdleTimeout:            10 * time.Second,
		GracefulDrainTimeout:   5 * time.Second,
		DeflateThreshold:       protocol.DefaultDeflateThreshold,
		CORS:                   protocol.DefaultCORSPolicy(),
	}
}
