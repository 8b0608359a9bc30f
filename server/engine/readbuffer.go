package engine

import "errors"

// ErrBufferFull is returned when a read would grow the buffer past its cap.
var ErrBufferFull = errors.New("engine: read buffer exceeds maximum size")

const (
	defaultBufCap = 1 << 16 // matches the teacher's maxRawSize session buffer
	maxBufCap     = 1 << 22 // 4 MiB hard ceiling; growth beyond this is a protocol error
)

// ReadBuffer is an append-only byte accumulator for one connection's inbound
// stream, with the four cursors spec.md's data model names:
//
//	0 <= startOfCurrentRequest <= bodyStart <= bodyStart+bodyLength <= readCursor <= len(buf)
//
// CommTask advances readCursor past the header block once RequestParser has
// parsed it, and past the body once the body is complete; BodyStart/BodyLength
// mark the body span. Compact relocates live bytes to
// offset 0 so StartOfCurrentRequest always reads 0 immediately after.
type ReadBuffer struct {
	buf []byte

	startOfCurrentRequest uint32
	readCursor            uint32
	bodyStart             uint32
	bodyLength            uint32

	size uint32 // bytes actually written into buf (<= cap(buf))

	servedSinceCompact int
}

// NewReadBuffer allocates a ReadBuffer with the teacher's default capacity.
func NewReadBuffer() *ReadBuffer {
	return &ReadBuffer{buf: make([]byte, defaultBufCap)}
}

// Reset restores the buffer to its empty state so it can be reused for a
// new connection drawn from a pool, without reallocating buf.
func (r *ReadBuffer) Reset() {
	r.startOfCurrentRequest = 0
	r.readCursor = 0
	r.bodyStart = 0
	r.bodyLength = 0
	r.size = 0
	r.servedSinceCompact = 0
}

// Size returns the number of live bytes currently held.
func (r *ReadBuffer) Size() int { return int(r.size) }

// StartOfCurrentRequest, BodyStart, BodyLength expose the spec.md cursors
// for RequestParser and CommTask to read and, in the case of
// BodyStart/BodyLength, advance.
func (r *ReadBuffer) StartOfCurrentRequest() uint32 { return r.startOfCurrentRequest }
func (r *ReadBuffer) BodyStart() uint32             { return r.bodyStart }
func (r *ReadBuffer) BodyLength() uint32            { return r.bodyLength }

// SetReadCursor advances the parser's scan position. Never rewound.
func (r *ReadBuffer) SetReadCursor(n uint32) { r.readCursor = n }

// SetBody records the body span once Content-Length is known.
func (r *ReadBuffer) SetBody(start, length uint32) {
	r.bodyStart = start
	r.bodyLength = length
}

// Raw returns the full live byte range ([0, size)), for callers that must
// materialize bytes out of a View themselves (ParsedRequest.Detach). Aliases
// buf; never retain across a Compact.
func (r *ReadBuffer) Raw() []byte {
	return r.buf[:r.size]
}

// Unparsed returns the slice of bytes not yet scanned by the parser
// ([readCursor, size)). The slice aliases buf and must not be retained
// across a Compact.
func (r *ReadBuffer) Unparsed() []byte {
	return r.buf[r.readCursor:r.size]
}

// Pending returns the bytes belonging to the current in-flight request,
// i.e. everything from startOfCurrentRequest to size.
func (r *ReadBuffer) Pending() []byte {
	return r.buf[r.startOfCurrentRequest:r.size]
}

// View materializes the live bytes spanned by v. Same aliasing caveat as
// Unparsed: callers needing the bytes past a Compact must copy them first
// (CommTask does this when detaching a ParsedRequest's body, see
// ParsedRequest.Detach).
func (r *ReadBuffer) View(v View) []byte {
	return v.Bytes(r.buf[:r.size])
}

// Grow appends p to the buffer, doubling capacity as needed up to
// maxBufCap. Returns ErrBufferFull if p would push the buffer past the cap.
// CommTask's OnReadReady reads through WritableTail/Advance instead and turns
// their ErrBufferFull into a protocol error.
func (r *ReadBuffer) Grow(p []byte) error {
	need := int(r.size) + len(p)
	if need > maxBufCap {
		return ErrBufferFull
	}
	if need > cap(r.buf) {
		newCap := cap(r.buf)
		if newCap == 0 {
			newCap = defaultBufCap
		}
		for newCap < need {
			newCap *= 2
		}
		if newCap > maxBufCap {
			newCap = maxBufCap
		}
		grown := make([]byte, newCap)
		copy(grown, r.buf[:r.size])
		r.buf = grown
	} else if need > len(r.buf) {
		r.buf = r.buf[:cap(r.buf)]
	}
	copy(r.buf[r.size:need], p)
	r.size = uint32(need)
	return nil
}

// WritableTail returns a slice of free capacity at the tail of buf, growing
// it first if necessary, so a raw socket read can land directly in the
// buffer without an intermediate copy. Advance must be called afterwards
// with the number of bytes actually read.
func (r *ReadBuffer) WritableTail(hint int) ([]byte, error) {
	need := int(r.size) + hint
	if need > maxBufCap {
		need = maxBufCap
	}
	if need > cap(r.buf) {
		newCap := cap(r.buf)
		if newCap == 0 {
			newCap = defaultBufCap
		}
		for newCap < need {
			newCap *= 2
		}
		if newCap > maxBufCap {
			newCap = maxBufCap
		}
		grown := make([]byte, newCap)
		copy(grown, r.buf[:r.size])
		r.buf = grown
	} else if cap(r.buf) > len(r.buf) {
		r.buf = r.buf[:cap(r.buf)]
	}
	if int(r.size) >= len(r.buf) {
		return nil, ErrBufferFull
	}
	return r.buf[r.size:], nil
}

// Advance records n freshly-read bytes appended via WritableTail.
func (r *ReadBuffer) Advance(n int) error {
	need := int(r.size) + n
	if need > maxBufCap {
		return ErrBufferFull
	}
	r.size = uint32(need)
	return nil
}

// ShouldCompact reports whether the served-request count since the last
// compaction has crossed the configured threshold (spec.md §3, default
// RunCompactEvery = 500).
func (r *ReadBuffer) ShouldCompact(threshold int) bool {
	return r.servedSinceCompact >= threshold
}

// NoteRequestServed increments the served-since-compaction counter; called
// by CommTask once a response has been fully enqueued for a request.
func (r *ReadBuffer) NoteRequestServed() {
	r.servedSinceCompact++
}

// AdvanceRequest moves startOfCurrentRequest past a fully-consumed request,
// the step that makes pipelined follow-on bytes visible to the next parse
// pass (spec.md §4.1 step 5).
func (r *ReadBuffer) AdvanceRequest(newStart uint32) {
	r.startOfCurrentRequest = newStart
	if r.bodyStart < newStart {
		r.bodyStart = newStart
	}
}

// Compact relocates [startOfCurrentRequest, size) to offset 0, rebasing
// every cursor by the shift. It is the caller's responsibility (CommTask)
// to ensure no external reference into the buffer survives this call
// except via View, which Compact rebases through CommTask's own bookkeeping
// — ReadBuffer itself has no knowledge of ParsedRequest, so any Views held
// elsewhere must be shifted by the same delta the caller observes here.
func (r *ReadBuffer) Compact() (delta uint32) {
	delta = r.startOfCurrentRequest
	if delta == 0 {
		r.servedSinceCompact = 0
		return 0
	}
	n := copy(r.buf, r.buf[delta:r.size])
	r.size = uint32(n)
	r.startOfCurrentRequest = 0
	r.readCursor -= delta
	if r.bodyStart >= delta {
		r.bodyStart -= delta
	} else {
		r.bodyStart = 0
	}
	r.servedSinceCompact = 0
	return delta
}
