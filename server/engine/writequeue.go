package engine

import (
	"sync"

	"github.com/s00inx/goserver/server/stats"
)

// outBufPool recycles the byte slices WriteQueue entries own, the same
// sync.Pool idiom the teacher uses for session buffers in
// server/engine/pool.go.
var outBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

// GetOutBuf draws a buffer from the pool for a caller (ResponseAssembler)
// to fill before handing it to WriteQueue.Enqueue.
func GetOutBuf() []byte {
	return outBufPool.Get().([]byte)[:0]
}

func putOutBuf(b []byte) {
	if cap(b) == 0 {
		return
	}
	outBufPool.Put(b[:0])
}

type writeEntry struct {
	buf    []byte
	stats  stats.Handle
	pooled bool // true if buf was drawn from outBufPool and should be returned
}

// WriteQueue is a FIFO of outgoing byte buffers for one connection, drained
// opportunistically by the event loop (spec.md §4.4). It tracks a single
// currentOffset into the head entry so a partial socket write resumes
// exactly where it left off.
type WriteQueue struct {
	entries       []writeEntry
	currentOffset int
	collector     stats.Collector
}

// NewWriteQueue builds an empty queue reporting completions to collector.
// A nil collector defaults to stats.Noop.
func NewWriteQueue(collector stats.Collector) *WriteQueue {
	if collector == nil {
		collector = stats.Noop{}
	}
	return &WriteQueue{collector: collector}
}

// Reset empties the queue, returning any pooled buffers, for reuse on a
// fresh connection.
func (q *WriteQueue) Reset() {
	for _, e := range q.entries {
		if e.pooled {
			putOutBuf(e.buf)
		}
	}
	q.entries = q.entries[:0]
	q.currentOffset = 0
}

// Empty reports whether there is nothing left to write.
func (q *WriteQueue) Empty() bool { return len(q.entries) == 0 }

// ByteLength returns the total unwritten bytes still queued, used for the
// WriteQueue byte-threshold half of back-pressure (spec.md §5).
func (q *WriteQueue) ByteLength() int {
	total := 0
	for i, e := range q.entries {
		n := len(e.buf)
		if i == 0 {
			n -= q.currentOffset
		}
		total += n
	}
	return total
}

// Enqueue appends one outgoing buffer, carrying an optional statistics
// handle that is surfaced once buf fully drains. pooled marks buf as having
// come from GetOutBuf so it is returned to the pool on drain.
func (q *WriteQueue) Enqueue(buf []byte, handle stats.Handle, pooled bool) {
	q.entries = append(q.entries, writeEntry{buf: buf, stats: handle, pooled: pooled})
}

// writerFunc abstracts the non-blocking socket write primitive so
// WriteQueue stays independent of the syscall layer (and is trivially
// testable with an in-memory stand-in).
type writerFunc func(p []byte) (n int, err error)

// Drain writes as much of the head-of-queue bytes as the socket accepts,
// popping fully-written entries and handing their statistics handle to the
// collector. It stops at the first short write (the socket buffer is full)
// or the first error. Returns the number of entries fully drained and
// whether the queue is now empty.
func (q *WriteQueue) Drain(write writerFunc) (drained int, empty bool, err error) {
	for len(q.entries) > 0 {
		head := q.entries[0]
		remaining := head.buf[q.currentOffset:]
		if len(remaining) == 0 {
			q.popHead()
			drained++
			continue
		}
		n, werr := write(remaining)
		if n > 0 {
			q.currentOffset += n
		}
		if werr != nil {
			if werr == ErrWouldBlock {
				break
			}
			return drained, len(q.entries) == 0, werr
		}
		if n < len(remaining) {
			// Socket accepted a partial write; stop until write-ready fires again.
			break
		}
	}
	return drained, len(q.entries) == 0, nil
}

func (q *WriteQueue) popHead() {
	head := q.entries[0]
	q.collector.WriteComplete(head.stats, len(head.buf))
	if head.pooled {
		putOutBuf(head.buf)
	}
	q.entries = q.entries[1:]
	q.currentOffset = 0
}

// Discard drops every queued buffer without writing it, used when a
// transport error or forced close means pending responses can never be
// delivered (spec.md §4.7 "Socket error → close immediately, drop pending
// responses").
func (q *WriteQueue) Discard() {
	for _, e := range q.entries {
		if e.pooled {
			putOutBuf(e.buf)
		}
	}
	q.entries = nil
	q.currentOffset = 0
}
