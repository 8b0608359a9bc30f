package engine

import (
	"os"
	"testing"
)

// TestReadBufferCompactRebasesCursors exercises the Compact contract every
// caller (comm.Task.compactAndRebase) depends on: the delta it returns is
// exactly what any externally-held offset must be shifted by.
func TestReadBufferCompactRebasesCursors(t *testing.T) {
	first := "GET /a HTTP/1.1\r\n\r\n"
	second := "GET /b HTTP/1.1\r\n\r\n"
	rb := NewReadBuffer()
	if err := rb.Grow([]byte(first + second)); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	rb.SetReadCursor(uint32(len(first)))
	rb.AdvanceRequest(uint32(len(first)))

	delta := rb.Compact()
	if delta != uint32(len(first)) {
		t.Fatalf("expected delta %d, got %d", len(first), delta)
	}
	if rb.StartOfCurrentRequest() != 0 {
		t.Fatalf("expected StartOfCurrentRequest rebased to 0, got %d", rb.StartOfCurrentRequest())
	}
	if got := string(rb.Pending()); got != "GET /b HTTP/1.1\r\n\r\n" {
		t.Fatalf("unexpected pending bytes after compact: %q", got)
	}
}

func TestReadBufferGrowReportsBufferFull(t *testing.T) {
	rb := &ReadBuffer{buf: make([]byte, 0, 4)}
	big := make([]byte, maxBufCap+1)
	if err := rb.Grow(big); err != ErrBufferFull {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
}

func TestWritableTailAdvanceRoundTrip(t *testing.T) {
	rb := NewReadBuffer()
	tail, err := rb.WritableTail(8)
	if err != nil {
		t.Fatalf("WritableTail: %v", err)
	}
	n := copy(tail, []byte("ping"))
	if err := rb.Advance(n); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if rb.Size() != 4 {
		t.Fatalf("expected size 4, got %d", rb.Size())
	}
	if got := string(rb.Pending()); got != "ping" {
		t.Fatalf("unexpected pending bytes: %q", got)
	}
}

func TestViewShiftCollapsesBeforeDelta(t *testing.T) {
	v := View{St: 5, End: 10}
	if shifted := v.Shift(20); !shifted.Empty() {
		t.Fatalf("expected a view entirely before delta to collapse to empty, got %v", shifted)
	}
	if shifted := v.Shift(3); shifted != (View{St: 2, End: 7}) {
		t.Fatalf("unexpected shifted view: %v", shifted)
	}
}

var mockPayload = func(dst []byte) int {
	body := []byte("Hello, world! This is a zero-alloc engine test.")
	off := 0
	off += copy(dst[off:], []byte("HTTP/1.1 200 OK\r\n"))
	off += copy(dst[off:], []byte("Content-Type: text/plain\r\n\r\n"))
	off += copy(dst[off:], body)
	return off
}

// BenchmarkBuildOutBuf measures the pooled-buffer build path BuildFunc
// implementations (a hand-rolled responder like this one) go through to
// avoid a fresh allocation per response.
func BenchmarkBuildOutBuf(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := BuildOutBuf(mockPayload)
		if len(out) == 0 {
			b.Fatal("expected non-empty output")
		}
	}
}

// BenchmarkWriteQueueDrain measures WriteQueue.Drain against a throwaway
// fd (os.DevNull) so the benchmark isolates queue bookkeeping from real
// socket backpressure.
func BenchmarkWriteQueueDrain(b *testing.B) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		b.Fatal(err)
	}
	defer devNull.Close()
	fd := int(devNull.Fd())

	q := NewWriteQueue(nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Enqueue(BuildOutBuf(mockPayload), nil, true)
		if _, _, err := q.Drain(func(p []byte) (int, error) { return Write(fd, p) }); err != nil {
			b.Fatal(err)
		}
	}
}
