// Package engine holds the low-level, per-connection plumbing: the
// non-blocking socket wrapper, the read buffer with its compaction policy,
// and the write queue. Nothing in here knows what HTTP is.
package engine

// View is a [St, End) offset span into a connection's ReadBuffer. Views never
// hold a slice directly: a slice aliases ReadBuffer's backing array and goes
// stale the moment Compact shifts bytes, whereas a View is just two
// integers and is cheap to keep around across a compaction as long as the
// cursors are rebased alongside it.
type View struct {
	St  uint32
	End uint32
}

// Len reports the span's byte length.
func (v View) Len() int {
	if v.End < v.St {
		return 0
	}
	return int(v.End - v.St)
}

// Empty reports whether the view carries no bytes.
func (v View) Empty() bool {
	return v.End <= v.St
}

// Shift rebases a view by -delta, as happens during compaction. A view that
// falls entirely before the compacted-away prefix collapses to empty.
func (v View) Shift(delta uint32) View {
	if v.St < delta {
		return View{}
	}
	return View{St: v.St - delta, End: v.End - delta}
}

// Bytes materializes the view's bytes out of buf. Callers that need the
// bytes to survive a compaction must call this instead of slicing buf
// directly with the view's bounds.
func (v View) Bytes(buf []byte) []byte {
	if v.Empty() || int(v.End) > len(buf) {
		return nil
	}
	return buf[v.St:v.End]
}
