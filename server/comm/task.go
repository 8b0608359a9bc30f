// Package comm implements CommTask, the per-connection HTTP/1.x state
// machine that sits between the non-blocking event loop (server/engine) and
// an application dispatcher (server/dispatch). It owns one socket, one
// engine.ReadBuffer, one engine.WriteQueue, and however many requests are
// currently parsed-but-not-yet-fully-written on that connection.
//
// Adapted in spirit from the teacher's server/server.go dispatch loop
// (which drove parsing and response-writing inline, synchronously, with no
// pipelining or reorder buffer) generalized to the state machine this task
// requires: multiple requests may be dispatched concurrently once parsed,
// but responses are always written back in the order their requests
// arrived, using a small per-connection reorder slot keyed by sequence
// number.
package comm

import (
	"strings"
	"sync"
	"time"

	"github.com/s00inx/goserver/server/dispatch"
	"github.com/s00inx/goserver/server/engine"
	"github.com/s00inx/goserver/server/logging"
	"github.com/s00inx/goserver/server/protocol"
	"github.com/s00inx/goserver/server/stats"
)

// State is the tagged connection state. It tracks the read side of the
// connection (what driveParse is doing with newly arrived bytes); once a
// request has been handed to dispatchRequest, its own progress toward
// WritingResponse/Chunking/done is tracked per-sequence-number in
// reqStates/plainResults/chunkedStreams rather than in this single field,
// since more than one request can be in flight (Dispatching, in spec terms)
// at once under pipelining.
type State uint8

const (
	ReadingHead State = iota
	ReadingBody
	Dispatching
	WritingResponse
	Chunking
	Closed
)

func (s State) String() string {
	switch s {
	case ReadingHead:
		return "ReadingHead"
	case ReadingBody:
		return "ReadingBody"
	case Dispatching:
		return "Dispatching"
	case WritingResponse:
		return "WritingResponse"
	case Chunking:
		return "Chunking"
	default:
		return "Closed"
	}
}

// reqState is the bookkeeping CommTask keeps for one parsed-but-not-yet-
// fully-written request, indexed by its sequence number.
type reqState struct {
	parsed *protocol.ParsedRequest
	disp   protocol.Disposition
	isHead bool
}

// chunkedStream tracks a chunked response's framing progress while it waits
// for its turn to become the head-of-line write, or while it is actively
// being streamed.
type chunkedStream struct {
	env      *protocol.ResponseEnvelope
	disp     protocol.Disposition
	started  bool
	finished bool
	queued   [][]byte
}

// Task implements engine.EventTarget: the socket event loop drives it
// purely through readiness callbacks, with no HTTP-specific knowledge.
var _ engine.EventTarget = (*Task)(nil)

type Task struct {
	conn   *engine.Connection
	rb     *engine.ReadBuffer
	wq     *engine.WriteQueue
	loop   *engine.Loop
	parser protocol.HTTPParser
	asm    protocol.Assembler

	dispatcher dispatch.Dispatcher
	cfg        Config
	log        *logging.Logger
	collector  stats.Collector

	mu     sync.Mutex
	closed bool

	state          State
	closeRequested bool

	nextSeq  uint64
	writeSeq uint64
	inFlight int

	reqStates      map[uint64]*reqState
	plainResults   map[uint64]*protocol.ResponseEnvelope
	chunkedStreams map[uint64]*chunkedStream

	activeChunk    uint64
	hasActiveChunk bool

	// pendingHead/pendingDisp/pendingIsHead hold the head parsed while
	// waiting for its body to fully arrive (ReadingBody state). Only one
	// request can be mid-body at a time per connection, since a
	// connection's bytes arrive strictly in order.
	pendingHead   *protocol.ParsedRequest
	pendingDisp   protocol.Disposition
	pendingIsHead bool

	lastActivity time.Time
	sawFirstByte bool
}

// New builds a Task for a freshly accepted connection. It does not register
// the socket with the event loop — call Setup for that once constructed.
func New(conn *engine.Connection, d dispatch.Dispatcher, cfg Config, log *logging.Logger, collector stats.Collector) *Task {
	if collector == nil {
		collector = stats.Noop{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Task{
		conn:           conn,
		rb:             engine.AcquireReadBuffer(),
		wq:             engine.NewWriteQueue(collector),
		dispatcher:     d,
		cfg:            cfg,
		log:            log,
		collector:      collector,
		state:          ReadingHead,
		reqStates:      make(map[uint64]*reqState),
		plainResults:   make(map[uint64]*protocol.ResponseEnvelope),
		chunkedStreams: make(map[uint64]*chunkedStream),
	}
}

// Setup finishes wiring a Task into the loop that accepted its connection.
// It runs inside the AcceptFunc, before Loop.acceptAll adds the fd to the
// epoll set (acceptAll registers it only once the AcceptFunc has returned),
// so Setup's job is just to record the loop reference for later
// Deregister/Rearm calls, start the keep-alive clock, and flip the
// connection's setup-done latch (spec's documented design note: events
// observed racing ahead of this are dropped, since nothing can reach
// OnReadReady/OnWriteReady before AcceptFunc returns and the fd is
// registered).
func (t *Task) Setup(loop *engine.Loop) {
	t.loop = loop
	t.conn.MarkSetupDone()
	t.lastActivity = time.Now()
}

// --- engine.EventTarget ---

func (t *Task) OnReadReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.conn.SetupDone() {
		return
	}
	t.lastActivity = time.Now()

	for {
		tail, err := t.rb.WritableTail(4096)
		if err != nil {
			t.failBufferFull()
			return
		}
		n, rerr := engine.Read(t.conn.Fd, tail)
		if rerr != nil {
			if rerr == engine.ErrWouldBlock {
				break
			}
			t.failTransport(rerr)
			return
		}
		if n == 0 {
			// Peer closed. Finish any in-flight write, then close; don't
			// keep spinning on a socket that will never produce more bytes.
			t.closeRequested = true
			if t.wq.Empty() && t.inFlight == 0 {
				t.closeLocked()
			}
			return
		}
		t.sawFirstByte = true
		if err := t.rb.Advance(n); err != nil {
			t.failBufferFull()
			return
		}
	}

	t.driveParse()
}

func (t *Task) OnWriteReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.lastActivity = time.Now()

	_, empty, err := t.wq.Drain(func(p []byte) (int, error) {
		return engine.Write(t.conn.Fd, p)
	})
	if err != nil {
		t.failTransport(err)
		return
	}
	if empty && t.closeRequested && t.inFlight == 0 {
		t.closeLocked()
	}
}

func (t *Task) OnHangup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closeRequested = true
	if t.wq.Empty() && t.inFlight == 0 {
		t.closeLocked()
	}
}

func (t *Task) OnError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.collector.RecordError(stats.CategoryTransport, err)
	t.closeLocked()
}

// DesiredEvents reports the back-pressure decision (spec §5): read-interest
// is withdrawn once MaximalPipelineSize in-flight requests are outstanding
// or the WriteQueue has grown past its byte threshold.
func (t *Task) DesiredEvents() (wantRead, wantWrite bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desiredEventsLocked()
}

func (t *Task) desiredEventsLocked() (wantRead, wantWrite bool) {
	if t.closed {
		return false, false
	}
	wantRead = t.inFlight < t.cfg.MaximalPipelineSize && t.wq.ByteLength() < t.cfg.MaximalWriteQueueBytes
	wantWrite = !t.wq.Empty()
	return wantRead, wantWrite
}

// rearmLocked re-registers the socket for its current desired event set.
// OnResponse, SendChunk and FinishChunked can all run on a goroutine other
// than the one driving this fd's epoll readiness (an asynchronous
// Dispatcher's own goroutine): under EPOLLONESHOT a connection last armed
// read-only, because the WriteQueue was empty when its OnReadReady
// returned, will not fire again on its own once that goroutine enqueues a
// response — nothing else ever asks epoll_wait to watch it for EPOLLOUT.
// Calling this after such an enqueue is what wakes the loop back up.
// Assumes t.mu held.
func (t *Task) rearmLocked() {
	if t.loop == nil || t.closed {
		return
	}
	wantRead, wantWrite := t.desiredEventsLocked()
	t.loop.Rearm(t.conn.Fd, wantRead, wantWrite)
}

// CheckTimeout is invoked periodically by the owning server's sweep (see
// server.go); it applies IdleTimeout to a connection that has not yet sent
// a single byte and KeepAliveTimeout otherwise (the connection's own
// KeepAliveTimeout when non-zero, else the configured one), and
// force-closes a stuck in-flight write past GracefulDrainTimeout.
func (t *Task) CheckTimeout(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	idle := now.Sub(t.lastActivity)
	if t.inFlight == 0 && t.wq.Empty() {
		limit := t.cfg.KeepAliveTimeout
		if t.conn.KeepAliveTimeout > 0 {
			limit = t.conn.KeepAliveTimeout
		}
		if !t.sawFirstByte {
			limit = t.cfg.IdleTimeout
		}
		if limit > 0 && idle > limit {
			t.collector.RecordError(stats.CategoryTimeout, &protocol.TimeoutError{Reason: "idle"})
			t.closeLocked()
		}
		return
	}

	if idle > t.cfg.GracefulDrainTimeout {
		t.collector.RecordError(stats.CategoryTimeout, &protocol.TimeoutError{Reason: "in-flight grace exceeded"})
		t.closeLocked()
	}
}

// --- parse-drive algorithm ---

func (t *Task) driveParse() {
	for {
		switch t.state {
		case ReadingHead:
			if !t.tryParseHead() {
				return
			}
		case ReadingBody:
			if !t.tryCompleteBody() {
				return
			}
		default:
			return
		}
		if t.closed {
			return
		}
	}
}

func (t *Task) tryParseHead() bool {
	if t.closeRequested {
		// A prior request on this connection already decided to close;
		// any further pipelined bytes are never parsed.
		return false
	}
	raw := t.rb.Pending()
	req, headerLen, err := t.parser.ParseHead(raw)
	if err != nil {
		if protocol.IsIncomplete(err) {
			if len(raw) > t.cfg.MaximalHeaderSize {
				t.failProtocol(431, err)
			}
			return false
		}
		if pe, ok := err.(*protocol.ProtocolError); ok {
			t.failProtocol(pe.Status, pe)
		} else {
			t.failProtocol(400, err)
		}
		return false
	}
	if headerLen > t.cfg.MaximalHeaderSize {
		// A complete header block can still exceed the limit when every
		// byte of it arrived in one segment, skipping the incomplete-parse
		// branch above entirely — the outcome must not depend on how the
		// bytes happened to be chunked off the wire.
		t.failProtocol(431, protocol.ErrHeaderTooLarge)
		return false
	}

	start := t.rb.StartOfCurrentRequest()
	bodyStart := start + uint32(headerLen)
	t.rb.SetReadCursor(bodyStart)
	if req.Version == protocol.HTTP11 {
		t.conn.HTTP11 = true
	}

	if conn := req.Headers.Get("connection"); conn != "" && protocol.ConnectionHasToken(conn, "upgrade") {
		t.failProtocol(501, protocol.ErrInvalid)
		return false
	}

	length, present, lerr := protocol.ParseContentLength(req.Headers.Get("content-length"))
	if lerr != nil {
		t.failProtocol(400, lerr)
		return false
	}
	if !present {
		// No Transfer-Encoding/chunked decoding on the request side in this
		// task: an absent Content-Length always means an empty body,
		// whether or not the method conventionally carries one.
		length = 0
	}
	if length > t.cfg.MaximalBodySize {
		t.failProtocol(413, protocol.ErrBodyTooLarge)
		return false
	}
	req.ContentLength = length

	t.rb.SetBody(bodyStart, uint32(length))

	keepAlive := computeKeepAlive(req)
	if !keepAlive {
		t.closeRequested = true
	}
	req.Seq = t.nextSeq
	t.nextSeq++

	isHead := req.Method == protocol.MethodHEAD
	disp := protocol.Disposition{Version: req.Version, KeepAlive: keepAlive}

	if protocol.IsPreflight(req) {
		t.rb.AdvanceRequest(bodyStart)
		env := protocol.BuildPreflightResponse(req, t.cfg.CORS)
		t.registerReq(req, disp, isHead)
		t.inFlight++
		t.completeResponseLocked(req.Seq, env)
		t.state = ReadingHead
		return !t.closed
	}

	if strings.EqualFold(req.Headers.Get("expect"), "100-continue") && length > 0 &&
		uint32(t.rb.Size())-bodyStart < uint32(length) {
		t.writeInterim(disp.Version)
	}

	if length == 0 {
		t.rb.AdvanceRequest(bodyStart)
		req.SetBodyView(engine.View{})
		t.dispatchRequest(req, disp, isHead)
		t.state = ReadingHead
		return !t.closed && t.inFlight < t.cfg.MaximalPipelineSize
	}

	t.pendingHead = req
	t.pendingDisp = disp
	t.pendingIsHead = isHead
	t.state = ReadingBody
	return true
}

func (t *Task) tryCompleteBody() bool {
	bodyStart := t.rb.BodyStart()
	bodyLength := t.rb.BodyLength()
	available := uint32(t.rb.Size()) - bodyStart
	if available < bodyLength {
		return false
	}

	req := t.pendingHead
	req.SetBodyView(engine.View{St: bodyStart, End: bodyStart + bodyLength})
	req.Detach(t.rb.Raw())

	t.rb.SetReadCursor(bodyStart + bodyLength)
	t.rb.AdvanceRequest(bodyStart + bodyLength)
	t.dispatchRequest(req, t.pendingDisp, t.pendingIsHead)
	t.pendingHead = nil

	t.state = ReadingHead
	return !t.closed && t.inFlight < t.cfg.MaximalPipelineSize
}

func computeKeepAlive(req *protocol.ParsedRequest) bool {
	conn := req.Headers.Get("connection")
	if req.Version == protocol.HTTP11 {
		return !protocol.ConnectionHasToken(conn, "close")
	}
	return protocol.ConnectionHasToken(conn, "keep-alive")
}

// writeInterim enqueues a bare "100 Continue" status line ahead of reading
// the request body. This is a best-effort, fire-immediately response: a slow
// asynchronous dispatcher answering an earlier pipelined request could in
// principle still be ahead of it in true arrival order, but 100-continue
// responses are advisory and every production client treats them as
// unordered relative to final responses, so this task does not thread them
// through the reorder slot the way final responses are.
func (t *Task) writeInterim(version protocol.Version) {
	buf := engine.GetOutBuf()
	buf = append(buf, version.String()...)
	buf = append(buf, " 100 Continue\r\n\r\n"...)
	t.wq.Enqueue(buf, nil, true)
}

func (t *Task) registerReq(req *protocol.ParsedRequest, disp protocol.Disposition, isHead bool) {
	t.reqStates[req.Seq] = &reqState{parsed: req, disp: disp, isHead: isHead}
}

// dispatchRequest hands req to the configured Dispatcher. The lock is
// released for the call itself: a Dispatcher that resolves inline (the
// common synchronous case) invokes the result callback before returning,
// and that callback needs the lock to itself — holding it across the call
// would deadlock a same-goroutine synchronous dispatcher against a
// non-reentrant sync.Mutex.
func (t *Task) dispatchRequest(req *protocol.ParsedRequest, disp protocol.Disposition, isHead bool) {
	req.Detach(t.rb.Raw())
	t.registerReq(req, disp, isHead)
	t.inFlight++

	dreq := dispatch.Request{Parsed: req, Body: req.Body(nil), Seq: req.Seq}

	t.mu.Unlock()
	t.dispatcher.DispatchAsync(dreq, t.OnResponse)
	t.mu.Lock()
}

// OnResponse is the cross-thread hand-off point an asynchronous Dispatcher
// calls once a response is ready, tagged with the sequence number the
// reorder slot needs. It is exactly the dispatch.ResultFunc shape.
func (t *Task) OnResponse(seq uint64, env *protocol.ResponseEnvelope, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if err != nil {
		t.collector.RecordError(stats.CategoryHandler, err)
		env = errorEnvelope(err)
	}
	t.completeResponseLocked(seq, env)
	t.rearmLocked()
}

func errorEnvelope(err error) *protocol.ResponseEnvelope {
	status := 500
	if he, ok := err.(*protocol.HandlerError); ok && he.Status != 0 {
		status = he.Status
	}
	return &protocol.ResponseEnvelope{
		Status: status,
		Kind:   protocol.BodyBytes,
		Body:   []byte(protocol.ReasonPhrase(status)),
	}
}

// completeResponseLocked applies the CORS/encoding policy spec.md assigns to
// response finalization, then either stages the response for the reorder
// slot (BodyBytes/BodyHead) or opens a chunked stream, and attempts to flush
// whatever is now at the head of the write order. Assumes t.mu held.
func (t *Task) completeResponseLocked(seq uint64, env *protocol.ResponseEnvelope) {
	rs, ok := t.reqStates[seq]
	if !ok {
		return // unknown or already-aborted request
	}
	if rs.parsed.Cancelled {
		t.finishRequestAccounting(seq)
		return
	}

	protocol.ApplyCrossOriginHeaders(env, rs.parsed, t.cfg.CORS)
	if env.Kind == protocol.BodyBytes {
		acceptDeflate := protocol.AcceptsDeflate(rs.parsed.Headers.Get("accept-encoding"))
		if cerr := protocol.MaybeCompress(env, acceptDeflate, t.cfg.DeflateThreshold); cerr != nil {
			t.collector.RecordError(stats.CategoryHandler, cerr)
		}
	}
	if env.Close {
		t.closeRequested = true
		rs.disp.KeepAlive = false
	}

	switch env.Kind {
	case protocol.BodyChunked:
		t.chunkedStreams[seq] = &chunkedStream{env: env, disp: rs.disp}
	default:
		t.plainResults[seq] = env
	}

	t.tryFlush()
}

// tryFlush moves whatever response is now ready at the head of write order
// onto the WriteQueue, cascading through as many consecutive ready
// sequence numbers as are available.
func (t *Task) tryFlush() {
	for {
		if t.hasActiveChunk {
			return
		}
		if env, ok := t.plainResults[t.writeSeq]; ok {
			t.writePlain(t.writeSeq, env)
			delete(t.plainResults, t.writeSeq)
			seq := t.writeSeq
			t.writeSeq++
			t.finishRequestAccounting(seq)
			continue
		}
		if cs, ok := t.chunkedStreams[t.writeSeq]; ok {
			t.startChunk(t.writeSeq, cs)
			if cs.finished {
				delete(t.chunkedStreams, t.writeSeq)
				seq := t.writeSeq
				t.writeSeq++
				t.finishRequestAccounting(seq)
				continue
			}
			t.hasActiveChunk = true
			t.activeChunk = t.writeSeq
			return
		}
		return
	}
}

func (t *Task) writePlain(seq uint64, env *protocol.ResponseEnvelope) {
	rs := t.reqStates[seq]
	buf := engine.GetOutBuf()
	buf = t.asm.Build(buf, env, rs.disp, rs.isHead)
	t.wq.Enqueue(buf, nil, true)
}

func (t *Task) startChunk(seq uint64, cs *chunkedStream) {
	buf := engine.GetOutBuf()
	buf = t.asm.BuildChunkStart(buf, cs.env, cs.disp)
	for _, c := range cs.queued {
		buf = t.asm.AppendChunk(buf, c)
	}
	cs.queued = nil
	if cs.finished {
		buf = t.asm.AppendChunkTerminator(buf)
	}
	t.wq.Enqueue(buf, nil, true)
	cs.started = true
}

// SendChunk enqueues one framed chunk of a response previously opened via
// OnResponse(seq, env) with env.Kind == protocol.BodyChunked. Chunks for a
// stream that is not yet the head-of-line write are buffered in arrival
// order and flushed together once its turn comes.
func (t *Task) SendChunk(seq uint64, chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	cs, ok := t.chunkedStreams[seq]
	if !ok {
		return
	}
	cp := append([]byte(nil), chunk...)
	if t.hasActiveChunk && t.activeChunk == seq && cs.started {
		buf := engine.GetOutBuf()
		buf = t.asm.AppendChunk(buf, cp)
		t.wq.Enqueue(buf, nil, true)
		t.rearmLocked()
		return
	}
	cs.queued = append(cs.queued, cp)
}

// FinishChunked marks a chunked response complete, writing the terminator
// immediately if this stream is the current head-of-line write, or marking
// it to be appended once its turn comes otherwise.
func (t *Task) FinishChunked(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	cs, ok := t.chunkedStreams[seq]
	if !ok {
		return
	}
	if t.hasActiveChunk && t.activeChunk == seq && cs.started {
		buf := engine.GetOutBuf()
		buf = t.asm.AppendChunkTerminator(buf)
		t.wq.Enqueue(buf, nil, true)
		delete(t.chunkedStreams, seq)
		t.hasActiveChunk = false
		t.finishRequestAccounting(seq)
		t.writeSeq++
		t.tryFlush()
		t.rearmLocked()
		return
	}
	cs.finished = true
}

func (t *Task) finishRequestAccounting(seq uint64) {
	delete(t.reqStates, seq)
	t.inFlight--
	t.rb.NoteRequestServed()
	if t.rb.ShouldCompact(t.cfg.RunCompactEvery) {
		t.compactAndRebase()
	}
	if t.closeRequested && t.inFlight == 0 && len(t.plainResults) == 0 && len(t.chunkedStreams) == 0 && t.wq.Empty() {
		t.closeLocked()
	}
}

func (t *Task) compactAndRebase() {
	delta := t.rb.Compact()
	if delta == 0 {
		return
	}
	for _, rs := range t.reqStates {
		rs.parsed.ShiftBodyView(delta)
	}
}

// abortPending cancels every in-flight request and clears reorder state,
// used before tearing a connection down on a fatal protocol or transport
// error — once the connection is closing, per-request write order no
// longer matters since nothing further will ever reach the wire.
func (t *Task) abortPending() {
	for _, rs := range t.reqStates {
		rs.parsed.Cancelled = true
	}
	t.reqStates = make(map[uint64]*reqState)
	t.plainResults = make(map[uint64]*protocol.ResponseEnvelope)
	t.chunkedStreams = make(map[uint64]*chunkedStream)
	t.inFlight = 0
	t.hasActiveChunk = false
	t.pendingHead = nil
}

func (t *Task) failProtocol(status int, err error) {
	t.collector.RecordError(stats.CategoryProtocol, err)
	t.abortPending()
	disp := protocol.Disposition{Version: protocol.HTTP11, KeepAlive: false}
	env := &protocol.ResponseEnvelope{Status: status, Kind: protocol.BodyBytes, Body: []byte(protocol.ReasonPhrase(status))}
	buf := engine.GetOutBuf()
	buf = t.asm.Build(buf, env, disp, false)
	t.wq.Enqueue(buf, nil, true)
	t.closeRequested = true
	t.state = Closed
}

func (t *Task) failBufferFull() {
	if t.state == ReadingBody {
		t.failProtocol(413, engine.ErrBufferFull)
		return
	}
	t.failProtocol(431, engine.ErrBufferFull)
}

func (t *Task) failTransport(err error) {
	t.collector.RecordError(stats.CategoryTransport, err)
	t.wq.Discard()
	t.abortPending()
	t.closeLocked()
}

// closeLocked tears the connection down: deregisters from the event loop,
// closes the socket, discards anything left queued, and returns pooled
// resources. Idempotent. Assumes t.mu held.
func (t *Task) closeLocked() {
	if t.closed {
		return
	}
	t.closed = true
	t.state = Closed
	if t.loop != nil {
		t.loop.Deregister(t.conn.Fd)
	}
	engine.Close(t.conn.Fd)
	t.wq.Discard()
	engine.ReleaseReadBuffer(t.rb)
}

// Close forces the connection closed, for the owning server's graceful
// shutdown sweep.
func (t *Task) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.abortPending()
	t.closeLocked()
}
