package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	stdhttp "net/http"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"

	"github.com/shapestone/shape-h1/internal/tokenizer"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Config  Config
	Logger  *slog.Logger // slog.Default() when nil
	Metrics *Metrics     // no metrics when nil
	Tracer  trace.Tracer // the global tracer when nil
	H2      HandoffFunc  // nil disables HTTP/2 handoff
	ID      string       // connection ID; a random UUID when empty
}

// Dispatcher owns one connection for its lifetime and drives it through
// its transactions.
//
// A single goroutine (Serve) owns all connection state. Socket reads, socket
// writes and handlers run on helper goroutines that report back through one
// event channel, so reads of the next request overlap with handlers and
// writes of earlier ones while responses are still written strictly in
// request order.
type Dispatcher struct {
	conn    net.Conn
	handler Handler
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	h2      HandoffFunc
	id      string

	state     State
	stateView atomic.Uint32
	buf       *Buffer
	dec       *Decoder

	queue    []*transaction // in request order; the head is written next
	current  *transaction   // transaction whose body is being read
	served   int
	upgraded *transaction

	eof          bool
	noMoreReads  bool
	readPending  bool
	writing      bool
	headDeadline time.Time
	closeErr     error

	ctx    context.Context
	cancel context.CancelFunc
	events chan any
	reads  chan []byte
	writes chan writeJob
	drain  chan struct{} // wakes the owner after CloseIdle
	done   chan struct{}

	draining atomic.Bool
}

type transaction struct {
	id      int
	head    *RequestHead
	req     *Request
	payload *Payload
	ctx     context.Context
	cancel  context.CancelFunc

	resp      *Response
	ready     bool
	keepAlive bool
	upgrade   bool
	bodyDone  bool
	abandoned bool
	deadline  time.Time

	expect         bool // Expect: 100-continue with a body
	continueQueued bool
	continueSent   bool
}

type (
	readDone struct {
		n   int
		err error
	}
	responseReady struct {
		tx   *transaction
		resp *Response
	}
	writeJob struct {
		tx        *transaction
		interim   bool
		keepAlive bool
	}
	writeDone struct {
		tx        *transaction
		head      *ResponseHead // as written
		interim   bool
		upgraded  bool
		closeConn bool
		err       error
	}
	payloadEvent struct {
		tx   *transaction
		kind payloadEventKind
	}
)

type payloadEventKind uint8

const (
	payloadStarted payloadEventKind = iota
	payloadDrained
	payloadAbandoned
)

// NewDispatcher returns a Dispatcher for conn.
func NewDispatcher(conn net.Conn, h Handler, opts DispatcherOptions) *Dispatcher {
	cfg := opts.Config.withDefaults()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &Dispatcher{
		conn:    conn,
		handler: h,
		cfg:     cfg,
		log:     logger.With(slog.String("conn", id), slog.String("remote", addrString(conn.RemoteAddr()))),
		metrics: opts.Metrics,
		tracer:  tracer,
		h2:      opts.H2,
		id:      id,
		buf:     NewBuffer(cfg.ReadBufferSize, cfg.MaxBufferSize),
		dec:     NewRequestDecoder(cfg),
		events:  make(chan any, 16),
		reads:   make(chan []byte, 1),
		writes:  make(chan writeJob, 1),
		drain:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// ID returns the connection ID.
func (d *Dispatcher) ID() string { return d.id }

// State returns the current connection state. It is safe to call from any
// goroutine.
func (d *Dispatcher) State() State { return State(d.stateView.Load()) }

// Serve runs the connection until it closes, is upgraded or is handed off.
// It returns nil after a graceful close and the failure otherwise.
// Cancelling ctx closes the connection.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	d.metrics.connOpened(d.ctx)
	defer d.metrics.connClosed(context.Background())
	d.log.Info("connection opened")

	if d.h2 != nil && negotiatedH2(d.conn) {
		d.transition(EvH2Preface, conditions{})
		return d.handoff()
	}

	go d.readLoop()
	go d.writeLoop()

	for {
		d.advance()
		switch d.state {
		case StateClosing:
			return d.shutdown()
		case StateUpgraded:
			return d.relay()
		case StateHandedOff:
			return d.handoff()
		}

		select {
		case ev := <-d.events:
			d.handle(ev)
		case <-d.drain:
		case <-d.ctx.Done():
			d.closeErr = d.ctx.Err()
			d.transition(EvCancel, conditions{})
		}
	}
}

// CloseIdle asks the connection to close as soon as no request is in
// progress. Responses still owed are written first, the last one with
// Connection: close. It is safe to call from any goroutine.
func (d *Dispatcher) CloseIdle() {
	d.draining.Store(true)
	select {
	case d.drain <- struct{}{}:
	default:
	}
}

func negotiatedH2(c net.Conn) bool {
	cs, ok := c.(interface{ ConnectionState() tls.ConnectionState })
	return ok && cs.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS
}

func (d *Dispatcher) transition(ev Event, c conditions) {
	next := transition(d.state, ev, c)
	if next == d.state {
		return
	}
	d.log.Debug("state changed", "from", d.state.String(), "to", next.String(), "event", ev.String())
	d.state = next
	d.stateView.Store(uint32(next))
}

func (d *Dispatcher) send(ev any) bool {
	select {
	case d.events <- ev:
		return true
	case <-d.done:
		return false
	}
}

func (d *Dispatcher) readLoop() {
	for {
		select {
		case p := <-d.reads:
			n, err := d.conn.Read(p)
			if !d.send(readDone{n: n, err: err}) {
				return
			}
		case <-d.done:
			return
		}
	}
}

func (d *Dispatcher) writeLoop() {
	enc := NewEncoder(d.conn, d.cfg.WriteWatermark)
	for {
		select {
		case job := <-d.writes:
			if !d.send(d.write(enc, job)) {
				return
			}
		case <-d.done:
			return
		}
	}
}

func (d *Dispatcher) handle(ev any) {
	switch ev := ev.(type) {
	case readDone:
		d.onRead(ev)
	case responseReady:
		d.onResponse(ev.tx, ev.resp)
	case writeDone:
		d.onWritten(ev)
	case payloadEvent:
		d.onPayload(ev)
	}
}

// advance makes all progress possible without waiting, then schedules the
// next socket read and response write.
func (d *Dispatcher) advance() {
	if d.state == StateClosing || d.state.Terminal() {
		return
	}
	for d.step() {
	}
	if d.draining.Load() && d.state == StateReadingHead && len(d.queue) == 0 && d.buf.Len() == 0 {
		d.log.Debug("closing idle connection")
		d.noMoreReads = true
		d.transition(EvIdleClose, conditions{})
		return
	}
	d.requestRead()
	d.startWrite()
}

func (d *Dispatcher) step() bool {
	switch d.state {
	case StateReadingHead:
		if len(d.queue) >= d.cfg.MaxPipelined {
			return false
		}
		if d.served == 0 && d.h2 != nil {
			switch d.matchPreface() {
			case prefaceFull:
				d.transition(EvH2Preface, conditions{})
				return false
			case prefacePartial:
				return false
			}
		}
	case StateStreamingBody:
		tx := d.current
		if tx.payload.full() || (tx.expect && !tx.continueSent) {
			return false
		}
	default:
		return false
	}
	return d.decode()
}

type prefaceMatch uint8

const (
	prefaceNone prefaceMatch = iota
	prefacePartial
	prefaceFull
)

// matchPreface looks for the HTTP/2 connection preface (prior knowledge).
func (d *Dispatcher) matchPreface() prefaceMatch {
	data := d.buf.Bytes()
	n := len(data)
	if n > len(http2.ClientPreface) {
		n = len(http2.ClientPreface)
	}
	if string(data[:n]) != http2.ClientPreface[:n] {
		return prefaceNone
	}
	if n == len(http2.ClientPreface) {
		return prefaceFull
	}
	if d.eof {
		return prefaceNone
	}
	return prefacePartial
}

func (d *Dispatcher) decode() bool {
	out := d.dec.Decode(d.buf)
	if out.Kind == NeedMoreData && d.eof {
		out = d.dec.DecodeEOF(d.buf)
	}
	switch out.Kind {
	case HeadDecoded:
		d.onHead(out.Request)
	case BodyChunk:
		d.onBodyChunk(out.Chunk)
	case MessageComplete:
		d.onBodyDone()
	case StreamClosed:
		d.onPeerClosed()
	case DecodeFailed:
		d.onDecodeError(out.Err)
	default:
		return false
	}
	return true
}

func (d *Dispatcher) requestRead() {
	if d.readPending || d.eof || d.noMoreReads {
		return
	}
	switch d.state {
	case StateReadingHead:
		if len(d.queue) >= d.cfg.MaxPipelined {
			return
		}
	case StateStreamingBody:
		tx := d.current
		if tx.payload.full() || (tx.expect && !tx.continueSent) {
			return
		}
	default:
		return
	}

	free := d.buf.Free()
	if len(free) == 0 {
		d.onDecodeError(newError(KindHeaderLimitExceeded, "read buffer ceiling reached", ErrBufferFull))
		return
	}
	d.conn.SetReadDeadline(d.readDeadline())
	d.readPending = true
	d.reads <- free
}

func (d *Dispatcher) readDeadline() time.Time {
	switch d.state {
	case StateReadingHead:
		if d.buf.Len() > 0 {
			if d.headDeadline.IsZero() {
				d.headDeadline = time.Now().Add(d.cfg.HeadTimeout)
			}
			return d.headDeadline
		}
		if len(d.queue) > 0 {
			// The peer is waiting on us, not idle.
			return time.Time{}
		}
		return time.Now().Add(d.cfg.KeepAliveTimeout)
	case StateStreamingBody:
		return d.current.deadline
	}
	return time.Time{}
}

func (d *Dispatcher) onRead(ev readDone) {
	d.readPending = false
	d.buf.Commit(ev.n)
	if ev.err == nil {
		return
	}
	var ne net.Error
	switch {
	case errors.As(ev.err, &ne) && ne.Timeout():
		d.onTimeout()
	case errors.Is(ev.err, io.EOF):
		d.eof = true
	default:
		d.onTransportError(ev.err)
	}
}

func (d *Dispatcher) onHead(h *RequestHead) {
	d.served++
	tx := &transaction{id: d.served, head: h}
	tx.ctx, tx.cancel = context.WithCancel(d.ctx)

	conn := h.ConnType
	if conn == Upgrade {
		conn = h.fallback
	}
	tx.keepAlive = conn == KeepAlive && (d.cfg.MaxTransactions == 0 || d.served < d.cfg.MaxTransactions)

	if h.Framing.HasBody() {
		tx.expect = h.ExpectContinue
		tx.payload = newPayload(d.cfg.MaxPayloadBuffer, payloadHooks{
			onStart:   func() { d.send(payloadEvent{tx: tx, kind: payloadStarted}) },
			onDrain:   func() { d.send(payloadEvent{tx: tx, kind: payloadDrained}) },
			onAbandon: func() { d.send(payloadEvent{tx: tx, kind: payloadAbandoned}) },
		})
		tx.deadline = time.Now().Add(d.cfg.BodyTimeout)
	} else {
		tx.payload = emptyPayload()
	}
	tx.req = &Request{Head: h, Payload: tx.payload, RemoteAddr: d.conn.RemoteAddr(), ConnID: d.id}

	d.queue = append(d.queue, tx)
	d.current = tx
	d.headDeadline = time.Time{}
	d.log.Debug("request", "tx", tx.id, "method", h.Method, "target", h.Target,
		"version", h.Version.String(), "framing", h.Framing.String())

	d.transition(EvHead, conditions{})
	go d.runHandler(tx)
}

func (d *Dispatcher) onBodyChunk(c []byte) {
	tx := d.current
	tx.payload.push(c)
	if tx.payload.discardedBytes() > d.cfg.MaxDiscard {
		d.abandonBody(tx)
	}
}

func (d *Dispatcher) onBodyDone() {
	tx := d.current
	tx.payload.finish(nil)
	tx.bodyDone = true
	d.current = nil
	d.transition(EvBodyDone, conditions{
		keepAlive: tx.keepAlive && !d.noMoreReads,
		upgrade:   tx.head.ConnType == Upgrade,
	})
}

// abandonBody stops reading a request body. The remaining bytes cannot be
// skipped reliably, so the connection closes after the queued responses.
func (d *Dispatcher) abandonBody(tx *transaction) {
	tx.keepAlive = false
	tx.abandoned = true
	d.noMoreReads = true
	tx.payload.finish(ErrBodyAbandoned)
	if tx == d.current {
		d.current = nil
	}
	d.log.Debug("request body abandoned", "tx", tx.id)
	d.transition(EvBodyAbandoned, conditions{pending: len(d.queue) > 0})
}

func (d *Dispatcher) onPeerClosed() {
	d.noMoreReads = true
	d.transition(EvPeerClosed, conditions{pending: len(d.queue) > 0})
}

func (d *Dispatcher) onTimeout() {
	switch d.state {
	case StateReadingHead:
		if d.buf.Len() == 0 {
			d.log.Debug("keep-alive timeout")
			d.noMoreReads = true
			d.transition(EvTimeout, conditions{pending: len(d.queue) > 0})
			return
		}
		d.onDecodeError(newError(KindTimeout, "request head not received in time", os.ErrDeadlineExceeded))
	case StateStreamingBody:
		d.onDecodeError(newError(KindTimeout, "request body not received in time", os.ErrDeadlineExceeded))
	}
}

// onDecodeError answers a bad head with an error response and closes; a
// bad body closes at once, since the peer is out of sync.
func (d *Dispatcher) onDecodeError(e *Error) {
	d.metrics.decodeError(d.ctx, e.Kind)
	d.noMoreReads = true

	if d.state == StateStreamingBody {
		d.log.Warn("request body rejected", "err", e)
		if d.current != nil {
			d.current.payload.finish(e)
		}
		d.closeErr = e
		d.transition(EvDecodeError, conditions{})
		return
	}

	d.log.Warn("request head rejected", "err", e)
	if status := e.StatusCode(); status != 0 {
		d.queue = append(d.queue, d.errorTransaction(status))
	}
	d.transition(EvDecodeError, conditions{pending: len(d.queue) > 0})
}

func (d *Dispatcher) errorTransaction(status int) *transaction {
	resp := NewResponse(status, FixedBody([]byte(StatusText(status)+"\n")))
	resp.Head.Headers.Add("Content-Type", "text/plain; charset=utf-8")
	tx := &transaction{
		head:    &RequestHead{Method: "GET", Version: HTTP11},
		payload: emptyPayload(),
		resp:    resp,
		ready:   true,
	}
	tx.ctx, tx.cancel = context.WithCancel(d.ctx)
	return tx
}

func (d *Dispatcher) onTransportError(err error) {
	e := newError(KindTransport, "read failed", err)
	d.log.Warn("connection read failed", "err", err)
	d.closeErr = e
	if d.current != nil {
		d.current.payload.finish(e)
	}
	d.transition(EvTransportError, conditions{})
}

func (d *Dispatcher) runHandler(tx *transaction) {
	ctx, span := d.tracer.Start(tx.ctx, "h1.transaction",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", tx.head.Method),
			attribute.String("url.path", tx.head.Target),
			attribute.String("network.protocol.version", fmt.Sprintf("%d.%d", tx.head.Version.Major, tx.head.Version.Minor)),
		))

	var resp *Response
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*Error); ok && e.Kind == KindMisuse {
				span.End()
				panic(r)
			}
			d.log.Error("handler panic", "tx", tx.id, "panic", r, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "handler panic")
			resp = NewResponse(500, EmptyBody())
			resp.Head.ConnType = Close
		}
		if resp == nil || resp.Head == nil {
			d.log.Error("handler returned no response", "tx", tx.id)
			resp = NewResponse(500, EmptyBody())
		}
		span.SetAttributes(attribute.Int("http.response.status_code", resp.Head.StatusCode))
		span.End()
		d.send(responseReady{tx: tx, resp: resp})
	}()
	resp = d.handler.ServeHTTP1(ctx, tx.req)
}

func (d *Dispatcher) onResponse(tx *transaction, resp *Response) {
	tx.resp = resp
	tx.ready = true
	code := resp.Head.StatusCode

	tx.upgrade = tx.head.ConnType == Upgrade && resp.Upgrade != nil &&
		(code == 101 || (tx.head.IsConnect() && code/100 == 2))
	if code == 101 && !tx.upgrade {
		d.log.Warn("101 response without an accepted upgrade", "tx", tx.id)
		tx.keepAlive = false
	}
	if resp.Head.ConnType == Close || tokenizer.Contains(resp.Head.Headers.Values("Connection"), "close") {
		tx.keepAlive = false
	}

	// A final answer before the body was asked for: 100 Continue is never
	// sent and the body is never read.
	if tx == d.current && !tx.bodyDone && tx.expect && !tx.continueSent {
		tx.continueQueued = false
		tx.upgrade = false
		d.abandonBody(tx)
	}
}

func (d *Dispatcher) onPayload(ev payloadEvent) {
	tx := ev.tx
	switch ev.kind {
	case payloadStarted:
		if tx == d.current && tx.expect && !tx.continueSent && !tx.ready {
			tx.continueQueued = true
		}
	case payloadAbandoned:
		if tx == d.current && !tx.bodyDone && !tx.abandoned {
			d.abandonBody(tx)
		}
	}
}

func (d *Dispatcher) startWrite() {
	if d.writing || len(d.queue) == 0 || d.state == StateClosing || d.state.Terminal() {
		return
	}
	tx := d.queue[0]
	switch {
	case tx.ready:
		if tx.upgrade && !tx.bodyDone {
			// The protocol cannot switch while request body bytes are pending.
			tx.upgrade = false
			tx.keepAlive = false
		}
		keepAlive := tx.keepAlive && (len(d.queue) > 1 || !d.noMoreReads)
		if d.draining.Load() && len(d.queue) == 1 && d.current == nil {
			// Nothing else will be read; tell the peer before closing.
			keepAlive = false
			d.noMoreReads = true
		}
		d.writing = true
		d.transition(EvWriteStarted, conditions{pending: len(d.queue) > 1})
		d.writes <- writeJob{tx: tx, keepAlive: keepAlive}
	case tx.continueQueued && !tx.continueSent:
		d.writing = true
		d.writes <- writeJob{tx: tx, interim: true}
	}
}

// write runs on the writer goroutine.
func (d *Dispatcher) write(enc *Encoder, job writeJob) (res writeDone) {
	res.tx = job.tx
	res.interim = job.interim
	d.conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))

	if job.interim {
		res.err = enc.WriteInterim(100)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*Error); ok && e.Kind == KindMisuse {
				panic(r)
			}
			res.err = fmt.Errorf("http: body producer panic: %v", r)
		}
	}()

	tx := job.tx
	resp := tx.resp
	// The handler may reuse its Response; framing and decoration go on a copy.
	head := resp.Head.clone()
	res.head = head
	switch {
	case tx.upgrade:
		head.ConnType = Upgrade
	case !job.keepAlive:
		head.ConnType = Close
	default:
		head.ConnType = KeepAlive
	}
	d.decorate(head)

	f := enc.BeginResponse(tx.head, head, resp.Body.Size())
	if f.Kind != FramingNone || tx.head.IsHead() {
		if err := writeBody(tx.ctx, enc, resp.Body); err != nil {
			res.err = err
			return res
		}
	}
	if err := enc.Finish(); err != nil {
		res.err = err
		return res
	}
	res.upgraded = tx.upgrade
	res.closeConn = head.ConnType == Close || f.Kind == FramingClose
	return res
}

func (d *Dispatcher) decorate(h *ResponseHead) {
	if d.cfg.SendDate && !h.Headers.Has("Date") {
		h.Headers.Add("Date", time.Now().UTC().Format(stdhttp.TimeFormat))
	}
	if d.cfg.ServerName != "" && !h.Headers.Has("Server") {
		h.Headers.Add("Server", d.cfg.ServerName)
	}
}

func (d *Dispatcher) onWritten(ev writeDone) {
	d.writing = false
	tx := ev.tx
	if ev.err != nil {
		d.log.Warn("response write failed", "tx", tx.id, "err", ev.err)
		d.closeErr = newError(KindTransport, "write failed", ev.err)
		d.transition(EvWriteError, conditions{})
		return
	}
	if ev.interim {
		tx.continueQueued = false
		tx.continueSent = true
		return
	}

	d.queue = d.queue[1:]
	tx.cancel()
	if tx.req != nil {
		d.metrics.transaction(d.ctx, tx.head.Method, tx.resp.Head.StatusCode)
	}
	d.log.Debug("response written", "tx", tx.id, "status", ev.head.StatusCode,
		"connection", ev.head.ConnType.String())
	if ev.upgraded {
		d.upgraded = tx
	}

	// The handler is finished with a body it did not drain: skip the rest
	// if it is small enough, otherwise give up on the connection.
	if tx == d.current && !tx.bodyDone && !ev.closeConn {
		tx.payload.setDiscard()
		left, known := d.dec.Remaining()
		if tx.payload.discardedBytes() > d.cfg.MaxDiscard || (known && int64(left) > d.cfg.MaxDiscard) {
			d.abandonBody(tx)
		}
	}

	keep := !ev.closeConn && !(d.noMoreReads && len(d.queue) == 0)
	d.transition(EvResponseWritten, conditions{keepAlive: keep, upgrade: ev.upgraded, pending: len(d.queue) > 0})

	if d.state == StateReadingHead && d.readPending && len(d.queue) == 0 && d.buf.Len() == 0 {
		d.conn.SetReadDeadline(d.readDeadline())
	}
}

// awaitRead waits for the outstanding read and keeps its bytes.
func (d *Dispatcher) awaitRead() error {
	for ev := range d.events {
		if rd, ok := ev.(readDone); ok {
			d.readPending = false
			d.buf.Commit(rd.n)
			return rd.err
		}
	}
	return nil
}

// settleRead interrupts an outstanding read so the buffer holds every byte
// received so far.
func (d *Dispatcher) settleRead() {
	if !d.readPending {
		return
	}
	d.conn.SetReadDeadline(time.Now())
	d.awaitRead()
	d.conn.SetReadDeadline(time.Time{})
}

func (d *Dispatcher) shutdown() error {
	d.cancel()
	graceful := d.closeErr == nil
	if graceful {
		d.linger()
	}
	d.conn.Close()
	close(d.done)
	d.finishAll(ErrConnClosed)
	d.transition(EvClosed, conditions{})
	d.log.Info("connection closed", "transactions", d.served, "err", d.closeErr)
	if graceful {
		return nil
	}
	return d.closeErr
}

// linger half-closes the connection and drains the peer for CloseGrace, so
// a response is not lost to a reset caused by unread request bytes.
func (d *Dispatcher) linger() {
	cw, ok := d.conn.(interface{ CloseWrite() error })
	if !ok {
		return
	}
	if err := cw.CloseWrite(); err != nil {
		return
	}
	d.conn.SetReadDeadline(time.Now().Add(d.cfg.CloseGrace))
	if d.readPending {
		if err := d.awaitRead(); err != nil {
			return
		}
	}
	scratch := make([]byte, 4<<10)
	for {
		if _, err := d.conn.Read(scratch); err != nil {
			return
		}
	}
}

func (d *Dispatcher) finishAll(err error) {
	for _, tx := range d.queue {
		tx.payload.finish(err)
		tx.cancel()
	}
	if d.current != nil {
		d.current.payload.finish(err)
		d.current.cancel()
	}
}

// relay hands the connection to the upgrade handler. Bytes read past the
// upgrade request are replayed to it and never parsed as HTTP.
func (d *Dispatcher) relay() error {
	tx := d.upgraded
	d.settleRead()
	close(d.done)
	d.conn.SetDeadline(time.Time{})
	defer d.conn.Close()

	d.metrics.upgrade(d.ctx, tx.head.Upgrade)
	d.log.Info("protocol switched", "protocol", tx.head.Upgrade, "tx", tx.id)
	tx.resp.Upgrade(d.ctx, &prefixConn{Conn: d.conn, prefix: d.buf.Take()})
	return nil
}

// handoff passes the raw connection to HTTP/2, preface included.
func (d *Dispatcher) handoff() error {
	d.settleRead()
	close(d.done)
	d.conn.SetDeadline(time.Time{})

	d.metrics.h2Handoff(d.ctx)
	d.log.Info("handing connection to HTTP/2")
	var conn net.Conn = d.conn
	if prefix := d.buf.Take(); prefix != nil {
		conn = &prefixConn{Conn: d.conn, prefix: prefix}
	}
	d.h2(conn)
	return nil
}

// prefixConn replays bytes that were read ahead before reading the socket.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
