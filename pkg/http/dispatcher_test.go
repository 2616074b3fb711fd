package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/net/http2"
)

// testConn is the client end of a connection served by a Dispatcher.
type testConn struct {
	t       *testing.T
	client  net.Conn
	buf     *Buffer
	dec     *Decoder
	eof     bool
	d       *Dispatcher
	served  chan error
	reader  *sdkmetric.ManualReader
	spans   *tracetest.SpanRecorder
	cancel  context.CancelFunc
	writeWG sync.WaitGroup
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SendDate = false
	cfg.KeepAliveTimeout = 2 * time.Second
	cfg.HeadTimeout = 2 * time.Second
	cfg.BodyTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	cfg.CloseGrace = 50 * time.Millisecond
	return cfg
}

func newTestConn(t *testing.T, h Handler, opts DispatcherOptions) *testConn {
	t.Helper()
	if opts.Config == (Config{}) {
		opts.Config = testConfig()
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	reader := sdkmetric.NewManualReader()
	m, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	opts.Metrics = m

	spans := tracetest.NewSpanRecorder()
	opts.Tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)).Tracer("test")

	server, client := net.Pipe()
	d := NewDispatcher(server, h, opts)
	ctx, cancel := context.WithCancel(context.Background())
	tc := &testConn{
		t:      t,
		client: client,
		buf:    NewBuffer(4096, 1<<20),
		dec:    NewResponseDecoder(opts.Config),
		d:      d,
		served: make(chan error, 1),
		reader: reader,
		spans:  spans,
		cancel: cancel,
	}
	go func() { tc.served <- d.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		client.Close()
		tc.writeWG.Wait()
	})
	return tc
}

// send writes s without blocking the test; the dispatcher may pause reads.
func (tc *testConn) send(s string) {
	tc.writeWG.Add(1)
	go func() {
		defer tc.writeWG.Done()
		tc.client.Write([]byte(s))
	}()
}

// next reads one response to a request with the given method.
func (tc *testConn) next(method string) (*ResponseHead, string, error) {
	tc.client.SetReadDeadline(time.Now().Add(3 * time.Second))
	tc.dec.ExpectResponseTo(method)
	var (
		head *ResponseHead
		body []byte
	)
	for {
		var out Outcome
		if tc.eof {
			out = tc.dec.DecodeEOF(tc.buf)
		} else {
			out = tc.dec.Decode(tc.buf)
		}
		switch out.Kind {
		case NeedMoreData:
			if tc.eof {
				return nil, "", io.ErrUnexpectedEOF
			}
			if _, err := tc.buf.Fill(tc.client); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
					return nil, "", err
				}
				tc.eof = true
			}
		case HeadDecoded:
			head = out.Response
		case BodyChunk:
			body = append(body, out.Chunk...)
		case MessageComplete:
			return head, string(body), nil
		case StreamClosed:
			return nil, "", io.EOF
		case DecodeFailed:
			return nil, "", out.Err
		}
	}
}

func (tc *testConn) mustNext(method string) (*ResponseHead, string) {
	tc.t.Helper()
	h, body, err := tc.next(method)
	require.NoError(tc.t, err)
	return h, body
}

// requireClosed checks that the server closed the connection.
func (tc *testConn) requireClosed() {
	tc.t.Helper()
	_, _, err := tc.next("GET")
	require.ErrorIs(tc.t, err, io.EOF)
}

// readRaw reads n bytes that follow the last response.
func (tc *testConn) readRaw(n int) string {
	tc.t.Helper()
	out := make([]byte, 0, n)
	if pre := tc.buf.Bytes(); len(pre) > 0 {
		k := len(pre)
		if k > n {
			k = n
		}
		out = append(out, pre[:k]...)
		tc.buf.Discard(k)
	}
	rest := make([]byte, n-len(out))
	tc.client.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err := io.ReadFull(tc.client, rest)
	require.NoError(tc.t, err)
	return string(append(out, rest...))
}

func (tc *testConn) wait() error {
	tc.t.Helper()
	select {
	case err := <-tc.served:
		return err
	case <-time.After(3 * time.Second):
		tc.t.Fatal("Serve did not return")
		return nil
	}
}

func (tc *testConn) metric(name string) int64 {
	tc.t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(tc.t, tc.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// echoTarget answers with the request target.
var echoTarget = HandlerFunc(func(ctx context.Context, req *Request) *Response {
	return NewResponse(200, FixedBody([]byte(req.Head.Target)))
})

func TestDispatcher_KeepAlive(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{})

	tc.send("GET /one HTTP/1.1\r\nHost: a\r\n\r\n")
	h, body := tc.mustNext("GET")
	require.Equal(t, 200, h.StatusCode)
	require.Equal(t, KeepAlive, h.ConnType)
	require.Equal(t, "/one", body)

	tc.send("GET /two HTTP/1.1\r\nHost: a\r\n\r\n")
	_, body = tc.mustNext("GET")
	require.Equal(t, "/two", body)

	tc.client.Close()
	require.NoError(t, tc.wait())
	require.Equal(t, StateClosed, tc.d.State())
	require.EqualValues(t, 2, tc.metric("h1.transactions"))
	require.EqualValues(t, 1, tc.metric("h1.connections.accepted"))
	require.EqualValues(t, 0, tc.metric("h1.connections.active"))
}

func TestDispatcher_HTTP10(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{})
	tc.send("GET /old HTTP/1.0\r\n\r\n")
	_, body := tc.mustNext("GET")
	require.Equal(t, "/old", body)
	tc.requireClosed()
	require.NoError(t, tc.wait())
}

func TestDispatcher_HTTP10KeepAlive(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{})
	tc.send("GET /a HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	h, _ := tc.mustNext("GET")
	require.Equal(t, "keep-alive", h.Headers.Get("Connection"))

	tc.send("GET /b HTTP/1.0\r\n\r\n")
	_, body := tc.mustNext("GET")
	require.Equal(t, "/b", body)
	tc.requireClosed()
}

func TestDispatcher_ConnectionClose(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{})
	tc.send("GET / HTTP/1.1\r\nHost: a\r\nConnection: close\r\n\r\n")
	h, _ := tc.mustNext("GET")
	require.Equal(t, Close, h.ConnType)
	tc.requireClosed()
	require.NoError(t, tc.wait())
}

func TestDispatcher_MaxTransactions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTransactions = 2
	tc := newTestConn(t, echoTarget, DispatcherOptions{Config: cfg})

	tc.send("GET /1 HTTP/1.1\r\nHost: a\r\n\r\n")
	h, _ := tc.mustNext("GET")
	require.Equal(t, KeepAlive, h.ConnType)

	tc.send("GET /2 HTTP/1.1\r\nHost: a\r\n\r\n")
	h, _ = tc.mustNext("GET")
	require.Equal(t, Close, h.ConnType)
	tc.requireClosed()
}

func TestDispatcher_PipelinedResponsesInOrder(t *testing.T) {
	cDone := make(chan struct{})
	bDone := make(chan struct{})
	var mu sync.Mutex
	var finished []string

	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		switch req.Head.Target {
		case "/a":
			<-bDone
		case "/b":
			<-cDone
			defer close(bDone)
		case "/c":
			defer close(cDone)
		}
		mu.Lock()
		finished = append(finished, req.Head.Target)
		mu.Unlock()
		return NewResponse(200, FixedBody([]byte(req.Head.Target)))
	})
	tc := newTestConn(t, h, DispatcherOptions{})

	tc.send("GET /a HTTP/1.1\r\nHost: x\r\n\r\n" +
		"GET /b HTTP/1.1\r\nHost: x\r\n\r\n" +
		"GET /c HTTP/1.1\r\nHost: x\r\n\r\n")

	for _, want := range []string{"/a", "/b", "/c"} {
		_, body := tc.mustNext("GET")
		require.Equal(t, want, body)
	}
	mu.Lock()
	require.Equal(t, []string{"/c", "/b", "/a"}, finished)
	mu.Unlock()
}

func TestDispatcher_StreamingEcho(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		return NewResponse(200, StreamBody(func(ctx context.Context) ([]byte, error) {
			c, err := req.Payload.Next(ctx)
			if err != nil {
				return nil, err
			}
			if c.EOF {
				return c.Data, io.EOF
			}
			return c.Data, nil
		}, UnknownLength))
	})
	tc := newTestConn(t, h, DispatcherOptions{})

	tc.send("POST /echo HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n1\r\n \r\n5\r\nworld\r\n0\r\n\r\n")
	head, body := tc.mustNext("POST")
	require.Equal(t, Chunked, head.Framing)
	require.Equal(t, "hello world", body)

	tc.send("GET /after HTTP/1.1\r\nHost: a\r\n\r\n")
	_, _, err := tc.next("GET")
	require.NoError(t, err)
}

func TestDispatcher_PayloadBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPayloadBuffer = 16
	cfg.ReadBufferSize = 64
	body := strings.Repeat("0123456789", 100)

	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		var got []byte
		for {
			time.Sleep(time.Millisecond)
			c, err := req.Payload.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return NewResponse(500, EmptyBody())
			}
			got = append(got, c.Data...)
			if c.EOF {
				break
			}
		}
		return NewResponse(200, FixedBody(got))
	})
	tc := newTestConn(t, h, DispatcherOptions{Config: cfg})

	tc.send("PUT /big HTTP/1.1\r\nHost: a\r\nContent-Length: 1000\r\n\r\n" + body)
	_, got := tc.mustNext("PUT")
	require.Equal(t, body, got)
}

func TestDispatcher_UnreadBodyIsDiscarded(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		return NewResponse(200, FixedBody([]byte(req.Head.Target)))
	})
	tc := newTestConn(t, h, DispatcherOptions{})

	tc.send("POST /ignored HTTP/1.1\r\nHost: a\r\nContent-Length: 10\r\n\r\n0123456789" +
		"GET /next HTTP/1.1\r\nHost: a\r\n\r\n")
	_, body := tc.mustNext("POST")
	require.Equal(t, "/ignored", body)
	_, body = tc.mustNext("GET")
	require.Equal(t, "/next", body)
}

func TestDispatcher_ExpectContinue(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		b, err := req.Payload.ReadAll(ctx)
		if err != nil {
			return NewResponse(500, EmptyBody())
		}
		return NewResponse(200, FixedBody(b))
	})
	tc := newTestConn(t, h, DispatcherOptions{})

	tc.send("PUT /f HTTP/1.1\r\nHost: a\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\n")
	interim, _ := tc.mustNext("PUT")
	require.Equal(t, 100, interim.StatusCode)

	tc.send("hello")
	final, body := tc.mustNext("PUT")
	require.Equal(t, 200, final.StatusCode)
	require.Equal(t, "hello", body)
	require.Equal(t, KeepAlive, final.ConnType)
}

func TestDispatcher_ExpectContinueRejected(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		return NewResponse(417, EmptyBody())
	})
	tc := newTestConn(t, h, DispatcherOptions{})

	tc.send("PUT /f HTTP/1.1\r\nHost: a\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\n")
	final, _ := tc.mustNext("PUT")
	require.Equal(t, 417, final.StatusCode)
	require.Equal(t, Close, final.ConnType)
	tc.requireClosed()
}

func TestDispatcher_MalformedRequest(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{})
	tc.send("BROKEN\r\n\r\n")
	h, body := tc.mustNext("GET")
	require.Equal(t, 400, h.StatusCode)
	require.Equal(t, Close, h.ConnType)
	require.Equal(t, "Bad Request\n", body)
	tc.requireClosed()
	require.NoError(t, tc.wait())
	require.EqualValues(t, 1, tc.metric("h1.decode.errors"))
}

func TestDispatcher_ErrorAfterPipelinedRequest(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{})
	tc.send("GET /ok HTTP/1.1\r\nHost: a\r\n\r\nGET / HTTP/9.9\r\n\r\n")

	_, body := tc.mustNext("GET")
	require.Equal(t, "/ok", body)
	h, _ := tc.mustNext("GET")
	require.Equal(t, 505, h.StatusCode)
	tc.requireClosed()
}

func TestDispatcher_HeadRequest(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		return NewResponse(200, FixedBody([]byte("hello")))
	})
	tc := newTestConn(t, h, DispatcherOptions{})

	tc.send("HEAD / HTTP/1.1\r\nHost: a\r\n\r\nGET / HTTP/1.1\r\nHost: a\r\n\r\n")
	head, body := tc.mustNext("HEAD")
	require.Equal(t, "5", head.Headers.Get("Content-Length"))
	require.Empty(t, body)
	_, body = tc.mustNext("GET")
	require.Equal(t, "hello", body)
}

func TestDispatcher_HandlerPanic(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		panic("boom")
	})
	tc := newTestConn(t, h, DispatcherOptions{})
	tc.send("GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	head, _ := tc.mustNext("GET")
	require.Equal(t, 500, head.StatusCode)
	require.Equal(t, Close, head.ConnType)
	tc.requireClosed()
}

func TestDispatcher_KeepAliveTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.KeepAliveTimeout = 50 * time.Millisecond
	tc := newTestConn(t, echoTarget, DispatcherOptions{Config: cfg})

	tc.send("GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	tc.mustNext("GET")
	tc.requireClosed()
	require.NoError(t, tc.wait())
}

func TestDispatcher_HeadTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HeadTimeout = 50 * time.Millisecond
	tc := newTestConn(t, echoTarget, DispatcherOptions{Config: cfg})

	tc.send("GET / HT")
	h, _ := tc.mustNext("GET")
	require.Equal(t, 408, h.StatusCode)
	tc.requireClosed()
}

func TestDispatcher_Cancel(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{})
	tc.send("GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	tc.mustNext("GET")

	tc.cancel()
	require.ErrorIs(t, tc.wait(), context.Canceled)
	tc.requireClosed()
}

func TestDispatcher_WebSocketUpgrade(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		head, err := WebSocketHandshake(req.Head)
		if err != nil {
			var he HandshakeError
			errors.As(err, &he)
			return he.Response()
		}
		return &Response{Head: head, Upgrade: func(ctx context.Context, conn net.Conn) {
			b := make([]byte, 4)
			if _, err := io.ReadFull(conn, b); err != nil {
				return
			}
			conn.Write([]byte(strings.ToUpper(string(b))))
		}}
	})
	tc := newTestConn(t, h, DispatcherOptions{})

	// The first frame bytes arrive together with the handshake.
	tc.send("GET /chat HTTP/1.1\r\nHost: a\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 13\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\nping")

	head, _ := tc.mustNext("GET")
	require.Equal(t, 101, head.StatusCode)
	require.Equal(t, Upgrade, head.ConnType)
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", head.Headers.Get("Sec-WebSocket-Accept"))
	require.Equal(t, "PING", tc.readRaw(4))

	require.NoError(t, tc.wait())
	require.Equal(t, StateUpgraded, tc.d.State())
	require.EqualValues(t, 1, tc.metric("h1.upgrades"))
}

func TestDispatcher_UpgradeDeclined(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{})
	tc.send("GET /maybe HTTP/1.1\r\nHost: a\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n")
	head, body := tc.mustNext("GET")
	require.Equal(t, 200, head.StatusCode)
	require.Equal(t, "/maybe", body)

	tc.send("GET /plain HTTP/1.1\r\nHost: a\r\n\r\n")
	_, body = tc.mustNext("GET")
	require.Equal(t, "/plain", body)
}

func TestDispatcher_WebSocketHandshakeRejected(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		var he HandshakeError
		if _, err := WebSocketHandshake(req.Head); errors.As(err, &he) {
			return he.Response()
		}
		return NewResponse(500, EmptyBody())
	})
	tc := newTestConn(t, h, DispatcherOptions{})
	tc.send("POST /chat HTTP/1.1\r\nHost: a\r\nContent-Length: 0\r\n\r\n")
	head, _ := tc.mustNext("POST")
	require.Equal(t, 405, head.StatusCode)
	require.Equal(t, "GET", head.Headers.Get("Allow"))
}

func TestDispatcher_H2PriorKnowledge(t *testing.T) {
	got := make(chan string, 1)
	handoff := func(conn net.Conn) {
		b := make([]byte, len(http2.ClientPreface)+4)
		io.ReadFull(conn, b)
		got <- string(b)
		conn.Close()
	}
	tc := newTestConn(t, echoTarget, DispatcherOptions{H2: handoff})
	tc.send(http2.ClientPreface + "XYZW")

	select {
	case s := <-got:
		require.Equal(t, http2.ClientPreface+"XYZW", s)
	case <-time.After(3 * time.Second):
		t.Fatal("connection was not handed off")
	}
	require.NoError(t, tc.wait())
	require.Equal(t, StateHandedOff, tc.d.State())
	require.EqualValues(t, 1, tc.metric("h1.h2.handoffs"))
}

func TestDispatcher_H2EnabledServesHTTP1(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{H2: func(conn net.Conn) { conn.Close() }})
	tc.send("GET /still-h1 HTTP/1.1\r\nHost: a\r\n\r\n")
	_, body := tc.mustNext("GET")
	require.Equal(t, "/still-h1", body)
}

func TestDispatcher_Spans(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{})
	tc.send("GET /traced HTTP/1.1\r\nHost: a\r\n\r\n")
	tc.mustNext("GET")
	tc.client.Close()
	tc.wait()

	ended := tc.spans.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "h1.transaction", ended[0].Name())
	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "GET", attrs["http.request.method"])
	require.Equal(t, "/traced", attrs["url.path"])
	require.Equal(t, "200", attrs["http.response.status_code"])
}

func TestDispatcher_ServerHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.SendDate = true
	cfg.ServerName = "shape-h1"
	tc := newTestConn(t, echoTarget, DispatcherOptions{Config: cfg})
	tc.send("GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	h, _ := tc.mustNext("GET")
	require.Equal(t, "shape-h1", h.Headers.Get("Server"))
	_, err := time.Parse(time.RFC1123, h.Headers.Get("Date"))
	require.NoError(t, err)
}

// readBody reports what the handler saw when reading the request body.
func readBody(errs chan<- error) Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) *Response {
		_, err := req.Payload.ReadAll(ctx)
		errs <- err
		if err != nil {
			return NewResponse(500, EmptyBody())
		}
		return NewResponse(200, EmptyBody())
	})
}

func TestDispatcher_BadChunkClosesWithoutResponse(t *testing.T) {
	errs := make(chan error, 1)
	tc := newTestConn(t, readBody(errs), DispatcherOptions{})

	tc.send("POST /up HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\nzz\r\n")
	tc.requireClosed()
	require.Error(t, <-errs)

	var e *Error
	require.ErrorAs(t, tc.wait(), &e)
	require.Equal(t, KindInvalidChunkSize, e.Kind)
	require.EqualValues(t, 1, tc.metric("h1.decode.errors"))
}

func TestDispatcher_BodyTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.BodyTimeout = 100 * time.Millisecond
	errs := make(chan error, 1)
	tc := newTestConn(t, readBody(errs), DispatcherOptions{Config: cfg})

	tc.send("PUT /slow HTTP/1.1\r\nHost: a\r\nContent-Length: 10\r\n\r\nabc")
	tc.requireClosed()
	require.Error(t, <-errs)

	var e *Error
	require.ErrorAs(t, tc.wait(), &e)
	require.Equal(t, KindTimeout, e.Kind)
}

func TestDispatcher_ClosedPayloadEndsConnection(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		c, err := req.Payload.Next(ctx)
		if err != nil {
			return NewResponse(500, EmptyBody())
		}
		req.Payload.Close()
		return NewResponse(200, FixedBody(c.Data))
	})
	tc := newTestConn(t, h, DispatcherOptions{})

	// Only part of the declared body is ever sent.
	tc.send("PUT /part HTTP/1.1\r\nHost: a\r\nContent-Length: 100\r\n\r\n0123456789")
	head, body := tc.mustNext("PUT")
	require.Equal(t, 200, head.StatusCode)
	require.Equal(t, Close, head.ConnType)
	require.NotEmpty(t, body)
	tc.requireClosed()
	require.NoError(t, tc.wait())
}

func TestDispatcher_UnreadBodyOverDiscardLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDiscard = 16
	tc := newTestConn(t, echoTarget, DispatcherOptions{Config: cfg})

	tc.send("POST /ignored HTTP/1.1\r\nHost: a\r\nContent-Length: 1000\r\n\r\n")
	_, body := tc.mustNext("POST")
	require.Equal(t, "/ignored", body)
	tc.requireClosed()
	require.NoError(t, tc.wait())
}

func TestDispatcher_CloseIdle(t *testing.T) {
	tc := newTestConn(t, echoTarget, DispatcherOptions{})
	tc.send("GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	h, _ := tc.mustNext("GET")
	require.Equal(t, KeepAlive, h.ConnType)

	start := time.Now()
	tc.d.CloseIdle()
	tc.requireClosed()
	require.NoError(t, tc.wait())
	require.Less(t, time.Since(start), time.Second, "closed without waiting for the keep-alive timeout")
}

func TestDispatcher_CloseIdleFinishesInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		close(started)
		<-release
		return NewResponse(200, FixedBody([]byte("done")))
	})
	tc := newTestConn(t, h, DispatcherOptions{})

	tc.send("GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	<-started
	tc.d.CloseIdle()
	close(release)

	head, body := tc.mustNext("GET")
	require.Equal(t, "done", body)
	require.Equal(t, Close, head.ConnType)
	tc.requireClosed()
	require.NoError(t, tc.wait())
}

func TestDispatcher_SharedResponse(t *testing.T) {
	cfg := testConfig()
	cfg.SendDate = true
	cfg.ServerName = "shape-h1"
	shared := NewResponse(200, FixedBody([]byte("same")))
	shared.Head.Headers.Add("Content-Type", "text/plain")
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response { return shared })
	tc := newTestConn(t, h, DispatcherOptions{Config: cfg})

	for i := 0; i < 3; i++ {
		tc.send("GET / HTTP/1.1\r\nHost: a\r\n\r\n")
		head, body := tc.mustNext("GET")
		require.Equal(t, "same", body)
		require.Len(t, head.Headers.Values("Server"), 1)
		require.Len(t, head.Headers.Values("Date"), 1)
		require.Len(t, head.Headers.Values("Content-Length"), 1)
	}
	require.Equal(t, Headers{{Key: "Content-Type", Value: "text/plain"}}, shared.Head.Headers)
	require.Equal(t, BodyFraming{}, shared.Head.Framing)
}
