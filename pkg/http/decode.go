package http

import (
	"errors"
	"io"

	"github.com/shapestone/shape-h1/internal/fastparser"
	"github.com/shapestone/shape-h1/internal/tokenizer"
)

// OutcomeKind is what one Decode step produced.
type OutcomeKind uint8

const (
	NeedMoreData OutcomeKind = iota
	HeadDecoded
	BodyChunk
	MessageComplete
	StreamClosed
	DecodeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case NeedMoreData:
		return "need-more-data"
	case HeadDecoded:
		return "head"
	case BodyChunk:
		return "body-chunk"
	case MessageComplete:
		return "message-complete"
	case StreamClosed:
		return "stream-closed"
	case DecodeFailed:
		return "decode-failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of a Decode step. Request or Response is set with
// HeadDecoded, Chunk with BodyChunk and Err with DecodeFailed.
type Outcome struct {
	Kind     OutcomeKind
	Request  *RequestHead
	Response *ResponseHead
	Chunk    []byte // owned by the receiver
	Err      *Error
}

type decodeState uint8

const (
	stateHead decodeState = iota
	stateLength
	stateChunkSize
	stateChunkData
	stateChunkCRLF
	stateTrailers
	stateUntilClose
	stateDone
)

// Decoder incrementally decodes HTTP/1.x messages from a Buffer. Bytes are
// consumed from the buffer only once the element they form is accepted.
// After a failure the Decoder is poisoned and keeps returning the same error.
//
// A single Decoder is not safe for concurrent use.
type Decoder struct {
	cfg      Config
	lim      fastparser.Limits
	response bool
	method   string // request method a response answers
	interim  bool   // the message in progress is a 1xx other than 101

	state     decodeState
	remaining uint64
	bodyRead  int64
	trailers  int
	lines     []fastparser.HeaderLine
	err       *Error
}

// NewRequestDecoder returns a Decoder for the server side of a connection.
func NewRequestDecoder(cfg Config) *Decoder {
	cfg = cfg.withDefaults()
	return &Decoder{cfg: cfg, lim: cfg.limits()}
}

// NewResponseDecoder returns a Decoder for the client side of a connection.
func NewResponseDecoder(cfg Config) *Decoder {
	cfg = cfg.withDefaults()
	return &Decoder{cfg: cfg, lim: cfg.limits(), response: true}
}

// ExpectResponseTo tells a response Decoder which request method the next
// response answers; HEAD and CONNECT change its framing.
func (d *Decoder) ExpectResponseTo(method string) { d.method = method }

// Err returns the error that poisoned the Decoder, if any.
func (d *Decoder) Err() error {
	if d.err == nil {
		return nil
	}
	return d.err
}

// Idle reports whether the Decoder is between messages.
func (d *Decoder) Idle() bool { return d.state == stateHead && d.err == nil }

// Remaining returns the body bytes still expected under content-length
// framing. ok is false when the remainder is not known.
func (d *Decoder) Remaining() (n uint64, ok bool) {
	if d.state == stateLength {
		return d.remaining, true
	}
	return 0, false
}

// Decode runs until it can report one outcome.
func (d *Decoder) Decode(buf *Buffer) Outcome {
	if d.err != nil {
		return Outcome{Kind: DecodeFailed, Err: d.err}
	}
	for {
		switch d.state {
		case stateHead:
			return d.decodeHead(buf)

		case stateLength:
			data := buf.Bytes()
			if len(data) == 0 {
				return Outcome{Kind: NeedMoreData}
			}
			n := uint64(len(data))
			if n > d.remaining {
				n = d.remaining
			}
			d.remaining -= n
			if d.remaining == 0 {
				d.state = stateDone
			}
			return d.emit(buf, int(n))

		case stateChunkSize:
			size, res := fastparser.ScanChunkSize(buf.Bytes(), 0, d.lim)
			switch res.Status {
			case fastparser.Incomplete:
				return Outcome{Kind: NeedMoreData}
			case fastparser.Invalid:
				return d.fail(chunkError(res.Err))
			}
			buf.Discard(res.N)
			if size == 0 {
				d.state = stateTrailers
				continue
			}
			if d.cfg.MaxBodySize > 0 && d.bodyRead+int64(size) > d.cfg.MaxBodySize {
				return d.fail(newError(KindBodyTooLarge, "chunked body exceeds limit", nil))
			}
			d.remaining = size
			d.state = stateChunkData

		case stateChunkData:
			data := buf.Bytes()
			if len(data) == 0 {
				return Outcome{Kind: NeedMoreData}
			}
			n := uint64(len(data))
			if n > d.remaining {
				n = d.remaining
			}
			d.remaining -= n
			if d.remaining == 0 {
				d.state = stateChunkCRLF
			}
			return d.emit(buf, int(n))

		case stateChunkCRLF:
			data := buf.Bytes()
			if len(data) < 2 {
				if len(data) == 1 && data[0] != '\r' {
					return d.fail(newError(KindInvalidChunkSize, "missing CRLF after chunk data", nil))
				}
				return Outcome{Kind: NeedMoreData}
			}
			if data[0] != '\r' || data[1] != '\n' {
				return d.fail(newError(KindInvalidChunkSize, "missing CRLF after chunk data", nil))
			}
			buf.Discard(2)
			d.state = stateChunkSize

		case stateTrailers:
			// Trailer fields are validated and dropped; routing decisions were
			// made on the head.
			_, end, res := fastparser.ScanHeaderLine(buf.Bytes(), 0, d.lim)
			switch res.Status {
			case fastparser.Incomplete:
				return Outcome{Kind: NeedMoreData}
			case fastparser.Invalid:
				return d.fail(headerError(res.Err))
			}
			buf.Discard(res.N)
			if end {
				d.state = stateDone
				continue
			}
			d.trailers++
			if d.trailers > d.cfg.MaxHeaderCount {
				return d.fail(newError(KindHeaderLimitExceeded, "too many trailer fields", nil))
			}

		case stateUntilClose:
			data := buf.Bytes()
			if len(data) == 0 {
				return Outcome{Kind: NeedMoreData}
			}
			return d.emit(buf, len(data))

		case stateDone:
			d.state = stateHead
			// Interim responses precede the final one to the same request.
			if !d.interim {
				d.method = ""
			}
			d.interim = false
			return Outcome{Kind: MessageComplete}
		}
	}
}

// DecodeEOF is Decode for a peer that will send nothing more.
func (d *Decoder) DecodeEOF(buf *Buffer) Outcome {
	if d.err != nil {
		return Outcome{Kind: DecodeFailed, Err: d.err}
	}
	switch d.state {
	case stateHead:
		if !d.response {
			skipEmptyLines(buf)
		}
		if buf.Len() == 0 {
			return Outcome{Kind: StreamClosed}
		}
		if out := d.Decode(buf); out.Kind != NeedMoreData {
			return out
		}
		return d.fail(newError(KindMalformedStartLine, "unexpected EOF in message head", io.ErrUnexpectedEOF))
	case stateUntilClose:
		if buf.Len() > 0 {
			return d.Decode(buf)
		}
		d.state = stateDone
		return d.Decode(buf)
	case stateDone:
		return d.Decode(buf)
	}
	if out := d.Decode(buf); out.Kind != NeedMoreData {
		return out
	}
	return d.fail(newError(KindTransport, "unexpected EOF in message body", io.ErrUnexpectedEOF))
}

func (d *Decoder) emit(buf *Buffer, n int) Outcome {
	chunk := make([]byte, n)
	copy(chunk, buf.Bytes()[:n])
	buf.Discard(n)
	d.bodyRead += int64(n)
	if !d.response && d.cfg.MaxBodySize > 0 && d.bodyRead > d.cfg.MaxBodySize {
		return d.fail(newError(KindBodyTooLarge, "body exceeds limit", nil))
	}
	return Outcome{Kind: BodyChunk, Chunk: chunk}
}

func (d *Decoder) fail(e *Error) Outcome {
	d.err = e
	return Outcome{Kind: DecodeFailed, Err: e}
}

// skipEmptyLines drops CRLFs ahead of a request line (RFC 9112 §2.2).
func skipEmptyLines(buf *Buffer) {
	data := buf.Bytes()
	n := 0
	for n+1 < len(data) && data[n] == '\r' && data[n+1] == '\n' {
		n += 2
	}
	buf.Discard(n)
}

func (d *Decoder) decodeHead(buf *Buffer) Outcome {
	if !d.response {
		skipEmptyLines(buf)
	}
	data := buf.Bytes()

	var (
		rl  fastparser.RequestLine
		sl  fastparser.StatusLine
		res fastparser.Result
	)
	if d.response {
		sl, res = fastparser.ScanStatusLine(data, 0, d.lim)
	} else {
		rl, res = fastparser.ScanRequestLine(data, 0, d.lim)
	}
	switch res.Status {
	case fastparser.Incomplete:
		return d.needMore(len(data))
	case fastparser.Invalid:
		return d.fail(startLineError(res.Err, d.response))
	}

	lines, hres := fastparser.ScanHeaders(data, res.N, d.lim, d.lines[:0])
	d.lines = lines[:0]
	switch hres.Status {
	case fastparser.Incomplete:
		return d.needMore(len(data))
	case fastparser.Invalid:
		return d.fail(headerError(hres.Err))
	}
	total := res.N + hres.N
	if total > d.cfg.MaxHeadSize {
		return d.fail(newError(KindHeaderLimitExceeded, "message head exceeds limit", nil))
	}

	// Spans are reconciled into owned strings before the bytes are released.
	headers := make(Headers, len(lines))
	for i, l := range lines {
		headers[i] = Header{
			Key:   fastparser.InternHeaderName(l.Name.Bytes(data)),
			Value: string(l.Value.Bytes(data)),
		}
	}

	if d.response {
		head := &ResponseHead{
			Version:    Version{Major: sl.Major, Minor: sl.Minor},
			StatusCode: sl.Code,
			Reason:     fastparser.InternReason(sl.Reason.Bytes(data)),
			Headers:    headers,
		}
		buf.Discard(total)
		d.interim = head.StatusCode/100 == 1 && head.StatusCode != 101
		if e := d.prepareResponse(head); e != nil {
			return d.fail(e)
		}
		d.startBody(head.Framing)
		return Outcome{Kind: HeadDecoded, Response: head}
	}

	head := &RequestHead{
		Method:  fastparser.InternMethod(rl.Method.Bytes(data)),
		Target:  string(rl.Target.Bytes(data)),
		Version: Version{Major: rl.Major, Minor: rl.Minor},
		Headers: headers,
	}
	buf.Discard(total)
	if e := d.prepareRequest(head); e != nil {
		return d.fail(e)
	}
	d.startBody(head.Framing)
	return Outcome{Kind: HeadDecoded, Request: head}
}

func (d *Decoder) needMore(buffered int) Outcome {
	if buffered >= d.cfg.MaxHeadSize {
		return d.fail(newError(KindHeaderLimitExceeded, "message head exceeds limit", nil))
	}
	return Outcome{Kind: NeedMoreData}
}

func (d *Decoder) startBody(f BodyFraming) {
	d.bodyRead = 0
	d.trailers = 0
	switch f.Kind {
	case FramingLength:
		if f.Length == 0 {
			d.state = stateDone
			return
		}
		d.remaining = uint64(f.Length)
		d.state = stateLength
	case FramingChunked:
		d.state = stateChunkSize
	case FramingClose:
		d.state = stateUntilClose
	default:
		d.state = stateDone
	}
}

func (d *Decoder) prepareRequest(h *RequestHead) *Error {
	hosts := h.Headers.Values("Host")
	switch {
	case len(hosts) > 1:
		return newError(KindMalformedHeader, "multiple Host headers", nil)
	case len(hosts) == 0 && h.Version.AtLeast(HTTP11):
		return newError(KindMalformedHeader, "missing Host header", nil)
	}

	conn, err := tokenizer.ElementsOf(h.Headers.Values("Connection"))
	if err != nil {
		return newError(KindMalformedHeader, "invalid Connection header", err)
	}
	h.ConnType = connectionType(h.Version, conn)
	h.fallback = h.ConnType

	switch {
	case h.IsConnect():
		h.ConnType = Upgrade
	case hasElement(conn, "upgrade") && h.Headers.Has("Upgrade") && h.Version.AtLeast(HTTP11):
		protocols, err := tokenizer.ElementsOf(h.Headers.Values("Upgrade"))
		if err != nil {
			return newError(KindMalformedHeader, "invalid Upgrade header", err)
		}
		if len(protocols) > 0 {
			h.Upgrade = protocols[0]
			h.ConnType = Upgrade
		}
	}

	if h.Version.AtLeast(HTTP11) {
		expect, err := tokenizer.ElementsOf(h.Headers.Values("Expect"))
		if err != nil {
			return newError(KindMalformedHeader, "invalid Expect header", err)
		}
		h.ExpectContinue = hasElement(expect, "100-continue")
	}

	f, e := requestFraming(h.Headers)
	if e != nil {
		return e
	}
	if d.cfg.MaxBodySize > 0 && f.Kind == FramingLength && f.Length > d.cfg.MaxBodySize {
		return newError(KindBodyTooLarge, "Content-Length exceeds limit", nil)
	}
	h.Framing = f
	return nil
}

func (d *Decoder) prepareResponse(h *ResponseHead) *Error {
	conn, err := tokenizer.ElementsOf(h.Headers.Values("Connection"))
	if err != nil {
		return newError(KindMalformedHeader, "invalid Connection header", err)
	}
	h.ConnType = connectionType(h.Version, conn)

	code := h.StatusCode
	switch {
	case code == 101:
		h.ConnType = Upgrade
		h.Framing = NoBody
		return nil
	case d.method == "CONNECT" && code/100 == 2:
		h.ConnType = Upgrade
		h.Framing = NoBody
		return nil
	case !bodyAllowed(code) || d.method == "HEAD":
		h.Framing = NoBody
		return nil
	}

	f, e := messageFraming(h.Headers)
	if e != nil {
		if errors.Is(e, errNoChunked) {
			// A response whose final coding is not chunked is read to EOF.
			f = CloseDelimited
		} else {
			return e
		}
	}
	if f.Kind == FramingNone {
		f = CloseDelimited
	}
	if f.Kind == FramingClose {
		h.ConnType = Close
	}
	h.Framing = f
	return nil
}

// errNoChunked marks a Transfer-Encoding whose final coding is not chunked
// with no Content-Length to fall back on.
var errNoChunked = &Error{Kind: KindMalformedHeader, Message: "Transfer-Encoding without chunked"}

func requestFraming(headers Headers) (BodyFraming, *Error) {
	f, e := messageFraming(headers)
	if e != nil {
		return NoBody, e
	}
	return f, nil
}

// messageFraming applies the framing precedence: chunked wins, a conflicting
// Content-Length is rejected, and an invalid or repeated Content-Length is a
// hard error.
func messageFraming(headers Headers) (BodyFraming, *Error) {
	length := int64(-1)
	cls := headers.Values("Content-Length")
	if len(cls) > 1 {
		return NoBody, newError(KindConflictingFraming, "multiple Content-Length headers", nil)
	}
	if len(cls) == 1 {
		n, ok := parseContentLength(cls[0])
		if !ok {
			return NoBody, newError(KindMalformedHeader, "invalid Content-Length", nil)
		}
		length = n
	}

	te := headers.Values("Transfer-Encoding")
	if len(te) > 0 {
		codings, err := tokenizer.ElementsOf(te)
		if err != nil {
			return NoBody, newError(KindMalformedHeader, "invalid Transfer-Encoding", err)
		}
		for i, c := range codings {
			if c == "chunked" && i != len(codings)-1 {
				return NoBody, newError(KindMalformedHeader, "chunked is not the final transfer coding", nil)
			}
		}
		if len(codings) > 0 && codings[len(codings)-1] == "chunked" {
			if length >= 0 {
				return NoBody, newError(KindConflictingFraming, "Content-Length with chunked Transfer-Encoding", nil)
			}
			return Chunked, nil
		}
		if length >= 0 {
			return ContentLength(length), nil
		}
		return NoBody, errNoChunked
	}

	if length >= 0 {
		return ContentLength(length), nil
	}
	return NoBody, nil
}

// connectionType applies the version default and the close and keep-alive
// options of the Connection header.
func connectionType(v Version, conn []string) ConnectionType {
	if hasElement(conn, "close") {
		return Close
	}
	if v.AtLeast(HTTP11) || hasElement(conn, "keep-alive") {
		return KeepAlive
	}
	return Close
}

func hasElement(elems []string, want string) bool {
	for _, e := range elems {
		if e == want {
			return true
		}
	}
	return false
}

func startLineError(err error, response bool) *Error {
	switch {
	case errors.Is(err, fastparser.ErrLineTooLong):
		e := &Error{Kind: KindLineTooLong, Message: "start line too long", Err: err}
		if !response {
			e.Status = 414
		}
		return e
	case errors.Is(err, fastparser.ErrUnsupportedVersion):
		return &Error{Kind: KindMalformedStartLine, Message: "unsupported HTTP version", Status: 505, Err: err}
	}
	return newError(KindMalformedStartLine, "", err)
}

func headerError(err error) *Error {
	switch {
	case errors.Is(err, fastparser.ErrLineTooLong):
		return newError(KindLineTooLong, "header line too long", err)
	case errors.Is(err, fastparser.ErrTooManyHeaders):
		return newError(KindHeaderLimitExceeded, "too many header fields", err)
	}
	return newError(KindMalformedHeader, "", err)
}

func chunkError(err error) *Error {
	if errors.Is(err, fastparser.ErrChunkTooLarge) {
		return newError(KindBodyTooLarge, "chunk exceeds limit", err)
	}
	return newError(KindInvalidChunkSize, "", err)
}
