package http

import (
	"io"

	"github.com/shapestone/shape-h1/internal/fastparser"
)

type encState uint8

const (
	encIdle encState = iota
	encBody
	encDone
)

// Encoder writes HTTP messages to an output stream. A head is committed with
// BeginResponse or BeginRequest, which decide the body framing; the body
// follows through WriteChunk and ends with Finish.
//
// Output is buffered up to a watermark. Once the watermark is exceeded the
// buffer is written through before WriteChunk returns, so a slow peer
// suspends the producer instead of growing memory.
//
// Calling WriteChunk or Finish outside Begin..Finish panics with a
// KindMisuse *Error.
type Encoder struct {
	w         io.Writer
	buf       []byte
	watermark int

	state     encState
	framing   BodyFraming
	remaining int64
	discard   bool // HEAD response: body accepted and dropped
	noBody    bool // status forbids a body
}

// NewEncoder returns a new encoder that writes to w, flushing whenever more
// than watermark bytes are buffered.
func NewEncoder(w io.Writer, watermark int) *Encoder {
	if watermark <= 0 {
		watermark = DefaultConfig().WriteWatermark
	}
	return &Encoder{w: w, watermark: watermark, buf: make([]byte, 0, 512)}
}

// BeginResponse commits a response head. req is the request being answered
// (nil means an HTTP/1.1 peer); length is the body size or UnknownLength.
//
// A known length is framed with Content-Length. An unknown length is chunked
// for HTTP/1.1 peers and close-delimited, with Connection: close forced, for
// HTTP/1.0 peers. The decision is also recorded in h.Framing and h.ConnType.
func (e *Encoder) BeginResponse(req *RequestHead, h *ResponseHead, length int64) BodyFraming {
	if e.state == encBody {
		misuse("BeginResponse while a message body is open")
	}
	peer := HTTP11
	var isHead, isConnect bool
	if req != nil {
		peer = req.Version
		isHead = req.IsHead()
		isConnect = req.IsConnect()
	}
	if h.Version.isZero() {
		h.Version = HTTP11
	}
	reason := h.Reason
	if reason == "" {
		reason = StatusText(h.StatusCode)
	}

	code := h.StatusCode
	f := NoBody
	advertise := true
	switch {
	case code < 200 || (isConnect && code/100 == 2):
		advertise = false
	case code == 204 || code == 304:
		advertise = false
	case length >= 0:
		f = ContentLength(length)
	case peer.AtLeast(HTTP11):
		f = Chunked
	default:
		f = CloseDelimited
		h.ConnType = Close
	}

	e.buf = appendStatusLine(e.buf, h.Version, code, reason)
	e.buf = appendFramedHeaders(e.buf, h.Headers, f, h.ConnType, peer, advertise)
	h.Framing = f
	e.start(f, isHead, !advertise)
	return f
}

// BeginRequest commits a request head. length is the body size or
// UnknownLength, which is sent chunked; HTTP/1.0 requests need a known
// length.
func (e *Encoder) BeginRequest(h *RequestHead, length int64) BodyFraming {
	if e.state == encBody {
		misuse("BeginRequest while a message body is open")
	}
	if h.Version.isZero() {
		h.Version = HTTP11
	}
	f := NoBody
	switch {
	case length > 0:
		f = ContentLength(length)
	case length == 0:
		if h.Headers.Has("Content-Length") || methodWantsLength(h.Method) {
			f = ContentLength(0)
		}
	case h.Version.AtLeast(HTTP11):
		f = Chunked
	default:
		misuse("HTTP/1.0 request body needs a known length")
	}

	e.buf = appendRequestLine(e.buf, h.Method, h.Target, h.Version)
	e.buf = appendFramedHeaders(e.buf, h.Headers, f, h.ConnType, h.Version, true)
	h.Framing = f
	e.start(f, false, false)
	return f
}

func methodWantsLength(method string) bool {
	return method == "POST" || method == "PUT" || method == "PATCH"
}

func (e *Encoder) start(f BodyFraming, discard, noBody bool) {
	e.state = encBody
	e.framing = f
	e.remaining = f.Length
	e.discard = discard
	e.noBody = noBody
}

// WriteChunk frames and writes p. Under content-length framing writing past
// the declared length fails with ErrContentLength; a status without a body
// fails with ErrBodyNotAllowed. Bodies of HEAD responses are dropped.
func (e *Encoder) WriteChunk(p []byte) error {
	switch e.state {
	case encIdle:
		misuse("WriteChunk before Begin")
	case encDone:
		misuse("WriteChunk after Finish")
	}
	if len(p) == 0 || e.discard {
		return nil
	}
	if e.noBody {
		return ErrBodyNotAllowed
	}

	switch e.framing.Kind {
	case FramingLength:
		if int64(len(p)) > e.remaining {
			return ErrContentLength
		}
		e.remaining -= int64(len(p))
		if err := e.write(p); err != nil {
			return err
		}
	case FramingChunked:
		e.buf = fastparser.AppendChunkHeader(e.buf, len(p))
		if err := e.write(p); err != nil {
			return err
		}
		e.buf = appendCRLF(e.buf)
	case FramingClose:
		if err := e.write(p); err != nil {
			return err
		}
	default:
		return ErrBodyNotAllowed
	}

	if len(e.buf) > e.watermark {
		return e.Flush()
	}
	return nil
}

// write buffers p, or writes it through when it would overrun the watermark.
func (e *Encoder) write(p []byte) error {
	if len(e.buf)+len(p) <= e.watermark {
		e.buf = append(e.buf, p...)
		return nil
	}
	if err := e.Flush(); err != nil {
		return err
	}
	if len(p) < e.watermark {
		e.buf = append(e.buf, p...)
		return nil
	}
	_, err := e.w.Write(p)
	return err
}

// Finish terminates the body and flushes. A content-length body that is
// shorter than declared fails with ErrContentLength.
func (e *Encoder) Finish() error {
	switch e.state {
	case encIdle:
		misuse("Finish before Begin")
	case encDone:
		misuse("Finish called twice")
	}
	e.state = encDone
	if !e.discard && !e.noBody {
		switch e.framing.Kind {
		case FramingLength:
			if e.remaining > 0 {
				if err := e.Flush(); err != nil {
					return err
				}
				return ErrContentLength
			}
		case FramingChunked:
			e.buf = append(e.buf, "0\r\n\r\n"...)
		}
	}
	return e.Flush()
}

// WriteInterim writes a 1xx response, e.g. 100 Continue, and flushes it.
func (e *Encoder) WriteInterim(code int) error {
	if e.state == encBody {
		misuse("WriteInterim while a message body is open")
	}
	if code < 100 || code > 199 {
		misuse("WriteInterim with a final status")
	}
	e.buf = appendStatusLine(e.buf, HTTP11, code, StatusText(code))
	e.buf = appendCRLF(e.buf)
	return e.Flush()
}

// Flush writes all buffered bytes to the stream.
func (e *Encoder) Flush() error {
	if len(e.buf) == 0 {
		return nil
	}
	_, err := e.w.Write(e.buf)
	e.buf = e.buf[:0]
	return err
}

// Buffered is the number of bytes not yet written to the stream.
func (e *Encoder) Buffered() int { return len(e.buf) }
