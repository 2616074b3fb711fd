package http

import (
	"context"
	"errors"
	"io"
	"net"
)

// BodyKind tags the body source of a Response.
type BodyKind uint8

const (
	BodyEmpty BodyKind = iota
	BodyFixed
	BodyStream
)

// ChunkProducer yields the next piece of a streamed body. It returns io.EOF
// (optionally together with a final chunk) when the body is complete.
type ChunkProducer func(ctx context.Context) ([]byte, error)

// Body is a response body source: nothing, a fixed buffer, or a lazy chunk
// sequence with a known or unknown length.
type Body struct {
	Kind     BodyKind
	Bytes    []byte
	Producer ChunkProducer
	Length   int64 // BodyStream only; UnknownLength when not known
}

// EmptyBody returns a body without content.
func EmptyBody() Body { return Body{Kind: BodyEmpty} }

// FixedBody returns a body of known bytes.
func FixedBody(b []byte) Body { return Body{Kind: BodyFixed, Bytes: b} }

// StreamBody returns a body produced lazily. length is the total size, or
// UnknownLength.
func StreamBody(p ChunkProducer, length int64) Body {
	return Body{Kind: BodyStream, Producer: p, Length: length}
}

// ReaderBody streams r in reads of up to 32 KiB. r is closed at the end if it
// is an io.Closer.
func ReaderBody(r io.Reader, length int64) Body {
	buf := make([]byte, 32<<10)
	return StreamBody(func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(buf)
		if err != nil {
			if c, ok := r.(io.Closer); ok {
				c.Close()
			}
		}
		// The encoder copies or writes the chunk before asking for the next.
		return buf[:n], err
	}, length)
}

// Size is the declared body length, or UnknownLength.
func (b Body) Size() int64 {
	switch b.Kind {
	case BodyEmpty:
		return 0
	case BodyFixed:
		return int64(len(b.Bytes))
	default:
		return b.Length
	}
}

func writeBody(ctx context.Context, enc *Encoder, b Body) error {
	switch b.Kind {
	case BodyEmpty:
		return nil
	case BodyFixed:
		return enc.WriteChunk(b.Bytes)
	case BodyStream:
		for {
			chunk, err := b.Producer(ctx)
			if len(chunk) > 0 {
				if werr := enc.WriteChunk(chunk); werr != nil {
					return werr
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// UpgradeHandler takes over a connection after a 101 (or a 2xx answer to
// CONNECT) was written. conn first yields bytes that arrived after the
// request head and were never parsed as HTTP. The handler owns conn until
// it returns; the connection is closed afterwards.
type UpgradeHandler func(ctx context.Context, conn net.Conn)

// Response is what a Handler answers with.
type Response struct {
	Head    *ResponseHead
	Body    Body
	Upgrade UpgradeHandler
}

// NewResponse returns a response with the standard reason phrase.
func NewResponse(code int, body Body) *Response {
	return &Response{Head: NewResponseHead(code), Body: body}
}

// Request is a decoded request handed to a Handler.
type Request struct {
	Head       *RequestHead
	Payload    *Payload
	RemoteAddr net.Addr
	ConnID     string
}

// Handler answers requests. Each request runs on its own goroutine, so
// answers to pipelined requests may become ready in any order; they are
// written in request order regardless.
type Handler interface {
	ServeHTTP1(ctx context.Context, req *Request) *Response
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// ServeHTTP1 calls f(ctx, req).
func (f HandlerFunc) ServeHTTP1(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}
