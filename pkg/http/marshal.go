package http

import (
	"bytes"
	"sync"
)

// bufPool pools output buffers for one-shot encoding.
var bufPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 2048))
	},
}

// MarshalRequest returns the wire encoding of a request with body. The
// framing headers are decided by the Encoder: a caller's Content-Length or
// Transfer-Encoding that disagrees with len(body) is replaced.
func MarshalRequest(h *RequestHead, body []byte) ([]byte, error) {
	return marshal(func(e *Encoder) {
		e.BeginRequest(h, int64(len(body)))
	}, body)
}

// MarshalResponse returns the wire encoding of a response with body, as it
// would be sent in answer to req (nil means an HTTP/1.1 GET).
func MarshalResponse(req *RequestHead, h *ResponseHead, body []byte) ([]byte, error) {
	if body != nil && !bodyAllowed(h.StatusCode) {
		return nil, ErrBodyNotAllowed
	}
	return marshal(func(e *Encoder) {
		e.BeginResponse(req, h, int64(len(body)))
	}, body)
}

func marshal(begin func(*Encoder), body []byte) ([]byte, error) {
	out := bufPool.Get().(*bytes.Buffer)
	out.Reset()
	defer bufPool.Put(out)

	// The watermark covers the whole message so it is written once.
	e := NewEncoder(out, len(body)+4096)
	begin(e)
	if err := e.WriteChunk(body); err != nil {
		return nil, err
	}
	if err := e.Finish(); err != nil {
		return nil, err
	}

	result := make([]byte, out.Len())
	copy(result, out.Bytes())
	return result, nil
}
