package http

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/shapestone/shape-h1/internal/tokenizer"
)

// HandshakeError is a rejected WebSocket opening handshake.
type HandshakeError uint8

const (
	HandshakeGetMethodRequired HandshakeError = iota + 1
	HandshakeNoWebSocketUpgrade
	HandshakeNoConnectionUpgrade
	HandshakeNoVersionHeader
	HandshakeUnsupportedVersion
	HandshakeBadWebSocketKey
)

func (e HandshakeError) Error() string {
	switch e {
	case HandshakeGetMethodRequired:
		return "websocket: GET method required"
	case HandshakeNoWebSocketUpgrade:
		return "websocket: no WebSocket Upgrade header found"
	case HandshakeNoConnectionUpgrade:
		return "websocket: no Connection upgrade"
	case HandshakeNoVersionHeader:
		return "websocket: version header is required"
	case HandshakeUnsupportedVersion:
		return "websocket: unsupported version"
	case HandshakeBadWebSocketKey:
		return "websocket: missing key"
	default:
		return "websocket: handshake error"
	}
}

// Response is the answer that reports e to the client.
func (e HandshakeError) Response() *Response {
	if e == HandshakeGetMethodRequired {
		r := NewResponse(405, EmptyBody())
		r.Head.Headers.Add("Allow", "GET")
		return r
	}
	r := NewResponse(400, EmptyBody())
	switch e {
	case HandshakeNoWebSocketUpgrade:
		r.Head.Reason = "No WebSocket Upgrade header found"
	case HandshakeNoConnectionUpgrade:
		r.Head.Reason = "No Connection upgrade"
	case HandshakeNoVersionHeader:
		r.Head.Reason = "WebSocket version header is required"
	case HandshakeUnsupportedVersion:
		r.Head.Reason = "Unsupported WebSocket version"
	default:
		r.Head.Reason = "Handshake error"
	}
	return r
}

// VerifyWebSocketHandshake checks a request against RFC 6455 §4.2.1.
func VerifyWebSocketHandshake(h *RequestHead) error {
	if h.Method != "GET" {
		return HandshakeGetMethodRequired
	}
	if !strings.Contains(strings.ToLower(h.Headers.Get("Upgrade")), "websocket") {
		return HandshakeNoWebSocketUpgrade
	}
	if !tokenizer.Contains(h.Headers.Values("Connection"), "upgrade") {
		return HandshakeNoConnectionUpgrade
	}
	if !h.Headers.Has("Sec-WebSocket-Version") {
		return HandshakeNoVersionHeader
	}
	switch h.Headers.Get("Sec-WebSocket-Version") {
	case "13", "8", "7":
	default:
		return HandshakeUnsupportedVersion
	}
	if !h.Headers.Has("Sec-WebSocket-Key") {
		return HandshakeBadWebSocketKey
	}
	return nil
}

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// WebSocketAccept computes Sec-WebSocket-Accept for a client key.
func WebSocketAccept(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// WebSocketHandshake verifies h and returns the 101 head that accepts it.
func WebSocketHandshake(h *RequestHead) (*ResponseHead, error) {
	if err := VerifyWebSocketHandshake(h); err != nil {
		return nil, err
	}
	head := NewResponseHead(101)
	head.ConnType = Upgrade
	head.Headers.Add("Upgrade", "websocket")
	head.Headers.Add("Sec-WebSocket-Accept", WebSocketAccept(h.Headers.Get("Sec-WebSocket-Key")))
	return head, nil
}
