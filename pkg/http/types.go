// Package http is an HTTP/1.x message engine per RFC 9112.
//
// It turns a raw byte stream into structured message heads and body chunks
// and back, and drives a single connection through one or more transactions:
// keep-alive, chunked transfer, pipelining, Expect: 100-continue and protocol
// upgrades.
//
// # Layers
//
//   - Decoder - incremental, poisoned-on-error head and body decoding over a Buffer
//   - Encoder - head serialization and framed body streaming with a write watermark
//   - Payload - the backpressured request body handed to a Handler
//   - Dispatcher - the per-connection state machine
//   - Server - the accept loop that runs one Dispatcher per connection
//
// # Thread Safety
//
// A Decoder, Encoder or Dispatcher belongs to one connection and must not be
// shared. Payload is safe for one consumer and the Dispatcher feeding it.
// Server methods are safe for concurrent use.
package http

import (
	stdhttp "net/http"
	"strconv"
	"strings"
)

// Header represents a single HTTP header key-value pair.
type Header struct {
	Key   string
	Value string
}

// Headers is an ordered, repeatable list of HTTP headers.
// HTTP headers are case-insensitive (RFC 9110) but we preserve original case.
type Headers []Header

// Get returns the first header value for the given key (case-insensitive).
// Returns empty string if not found.
func (h Headers) Get(key string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Key, key) {
			return hdr.Value
		}
	}
	return ""
}

// Has reports whether at least one header with the key is present.
func (h Headers) Has(key string) bool {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Key, key) {
			return true
		}
	}
	return false
}

// Values returns all header values for the given key (case-insensitive).
func (h Headers) Values(key string) []string {
	var vals []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Key, key) {
			vals = append(vals, hdr.Value)
		}
	}
	return vals
}

// Joined returns every value of key joined with ", ", the combined field
// value of RFC 9110 §5.3. Set-Cookie is never combined; its first value is
// returned.
func (h Headers) Joined(key string) string {
	if strings.EqualFold(key, "Set-Cookie") {
		return h.Get(key)
	}
	return strings.Join(h.Values(key), ", ")
}

// Set replaces the first header with the given key (case-insensitive) or appends if not found.
func (h *Headers) Set(key, value string) {
	for i, hdr := range *h {
		if strings.EqualFold(hdr.Key, key) {
			(*h)[i].Value = value
			// Remove any subsequent headers with same key
			j := i + 1
			for j < len(*h) {
				if strings.EqualFold((*h)[j].Key, key) {
					*h = append((*h)[:j], (*h)[j+1:]...)
				} else {
					j++
				}
			}
			return
		}
	}
	*h = append(*h, Header{Key: key, Value: value})
}

// Add appends a header without replacing existing ones.
func (h *Headers) Add(key, value string) {
	*h = append(*h, Header{Key: key, Value: value})
}

// Del removes all headers with the given key (case-insensitive).
func (h *Headers) Del(key string) {
	j := 0
	for _, hdr := range *h {
		if !strings.EqualFold(hdr.Key, key) {
			(*h)[j] = hdr
			j++
		}
	}
	*h = (*h)[:j]
}

// Clone returns a deep copy of the headers.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	clone := make(Headers, len(h))
	copy(clone, h)
	return clone
}

// Version is an HTTP/1.x protocol version.
type Version struct {
	Major int
	Minor int
}

// Protocol versions understood by this package.
var (
	HTTP10 = Version{Major: 1, Minor: 0}
	HTTP11 = Version{Major: 1, Minor: 1}
)

// String returns the wire form, e.g. "HTTP/1.1".
func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// AtLeast reports whether v is o or newer.
func (v Version) AtLeast(o Version) bool {
	return v.Major > o.Major || (v.Major == o.Major && v.Minor >= o.Minor)
}

func (v Version) isZero() bool { return v.Major == 0 && v.Minor == 0 }

// ConnectionType is the negotiated fate of the connection after a message.
type ConnectionType uint8

const (
	KeepAlive ConnectionType = iota
	Close
	Upgrade
)

func (c ConnectionType) String() string {
	switch c {
	case KeepAlive:
		return "keep-alive"
	case Close:
		return "close"
	case Upgrade:
		return "upgrade"
	default:
		return "unknown"
	}
}

// RequestHead is a parsed, validated request start-line plus headers.
type RequestHead struct {
	Method  string  // "GET", "POST", etc.
	Target  string  // request-target "/api/users?q=foo"
	Version Version // HTTP/1.0 or HTTP/1.1
	Headers Headers // ordered, repeatable headers

	// Derived by the Decoder.
	ConnType       ConnectionType
	Framing        BodyFraming
	ExpectContinue bool
	Upgrade        string // lower-cased first protocol of the Upgrade header

	// fallback is the connection type applied when an upgrade is declined.
	fallback ConnectionType
}

// IsHead reports whether the request method is HEAD.
func (h *RequestHead) IsHead() bool { return h.Method == "HEAD" }

// IsConnect reports whether the request method is CONNECT.
func (h *RequestHead) IsConnect() bool { return h.Method == "CONNECT" }

// Host returns the Host header.
func (h *RequestHead) Host() string { return h.Headers.Get("Host") }

// ResponseHead is a status line plus headers.
type ResponseHead struct {
	Version    Version // HTTP/1.1 when zero
	StatusCode int     // 200, 404, etc.
	Reason     string  // "OK", "Not Found"
	Headers    Headers // ordered, repeatable headers

	// Decided by the Decoder when reading a response, or by the Encoder when
	// writing one.
	ConnType ConnectionType
	Framing  BodyFraming
}

// NewResponseHead returns an HTTP/1.1 head with the standard reason phrase.
func NewResponseHead(code int) *ResponseHead {
	return &ResponseHead{Version: HTTP11, StatusCode: code, Reason: StatusText(code)}
}

func (h *ResponseHead) clone() *ResponseHead {
	c := *h
	c.Headers = h.Headers.Clone()
	return &c
}

// StatusText returns the standard reason phrase for code, or "" if unknown.
func StatusText(code int) string { return stdhttp.StatusText(code) }

// bodyAllowed reports whether a response with the status may carry content.
func bodyAllowed(code int) bool {
	return code >= 200 && code != 204 && code != 304
}
