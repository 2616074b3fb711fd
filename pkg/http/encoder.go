package http

import (
	"strconv"
	"strings"

	"github.com/shapestone/shape-h1/internal/tokenizer"
)

// connectionValue is the Connection header a message needs so the peer
// reaches the same ConnectionType, or "" when the version default suffices.
func connectionValue(c ConnectionType, peer Version) string {
	switch c {
	case Upgrade:
		return "Upgrade"
	case Close:
		if peer.AtLeast(HTTP11) {
			return "close"
		}
	case KeepAlive:
		if !peer.AtLeast(HTTP11) {
			return "keep-alive"
		}
	}
	return ""
}

// agrees reports whether a caller-supplied Connection value leads to c.
func agrees(value string, c ConnectionType) bool {
	elems, err := tokenizer.Elements(value)
	if err != nil {
		return false
	}
	switch c {
	case Close:
		return hasElement(elems, "close")
	case Upgrade:
		return hasElement(elems, "upgrade") && !hasElement(elems, "close")
	default:
		return !hasElement(elems, "close") && !hasElement(elems, "upgrade")
	}
}

// appendFramedHeaders writes the caller's headers followed by whatever the
// framing decision still needs. Caller-supplied Content-Length,
// Transfer-Encoding and Connection lines stay in place when they agree with
// the decision and are dropped when they do not, so the order of a decoded
// head survives re-encoding.
func appendFramedHeaders(buf []byte, headers Headers, f BodyFraming, conn ConnectionType, peer Version, advertise bool) []byte {
	var wroteLength, wroteTE, wroteConn bool
	connValue := connectionValue(conn, peer)

	for _, h := range headers {
		switch {
		case strings.EqualFold(h.Key, "Content-Length"):
			if !advertise || f.Kind != FramingLength || wroteLength || h.Value != strconv.FormatInt(f.Length, 10) {
				continue
			}
			wroteLength = true
		case strings.EqualFold(h.Key, "Transfer-Encoding"):
			if !advertise || f.Kind != FramingChunked || wroteTE || !strings.EqualFold(strings.TrimSpace(h.Value), "chunked") {
				continue
			}
			wroteTE = true
		case strings.EqualFold(h.Key, "Connection"):
			if wroteConn || !agrees(h.Value, conn) {
				continue
			}
			wroteConn = true
		}
		buf = appendHeader(buf, h.Key, h.Value)
	}

	if advertise {
		switch {
		case f.Kind == FramingLength && !wroteLength:
			buf = append(buf, "Content-Length: "...)
			buf = strconv.AppendInt(buf, f.Length, 10)
			buf = appendCRLF(buf)
		case f.Kind == FramingChunked && !wroteTE:
			buf = appendHeader(buf, "Transfer-Encoding", "chunked")
		}
	}
	if connValue != "" && !wroteConn {
		buf = appendHeader(buf, "Connection", connValue)
	}
	return appendCRLF(buf)
}
