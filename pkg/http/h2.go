package http

import (
	"net"
	stdhttp "net/http"

	"golang.org/x/net/http2"
)

// HandoffFunc takes over a connection that negotiated HTTP/2, either through
// TLS ALPN or by opening with the client preface. It owns conn from then on.
type HandoffFunc func(conn net.Conn)

// H2Handoff serves handed-off connections with srv and h.
func H2Handoff(srv *http2.Server, h stdhttp.Handler) HandoffFunc {
	if srv == nil {
		srv = &http2.Server{}
	}
	return func(conn net.Conn) {
		srv.ServeConn(conn, &http2.ServeConnOpts{Handler: h})
	}
}

// NextProtos is the ALPN list for a TLS listener that offers HTTP/2 ahead of
// HTTP/1.1.
func NextProtos() []string { return []string{http2.NextProtoTLS, "http/1.1"} }
