package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	stdhttp "net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	h1 "github.com/shapestone/shape-h1/pkg/http"
)

type router struct {
	logger *slog.Logger
}

func newRouter(logger *slog.Logger) h1.Handler {
	return &router{logger: logger}
}

func (rt *router) ServeHTTP1(ctx context.Context, req *h1.Request) *h1.Response {
	path, _, _ := strings.Cut(req.Head.Target, "?")
	switch path {
	case "/echo":
		return rt.echo(ctx, req)
	case "/stream":
		return rt.stream(req)
	case "/chunked":
		return rt.chunked()
	case "/ws":
		return rt.websocket(req)
	default:
		return rt.describe(req)
	}
}

func (rt *router) echo(ctx context.Context, req *h1.Request) *h1.Response {
	body, err := req.Payload.ReadAll(ctx)
	if err != nil {
		rt.logger.DebugContext(ctx, "echo: read failed", "conn", req.ConnID, "error", err)
		return textResponse(400, err.Error()+"\n")
	}
	resp := h1.NewResponse(200, h1.FixedBody(body))
	if ct := req.Head.Headers.Get("Content-Type"); ct != "" {
		resp.Head.Headers.Add("Content-Type", ct)
	}
	return resp
}

// stream sends the request body back as it arrives, without buffering it.
func (rt *router) stream(req *h1.Request) *h1.Response {
	resp := h1.NewResponse(200, h1.StreamBody(func(ctx context.Context) ([]byte, error) {
		c, err := req.Payload.Next(ctx)
		if err != nil {
			return nil, err
		}
		if c.EOF {
			return append([]byte(nil), c.Data...), io.EOF
		}
		return append([]byte(nil), c.Data...), nil
	}, h1.UnknownLength))
	resp.Head.Headers.Add("Content-Type", "application/octet-stream")
	return resp
}

func (rt *router) chunked() *h1.Response {
	n := 5
	resp := h1.NewResponse(200, h1.StreamBody(func(ctx context.Context) ([]byte, error) {
		if n == 0 {
			return nil, io.EOF
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		n--
		return []byte(fmt.Sprintf("%d\n", n)), nil
	}, h1.UnknownLength))
	resp.Head.Headers.Add("Content-Type", "text/plain")
	return resp
}

func (rt *router) websocket(req *h1.Request) *h1.Response {
	head, err := h1.WebSocketHandshake(req.Head)
	if err != nil {
		var he h1.HandshakeError
		if errors.As(err, &he) {
			return he.Response()
		}
		return textResponse(400, err.Error()+"\n")
	}
	logger := rt.logger.With("conn", req.ConnID)
	return &h1.Response{Head: head, Upgrade: func(ctx context.Context, conn net.Conn) {
		if err := echoFrames(ctx, conn); err != nil && !errors.Is(err, io.EOF) {
			logger.DebugContext(ctx, "websocket echo ended", "error", err)
		}
	}}
}

func (rt *router) describe(req *h1.Request) *h1.Response {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", req.Head.Method, req.Head.Target, req.Head.Version)
	for _, f := range req.Head.Headers {
		fmt.Fprintf(&b, "%s: %s\n", f.Key, f.Value)
	}
	fmt.Fprintf(&b, "remote: %s\n", req.RemoteAddr)
	return textResponse(200, b.String())
}

func textResponse(code int, s string) *h1.Response {
	resp := h1.NewResponse(code, h1.FixedBody([]byte(s)))
	resp.Head.Headers.Add("Content-Type", "text/plain; charset=utf-8")
	return resp
}

// h2Handoff serves HTTP/2 connections with net/http handlers instrumented
// by otelhttp.
func h2Handoff() h1.HandoffFunc {
	mux := stdhttp.NewServeMux()
	mux.HandleFunc("/echo", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		io.Copy(w, r.Body)
	})
	mux.HandleFunc("/", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "%s %s %s\n", r.Method, r.URL.RequestURI(), r.Proto)
		for k, vs := range r.Header {
			for _, v := range vs {
				fmt.Fprintf(w, "%s: %s\n", k, v)
			}
		}
		fmt.Fprintf(w, "remote: %s\n", r.RemoteAddr)
	})
	return h1.H2Handoff(nil, otelhttp.NewHandler(mux, "h2"))
}
