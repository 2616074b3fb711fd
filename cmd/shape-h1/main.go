// Command shape-h1 runs a demo server on the shape-h1 connection engine.
//
// Routes:
//
//	/echo     replies with the request body
//	/stream   streams the request body back chunk by chunk
//	/chunked  sends a chunked countdown
//	/ws       WebSocket echo
//	/         describes the request
//
// HTTP/2 (ALPN h2, or prior knowledge with -h2c) is served by x/net/http2.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"

	h1 "github.com/shapestone/shape-h1/pkg/http"
)

const serviceName = "shape-h1"

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatalln(err)
	}
}

func run(ctx context.Context) error {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "listen address")
		certFile   = flag.String("tls-cert", "", "TLS certificate file; enables TLS with -tls-key")
		keyFile    = flag.String("tls-key", "", "TLS key file")
		h2c        = flag.Bool("h2c", true, "accept HTTP/2 by prior knowledge and over ALPN")
		useOTLP    = flag.Bool("otlp", false, "export traces, metrics and logs over OTLP/gRPC")
		keepAlive  = flag.Duration("keepalive", 5*time.Second, "idle time between requests")
		pipelined  = flag.Int("max-pipelined", 16, "requests read ahead of their responses")
		maxBody    = flag.Int64("max-body", 8<<20, "request body limit in bytes")
		debugLevel = flag.Bool("debug", false, "log per-transaction events")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	level := slog.LevelInfo
	if *debugLevel {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *useOTLP {
		p, shutdown, err := setupOTel(ctx)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Println("otel shutdown:", err)
			}
		}()
		logger = otelslog.NewLogger(serviceName, otelslog.WithLoggerProvider(p.logger))
	}
	slog.SetDefault(logger)

	cfg := h1.DefaultConfig()
	cfg.KeepAliveTimeout = *keepAlive
	cfg.MaxPipelined = *pipelined
	cfg.MaxBodySize = *maxBody
	cfg.ServerName = serviceName

	srv := &h1.Server{
		Handler:        newRouter(logger),
		Config:         cfg,
		Logger:         logger,
		MeterProvider:  otel.GetMeterProvider(),
		TracerProvider: otel.GetTracerProvider(),
	}
	if *h2c {
		srv.H2 = h2Handoff()
	}
	if *certFile != "" {
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			return err
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: h1.NextProtos()}
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe(ctx, *addr)
	}()

	select {
	case err := <-serverErrCh:
		if !errors.Is(err, h1.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		stop()
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
