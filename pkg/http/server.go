package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Server accepts connections and runs one Dispatcher per connection.
type Server struct {
	Handler        Handler
	Config         Config               // DefaultConfig() when zero
	Logger         *slog.Logger         // slog.Default() when nil
	MeterProvider  metric.MeterProvider // the global provider when nil
	TracerProvider trace.TracerProvider // the global provider when nil
	TLSConfig      *tls.Config          // serve TLS when set
	H2             HandoffFunc          // nil disables HTTP/2 handoff

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]*Dispatcher // nil until its Dispatcher starts
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
	metrics   *Metrics
	initErr   error
	initOnce  sync.Once
}

func (s *Server) init() error {
	s.initOnce.Do(func() {
		if s.Config == (Config{}) {
			s.Config = DefaultConfig()
		}
		if err := s.Config.Validate(); err != nil {
			s.initErr = err
			return
		}
		if s.Logger == nil {
			s.Logger = slog.Default()
		}
		s.metrics, s.initErr = NewMetrics(s.MeterProvider)
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.listeners = make(map[net.Listener]struct{})
		s.conns = make(map[net.Conn]*Dispatcher)
	})
	return s.initErr
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Shutdown is
// called, after which it returns ErrServerClosed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.init(); err != nil {
		return err
	}
	if s.TLSConfig != nil {
		ln = tls.NewListener(ln, s.TLSConfig)
	}
	if !s.track(ln) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.untrack(ln)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.Logger.Info("listening", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || ctx.Err() != nil {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else if backoff *= 2; backoff > time.Second {
					backoff = time.Second
				}
				s.Logger.Warn("accept failed, retrying", "err", err, "delay", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		if !s.trackConn(conn) {
			conn.Close()
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(conn)

	// Connections end with the server, not only with the listener's context.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if tc, ok := conn.(*tls.Conn); ok {
		tc.SetDeadline(time.Now().Add(s.Config.HeadTimeout))
		if err := tc.HandshakeContext(ctx); err != nil {
			s.Logger.Debug("tls handshake failed", "remote", addrString(conn.RemoteAddr()), "err", err)
			conn.Close()
			return
		}
		tc.SetDeadline(time.Time{})
	}

	var tracer trace.Tracer
	if s.TracerProvider != nil {
		tracer = s.TracerProvider.Tracer(instrumentationName)
	}
	d := NewDispatcher(conn, s.Handler, DispatcherOptions{
		Config:  s.Config,
		Logger:  s.Logger,
		Metrics: s.metrics,
		Tracer:  tracer,
		H2:      s.H2,
	})
	s.attach(conn, d)
	if err := d.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.Logger.Debug("connection ended with error", "conn", d.ID(), "err", err)
	}
}

// Shutdown stops accepting connections, asks idle ones to close and waits
// for the rest to finish their requests. When ctx expires first, the
// remaining connections are cancelled and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.init(); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	for ln := range s.listeners {
		ln.Close()
	}
	for _, d := range s.conns {
		if d != nil {
			d.CloseIdle()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrack(ln net.Listener) {
	s.mu.Lock()
	delete(s.listeners, ln)
	s.mu.Unlock()
}

func (s *Server) trackConn(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = nil
	s.wg.Add(1)
	return true
}

// attach records the Dispatcher serving c. A server already shutting down
// asks it to close once idle.
func (s *Server) attach(c net.Conn, d *Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = d
	if s.closed {
		d.CloseIdle()
	}
}

func (s *Server) untrackConn(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// ActiveConns returns the number of open connections.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
