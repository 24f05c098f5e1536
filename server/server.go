// Package server runs the HTTP server-under-test for a benchmark run.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/weiihann/httpbench/config"
)

var (
	// ErrAddressBusy is returned by Start while a previous server bound to
	// the same configured address has not finished shutting down.
	ErrAddressBusy = errors.New("address still held by a previous server")

	// ErrAlreadyStarted is returned by Start when the Server already has an
	// active handle.
	ErrAlreadyStarted = errors.New("server already started")
)

// reserved tracks resolved addresses whose server has not fully stopped.
var reserved = struct {
	sync.Mutex
	addrs map[string]*net.TCPAddr
}{addrs: make(map[string]*net.TCPAddr)}

// overlaps reports whether binding a and b would claim the same port on a
// shared interface. An unspecified host covers every interface.
func overlaps(a, b *net.TCPAddr) bool {
	if a.Port != b.Port {
		return false
	}

	if len(a.IP) == 0 || len(b.IP) == 0 ||
		a.IP.IsUnspecified() || b.IP.IsUnspecified() {
		return true
	}

	return a.IP.Equal(b.IP)
}

func reserve(addr *net.TCPAddr) bool {
	reserved.Lock()
	defer reserved.Unlock()

	for _, held := range reserved.addrs {
		if overlaps(held, addr) {
			return false
		}
	}

	reserved.addrs[addr.String()] = addr

	return true
}

func release(addr *net.TCPAddr) {
	reserved.Lock()
	delete(reserved.addrs, addr.String())
	reserved.Unlock()
}

// Server owns the lifecycle of one server-under-test. It holds at most one
// active handle at a time.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	logger  *slog.Logger

	mu     sync.Mutex
	active *handle
}

type handle struct {
	key     *net.TCPAddr
	baseURL string
	srv     *http.Server
	done    chan struct{}
}

// New creates a Server. A nil handler serves Routes. Fault injection and
// h2c wrapping are applied according to cfg.
func New(
	cfg config.ServerConfig,
	handler http.Handler,
	logger *slog.Logger,
) *Server {
	if handler == nil {
		handler = Routes()
	}

	if cfg.FailAfter > 0 {
		handler = FailAfter(cfg.FailAfter, handler)
	}

	if cfg.Protocol == config.ProtocolH2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(slog.String("component", "server")),
	}
}

// Start binds the configured address and serves in the background. It
// returns the base URL clients should use once the listener is bound.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return "", ErrAlreadyStarted
	}

	// Reservations compare resolved addresses so that spellings of the same
	// port collide. Free-port binds are tracked by their real address once
	// bound.
	key, err := net.ResolveTCPAddr("tcp", s.cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", s.cfg.Addr, err)
	}

	freePort := key.Port == 0

	if !freePort && !reserve(key) {
		return "", fmt.Errorf("listen %s: %w", s.cfg.Addr, ErrAddressBusy)
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		if !freePort {
			release(key)
		}

		return "", fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	if freePort {
		if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
			key = tcp
		}
		reserve(key)
	}

	h := &handle{
		key:     key,
		baseURL: "http://" + dialAddr(ln.Addr()),
		srv: &http.Server{
			Handler:           s.handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		done: make(chan struct{}),
	}

	go func() {
		defer close(h.done)

		if err := h.srv.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", slog.String("error", err.Error()))
		}
	}()

	s.active = h

	s.logger.InfoContext(ctx, "server started",
		slog.String("addr", ln.Addr().String()),
		slog.String("protocol", s.cfg.Protocol),
	)

	return h.baseURL, nil
}

// Stop shuts down the active handle: graceful shutdown bounded by the
// configured timeout, then a forced close. It returns after the address is
// released. Calling Stop without an active handle is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	h := s.active
	s.active = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}

	defer release(h.key)

	shutdownCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	var stopErr error

	if err := h.srv.Shutdown(shutdownCtx); err != nil {
		stopErr = fmt.Errorf("graceful shutdown: %w", err)

		if closeErr := h.srv.Close(); closeErr != nil {
			stopErr = errors.Join(stopErr,
				fmt.Errorf("force close: %w", closeErr))
		}
	}

	<-h.done

	s.logger.InfoContext(ctx, "server stopped",
		slog.String("addr", h.key.String()),
		slog.Bool("clean", stopErr == nil),
	)

	return stopErr
}

// dialAddr turns a listener address into one a local client can dial.
func dialAddr(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || !tcp.IP.IsUnspecified() {
		return addr.String()
	}

	host := "127.0.0.1"
	if tcp.IP.To4() == nil {
		host = "::1"
	}

	return net.JoinHostPort(host, fmt.Sprint(tcp.Port))
}
