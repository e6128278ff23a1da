package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/stephnangue/profilebridge/listener"
	"github.com/stephnangue/profilebridge/logger"
)

type ApiListener struct {
	logger  *logger.GatedLogger
	server  *http.Server
	stopped atomic.Bool

	shutdownTimeout time.Duration

	mu    sync.Mutex
	addr  string
	ready chan struct{}
}

type ApiListenerConfig struct {
	Logger          *logger.GatedLogger
	Address         string
	ShutdownTimeout time.Duration
}

var _ listener.Listener = (*ApiListener)(nil)

func NewApiListener(cfg ApiListenerConfig, httpHandler http.Handler) (*ApiListener, error) {
	if err := listener.RequireLoopback(cfg.Address); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	var handler http.Handler = httpHandler
	handler = middleware.RealIP(handler)
	handler = middleware.Recoverer(handler)

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Enrichment may run for up to 30 seconds.
		WriteTimeout: 45 * time.Second,
	}

	return &ApiListener{
		logger: cfg.Logger.WithSubsystem("listener"),
		server: server,
		addr:   cfg.Address,
		ready:  make(chan struct{}),

		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// Addr is the bound address once Start has opened the socket, which matters
// when the configured port is 0.
func (l *ApiListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

func (l *ApiListener) Type() string {
	return "api"
}

// Ready is closed once the socket is bound.
func (l *ApiListener) Ready() <-chan struct{} {
	return l.ready
}

// Start binds the socket and serves until ctx is cancelled or the server
// fails.
func (l *ApiListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.addr = ln.Addr().String()
	l.mu.Unlock()
	close(l.ready)

	l.logger.Info("starting HTTP server", logger.String("address", l.Addr()))

	errChan := make(chan error, 1)
	go func() {
		err := l.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.logger.Info("shutdown signal received")
		return l.Stop()
	case err := <-errChan:
		l.logger.Error("HTTP server error", logger.Err(err))
		return err
	}
}

func (l *ApiListener) Stop() error {
	if !l.stopped.CompareAndSwap(false, true) {
		l.logger.Debug("HTTP server already stopped, skipping")
		return nil
	}

	l.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()

	if err := l.server.Shutdown(ctx); err != nil {
		l.logger.Error("error when shutting down the http server", logger.Err(err))
		return err
	}

	l.logger.Info("HTTP server stopped gracefully")
	return nil
}
