package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains HTTP servers and then releases resources in reverse
// registration order, so a connection opened first is closed last.
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu      sync.Mutex
	servers []*http.Server
	funcs   []namedShutdown
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		timeout: timeout,
	}
}

// AddServer registers an HTTP server to drain before any shutdown funcs run
func (sm *ShutdownManager) AddServer(server *http.Server) {
	if server == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, server)
}

// RegisterShutdownFunc registers a named function to call during shutdown
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx cancellation, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	sm.logger.Info("Shutdown requested, starting graceful shutdown")

	return sm.Shutdown()
}

// Shutdown drains servers then runs shutdown funcs, bounded by the manager timeout
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	servers := append([]*http.Server(nil), sm.servers...)
	funcs := append([]namedShutdown(nil), sm.funcs...)
	sm.mu.Unlock()

	var errs []error

	var wg sync.WaitGroup
	var errMu sync.Mutex
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				sm.logger.WithError(err).WithField("addr", srv.Addr).Error("HTTP server shutdown error")
				errMu.Lock()
				errs = append(errs, fmt.Errorf("server %s: %w", srv.Addr, err))
				errMu.Unlock()
			}
		}(srv)
	}
	wg.Wait()

	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("shutdown timeout reached before %s", f.name))
			break
		}
		if err := f.fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("component", f.name).Error("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		sm.logger.WithField("component", f.name).Debug("Shutdown step complete")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
