// Package cleanup provides graceful shutdown handling and safe subprocess
// lifecycle management. Every tunnel and every in-flight artifact registers a
// named cleanup function here so interruption tears them down exactly once.
package cleanup

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"tunneldump/internal/logger"
)

// Func performs one cleanup action under a timeout context
type Func func(ctx context.Context) error

// Handler manages graceful shutdown and resource cleanup
type Handler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries []entry

	shutdownTimeout time.Duration
	log             logger.Logger

	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

type entry struct {
	name string
	fn   Func
}

// NewHandler creates a shutdown handler
func NewHandler(log logger.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		ctx:             ctx,
		cancel:          cancel,
		shutdownTimeout: 30 * time.Second,
		log:             log,
		shutdownDone:    make(chan struct{}),
	}
}

// Context returns the context cancelled on shutdown
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Register adds a named cleanup function
func (h *Handler) Register(name string, fn Func) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry{name: name, fn: fn})
}

// Unregister removes a named cleanup function, for resources released
// normally before shutdown.
func (h *Handler) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.name == name {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}

// SetShutdownTimeout sets the maximum time to wait for cleanup
func (h *Handler) SetShutdownTimeout(d time.Duration) {
	h.shutdownTimeout = d
}

// Shutdown cancels the context and runs all cleanup functions once,
// in LIFO order.
func (h *Handler) Shutdown() error {
	var result error
	h.shutdownOnce.Do(func() {
		h.cancel()
		result = h.runCleanup()
		close(h.shutdownDone)
	})
	return result
}

// Wait blocks until shutdown is complete
func (h *Handler) Wait() {
	<-h.shutdownDone
}

func (h *Handler) runCleanup() error {
	h.mu.Lock()
	fns := make([]entry, len(h.entries))
	copy(fns, h.entries)
	h.mu.Unlock()

	if len(fns) == 0 {
		return nil
	}

	h.log.Debug("Running cleanup functions", "count", len(fns))

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	var errs *multierror.Error
	for i := len(fns) - 1; i >= 0; i-- {
		e := fns[i]
		if err := e.fn(ctx); err != nil {
			h.log.Warn("Cleanup function failed", "name", e.name, "error", err)
			errs = multierror.Append(errs, err)
		} else {
			h.log.Debug("Cleanup completed", "name", e.name)
		}
	}
	return errs.ErrorOrNil()
}

// RegisterSignalHandler installs INT/TERM handling that triggers shutdown.
// The returned stop function detaches the handler.
func (h *Handler) RegisterSignalHandler() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		h.log.Info("Received signal, initiating shutdown", "signal", sig.String())
		_ = h.Shutdown()
	}()

	return func() {
		signal.Stop(ch)
		close(ch)
	}
}
