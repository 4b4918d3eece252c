// Package acceptor implements the proxy's TCP accept loop. It binds a
// listener, hands every accepted connection to an independent worker, and
// shuts down cleanly on SIGINT/SIGTERM.
package acceptor

import (
	"context"
	"net"
	"os/signal"
	"syscall"

	"forwardproxy/internal/applog"
	"forwardproxy/internal/cache"
	"forwardproxy/internal/metrics"
	"forwardproxy/internal/worker"
)

// Acceptor owns the listening socket and the Worker that every accepted
// connection is handed to, each on its own goroutine.
type Acceptor struct {
	listener net.Listener
	worker   *worker.Worker
}

// Listen binds addr (e.g. ":9999") and returns an Acceptor ready to Serve.
// A bind/listen failure here is fatal at the process level; the caller is
// expected to log it and exit(1).
func Listen(addr string, c *cache.Cache) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{listener: ln, worker: worker.New(c)}, nil
}

// WithMetrics attaches connection- and exchange-level instrumentation to
// every worker this Acceptor dispatches to.
func (a *Acceptor) WithMetrics(m *metrics.Metrics) *Acceptor {
	a.worker = a.worker.WithMetrics(m)
	return a
}

// Serve accepts connections until ctx is canceled (by SIGINT/SIGTERM, via
// ServeUntilSignal) or the listener is closed. It never returns in normal
// operation otherwise; each accepted connection is dispatched to its own
// goroutine and does not block the accept loop.
func (a *Acceptor) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.listener.Close()
	}()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				applog.LogFatal("acceptor", err)
				return err
			}
		}
		go a.worker.Handle(conn)
	}
}

// ServeUntilSignal runs Serve until SIGINT or SIGTERM is received, then
// closes the listener and returns. A broken client write raises EPIPE on a
// write syscall, not a process signal, in Go's net package, so there is no
// SIGPIPE-equivalent to explicitly ignore here; Go never delivers it as a
// terminating signal in the first place.
func (a *Acceptor) ServeUntilSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Close closes the listening socket without waiting for in-flight workers.
func (a *Acceptor) Close() error {
	return a.listener.Close()
}

// Addr returns the listener's bound address, useful when Listen was given
// port 0 (tests and ephemeral bindings).
func (a *Acceptor) Addr() string {
	return a.listener.Addr().String()
}
