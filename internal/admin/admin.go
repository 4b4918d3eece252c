// Package admin runs a small HTTP server, separate from the proxy's raw
// TCP listener, exposing /healthz and (when metrics are enabled) /metrics.
package admin

import (
	"context"
	"net/http"
	"time"

	"forwardproxy/internal/metrics"
)

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
}

// New builds an admin server listening on addr. metrics may be nil, in
// which case /metrics responds 404.
func New(addr string, m *metrics.Metrics) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// ListenAndServe blocks serving admin requests until the server is shut
// down or fails to bind. http.ErrServerClosed is not an error from the
// caller's point of view.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's underlying http.Handler, letting tests drive
// it directly without binding a real socket.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
