// Package worker implements the per-connection state machine: parse the
// client's request, serve it from cache on a hit, or fetch it from origin
// and forward it on a miss, closing every resource on every exit path.
package worker

import (
	"context"
	"fmt"
	"net"
	"time"

	"forwardproxy/internal/applog"
	"forwardproxy/internal/cache"
	"forwardproxy/internal/forward"
	"forwardproxy/internal/httpline"
	"forwardproxy/internal/metrics"
	"forwardproxy/internal/rewrite"
	"forwardproxy/internal/rio"
	"forwardproxy/internal/tracing"
)

// DialTimeout bounds how long the worker waits to connect to an origin
// server before giving up. The spec sets no cancellation policy beyond I/O
// failure; this is the implementer-added timeout it explicitly permits.
const DialTimeout = 10 * time.Second

// Dialer abstracts origin connection setup so tests can substitute an
// in-process listener without a real network dependency.
type Dialer func(network, address string, timeout time.Duration) (net.Conn, error)

func defaultDialer(network, address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, address, timeout)
}

// Worker serves accepted connections against a shared cache.
type Worker struct {
	cache   *cache.Cache
	dial    Dialer
	metrics *metrics.Metrics
}

// New returns a Worker backed by c, dialing origins over the real network.
func New(c *cache.Cache) *Worker {
	return &Worker{cache: c, dial: defaultDialer}
}

// WithDialer overrides how the worker connects to origin servers. Used by
// tests to point "origin" at an in-process listener.
func (w *Worker) WithDialer(d Dialer) *Worker {
	w.dial = d
	return w
}

// WithMetrics attaches connection- and exchange-level Prometheus
// instrumentation. Optional: a Worker with no metrics attached behaves
// identically, just unobserved.
func (w *Worker) WithMetrics(m *metrics.Metrics) *Worker {
	w.metrics = m
	return w
}

// Handle drives one accepted connection to completion. It always closes
// conn before returning.
func (w *Worker) Handle(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	applog.LogAccept(remote)

	ctx, span := tracing.StartConnection(context.Background(), remote)
	defer span.End()

	start := time.Now()
	if w.metrics != nil {
		done := w.metrics.AcceptConnection()
		defer done()
	}

	p := httpline.New()
	r := rio.NewReader(conn)

	if err := readRequestHead(r, p); err != nil {
		writeErrorReply(conn, 400, "Bad Request", "The request could not be parsed.")
		applog.LogClientError(remote, 400, err.Error())
		w.observe(metrics.OutcomeClientErr, start)
		return
	}

	method, _ := p.Retrieve(httpline.FieldMethod)
	scheme, _ := p.Retrieve(httpline.FieldScheme)
	version, _ := p.Retrieve(httpline.FieldHTTPVersion)
	uri, _ := p.Retrieve(httpline.FieldURI)
	host, _ := p.Retrieve(httpline.FieldHost)
	port, _ := p.Retrieve(httpline.FieldPort)

	if method != "GET" {
		writeErrorReply(conn, 501, "Not Implemented", "This proxy only supports GET.")
		applog.LogClientError(remote, 501, "method "+method)
		w.observe(metrics.OutcomeClientErr, start)
		return
	}
	if scheme != "http" {
		writeErrorReply(conn, 501, "Not Implemented", "This proxy only supports the http scheme.")
		applog.LogClientError(remote, 501, "scheme "+scheme)
		w.observe(metrics.OutcomeClientErr, start)
		return
	}
	if version != "HTTP/1.0" && version != "HTTP/1.1" {
		writeErrorReply(conn, 400, "Bad Request", "Unrecognized HTTP version.")
		applog.LogClientError(remote, 400, "version "+version)
		w.observe(metrics.OutcomeClientErr, start)
		return
	}

	applog.LogRequest(remote, method, uri)

	if h, ok := w.cache.Get(uri); ok {
		defer h.Release()
		rw := rio.NewWriter(conn)
		_ = rw.WriteAll(h.Value())
		applog.LogCacheHit(remote, uri, h.Size())
		w.observe(metrics.OutcomeCacheHit, start)
		return
	}

	_, fetchSpan := tracing.StartOriginFetch(ctx, uri)
	defer fetchSpan.End()

	origin, err := w.dial("tcp", net.JoinHostPort(host, port), DialTimeout)
	if err != nil {
		applog.LogOriginError(remote, uri, err)
		w.observe(metrics.OutcomeOriginErr, start)
		return
	}
	defer origin.Close()

	outbound, err := rewrite.Build(p)
	if err != nil {
		applog.LogOriginError(remote, uri, err)
		w.observe(metrics.OutcomeOriginErr, start)
		return
	}

	originWriter := rio.NewWriter(origin)
	if err := originWriter.WriteAll(outbound); err != nil {
		applog.LogOriginError(remote, uri, err)
		w.observe(metrics.OutcomeOriginErr, start)
		return
	}

	res, err := forward.Stream(conn, origin)
	if err != nil {
		applog.LogOriginError(remote, uri, err)
		w.observe(metrics.OutcomeOriginErr, start)
		return
	}

	cached := false
	if res.Cacheable {
		cached = w.cache.Insert(uri, res.Candidate, len(res.Candidate))
	}
	applog.LogCacheMiss(remote, uri, res.BytesWritten, cached)
	w.observe(metrics.OutcomeCacheMiss, start)
}

func (w *Worker) observe(outcome string, start time.Time) {
	if w.metrics != nil {
		w.metrics.ObserveExchange(outcome, time.Since(start))
	}
}

// readRequestHead reads the request line and every header line up to the
// terminating blank line, feeding each to p.
func readRequestHead(r *rio.Reader, p *httpline.Parser) error {
	line, err := r.ReadLine(httpline.MaxLineLength)
	if err != nil {
		return err
	}
	if _, err := p.ParseLine(string(line)); err != nil {
		return err
	}

	for {
		line, err := r.ReadLine(httpline.MaxLineLength)
		if err != nil {
			return err
		}
		if httpline.IsBlankLine(string(line)) {
			return nil
		}
		if _, err := p.ParseLine(string(line)); err != nil {
			return err
		}
	}
}

// writeErrorReply sends a minimal HTTP/1.0 error response with an HTML
// body describing the failure. Write failures here are not further
// reported: the connection is already being torn down.
func writeErrorReply(conn net.Conn, code int, short, long string) {
	body := fmt.Sprintf(
		"<!DOCTYPE html><html><head><title>Error</title></head>\r\n"+
			"<body bgcolor=\"ffffff\"><h1>%d: %s</h1><p>%s</p>\r\n"+
			"<hr/><em>Proxy</em></body></html>",
		code, short, long)

	resp := fmt.Sprintf(
		"HTTP/1.0 %d %s\r\nContent-Type: text/html\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, short, len(body), body)

	w := rio.NewWriter(conn)
	_ = w.WriteAll([]byte(resp))
}
