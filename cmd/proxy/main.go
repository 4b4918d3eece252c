// Command proxy starts the caching HTTP forward proxy: "proxy <port>". It
// wires configuration, the cache, metrics, tracing, the admin server, and
// the TCP acceptor together.
package main

import (
	"context"
	"log"
	"net"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"forwardproxy/internal/acceptor"
	"forwardproxy/internal/admin"
	"forwardproxy/internal/applog"
	"forwardproxy/internal/cache"
	"forwardproxy/internal/config"
	"forwardproxy/internal/metrics"
	"forwardproxy/internal/tracing"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: could not load .env file (%v), using system environment variables", err)
	}

	cfg, err := config.Load()
	if err != nil {
		applog.LogFatal("config", err)
		log.Fatal(err)
	}

	listenAddr := cfg.ListenAddr
	if len(os.Args) > 1 {
		listenAddr = net.JoinHostPort("", os.Args[1])
	}

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName:   "forwardproxy",
		Enabled:       cfg.TracingEnabled,
		SamplingRatio: 1,
	})
	if err != nil {
		applog.LogFatal("tracing", err)
		log.Fatal(err)
	}
	defer shutdownTracing(context.Background())

	reg := prometheus.NewRegistry()
	c := cache.NewSized(cfg.CacheMaxSize, cfg.CacheMaxObject)
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		c = c.WithMetrics(reg, "forwardproxy")
		m = metrics.New(reg)
	}

	a, err := acceptor.Listen(listenAddr, c)
	if err != nil {
		applog.LogFatal("acceptor", err)
		os.Exit(1)
	}
	if m != nil {
		a = a.WithMetrics(m)
	}

	adminServer := admin.New(cfg.AdminAddr, m)
	go func() {
		if err := adminServer.ListenAndServe(); err != nil {
			applog.LogFatal("admin", err)
		}
	}()

	log.Printf("listening on %s, admin on %s, cache budget %d/%d bytes",
		a.Addr(), cfg.AdminAddr, cfg.CacheMaxObject, cfg.CacheMaxSize)

	if err := a.ServeUntilSignal(); err != nil {
		applog.LogFatal("acceptor", err)
		os.Exit(1)
	}

	_ = adminServer.Shutdown(context.Background())
}
