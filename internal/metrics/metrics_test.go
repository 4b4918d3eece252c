package metrics_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"forwardproxy/internal/metrics"
)

func TestAcceptConnectionTracksActiveGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	done := m.AcceptConnection()
	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if !hasMetricNamed(mf, "proxy_active_connections") {
		t.Fatal("expected proxy_active_connections to be registered")
	}
	done()
}

func TestObserveExchangeRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveExchange(metrics.OutcomeCacheHit, 5*time.Millisecond)

	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if !hasMetricNamed(mf, "proxy_exchange_outcomes_total") {
		t.Fatal("expected proxy_exchange_outcomes_total to be registered")
	}
}

func TestHandlerServesMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveExchange(metrics.OutcomeCacheMiss, time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func hasMetricNamed(mf []*dto.MetricFamily, name string) bool {
	for _, f := range mf {
		if f.GetName() == name {
			return true
		}
	}
	return false
}
