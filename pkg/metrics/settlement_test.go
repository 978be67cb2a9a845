package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSettlementMetricsCountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)
	m.IncReservation("card", "reserved")
	m.IncSettlement("completed")
	m.IncSettlement("completed")
	m.IncAnomaly("oversell")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "market_settlements_total", "outcome", "completed"); err != nil || got != 2 {
		t.Fatalf("expected completed=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "market_settlement_anomalies_total", "kind", "oversell"); err != nil || got != 1 {
		t.Fatalf("expected oversell=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "market_reservations_total", "method", "card"); err != nil || got != 1 {
		t.Fatalf("expected card reservations=1, got %f (%v)", got, err)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var s *SettlementMetrics
	s.IncSettlement("completed")
	s.IncAnomaly("oversell")
	NewSettlementMetrics(nil).IncReservation("crypto", "conflict")

	var h *HTTPMetrics
	h.Observe(http.MethodGet, "/health/live", http.StatusOK, time.Millisecond)
}

func TestHTTPMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHTTPMetrics(reg)
	h.Observe(http.MethodPost, "/api/v1/orders", http.StatusCreated, 20*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchHistogramSum(mfs, "market_http_request_duration_seconds", "route", "/api/v1/orders"); err != nil || got <= 0 {
		t.Fatalf("expected observed latency, got %f (%v)", got, err)
	}
}

func TestOutboxMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncPublished("order_completed")
	m.IncFailure("order_failed", "retry")
	var nilMetrics *OutboxMetrics
	nilMetrics.IncPublished("order_completed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "market_outbox_published_total", "event_type", "order_completed"); err != nil || got != 1 {
		t.Fatalf("expected published=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "market_outbox_failures_total", "disposition", "retry"); err != nil || got != 1 {
		t.Fatalf("expected retry failures=1, got %f (%v)", got, err)
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewSettlementMetrics(reg).IncSettlement("noop")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `market_settlements_total{outcome="noop"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", rec.Body.String())
	}
}
