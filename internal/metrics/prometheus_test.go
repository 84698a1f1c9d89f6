package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersRepriced.Inc()
	prom.Metrics.OrdersRepriced.Inc()
	prom.Metrics.SwapsExecuted.Inc()
	prom.Metrics.Anomalies.Inc()

	assertCounter(t, prom, "orders_placed_total", 1)
	assertCounter(t, prom, "orders_repriced_total", 2)
	assertCounter(t, prom, "swaps_executed_total", 1)
	assertCounter(t, prom, "anomalies_total", 1)
	assertCounter(t, prom, "sessions_failed_total", 0)
}

func TestPrometheusHandlerExposesNamespace(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.SessionsCompleted.Inc()
	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "hl_delta_neutral_sessions_completed_total 1") {
		t.Fatalf("expected sessions counter in output, got:\n%s", rec.Body.String())
	}
}

func TestOrNoop(t *testing.T) {
	m := OrNoop(nil)
	m.StalePrice.Inc()
	if OrNoop(m) != m {
		t.Fatalf("expected existing metrics to pass through")
	}
}

func assertCounter(t *testing.T, prom *Prometheus, name string, expected float64) {
	t.Helper()
	counter, ok := prom.counters[name]
	if !ok {
		t.Fatalf("counter %s not registered", name)
	}
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("%s: expected %v, got %v", name, expected, got)
	}
}
