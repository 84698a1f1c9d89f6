package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_delta_neutral"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
	}
	p.Metrics = &Metrics{
		OrdersPlaced:      p.counter("orders_placed_total", "Total number of trailing orders placed."),
		OrdersRepriced:    p.counter("orders_repriced_total", "Total number of successful order reprices."),
		ModifyFailed:      p.counter("modify_failed_total", "Total number of failed order modifications."),
		StalePrice:        p.counter("stale_price_total", "Total number of polls where the resting price differed from the venue."),
		SwapsExecuted:     p.counter("swaps_executed_total", "Total number of confirmed hedge swaps."),
		SwapRetries:       p.counter("swap_retries_total", "Total number of hedge swap attempts that returned no result."),
		Anomalies:         p.counter("anomalies_total", "Total number of position moves against the session direction."),
		SessionsCompleted: p.counter("sessions_completed_total", "Total number of sessions that reached their target."),
		SessionsFailed:    p.counter("sessions_failed_total", "Total number of aborted or failed sessions."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return promCounter{c}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
