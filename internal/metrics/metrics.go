package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for hookd.
	Registry = prometheus.NewRegistry()

	// Dispatched counts fan-out results by event type.
	Dispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookd_events_dispatched_total", Help: "Events dispatched by event type."},
		[]string{"event_type"},
	)
	// Attempts counts delivery attempt outcomes by event type and outcome
	// (success, retrying, failed).
	Attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookd_delivery_attempts_total", Help: "Delivery attempts by event type and outcome."},
		[]string{"event_type", "outcome"},
	)
	// AttemptLatency tracks outbound call latencies in milliseconds.
	AttemptLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "hookd_delivery_latency_ms", Help: "Delivery attempt latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"event_type", "outcome"},
	)
)

var regOnce sync.Once

// Register installs the hookd collectors plus Go/process collectors on
// Registry. Safe to call more than once.
func Register() {
	regOnce.Do(func() {
		Registry.MustRegister(Dispatched)
		Registry.MustRegister(Attempts)
		Registry.MustRegister(AttemptLatency)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
