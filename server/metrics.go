package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pingcap/tunadb/engine"
)

// metrics backs the PerformanceCounter/TaskLoad response families: the
// counters are exported as prometheus.Collector values, scraped over the
// debug HTTP mux rather than pushed down the wire protocol. Each Server
// carries its own registry so two servers in one process never collide.
type metrics struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	requestErrors prometheus.Counter
	activeConns   prometheus.Gauge
}

func newMetrics(e *engine.Engine) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunadb_server_requests_total",
			Help: "Total requests handled, by dot-command.",
		}, []string{"command"}),
		requestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunadb_server_request_errors_total",
			Help: "Total requests that returned an error response.",
		}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunadb_server_active_connections",
			Help: "Number of currently open client connections.",
		}),
	}
	m.registry.MustRegister(m.requestsTotal, m.requestErrors, m.activeConns)
	for w := 0; w < e.NumWorkers(); w++ {
		w := w
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "tunadb_server_worker_task_load",
			Help:        "Locally-queued task depth, per worker, sampled at scrape time.",
			ConstLabels: prometheus.Labels{"worker": strconv.Itoa(w)},
		}, func() float64 {
			return float64(e.Runtime.Worker(w).QueueDepth())
		}))
	}
	return m
}

func (m *metrics) observeRequest(command string, typ ResponseType) {
	m.requestsTotal.WithLabelValues(command).Inc()
	if typ == RespError {
		m.requestErrors.Inc()
	}
}
