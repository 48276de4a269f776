package client

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors server.Metrics for the client side, grounded on the
// same pkg/wkserver/metrics.go counters, wired to Prometheus.
type Metrics struct {
	Sent      prometheus.Counter
	OnewaySent prometheus.Counter
	Timeouts  prometheus.Counter
	Errors    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wkrpc_client_requests_sent_total",
			Help: "RPC requests sent by the client.",
		}),
		OnewaySent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wkrpc_client_oneway_sent_total",
			Help: "Oneway commands sent by the client.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wkrpc_client_timeouts_total",
			Help: "Invocations that completed with TIMEOUT.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wkrpc_client_errors_total",
			Help: "Invocation errors, labeled by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.Sent, m.OnewaySent, m.Timeouts, m.Errors)
	}
	return m
}
