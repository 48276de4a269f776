package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the counters spec.md's "monitor statistics" external
// collaborator reads, wired to Prometheus (a direct dependency of the
// host application) instead of the unexported atomic counters
// pkg/wkserver/metrics.go uses internally, since these are meant to be
// an external contract, not hidden state.
type Metrics struct {
	RequestsReceived prometheus.Counter
	ResponsesSent    prometheus.Counter
	OnewayReceived   prometheus.Counter
	Errors           *prometheus.CounterVec
	ExecutorRejected prometheus.Counter

	// RequestsSent/OnewaySent/InvokeTimeouts cover the server-initiated
	// direction: a server holding a Connection can invoke the peer the
	// same way a client invokes a server (spec.md 4.8's "only the
	// Connection form is available on the server").
	RequestsSent   prometheus.Counter
	OnewaySent     prometheus.Counter
	InvokeTimeouts prometheus.Counter
}

// NewMetrics constructs and registers counters under reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test servers.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wkrpc_server_requests_received_total",
			Help: "RPC requests received by the server dispatcher.",
		}),
		ResponsesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wkrpc_server_responses_sent_total",
			Help: "RPC responses written by the server dispatcher.",
		}),
		OnewayReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wkrpc_server_oneway_received_total",
			Help: "Oneway commands received by the server dispatcher.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wkrpc_server_errors_total",
			Help: "Errors observed by the server dispatcher, labeled by status.",
		}, []string{"status"}),
		ExecutorRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wkrpc_server_executor_rejected_total",
			Help: "Requests rejected because the selected executor pool was full.",
		}),
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wkrpc_server_requests_sent_total",
			Help: "Server-initiated RPC requests sent to a connected peer.",
		}),
		OnewaySent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wkrpc_server_oneway_sent_total",
			Help: "Server-initiated oneway commands sent to a connected peer.",
		}),
		InvokeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wkrpc_server_invoke_timeouts_total",
			Help: "Server-initiated invocations that completed with TIMEOUT.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RequestsReceived, m.ResponsesSent, m.OnewayReceived, m.Errors,
			m.ExecutorRejected, m.RequestsSent, m.OnewaySent, m.InvokeTimeouts)
	}
	return m
}
