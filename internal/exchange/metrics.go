package exchange

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional counter surface. Statistics export proper is out
// of this module's scope (spec.md §1); this is only the minimal hook set
// so an external exporter can observe send/retry/commit activity.
type Metrics interface {
	IncSent(t MessageType)
	IncSendFailure()
	IncCommit()
	IncRetransmit()
}

type noopMetrics struct{}

func (noopMetrics) IncSent(MessageType)  {}
func (noopMetrics) IncSendFailure()      {}
func (noopMetrics) IncCommit()           {}
func (noopMetrics) IncRetransmit()       {}

// prometheusMetrics implements Metrics against a caller-supplied registry.
type prometheusMetrics struct {
	sent         *prometheus.CounterVec
	sendFailures prometheus.Counter
	commits      prometheus.Counter
	retransmits  prometheus.Counter
}

// NewPrometheusMetrics registers and returns a prometheus-backed Metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) Metrics {
	m := &prometheusMetrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_messages_sent_total",
			Help: "Fabric messages sent by the exchange, by type.",
		}, []string{"type"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_send_failures_total",
			Help: "Fabric sends that returned an error.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_commits_total",
			Help: "Rounds successfully committed.",
		}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_retransmits_total",
			Help: "Data/ReadyToCommit retransmissions triggered by timers.",
		}),
	}
	reg.MustRegister(m.sent, m.sendFailures, m.commits, m.retransmits)
	return m
}

func (m *prometheusMetrics) IncSent(t MessageType) { m.sent.WithLabelValues(t.String()).Inc() }
func (m *prometheusMetrics) IncSendFailure()       { m.sendFailures.Inc() }
func (m *prometheusMetrics) IncCommit()            { m.commits.Inc() }
func (m *prometheusMetrics) IncRetransmit()        { m.retransmits.Inc() }
