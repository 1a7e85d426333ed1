package metrics

import "github.com/prometheus/client_golang/prometheus"

// BillingMetrics exposes counters/histograms for the invoicing flow.
type BillingMetrics struct {
	requestsTotal    *prometheus.CounterVec
	dispatchTotal    *prometheus.CounterVec
	completionsTotal *prometheus.CounterVec
	dispatchLatency  *prometheus.HistogramVec
}

func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	m := &BillingMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "billing",
			Name:      "invoice_requests_total",
			Help:      "Invoice requests queued, by type",
		}, []string{"type"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "billing",
			Name:      "dispatch_total",
			Help:      "Invoice webhook dispatch attempts, by resulting status",
		}, []string{"status"}),
		completionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "billing",
			Name:      "completions_total",
			Help:      "Invoice completion callbacks, by reported status",
		}, []string{"status"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lumen",
			Subsystem: "billing",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of the invoicing webhook call",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.dispatchTotal, m.completionsTotal, m.dispatchLatency)
	return m
}

func (m *BillingMetrics) ObserveRequest(kind string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(kind).Inc()
}

func (m *BillingMetrics) ObserveDispatch(status string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(status).Inc()
	m.dispatchLatency.WithLabelValues(status).Observe(seconds)
}

func (m *BillingMetrics) ObserveCompletion(status string) {
	if m == nil {
		return
	}
	m.completionsTotal.WithLabelValues(status).Inc()
}

// TurnstileMetrics counts bot-protection verifications.
type TurnstileMetrics struct {
	verificationsTotal *prometheus.CounterVec
}

func NewTurnstileMetrics(reg prometheus.Registerer) *TurnstileMetrics {
	m := &TurnstileMetrics{
		verificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "turnstile",
			Name:      "verifications_total",
			Help:      "Turnstile token verifications, by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.verificationsTotal)
	return m
}

func (m *TurnstileMetrics) ObserveVerification(outcome string) {
	if m == nil {
		return
	}
	m.verificationsTotal.WithLabelValues(outcome).Inc()
}

// RealtimeMetrics tracks live subscription connections and snapshot pushes.
type RealtimeMetrics struct {
	connections prometheus.Gauge
	snapshots   *prometheus.CounterVec
}

func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lumen",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open subscription connections",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "realtime",
			Name:      "snapshots_total",
			Help:      "Snapshots pushed to subscribers, by topic and outcome",
		}, []string{"topic", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.connections, m.snapshots)
	return m
}

func (m *RealtimeMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *RealtimeMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *RealtimeMetrics) ObserveSnapshot(topic, outcome string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(topic, outcome).Inc()
}
