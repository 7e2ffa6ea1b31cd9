// Package observability holds the Prometheus metrics exported by opsdash.
//
// All metrics are registered on a caller-supplied registry. Every method is
// nil-safe: components built without metrics simply skip recording.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "opsdash"

// Metrics groups every collector, stream, runner, insight and trigger metric.
type Metrics struct {
	// CyclesTotal counts collector cycles by module and result (ok, error).
	CyclesTotal *prometheus.CounterVec

	// CycleSeconds measures one collector cycle.
	CycleSeconds *prometheus.HistogramVec

	// ModuleValue is the last numeric reading per module.
	ModuleValue *prometheus.GaugeVec

	// StreamDroppedTotal counts lines evicted from a full stream.
	StreamDroppedTotal *prometheus.CounterVec

	// StreamSubscribers tracks open SSE connections per module.
	StreamSubscribers *prometheus.GaugeVec

	// CommandRunsTotal counts runner invocations by result
	// (ok, exit_nonzero, failed, timeout).
	CommandRunsTotal *prometheus.CounterVec

	// InsightRequestsTotal counts generator calls by strategy and result.
	InsightRequestsTotal *prometheus.CounterVec

	// TriggersTotal counts trigger events by module and origin (http, snmp).
	TriggersTotal *prometheus.CounterVec

	// TriggerRejectedTotal counts rejected trigger requests by reason.
	TriggerRejectedTotal *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "cycles_total",
			Help:      "Collector cycles by module and result.",
		}, []string{"module", "result"}),
		CycleSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "cycle_seconds",
			Help:      "Duration of one collector cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"module"}),
		ModuleValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "module_value",
			Help:      "Last numeric reading per module.",
		}, []string{"module"}),
		StreamDroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dropped_total",
			Help:      "Lines evicted from a full module stream.",
		}, []string{"module"}),
		StreamSubscribers: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Open SSE subscribers per module.",
		}, []string{"module"}),
		CommandRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "runs_total",
			Help:      "External command runs by result.",
		}, []string{"result"}),
		InsightRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "insight",
			Name:      "requests_total",
			Help:      "Insight generator calls by strategy and result.",
		}, []string{"strategy", "result"}),
		TriggersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "events_total",
			Help:      "Accepted trigger events by module and origin.",
		}, []string{"module", "origin"}),
		TriggerRejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "rejected_total",
			Help:      "Rejected trigger requests by reason.",
		}, []string{"reason"}),
	}
}

// ObserveCycle records one collector cycle.
func (m *Metrics) ObserveCycle(module string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CyclesTotal.WithLabelValues(module, result).Inc()
	m.CycleSeconds.WithLabelValues(module).Observe(d.Seconds())
}

// SetValue records the last reading of a module.
func (m *Metrics) SetValue(module string, v float64) {
	if m == nil {
		return
	}
	m.ModuleValue.WithLabelValues(module).Set(v)
}

// StreamDropped records one evicted line.
func (m *Metrics) StreamDropped(module string) {
	if m == nil {
		return
	}
	m.StreamDroppedTotal.WithLabelValues(module).Inc()
}

// SubscriberAdded increments the open-subscriber gauge and returns the
// matching decrement.
func (m *Metrics) SubscriberAdded(module string) func() {
	if m == nil {
		return func() {}
	}
	g := m.StreamSubscribers.WithLabelValues(module)
	g.Inc()
	return g.Dec
}

// CommandRun records one runner result.
func (m *Metrics) CommandRun(result string) {
	if m == nil {
		return
	}
	m.CommandRunsTotal.WithLabelValues(result).Inc()
}

// InsightRequest records one generator call.
func (m *Metrics) InsightRequest(strategy, result string) {
	if m == nil {
		return
	}
	m.InsightRequestsTotal.WithLabelValues(strategy, result).Inc()
}

// Trigger records one accepted trigger event.
func (m *Metrics) Trigger(module, origin string) {
	if m == nil {
		return
	}
	m.TriggersTotal.WithLabelValues(module, origin).Inc()
}

// TriggerRejected records one rejected trigger request.
func (m *Metrics) TriggerRejected(reason string) {
	if m == nil {
		return
	}
	m.TriggerRejectedTotal.WithLabelValues(reason).Inc()
}
