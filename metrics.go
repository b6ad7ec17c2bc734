package hxlive

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics are registered only when WithMetrics is given; the zero value
// records nothing.
type metrics struct {
	requests *prometheus.CounterVec
	actions  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newMetrics(r prometheus.Registerer) *metrics {
	if r == nil {
		return &metrics{}
	}
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hxlive",
			Name:      "messages_total",
			Help:      "Component messages handled, by component and outcome.",
		}, []string{"component", "outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hxlive",
			Name:      "actions_total",
			Help:      "Actions applied, by component and action type.",
		}, []string{"component", "type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hxlive",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching a component message.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component"}),
	}
	r.MustRegister(m.requests, m.actions, m.latency)
	return m
}

func (m *metrics) observe(component, outcome string, start time.Time) {
	if m.requests == nil {
		return
	}
	m.requests.WithLabelValues(component, outcome).Inc()
	m.latency.WithLabelValues(component).Observe(time.Since(start).Seconds())
}

func (m *metrics) action(component, kind string) {
	if m.actions == nil {
		return
	}
	m.actions.WithLabelValues(component, kind).Inc()
}

// outcome labels a dispatch result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNotModified(err):
		return "not_modified"
	case IsProtocolError(err):
		return "protocol_error"
	}
	return "error"
}
