package stats

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	transitions *prometheus.CounterVec
	active      *prometheus.GaugeVec
	unfulfilled prometheus.Counter
	outcomes    *prometheus.CounterVec
	response    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firecore_transitions_total",
				Help: "Committed status transitions by entity kind and target status.",
			},
			[]string{"kind", "to"},
		),
		active: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "firecore_entities_active",
				Help: "Entities currently in a non-terminal status.",
			},
			[]string{"kind", "status"},
		),
		unfulfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "firecore_dispatches_unfulfilled_total",
			Help: "Dispatches for which no unit could be reserved.",
		}),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firecore_assignment_outcomes_total",
				Help: "Background assignment runs by outcome.",
			},
			[]string{"outcome"},
		),
		response: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "firecore_response_minutes",
			Help:    "Minutes from unit dispatch to arrival on scene.",
			Buckets: []float64{1, 2, 4, 6, 8, 10, 15, 20, 30, 45, 60},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.active, m.unfulfilled, m.outcomes, m.response)
	}
	return m
}
