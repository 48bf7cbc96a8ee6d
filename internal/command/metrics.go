package command

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Исходы генерации для метки outcome
const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
	outcomeCached    = "cached"
)

// Metrics — Prometheus-метрики генератора.
type Metrics struct {
	duration prometheus.Histogram
	rows     prometheus.Counter
	outcomes *prometheus.CounterVec
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil — глобальный регистр).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "terrain",
			Name:      "generation_duration_seconds",
			Help:      "Длительность построения карты высот.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "rows_started_total",
			Help:      "Общее число начатых строк сетки.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "generations_total",
			Help:      "Генерации по исходу (completed, cancelled, failed, cached).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.duration, m.rows, m.outcomes)
	return m
}

func (m *Metrics) observe(outcome string, seconds float64, rows int) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	if rows > 0 {
		m.rows.Add(float64(rows))
	}
	if outcome == outcomeCompleted {
		m.duration.Observe(seconds)
	}
}
