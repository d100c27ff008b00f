package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the scheduler's Prometheus instruments.
type Metrics struct {
	Triggers        prometheus.Gauge
	Fires           prometheus.Counter
	FireErrors      prometheus.Counter
	Reconciles      prometheus.Counter
	ReconcileErrors prometheus.Counter
	Rescans         prometheus.Counter
}

// NewMetrics registers the scheduler instruments with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: "easyjob",
			Subsystem: "scheduler",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		Triggers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "easyjob",
			Subsystem: "scheduler",
			Name:      "triggers",
			Help:      "Live cron triggers",
		}),
		Fires:           counter("fires_total", "Trigger fires"),
		FireErrors:      counter("fire_errors_total", "Trigger fires the engine refused"),
		Reconciles:      counter("reconciles_total", "Completed reconcile passes"),
		ReconcileErrors: counter("reconcile_errors_total", "Reconcile passes that could not read the store"),
		Rescans:         counter("rescans_total", "Registry rescans"),
	}
}
