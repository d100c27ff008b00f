package async

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "easyjob"
	metricsSubsystem = "engine"
)

// Metrics are the engine's Prometheus instruments.
type Metrics struct {
	RunsStarted   *prometheus.CounterVec
	RunsFinished  *prometheus.CounterVec
	Interrupted   prometheus.Counter
	Orphaned      prometheus.Counter
	InFlight      prometheus.Gauge
	QueueDepth    prometheus.Gauge
	ActiveWorkers prometheus.Gauge
	RunDuration   *prometheus.HistogramVec
}

// NewMetrics creates the instruments and registers them with reg. A nil
// reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_started_total",
			Help:      "Runs recorded as RUNNING",
		}, []string{"job_id"}),
		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal status through completion",
		}, []string{"job_id", "status"}),
		Interrupted: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_interrupted_total",
			Help:      "Runs force-failed by a shutdown or signal",
		}),
		Orphaned: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_orphaned_total",
			Help:      "RUNNING records left by a previous process and failed at startup",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_in_flight",
			Help:      "Runs recorded as RUNNING and not yet terminal",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_depth",
			Help:      "Runs waiting for a free worker",
		}),
		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active_workers",
			Help:      "Workers currently executing a job body",
		}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "run_duration_seconds",
			Help:      "Wall time of job bodies",
			Buckets:   []float64{0.1, 1, 5, 30, 60, 300, 900, 1800, 3600},
		}, []string{"status"}),
	}
}
