package fleet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics fleetd exports about fleet-wide
// install and readback activity.
type Metrics struct {
	FramesInstalled  *prometheus.CounterVec
	MACFailures      *prometheus.CounterVec
	RollbacksRefused *prometheus.CounterVec
	JobsTotal        *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers all fleetd metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesInstalled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_frames_installed_total",
				Help: "Firmware frames committed across the fleet",
			},
			[]string{"device"},
		),
		MACFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_mac_failures_total",
				Help: "Frames or readback requests rejected for MAC mismatch",
			},
			[]string{"device"},
		),
		RollbacksRefused: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_version_rollbacks_refused_total",
				Help: "Install frames refused for declaring an older version",
			},
			[]string{"device"},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_jobs_total",
				Help: "Jobs by kind and terminal status",
			},
			[]string{"kind", "status"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleet_job_duration_seconds",
				Help:    "Wall time from job creation to terminal status",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"kind"},
		),
	}
}
