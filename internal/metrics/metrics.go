package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the backup run instrumentation exposed in schedule mode.
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	LastSuccessTimestamp prometheus.Gauge
	LastArchiveBytes     prometheus.Gauge
	TransportFailures    *prometheus.CounterVec
	RetentionDeletes     *prometheus.CounterVec
}

// New registers and returns the backup metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "n8nbak_runs_total",
			Help: "Backup runs by result (success or failure)",
		}, []string{"result"}),
		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "n8nbak_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup run",
		}),
		LastArchiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "n8nbak_last_archive_bytes",
			Help: "Size of the most recently created archive",
		}),
		TransportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "n8nbak_transport_failures_total",
			Help: "Non-fatal transport failures by sink (telegram or remote)",
		}, []string{"sink"}),
		RetentionDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "n8nbak_retention_deletes_total",
			Help: "Archives deleted by retention, by location (local or remote)",
		}, []string{"location"}),
	}
	reg.MustRegister(
		m.RunsTotal,
		m.LastSuccessTimestamp,
		m.LastArchiveBytes,
		m.TransportFailures,
		m.RetentionDeletes,
	)
	return m
}
