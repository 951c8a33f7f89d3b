package tuya

import "github.com/prometheus/client_golang/prometheus"

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graylogic_tuya_transport_attempts_total",
			Help: "Transport operation attempts, including retries",
		},
		[]string{"device"},
	)
	exhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graylogic_tuya_retries_exhausted_total",
			Help: "Transport operations that failed every attempt",
		},
		[]string{"device"},
	)
	rotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graylogic_tuya_protocol_rotations_total",
			Help: "Protocol versions applied to a device transport",
		},
		[]string{"device", "version"},
	)
	refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graylogic_tuya_refreshes_total",
			Help: "State fetches by result",
		},
		[]string{"device", "result"},
	)
	flushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graylogic_tuya_flushes_total",
			Help: "Debounced write flushes by result",
		},
		[]string{"device", "result"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graylogic_tuya_sessions_active",
			Help: "Device sessions currently registered",
		},
	)
)

// MetricsCollectors returns the collectors for device sessions.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		attemptsTotal,
		exhaustedTotal,
		rotationsTotal,
		refreshesTotal,
		flushesTotal,
		sessionsActive,
	}
}
