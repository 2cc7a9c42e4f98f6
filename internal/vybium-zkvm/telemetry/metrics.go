package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vybium_zkvm"

// Metrics records per-stage pipeline metrics on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	proofBytes    prometheus.Gauge
	cycles        prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Pipeline stages that ended in failure.",
		}, []string{"stage"}),
		proofBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proof_size_bytes",
			Help:      "Encoded size of the last proof.",
		}),
		cycles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "execution_cycles",
			Help:      "Cycles of the last execution.",
		}),
	}
	m.registry.MustRegister(m.stageDuration, m.stageFailures, m.proofBytes, m.cycles)
	return m
}

// ObserveStage records the duration of stage and counts it as failed when
// err is non-nil.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

// SetProofSize records the encoded size of a proof.
func (m *Metrics) SetProofSize(n int) {
	if m != nil {
		m.proofBytes.Set(float64(n))
	}
}

// SetCycles records the cycle count of an execution.
func (m *Metrics) SetCycles(n uint64) {
	if m != nil {
		m.cycles.Set(float64(n))
	}
}

// WriteTextfile writes the current metrics in the node-exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Failures returns the failure counter of a stage, for tests and reports.
func (m *Metrics) Failures(stage string) prometheus.Counter {
	return m.stageFailures.WithLabelValues(stage)
}

// ProofSize returns the proof size gauge.
func (m *Metrics) ProofSize() prometheus.Gauge {
	return m.proofBytes
}
