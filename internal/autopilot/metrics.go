package autopilot

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus metrics of the service.
type Metrics struct {
	TransitionsTotal    *prometheus.CounterVec
	GateRejectionsTotal *prometheus.CounterVec
	CommitsTotal        prometheus.Counter
	SecretFindingsTotal prometheus.Counter
	OperationDuration   *prometheus.HistogramVec
}

// NewMetrics registers the service metrics with the default registry.
//
// Registration happens once per process, so every Service shares one set.
//
// Metrics:
//   - autopilot_transitions_total{event,result}
//   - autopilot_gate_rejections_total{phase}
//   - autopilot_commits_total
//   - autopilot_secret_findings_total
//   - autopilot_operation_duration_seconds{op,result}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TransitionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "autopilot_transitions_total",
					Help: "Total number of workflow events applied",
				},
				[]string{"event", "result"},
			),
			GateRejectionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "autopilot_gate_rejections_total",
					Help: "Total number of test results rejected by a phase gate",
				},
				[]string{"phase"},
			),
			CommitsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "autopilot_commits_total",
				Help: "Total number of subtask commits created",
			}),
			SecretFindingsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "autopilot_secret_findings_total",
				Help: "Total number of secrets found in staged changes",
			}),
			OperationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "autopilot_operation_duration_seconds",
					Help:    "Duration of service operations in seconds",
					Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
				},
				[]string{"op", "result"},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) recordTransition(ev workflow.EventType, err error) {
	m.TransitionsTotal.WithLabelValues(string(ev), resultLabel(err)).Inc()
	if errors.Is(err, workflow.ErrPhaseValidationFailed) || errors.Is(err, workflow.ErrMaxAttemptsExceeded) {
		phase := "red"
		if ev == workflow.EventGreenPhaseComplete {
			phase = "green"
		}
		m.GateRejectionsTotal.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) recordOperation(op string, err error, d time.Duration) {
	m.OperationDuration.WithLabelValues(op, resultLabel(err)).Observe(d.Seconds())
}

// resultLabel maps an error onto a bounded label value.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(Classify(err))
}
