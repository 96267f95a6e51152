package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"edaagent/pkg/ai"
	"edaagent/pkg/eda"
)

// Metrics holds Prometheus collectors for pipeline runs.
type Metrics struct {
	runsTotal           *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	stageFailuresTotal  *prometheus.CounterVec
	persistFailureTotal prometheus.Counter
	warningsTotal       prometheus.Counter
}

// NewMetrics creates the pipeline collectors and registers them.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eda_pipeline_runs_total",
				Help: "Total number of pipeline runs by outcome",
			},
			[]string{"outcome"}, // outcome: complete, failed, reset
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "eda_pipeline_stage_duration_seconds",
				Help: "Time taken by each generation stage",
				// 250ms to ~2min
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"stage"},
		),
		stageFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eda_pipeline_stage_failures_total",
				Help: "Total number of stage failures by error kind",
			},
			[]string{"stage", "kind"},
		),
		persistFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eda_pipeline_persist_failures_total",
			Help: "Total number of completed runs that could not be saved",
		}),
		warningsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eda_pipeline_consistency_warnings_total",
			Help: "Total number of netlist consistency warnings",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.runsTotal, m.stageDuration, m.stageFailuresTotal, m.persistFailureTotal, m.warningsTotal,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeStage(stage Stage, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage.String()).Observe(d.Seconds())
	if err != nil {
		m.stageFailuresTotal.WithLabelValues(stage.String(), errorKind(err)).Inc()
	}
}

func (m *Metrics) run(outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) persistFailed() {
	if m == nil {
		return
	}
	m.persistFailureTotal.Inc()
}

func (m *Metrics) warnings(n int) {
	if m == nil || n == 0 {
		return
	}
	m.warningsTotal.Add(float64(n))
}

// errorKind maps an error to a low-cardinality label.
func errorKind(err error) string {
	var (
		cfgErr   *ai.ConfigurationError
		tErr     *ai.TransportError
		shapeErr *ai.ResponseShapeError
		parseErr *ai.ParseError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &tErr):
		return "transport"
	case errors.As(err, &shapeErr):
		return "response_shape"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.Is(err, eda.ErrNetlistRequired):
		return "precondition"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
