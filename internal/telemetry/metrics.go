package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lance13c/casepilot/internal/runner"
	"github.com/lance13c/casepilot/internal/types"
)

// Metrics records case and step outcomes as Prometheus metrics
type Metrics struct {
	gatherer prometheus.Gatherer

	casesRunning  prometheus.Gauge
	casesTotal    *prometheus.CounterVec
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	parseFailures prometheus.Counter
}

// NewMetrics registers the metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		casesRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "casepilot",
			Name:      "cases_running",
			Help:      "Number of cases currently executing.",
		}),
		casesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casepilot",
			Name:      "cases_total",
			Help:      "Finished case executions by final status.",
		}, []string{"status"}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casepilot",
			Name:      "steps_total",
			Help:      "Executed steps by action type and status.",
		}, []string{"type", "status"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "casepilot",
			Name:      "step_duration_seconds",
			Help:      "Step execution time by action type.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"type"}),
		parseFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "casepilot",
			Name:      "parse_failures_total",
			Help:      "Cases whose code or sequence failed validation.",
		}),
	}
}

// Attach subscribes the metrics to an orchestrator's events
func (m *Metrics) Attach(o *runner.Orchestrator) {
	o.On(runner.EventCaseStatusChanged, func(ev runner.Event) {
		switch {
		case ev.Case.Status == types.CaseRunning:
			m.casesRunning.Inc()
		case ev.Case.Status == types.CaseFailed && len(ev.Case.Steps) == 0:
			m.parseFailures.Inc()
		}
	})
	o.On(runner.EventStepCompleted, func(ev runner.Event) {
		kind := "unknown"
		if ev.Step.Action != nil {
			kind = string(ev.Step.Action.Type())
		}
		m.stepsTotal.WithLabelValues(kind, string(ev.Step.Status)).Inc()
		m.stepDuration.WithLabelValues(kind).Observe(ev.Step.Duration().Seconds())
	})
	o.On(runner.EventCaseExecutionFinished, func(ev runner.Event) {
		m.casesRunning.Dec()
		m.casesTotal.WithLabelValues(string(ev.Case.Status)).Inc()
	})
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
