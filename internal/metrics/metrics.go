package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/stackctl/internal/plan"
)

// Metrics holds the Prometheus collectors for plan runs.
type Metrics struct {
	registry *prometheus.Registry

	StepTransitions *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	PlanRuns        *prometheus.CounterVec
	PlanDuration    *prometheus.HistogramVec
	GraphWrites     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StepTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackctl_step_transitions_total",
			Help: "Step status transitions by action, status and reason.",
		}, []string{"action", "status", "reason"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stackctl_step_duration_seconds",
			Help:    "Time from submission to a terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"action", "status"}),
		PlanRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackctl_plan_runs_total",
			Help: "Completed plan walks by description and outcome.",
		}, []string{"plan", "status"}),
		PlanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stackctl_plan_duration_seconds",
			Help:    "Wall time of a plan walk.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"plan"}),
		GraphWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackctl_persistent_graph_writes_total",
			Help: "Persistent graph updates by action.",
		}, []string{"action"}),
	}
	m.registry.MustRegister(m.StepTransitions, m.StepDuration, m.PlanRuns, m.PlanDuration, m.GraphWrites)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveEvent implements plan.Observer.
func (m *Metrics) ObserveEvent(ev plan.Event) {
	switch ev.Type {
	case plan.StepChanged:
		status := ev.Status.Code.String()
		reason := ev.Status.Reason
		// Failure reasons are free-form provider messages; keep label
		// cardinality bounded.
		if ev.Status.Code == plan.Failed || ev.Status.Code == plan.Submitted || ev.Status.Code == plan.Complete {
			reason = ""
		}
		m.StepTransitions.WithLabelValues(ev.Action, status, reason).Inc()
		if ev.Status.Done() && ev.Duration > 0 {
			m.StepDuration.WithLabelValues(ev.Action, status).Observe(ev.Duration.Seconds())
		}
	case plan.RunCompleted:
		m.PlanRuns.WithLabelValues(ev.Description, ev.Message).Inc()
		m.PlanDuration.WithLabelValues(ev.Description).Observe(ev.Duration.Seconds())
	case plan.GraphUpdated:
		m.GraphWrites.WithLabelValues(ev.Action).Inc()
	}
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
