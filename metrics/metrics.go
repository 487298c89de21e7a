// Package metrics records per-run manifest pipeline metrics in a private
// Prometheus registry. A run has no long-lived process to scrape, so the
// registry is written to a node-exporter textfile when the run ends.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "payrox_manifest"

// Gate outcomes.
const (
	OutcomePassed  = "passed"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Pipeline holds the metrics of one pipeline run. All methods are no-ops
// on a nil *Pipeline.
type Pipeline struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	gates         *prometheus.CounterVec
	warnings      *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
	runs          *prometheus.CounterVec
	leaves        prometheus.Gauge
	selectors     prometheus.Gauge
	conflicts     prometheus.Gauge
	lastRun       prometheus.Gauge
}

// New registers the pipeline metrics in a fresh registry.
func New(namespace string) *Pipeline {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	p := &Pipeline{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		gates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_results_total",
			Help:      "Validation gate outcomes.",
		}, []string{"gate", "outcome"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Skipped inputs reported as warnings.",
		}, []string{"component"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Observed-mode getCode calls by result.",
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by mode and readiness.",
		}, []string{"mode", "ready"}),
		leaves: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "merkle_leaves",
			Help:      "Leaves in the last built route tree.",
		}),
		selectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selectors",
			Help:      "Selectors extracted from facet artifacts.",
		}),
		conflicts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selector_conflicts",
			Help:      "Selector collisions between distinct signatures.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	p.registry.MustRegister(p.stageDuration, p.gates, p.warnings, p.providerCalls,
		p.runs, p.leaves, p.selectors, p.conflicts, p.lastRun)
	return p
}

// Registry exposes the underlying registry for gathering.
func (p *Pipeline) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

// StartStage returns a function that records the stage duration when
// called.
func (p *Pipeline) StartStage(stage string) func() {
	if p == nil {
		return func() {}
	}
	t := prometheus.NewTimer(p.stageDuration.WithLabelValues(stage))
	return func() { t.ObserveDuration() }
}

// Gate records one gate outcome.
func (p *Pipeline) Gate(name string, passed, skipped bool) {
	if p == nil {
		return
	}
	outcome := OutcomeFailed
	switch {
	case skipped:
		outcome = OutcomeSkipped
	case passed:
		outcome = OutcomePassed
	}
	p.gates.WithLabelValues(name, outcome).Inc()
}

// Warnings adds n warnings for component.
func (p *Pipeline) Warnings(component string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.warnings.WithLabelValues(component).Add(float64(n))
}

// ProviderCall counts one getCode call.
func (p *Pipeline) ProviderCall(err error) {
	if p == nil {
		return
	}
	if err != nil {
		p.providerCalls.WithLabelValues("error").Inc()
		return
	}
	p.providerCalls.WithLabelValues("ok").Inc()
}

// Extraction records selector and conflict counts.
func (p *Pipeline) Extraction(selectors, conflicts int) {
	if p == nil {
		return
	}
	p.selectors.Set(float64(selectors))
	p.conflicts.Set(float64(conflicts))
}

// Tree records the leaf count of the built tree.
func (p *Pipeline) Tree(leaves int) {
	if p == nil {
		return
	}
	p.leaves.Set(float64(leaves))
}

// RunFinished counts the run and stamps its completion time.
func (p *Pipeline) RunFinished(mode string, ready bool, at time.Time) {
	if p == nil {
		return
	}
	r := "false"
	if ready {
		r = "true"
	}
	p.runs.WithLabelValues(mode, r).Inc()
	p.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in text exposition format, atomically,
// for the node-exporter textfile collector.
func (p *Pipeline) WriteTextfile(path string) error {
	if p == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, p.registry)
}
