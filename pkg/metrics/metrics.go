// Package metrics exposes exploration progress as Prometheus metrics and
// serves them, together with the live graph and run status, over HTTP.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/explorer"
)

const namespace = "app_explorer"

// Observer records orchestrator events into a Prometheus registry.
type Observer struct {
	registry *prometheus.Registry

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	actions      *prometheus.CounterVec
	states       prometheus.Counter
	depth        prometheus.Gauge
	extraction   prometheus.Histogram
	candidates   prometheus.Gauge
	recoveries   *prometheus.CounterVec

	mu   sync.Mutex
	seen map[string]struct{}
}

var _ explorer.Observer = (*Observer)(nil)

// NewObserver creates an observer with its own registry, including the Go
// and process collectors.
func NewObserver() *Observer {
	o := &Observer{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Orchestrator steps by phase after the step and result kind.",
		}, []string{"phase", "result"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one orchestrator step.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"phase"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions issued to the device by kind and outcome.",
		}, []string{"kind", "outcome"}),
		states: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "states_discovered_total",
			Help:      "Distinct screen states observed.",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "depth",
			Help:      "Depth of the most recently observed state.",
		}),
		extraction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Time spent selecting interactive elements of a screen.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extraction_candidates",
			Help:      "Interactive elements returned by the last extraction.",
		}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Recovery actions by kind.",
		}, []string{"kind"}),
		seen: make(map[string]struct{}),
	}
	o.registry.MustRegister(
		o.steps, o.stepDuration, o.actions, o.states, o.depth,
		o.extraction, o.candidates, o.recoveries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return o
}

// Registry returns the registry the observer writes to.
func (o *Observer) Registry() *prometheus.Registry { return o.registry }

// OnStep implements explorer.Observer.
func (o *Observer) OnStep(phase core.Phase, kind explorer.ResultKind, elapsed time.Duration) {
	o.steps.WithLabelValues(phase.String(), kind.String()).Inc()
	o.stepDuration.WithLabelValues(phase.String()).Observe(elapsed.Seconds())
}

// OnAction implements explorer.Observer.
func (o *Observer) OnAction(action core.Action, err error) {
	o.actions.WithLabelValues(action.Kind.String(), outcome(err)).Inc()
}

// OnState implements explorer.Observer.
func (o *Observer) OnState(fingerprint string, depth int) {
	o.depth.Set(float64(depth))

	o.mu.Lock()
	_, dup := o.seen[fingerprint]
	o.seen[fingerprint] = struct{}{}
	o.mu.Unlock()
	if !dup {
		o.states.Inc()
	}
}

// OnExtraction implements explorer.Observer.
func (o *Observer) OnExtraction(elapsed time.Duration, candidates int) {
	o.extraction.Observe(elapsed.Seconds())
	o.candidates.Set(float64(candidates))
}

// OnRecovery implements explorer.Observer.
func (o *Observer) OnRecovery(kind string) {
	o.recoveries.WithLabelValues(kind).Inc()
}

// outcome maps an action error to a low-cardinality label.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var e *core.ExecutionError
	if errors.As(err, &e) {
		return e.Code
	}
	return "error"
}
