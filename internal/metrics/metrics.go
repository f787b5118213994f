// Package metrics counts what a run did: worker calls, transitions, polls,
// fixes and escalations. A run exports its registry to a textfile on exit
// so a node exporter can pick it up.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/worker"
)

const namespace = "collab"

type Metrics struct {
	registry *prometheus.Registry

	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	transitions        *prometheus.CounterVec
	escalations        *prometheus.CounterVec
	fixAttempts        *prometheus.CounterVec
	pollChecks         prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_invocations_total",
			Help:      "Worker invocations by call site and outcome.",
		}, []string{"label", "outcome"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_invocation_seconds",
			Help:      "Wall-clock duration of worker invocations.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"label"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Phase transitions taken by the state machine.",
		}, []string{"from", "to"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalations to the owner after repeated fix attempts.",
		}, []string{"gate"}),
		fixAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fix_attempts_total",
			Help:      "Automatic fix attempts triggered by feedback.",
		}, []string{"gate"}),
		pollChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_checks_total",
			Help:      "Completed poll checks.",
		}),
	}

	m.registry.MustRegister(
		m.invocations,
		m.invocationDuration,
		m.transitions,
		m.escalations,
		m.fixAttempts,
		m.pollChecks,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Transition(from, to models.Phase) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) Escalation(gate string) {
	m.escalations.WithLabelValues(gate).Inc()
}

func (m *Metrics) FixAttempt(gate string) {
	m.fixAttempts.WithLabelValues(gate).Inc()
}

func (m *Metrics) PollCheck() {
	m.pollChecks.Inc()
}

func (m *Metrics) observeInvocation(label string, elapsed time.Duration, err error) {
	m.invocations.WithLabelValues(label, string(worker.OutcomeOf(err))).Inc()
	m.invocationDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// WriteTextfile exports the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// InstrumentedWorker counts and times every invocation of the wrapped
// worker.
type InstrumentedWorker struct {
	next    worker.Worker
	metrics *Metrics
}

func Instrument(next worker.Worker, m *Metrics) *InstrumentedWorker {
	return &InstrumentedWorker{next: next, metrics: m}
}

func (w *InstrumentedWorker) Invoke(ctx context.Context, req worker.Request) (worker.Result, error) {
	start := time.Now()
	res, err := w.next.Invoke(ctx, req)
	w.metrics.observeInvocation(req.Label, time.Since(start), err)
	return res, err
}
