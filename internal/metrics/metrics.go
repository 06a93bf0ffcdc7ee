// Package metrics is RalphX's in-process Prometheus registry: iteration
// counters, an active-run gauge, and a stale-claim/doctor-finding counter,
// wired up by subscribing to the event bus rather than being threaded
// through every component's constructor. The registry is exposed for the
// out-of-scope HTTP collaborator to mount under /metrics; this package
// never starts an HTTP listener itself (spec §1 scope boundary).
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ralphx/ralphx/internal/eventbus"
)

// Collector owns one Prometheus registry scoped to a process and attaches
// itself to an event bus to stay current without any component needing to
// know metrics exist.
type Collector struct {
	registry *prometheus.Registry

	iterationsTotal   *prometheus.CounterVec
	itemsGenerated    prometheus.Counter
	activeRuns        prometheus.Gauge
	staleClaimsReaped prometheus.Counter
	doctorFindings    *prometheus.CounterVec
}

// New builds a Collector with its own registry (not the global default
// registerer, so multiple Collectors never collide in tests).
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		iterationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ralphx", Name: "iterations_total", Help: "Completed loop iterations by outcome.",
		}, []string{"outcome"}),
		itemsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ralphx", Name: "items_generated_total", Help: "Work items extracted by generator loops.",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ralphx", Name: "active_runs", Help: "Runs currently active or paused.",
		}),
		staleClaimsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ralphx", Name: "stale_claims_reaped_total", Help: "Claims released by the stale-claim reaper.",
		}),
		doctorFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ralphx", Name: "doctor_findings_total", Help: "Stale-run conditions the doctor has detected, by rule.",
		}, []string{"condition"}),
	}
	c.registry.MustRegister(c.iterationsTotal, c.itemsGenerated, c.activeRuns, c.staleClaimsReaped, c.doctorFindings)
	return c
}

// Registry exposes the underlying prometheus.Registry for an external
// HTTP collaborator (e.g. promhttp.HandlerFor(c.Registry(), ...)) to mount.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Attach subscribes the collector to every event type it cares about.
// Call once per bus; safe to call on a bus with no other subscribers.
func (c *Collector) Attach(bus eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeRunStarted, func(ctx context.Context, ev eventbus.Event) {
		c.activeRuns.Inc()
	})
	bus.Subscribe(eventbus.EventTypeRunCompleted, func(ctx context.Context, ev eventbus.Event) {
		c.activeRuns.Dec()
	})
	bus.Subscribe(eventbus.EventTypeIterationFinished, func(ctx context.Context, ev eventbus.Event) {
		payload, ok := ev.Payload().(eventbus.IterationFinishedPayload)
		if !ok {
			return
		}
		outcome := "success"
		if !payload.Success {
			outcome = "failure"
		}
		c.iterationsTotal.WithLabelValues(outcome).Inc()
		if payload.ItemsCreate > 0 {
			c.itemsGenerated.Add(float64(payload.ItemsCreate))
		}
	})
	bus.Subscribe(eventbus.EventTypeStaleClaimReaped, func(ctx context.Context, ev eventbus.Event) {
		c.staleClaimsReaped.Inc()
	})
	bus.Subscribe(eventbus.EventTypeDoctorFinding, func(ctx context.Context, ev eventbus.Event) {
		payload, ok := ev.Payload().(eventbus.DoctorFindingPayload)
		if !ok {
			return
		}
		c.doctorFindings.WithLabelValues(payload.Condition).Inc()
	})
}
