// Package telemetry provides the engine's structured event bus, Prometheus
// metrics facade, and health reporting. Grounded on the teacher's
// tracing/metrics.go promauto registration pattern and tracing/init.go's
// component wiring, generalized from a fixed metric set to a component-
// tagged event stream any store or pipeline stage can publish to.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Level tags an Event's severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single structured occurrence published by a component:
// ingestion progress, a query failure, a circuit breaker trip, a checkpoint
// materialization, a restore-approval request.
type Event struct {
	Component string
	Level     Level
	Message   string
	Data      map[string]interface{}
	Time      time.Time
}

// Subscriber receives events on a bounded channel. Events dropped when Ch is
// full are counted rather than blocking the publisher.
type Subscriber struct {
	Ch chan Event
}

// Bus is a fan-out event stream: components publish, callers (CLI progress
// output, the telemetry HTTP handler, tests) subscribe. Publish never
// blocks on a slow subscriber — deliveries are best-effort.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	dropped     prometheus.Counter
	events      prometheus.CounterVec
}

// NewBus creates an event bus with its own Prometheus metrics registered
// against reg (pass prometheus.DefaultRegisterer in production, a fresh
// registry in tests to avoid duplicate-registration panics).
func NewBus(reg prometheus.Registerer) *Bus {
	factory := promauto.With(reg)
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "codegraph_telemetry_events_dropped_total",
			Help: "Events dropped because a subscriber's channel was full.",
		}),
		events: *factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codegraph_telemetry_events_total",
			Help: "Events published, by component and level.",
		}, []string{"component", "level"}),
	}
}

// Subscribe registers a new Subscriber with the given channel buffer size.
// Callers must Unsubscribe when done to avoid a permanently full channel
// from slowly degrading publish behavior.
func (b *Bus) Subscribe(buffer int) *Subscriber {
	sub := &Subscriber{Ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a Subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
	close(sub.Ch)
}

// Publish fans an Event out to every subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	b.events.WithLabelValues(evt.Component, evt.Level.String()).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub.Ch <- evt:
		default:
			b.dropped.Inc()
		}
	}
}

// HealthStatus reports a single dependency's reachability, returned by a
// component's HealthCheck method and aggregated by the telemetry HTTP
// handler into an overall readiness verdict.
type HealthStatus struct {
	Component string
	Healthy   bool
	Detail    string
	CheckedAt time.Time
}

// HealthChecker is implemented by anything telemetry polls for readiness:
// the graph store, the queue backend, the backup storage provider.
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// Registry aggregates HealthCheckers and exposes a combined readiness
// verdict for the health endpoint.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewRegistry creates an empty health checker registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]HealthChecker)}
}

// Register adds a named HealthChecker.
func (r *Registry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// CheckAll runs every registered checker and reports whether all are
// healthy alongside each individual status.
func (r *Registry) CheckAll(ctx context.Context) (bool, []HealthStatus) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]HealthStatus, 0, len(r.checkers))
	allHealthy := true
	for _, checker := range r.checkers {
		status := checker.HealthCheck(ctx)
		statuses = append(statuses, status)
		if !status.Healthy {
			allHealthy = false
		}
	}
	return allHealthy, statuses
}
