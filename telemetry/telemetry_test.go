package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "debug", LevelDebug.String())
	assert.Equal(t, "info", LevelInfo.String())
	assert.Equal(t, "warn", LevelWarn.String())
	assert.Equal(t, "error", LevelError.String())
	assert.Equal(t, "unknown", Level(99).String())
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(prometheus.NewRegistry())
	sub := bus.Subscribe(1)

	bus.Publish(Event{Component: "graph", Level: LevelInfo, Message: "hello"})

	select {
	case evt := <-sub.Ch:
		assert.Equal(t, "graph", evt.Component)
		assert.Equal(t, "hello", evt.Message)
		assert.False(t, evt.Time.IsZero(), "Publish should stamp a zero Time")
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestBus_PublishDoesNotBlockOnFullSubscriberChannel(t *testing.T) {
	bus := NewBus(prometheus.NewRegistry())
	sub := bus.Subscribe(1)

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Component: "a"})
		bus.Publish(Event{Component: "b"}) // channel now full, must not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(prometheus.NewRegistry())
	sub := bus.Subscribe(1)
	bus.Unsubscribe(sub)

	_, ok := <-sub.Ch
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	bus := NewBus(prometheus.NewRegistry())
	sub1 := bus.Subscribe(1)
	sub2 := bus.Subscribe(1)

	bus.Publish(Event{Component: "x"})

	_, ok1 := <-sub1.Ch
	_, ok2 := <-sub2.Ch
	assert.True(t, ok1)
	assert.True(t, ok2)
}

type stubChecker struct {
	status HealthStatus
}

func (s stubChecker) HealthCheck(ctx context.Context) HealthStatus { return s.status }

func TestRegistry_CheckAll_AllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("graph", stubChecker{HealthStatus{Component: "graph", Healthy: true}})
	r.Register("backup", stubChecker{HealthStatus{Component: "backup", Healthy: true}})

	ok, statuses := r.CheckAll(context.Background())
	assert.True(t, ok)
	assert.Len(t, statuses, 2)
}

func TestRegistry_CheckAll_OneUnhealthyFailsOverall(t *testing.T) {
	r := NewRegistry()
	r.Register("graph", stubChecker{HealthStatus{Component: "graph", Healthy: true}})
	r.Register("backup", stubChecker{HealthStatus{Component: "backup", Healthy: false, Detail: "unreachable"}})

	ok, statuses := r.CheckAll(context.Background())
	assert.False(t, ok)
	assert.Len(t, statuses, 2)
}

func TestRegistry_CheckAll_Empty(t *testing.T) {
	r := NewRegistry()
	ok, statuses := r.CheckAll(context.Background())
	assert.True(t, ok)
	assert.Empty(t, statuses)
}
