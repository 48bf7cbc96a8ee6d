package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(16)

	var (
		mu       sync.Mutex
		received []*Envelope
	)
	sub, err := bus.Subscribe(context.Background(), Filter{Types: []string{TypeTerrainGenerated}},
		func(ctx context.Context, ev *Envelope) {
			mu.Lock()
			received = append(received, ev)
			mu.Unlock()
		})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	gen, err := NewEnvelope("test", TypeTerrainGenerated, 5, TerrainEvent{RecordID: "r1", Resolution: 5, Seed: 42})
	require.NoError(t, err)
	del, err := NewEnvelope("test", TypeTerrainDeleted, 5, TerrainEvent{RecordID: "r1"})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), gen))
	require.NoError(t, bus.Publish(context.Background(), del))

	require.Eventually(t, func() bool {
		return bus.Metrics().Consumed == 1 && bus.Metrics().InFlight == 0
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1, "фильтр должен пропустить только terrain.generated")

	var te TerrainEvent
	require.NoError(t, received[0].Decode(&te))
	assert.Equal(t, "r1", te.RecordID)
	assert.Equal(t, 5, te.Resolution)
	assert.Equal(t, int64(42), te.Seed)
	assert.Equal(t, uint64(2), bus.Metrics().Published)
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(4)
	calls := 0
	var mu sync.Mutex
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	ev, err := NewEnvelope("test", TypeTerrainCancelled, 1, TerrainEvent{})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	require.Eventually(t, func() bool { return bus.Metrics().InFlight == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "terrain.events.terrain_generated", subjectFor(TypeTerrainGenerated))
}

func TestMetricsExporter_Collect(t *testing.T) {
	bus := NewMemoryBus(4)
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg)

	ev, err := NewEnvelope("test", TypeTerrainGenerated, 5, TerrainEvent{})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	me.collect()
	assert.Equal(t, 1.0, testutil.ToFloat64(me.published))
	me.collect()
	assert.Equal(t, 1.0, testutil.ToFloat64(me.published), "повторный сбор не должен удваивать счётчик")
}
