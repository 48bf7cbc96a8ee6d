package command

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/annel0/terrainforge/internal/cache"
	"github.com/annel0/terrainforge/internal/eventbus"
	"github.com/annel0/terrainforge/internal/noise"
	"github.com/annel0/terrainforge/internal/storage"
	"github.com/annel0/terrainforge/internal/terrain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	gen     *Generator
	store   storage.Store
	cache   *cache.MemoryCache
	bus     eventbus.EventBus
	metrics *Metrics

	mu     sync.Mutex
	events []*eventbus.Envelope
}

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()
	f := &fixture{
		store:   storage.NewMemoryStore(),
		cache:   cache.NewMemoryCache(nil),
		bus:     eventbus.NewMemoryBus(16),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	_, err := f.bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})
	require.NoError(t, err)

	f.gen, err = NewGenerator(Deps{Store: f.store, Cache: f.cache, Bus: f.bus, Metrics: f.metrics}, settings)
	require.NoError(t, err)
	return f
}

func (f *fixture) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		types = append(types, ev.EventType)
	}
	return types
}

func smallInputs() Inputs {
	in := DefaultInputs()
	in.DetailLevel = 2
	return in
}

func TestInputs_Validate(t *testing.T) {
	assert.NoError(t, DefaultInputs().Validate())

	cases := map[string]func(*Inputs){
		"size":      func(in *Inputs) { in.TerrainSize = 0 },
		"scale":     func(in *Inputs) { in.HeightScale = -1 },
		"size inf":  func(in *Inputs) { in.TerrainSize = math.Inf(1) },
		"size nan":  func(in *Inputs) { in.TerrainSize = math.NaN() },
		"scale inf": func(in *Inputs) { in.HeightScale = math.Inf(1) },
		"scale nan": func(in *Inputs) { in.HeightScale = math.NaN() },
		"detail lo": func(in *Inputs) { in.DetailLevel = 0 },
		"detail hi": func(in *Inputs) { in.DetailLevel = 7 },
		"rough lo":  func(in *Inputs) { in.Roughness = 0 },
		"rough hi":  func(in *Inputs) { in.Roughness = 11 },
		"seed lo":   func(in *Inputs) { in.Seed = -1 },
		"seed hi":   func(in *Inputs) { in.Seed = 10001 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := DefaultInputs()
			mutate(&in)
			assert.ErrorIs(t, in.Validate(), ErrInvalidInput)
		})
	}
}

func TestInputs_GridParameters(t *testing.T) {
	p, err := DefaultInputs().GridParameters()
	require.NoError(t, err)
	assert.Equal(t, 17, p.Resolution)
	assert.Equal(t, 5, p.OctaveCount)
	assert.Equal(t, int64(42), p.Seed)
}

func TestNewGenerator_Validation(t *testing.T) {
	_, err := NewGenerator(Deps{}, Settings{})
	assert.Error(t, err)

	_, err = NewGenerator(Deps{Store: storage.NewMemoryStore()}, Settings{Basis: "simplex"})
	assert.ErrorIs(t, err, noise.ErrInvalidParameter)
}

func TestExecute_GeneratesAndPersists(t *testing.T) {
	f := newFixture(t, Settings{Source: "test"})
	s := f.gen.NewSession()

	var progress []int
	var completed *Result
	s.OnProgress(func(row, total int) {
		assert.Equal(t, 5, total)
		progress = append(progress, row)
	})
	s.OnComplete(func(res *Result) { completed = res })

	res, err := s.Execute(context.Background(), smallInputs())
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.False(t, res.CacheHit)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, progress)
	assert.Same(t, res, completed)
	assert.Equal(t, "Ландшафт сгенерирован: размер 100 мм, сетка 5 x 5 точек.", res.Summary)

	loaded, err := s.Load(context.Background(), res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Record.Map.Rows(), loaded.Map.Rows())

	assert.Eventually(t, func() bool {
		return len(f.eventTypes()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{eventbus.TypeTerrainGenerated}, f.eventTypes())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.outcomes.WithLabelValues(outcomeCompleted)))
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.rows))
}

func TestExecute_MatchesDirectBuild(t *testing.T) {
	f := newFixture(t, Settings{})
	res, err := f.gen.NewSession().Execute(context.Background(), smallInputs())
	require.NoError(t, err)

	p, err := smallInputs().GridParameters()
	require.NoError(t, err)
	hm, err := terrain.BuildHeightMap(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, hm.Rows(), res.Record.Map.Rows())
}

func TestExecute_CacheHit(t *testing.T) {
	f := newFixture(t, Settings{CacheTTL: time.Minute})

	first, err := f.gen.NewSession().Execute(context.Background(), smallInputs())
	require.NoError(t, err)

	s := f.gen.NewSession()
	progressCalls := 0
	s.OnProgress(func(int, int) { progressCalls++ })
	second, err := s.Execute(context.Background(), smallInputs())
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, first.Record.Map.Rows(), second.Record.Map.Rows())
	assert.Zero(t, progressCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.outcomes.WithLabelValues(outcomeCached)))

	// Другой сид — другой ключ
	in := smallInputs()
	in.Seed = 7
	third, err := f.gen.NewSession().Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
}

func TestExecute_CancelViaSession(t *testing.T) {
	f := newFixture(t, Settings{})
	s := f.gen.NewSession()

	var progress []int
	cancelledAt := -1
	completed := false
	s.OnProgress(func(row, total int) {
		progress = append(progress, row)
		if row == 2 {
			s.Cancel()
		}
	})
	s.OnCancel(func(rows int) { cancelledAt = rows })
	s.OnComplete(func(*Result) { completed = true })

	res, err := s.Execute(context.Background(), smallInputs())
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, terrain.ErrCancelled))
	assert.Equal(t, []int{0, 1, 2}, progress)
	assert.Equal(t, 3, cancelledAt)
	assert.False(t, completed)

	ids, err := f.store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.Eventually(t, func() bool {
		types := f.eventTypes()
		return len(types) == 1 && types[0] == eventbus.TypeTerrainCancelled
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.outcomes.WithLabelValues(outcomeCancelled)))
}

func TestExecute_CancelledContext(t *testing.T) {
	f := newFixture(t, Settings{Workers: 4})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows := -1
	s := f.gen.NewSession()
	s.OnCancel(func(n int) { rows = n })
	_, err := s.Execute(ctx, smallInputs())
	assert.ErrorIs(t, err, terrain.ErrCancelled)
	assert.Equal(t, 0, rows)
}

func TestExecute_InvalidInput(t *testing.T) {
	f := newFixture(t, Settings{})
	in := smallInputs()
	in.DetailLevel = 9
	_, err := f.gen.NewSession().Execute(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.outcomes.WithLabelValues(outcomeFailed)))
}

func TestExecute_LegacySeedIgnoresSeed(t *testing.T) {
	f := newFixture(t, Settings{LegacySeed: true})
	a, err := f.gen.NewSession().Execute(context.Background(), smallInputs())
	require.NoError(t, err)

	in := smallInputs()
	in.Seed = 9000
	b, err := f.gen.NewSession().Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, a.Record.Map.Rows(), b.Record.Map.Rows())
}

func TestExecute_PerlinBasis(t *testing.T) {
	f := newFixture(t, Settings{Basis: noise.BasisPerlin})
	res, err := f.gen.NewSession().Execute(context.Background(), smallInputs())
	require.NoError(t, err)
	assert.Equal(t, string(noise.BasisPerlin), res.Record.Basis)

	lo, hi := res.Record.Map.Bounds()
	assert.GreaterOrEqual(t, lo, 0.0)
	assert.LessOrEqual(t, hi, 10.0)
}

func TestDelete_InvalidatesCache(t *testing.T) {
	f := newFixture(t, Settings{})
	first, err := f.gen.NewSession().Execute(context.Background(), smallInputs())
	require.NoError(t, err)

	require.NoError(t, f.gen.NewSession().Delete(context.Background(), first.Record.ID))

	_, err = f.gen.Load(context.Background(), first.Record.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	again, err := f.gen.NewSession().Execute(context.Background(), smallInputs())
	require.NoError(t, err)
	assert.False(t, again.CacheHit)
	assert.NotEqual(t, first.Record.ID, again.Record.ID)

	assert.Eventually(t, func() bool {
		return len(f.eventTypes()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		eventbus.TypeTerrainGenerated,
		eventbus.TypeTerrainDeleted,
		eventbus.TypeTerrainGenerated,
	}, f.eventTypes())

	assert.ErrorIs(t, f.gen.Delete(context.Background(), "missing"), storage.ErrNotFound)
}

func TestDelete_InvalidatesCacheOfRecordMode(t *testing.T) {
	f := newFixture(t, Settings{LegacySeed: true})
	res, err := f.gen.NewSession().Execute(context.Background(), smallInputs())
	require.NoError(t, err)
	assert.True(t, res.Record.LegacySeed)

	params, err := smallInputs().GridParameters()
	require.NoError(t, err)
	key := cacheKey(params, noise.BasisValue, true)
	_, err = f.cache.Get(context.Background(), key)
	require.NoError(t, err)

	// Тот же store и кеш, но режим сида переключён
	other, err := NewGenerator(Deps{Store: f.store, Cache: f.cache, Bus: f.bus}, Settings{})
	require.NoError(t, err)
	require.NoError(t, other.Delete(context.Background(), res.Record.ID))

	_, err = f.cache.Get(context.Background(), key)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestGenerator_List(t *testing.T) {
	f := newFixture(t, Settings{})
	for seed := int64(1); seed <= 3; seed++ {
		in := smallInputs()
		in.Seed = seed
		_, err := f.gen.NewSession().Execute(context.Background(), in)
		require.NoError(t, err)
	}
	ids, err := f.gen.List(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
