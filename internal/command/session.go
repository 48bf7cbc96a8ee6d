package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/terrainforge/internal/cache"
	"github.com/annel0/terrainforge/internal/eventbus"
	"github.com/annel0/terrainforge/internal/logging"
	"github.com/annel0/terrainforge/internal/noise"
	"github.com/annel0/terrainforge/internal/storage"
	"github.com/annel0/terrainforge/internal/terrain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/annel0/terrainforge/internal/command"

// Settings — параметры генератора, общие для всех сессий.
type Settings struct {
	Source     string          // имя источника в событиях
	Basis      noise.BasisKind // value | perlin
	LegacySeed bool            // сид не влияет на рельеф
	Workers    int             // > 1 — параллельный расчёт строк
	CacheTTL   time.Duration
}

// Deps — зависимости генератора. Обязателен только Store.
type Deps struct {
	Store   storage.Store
	Cache   cache.Cache
	Bus     eventbus.EventBus
	Metrics *Metrics
}

// Generator хранит зависимости и создаёт сессии команды.
type Generator struct {
	store    storage.Store
	cache    cache.Cache
	bus      eventbus.EventBus
	metrics  *Metrics
	settings Settings
	tracer   trace.Tracer
}

// NewGenerator проверяет настройки и создаёт генератор.
func NewGenerator(deps Deps, settings Settings) (*Generator, error) {
	if deps.Store == nil {
		return nil, errors.New("хранилище карт не задано")
	}
	if settings.Basis == "" {
		settings.Basis = noise.BasisValue
	}
	if _, err := noise.ParseBasisKind(string(settings.Basis)); err != nil {
		return nil, err
	}
	if settings.Source == "" {
		settings.Source = "terrainforge"
	}
	return &Generator{
		store:    deps.Store,
		cache:    deps.Cache,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		settings: settings,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Settings возвращает настройки генератора.
func (g *Generator) Settings() Settings { return g.settings }

// ProgressHandler получает номер начатой строки и общее число строк.
type ProgressHandler func(rowsStarted, total int)

// CompleteHandler вызывается после успешной генерации.
type CompleteHandler func(res *Result)

// CancelHandler вызывается при отмене; rowsStarted — сколько строк было начато.
type CancelHandler func(rowsStarted int)

// Result — итог выполнения команды.
type Result struct {
	Record   *storage.Record
	Summary  string
	CacheHit bool
}

// Session — одно выполнение команды. Обработчики принадлежат сессии
// и живут, пока жива она сама.
type Session struct {
	id  string
	gen *Generator

	mu         sync.Mutex
	onProgress []ProgressHandler
	onComplete []CompleteHandler
	onCancel   []CancelHandler

	cancelled   atomic.Bool
	rowsStarted atomic.Int64
}

// NewSession создаёт сессию без обработчиков.
func (g *Generator) NewSession() *Session {
	return &Session{id: uuid.NewString(), gen: g}
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() string { return s.id }

// OnProgress регистрирует обработчик прогресса.
func (s *Session) OnProgress(h ProgressHandler) {
	s.mu.Lock()
	s.onProgress = append(s.onProgress, h)
	s.mu.Unlock()
}

// OnComplete регистрирует обработчик завершения.
func (s *Session) OnComplete(h CompleteHandler) {
	s.mu.Lock()
	s.onComplete = append(s.onComplete, h)
	s.mu.Unlock()
}

// OnCancel регистрирует обработчик отмены.
func (s *Session) OnCancel(h CancelHandler) {
	s.mu.Lock()
	s.onCancel = append(s.onCancel, h)
	s.mu.Unlock()
}

// Cancel просит остановить генерацию. Проверяется в начале каждой строки.
func (s *Session) Cancel() { s.cancelled.Store(true) }

// Cancelled сообщает, запрошена ли отмена.
func (s *Session) Cancelled() bool { return s.cancelled.Load() }

// Execute выполняет команду: проверка полей, поиск в кеше, построение,
// сохранение и публикация события.
func (s *Session) Execute(ctx context.Context, in Inputs) (*Result, error) {
	g := s.gen
	params, err := in.GridParameters()
	if err != nil {
		g.metrics.observe(outcomeFailed, 0, 0)
		return nil, err
	}
	key := cacheKey(params, g.settings.Basis, g.settings.LegacySeed)

	if res, ok := s.fromCache(ctx, key); ok {
		g.metrics.observe(outcomeCached, 0, 0)
		s.fireComplete(res)
		return res, nil
	}

	ctx, span := g.tracer.Start(ctx, "terrain.build", trace.WithAttributes(
		attribute.Float64("terrain.size", params.Size),
		attribute.Int("terrain.resolution", params.Resolution),
		attribute.Float64("terrain.height_scale", params.HeightScale),
		attribute.Int("terrain.octaves", params.OctaveCount),
		attribute.Int64("terrain.seed", params.Seed),
		attribute.String("terrain.basis", string(g.settings.Basis)),
	))
	defer span.End()

	sampler, err := noise.NewSampler(g.settings.Basis, params.Seed, g.settings.LegacySeed)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.metrics.observe(outcomeFailed, 0, 0)
		return nil, err
	}

	logging.LogGenerationStart(s.id, params.Size, params.Resolution, params.OctaveCount, params.Seed)
	start := time.Now()
	hm, err := terrain.BuildHeightMap(ctx, params,
		terrain.WithSampler(sampler),
		terrain.WithWorkers(g.settings.Workers),
		terrain.WithProgress(s.fireProgress),
		terrain.WithCancelQuery(s.Cancelled),
	)
	elapsed := time.Since(start)
	rows := int(s.rowsStarted.Load())

	if errors.Is(err, terrain.ErrCancelled) {
		span.SetAttributes(attribute.Int("terrain.rows_started", rows))
		span.SetStatus(codes.Error, "cancelled")
		g.metrics.observe(outcomeCancelled, elapsed.Seconds(), rows)
		logging.Info("⛔ Генерация %s отменена после %d/%d строк", s.id, rows, params.Resolution)
		g.publish(ctx, eventbus.TypeTerrainCancelled, newEvent("", params, rows, elapsed))
		s.fireCancel(rows)
		return nil, err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.metrics.observe(outcomeFailed, elapsed.Seconds(), rows)
		return nil, fmt.Errorf("ошибка генерации ландшафта: %w", err)
	}
	g.metrics.observe(outcomeCompleted, elapsed.Seconds(), rows)
	logging.LogGenerationDone(s.id, params.Resolution, elapsed)

	rec := storage.NewRecord(hm, string(g.settings.Basis), elapsed)
	rec.LegacySeed = g.settings.LegacySeed
	span.SetAttributes(attribute.String("terrain.record_id", rec.ID))
	if err := g.store.Save(ctx, rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("ошибка сохранения карты: %w", err)
	}
	g.storeInCache(ctx, key, rec)
	g.publish(ctx, eventbus.TypeTerrainGenerated, newEvent(rec.ID, params, rows, elapsed))

	res := &Result{Record: rec, Summary: hm.Summary()}
	s.fireComplete(res)
	return res, nil
}

// Load возвращает сохранённую запись.
func (s *Session) Load(ctx context.Context, id string) (*storage.Record, error) {
	return s.gen.Load(ctx, id)
}

// Delete удаляет запись, сбрасывает её из кеша и публикует terrain.deleted.
func (s *Session) Delete(ctx context.Context, id string) error {
	return s.gen.Delete(ctx, id)
}

// Load возвращает сохранённую запись.
func (g *Generator) Load(ctx context.Context, id string) (*storage.Record, error) {
	return g.store.Load(ctx, id)
}

// List возвращает ID последних записей.
func (g *Generator) List(ctx context.Context, limit int) ([]string, error) {
	return g.store.List(ctx, limit)
}

// Delete удаляет запись, сбрасывает её из кеша и публикует terrain.deleted.
func (g *Generator) Delete(ctx context.Context, id string) error {
	rec, err := g.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := g.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("ошибка удаления карты %s: %w", id, err)
	}
	if g.cache != nil {
		// Ключ по режиму, в котором карта построена, а не по текущим настройкам
		key := cacheKey(rec.Map.Params(), noise.BasisKind(rec.Basis), rec.LegacySeed)
		if err := g.cache.Invalidate(ctx, key); err != nil {
			logging.Warn("⚠️ Не удалось инвалидировать кеш %s: %v", key, err)
		}
	}
	g.publish(ctx, eventbus.TypeTerrainDeleted, newEvent(id, rec.Map.Params(), 0, 0))
	logging.Info("🗑️ Карта %s удалена", id)
	return nil
}

func cacheKey(p terrain.GridParameters, basis noise.BasisKind, legacySeed bool) string {
	key := p.Fingerprint(basis)
	if legacySeed {
		key += ":legacy"
	}
	return key
}

func (s *Session) fromCache(ctx context.Context, key string) (*Result, bool) {
	g := s.gen
	if g.cache == nil {
		return nil, false
	}
	data, err := g.cache.Get(ctx, key)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			logging.Warn("⚠️ Ошибка чтения кеша %s: %v", key, err)
		}
		return nil, false
	}
	rec, err := storage.DecodeRecord(data)
	if err != nil {
		logging.Warn("⚠️ Повреждённая запись в кеше %s: %v", key, err)
		_ = g.cache.Delete(ctx, key)
		return nil, false
	}
	logging.Debug("Генерация %s: найдено в кеше %s (запись %s)", s.id, key, rec.ID)
	return &Result{Record: rec, Summary: rec.Map.Summary(), CacheHit: true}, true
}

func (g *Generator) storeInCache(ctx context.Context, key string, rec *storage.Record) {
	if g.cache == nil {
		return
	}
	data, err := storage.EncodeRecord(rec)
	if err != nil {
		logging.Warn("⚠️ Не удалось закодировать запись для кеша: %v", err)
		return
	}
	if err := g.cache.Set(ctx, key, data, g.settings.CacheTTL); err != nil {
		logging.Warn("⚠️ Не удалось записать в кеш %s: %v", key, err)
	}
}

func (g *Generator) publish(ctx context.Context, eventType string, payload eventbus.TerrainEvent) {
	if g.bus == nil {
		return
	}
	env, err := eventbus.NewEnvelope(g.settings.Source, eventType, 5, payload)
	if err != nil {
		logging.Warn("⚠️ %v", err)
		return
	}
	// Отменённый контекст не должен терять событие об отмене.
	if err := g.bus.Publish(context.WithoutCancel(ctx), env); err != nil {
		logging.Warn("⚠️ Не удалось опубликовать %s: %v", eventType, err)
	}
}

func newEvent(id string, p terrain.GridParameters, rows int, elapsed time.Duration) eventbus.TerrainEvent {
	return eventbus.TerrainEvent{
		RecordID:    id,
		Size:        p.Size,
		Resolution:  p.Resolution,
		HeightScale: p.HeightScale,
		OctaveCount: p.OctaveCount,
		Seed:        p.Seed,
		RowsStarted: rows,
		ElapsedMs:   elapsed.Milliseconds(),
	}
}

func (s *Session) fireProgress(row, total int) {
	s.rowsStarted.Store(int64(row + 1))
	logging.LogGenerationRow(s.id, row, total)
	s.mu.Lock()
	handlers := append([]ProgressHandler(nil), s.onProgress...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(row, total)
	}
}

func (s *Session) fireComplete(res *Result) {
	s.mu.Lock()
	handlers := append([]CompleteHandler(nil), s.onComplete...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(res)
	}
}

func (s *Session) fireCancel(rows int) {
	s.mu.Lock()
	handlers := append([]CancelHandler(nil), s.onCancel...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(rows)
	}
}
