package terrain

import (
	"context"
	"fmt"

	"github.com/annel0/terrainforge/internal/noise"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc получает номер начатой строки и общее число строк.
// Значения строго возрастают и не превышают total.
type ProgressFunc func(rowsStarted, total int)

// CancelQuery опрашивается в начале каждой строки; true — прекратить генерацию.
type CancelQuery func() bool

// Option настраивает построение карты.
type Option func(*builder)

// WithProgress подключает отчёт о прогрессе.
func WithProgress(fn ProgressFunc) Option {
	return func(b *builder) { b.progress = fn }
}

// WithCancelQuery подключает опрашиваемый флаг отмены (в дополнение к контексту).
func WithCancelQuery(fn CancelQuery) Option {
	return func(b *builder) { b.cancelQuery = fn }
}

// WithWorkers включает параллельный расчёт строк. n <= 1 — последовательно.
func WithWorkers(n int) Option {
	return func(b *builder) { b.workers = n }
}

// WithSampler задаёт синтезатор высот вместо value noise по сиду параметров.
func WithSampler(s *noise.Sampler) Option {
	return func(b *builder) { b.sampler = s }
}

type builder struct {
	params      GridParameters
	sampler     *noise.Sampler
	progress    ProgressFunc
	cancelQuery CancelQuery
	workers     int
}

// BuildHeightMap строит карту высот resolution × resolution.
// Отмена проверяется в начале каждой строки; начатая строка всегда досчитывается.
// При отмене возвращается ErrCancelled и никакой карты.
func BuildHeightMap(ctx context.Context, p GridParameters, opts ...Option) (*HeightMap, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b := &builder{params: p}
	for _, opt := range opts {
		opt(b)
	}
	if b.sampler == nil {
		s, err := noise.NewSampler(noise.BasisValue, p.Seed, false)
		if err != nil {
			return nil, err
		}
		b.sampler = s
	}

	var (
		rows [][]float64
		err  error
	)
	if b.workers > 1 {
		rows, err = b.buildParallel(ctx)
	} else {
		rows, err = b.buildSequential(ctx)
	}
	if err != nil {
		return nil, err
	}
	return newHeightMap(p, rows), nil
}

func (b *builder) buildSequential(ctx context.Context) ([][]float64, error) {
	n := b.params.Resolution
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		if err := b.checkCancelled(ctx, i); err != nil {
			return nil, err
		}
		b.report(i, n)
		rows[i] = b.sampleRow(i)
	}
	return rows, nil
}

// buildParallel раздаёт строки по порядку из одной горутины: проверка отмены
// и отчёт о прогрессе остаются последовательными.
func (b *builder) buildParallel(ctx context.Context) ([][]float64, error) {
	n := b.params.Resolution
	rows := make([][]float64, n)

	var g errgroup.Group
	g.SetLimit(b.workers)

	var cancelErr error
	for i := 0; i < n; i++ {
		if err := b.checkCancelled(ctx, i); err != nil {
			cancelErr = err
			break
		}
		b.report(i, n)
		row := i
		g.Go(func() error {
			rows[row] = b.sampleRow(row)
			return nil
		})
	}
	_ = g.Wait()

	if cancelErr != nil {
		return nil, cancelErr
	}
	return rows, nil
}

func (b *builder) sampleRow(i int) []float64 {
	p := b.params
	row := make([]float64, p.Resolution)
	y := gridCoord(i, p)
	for j := range row {
		x := gridCoord(j, p)
		row[j] = b.sampler.Height(x, y, p.Size, p.HeightScale, p.OctaveCount)
	}
	return row
}

func (b *builder) checkCancelled(ctx context.Context, row int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w перед строкой %d: %v", ErrCancelled, row, err)
	}
	if b.cancelQuery != nil && b.cancelQuery() {
		return fmt.Errorf("%w перед строкой %d", ErrCancelled, row)
	}
	return nil
}

func (b *builder) report(row, total int) {
	if b.progress != nil {
		b.progress(row, total)
	}
}
