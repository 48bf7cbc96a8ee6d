package noise

import (
	"github.com/aquilax/go-perlin"
)

// Параметры генератора Перлина. Октавы суммирует Sampler, поэтому
// внутри go-perlin используется ровно одна.
const (
	perlinAlpha = 2.0
	perlinBeta  = 2.0
	perlinN     = int32(1)
)

// PerlinBasis — градиентный шум Перлина как альтернатива value noise.
type PerlinBasis struct {
	p *perlin.Perlin
}

// NewPerlinBasis инициализирует генератор Перлина с указанным сидом.
func NewPerlinBasis(seed int64) *PerlinBasis {
	return &PerlinBasis{p: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinN, seed)}
}

// Noise2D реализует Basis. go-perlin не гарантирует границ [-1,1],
// поэтому значение обрезается.
func (b *PerlinBasis) Noise2D(x, y float64) float64 {
	v := b.p.Noise2D(x, y)
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
