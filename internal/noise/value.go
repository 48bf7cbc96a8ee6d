package noise

import "math"

// Basis — источник гладкого двумерного шума в диапазоне [-1,1].
type Basis interface {
	Noise2D(x, y float64) float64
}

// smoothstep — кубический вес t²(3-2t); его производная обращается в ноль
// на границах ячейки.
func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// Noise2D — value noise на несмещённой решётке.
func Noise2D(x, y float64) float64 {
	return valueNoise(x, y, 0, 0)
}

func valueNoise(x, y float64, ox, oy int64) float64 {
	fx := math.Floor(x)
	fy := math.Floor(y)

	sx := smoothstep(x - fx)
	sy := smoothstep(y - fy)

	x0 := int64(fx) + ox
	y0 := int64(fy) + oy
	x1 := x0 + 1
	y1 := y0 + 1

	n00 := LatticeValue(x0, y0)
	n01 := LatticeValue(x0, y1)
	n10 := LatticeValue(x1, y0)
	n11 := LatticeValue(x1, y1)

	nx0 := lerp(n00, n10, sx)
	nx1 := lerp(n01, n11, sx)
	n := lerp(nx0, nx1, sy)

	return n*2 - 1
}

// ValueBasis — value noise, решётка которого сдвинута на смещение сида.
type ValueBasis struct {
	ox, oy int64
}

// NewValueBasis создаёт value noise для указанного сида.
func NewValueBasis(seed int64) *ValueBasis {
	ox, oy := SeedOffset(seed)
	return &ValueBasis{ox: ox, oy: oy}
}

// Noise2D реализует Basis.
func (b *ValueBasis) Noise2D(x, y float64) float64 {
	return valueNoise(x, y, b.ox, b.oy)
}
