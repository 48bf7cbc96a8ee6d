package noise

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatticeValue_RangeAndDeterminism(t *testing.T) {
	for ix := int64(-50); ix <= 50; ix += 7 {
		for iy := int64(-50); iy <= 50; iy += 3 {
			v := LatticeValue(ix, iy)
			assert.GreaterOrEqual(t, v, 0.0, "значение решётки должно быть >= 0")
			assert.LessOrEqual(t, v, 1.0, "значение решётки должно быть <= 1")
			assert.Equal(t, v, LatticeValue(ix, iy), "значение решётки должно быть детерминированным")
		}
	}
}

func TestLatticeValue_KnownFormula(t *testing.T) {
	v := math.Sin(3*12.9898+5*78.233) * 43758.5453
	want := v - math.Floor(v)
	assert.Equal(t, want, LatticeValue(3, 5))
}

func TestNoise2D_EqualsLatticeAtIntegerPoints(t *testing.T) {
	for x := -4; x <= 4; x++ {
		for y := -4; y <= 4; y++ {
			got := Noise2D(float64(x), float64(y))
			want := 2*LatticeValue(int64(x), int64(y)) - 1
			assert.InDelta(t, want, got, 1e-12, "шум в узле (%d,%d)", x, y)
		}
	}
}

func TestNoise2D_Range(t *testing.T) {
	for x := -3.0; x < 3.0; x += 0.137 {
		for y := -3.0; y < 3.0; y += 0.173 {
			v := Noise2D(x, y)
			assert.GreaterOrEqual(t, v, -1.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestNoise2D_Continuity(t *testing.T) {
	const eps = 1e-7
	// Включая точки у самых границ ячеек.
	points := []float64{0.0, 0.5, 0.999999, 1.0, 1.000001, 2.25, 7.9}
	for _, x := range points {
		for _, y := range points {
			d := math.Abs(Noise2D(x+eps, y) - Noise2D(x, y))
			assert.Less(t, d, 1e-5, "разрыв шума в (%g,%g)", x, y)
			d = math.Abs(Noise2D(x, y+eps) - Noise2D(x, y))
			assert.Less(t, d, 1e-5, "разрыв шума в (%g,%g)", x, y)
		}
	}
}

func TestSeedOffset(t *testing.T) {
	ox, oy := SeedOffset(0)
	assert.Zero(t, ox)
	assert.Zero(t, oy)

	ax, ay := SeedOffset(42)
	bx, by := SeedOffset(42)
	assert.Equal(t, ax, bx)
	assert.Equal(t, ay, by)
	assert.LessOrEqual(t, math.Abs(float64(ax)), float64(seedSpan/2))
	assert.LessOrEqual(t, math.Abs(float64(ay)), float64(seedSpan/2))

	cx, cy := SeedOffset(43)
	assert.False(t, ax == cx && ay == cy, "разные сиды должны давать разные смещения")
}

func TestValueBasis_ZeroSeedMatchesLegacy(t *testing.T) {
	b := NewValueBasis(0)
	for _, p := range [][2]float64{{0.3, 0.7}, {1.5, 2.5}, {4.01, 0.99}} {
		assert.Equal(t, Noise2D(p[0], p[1]), b.Noise2D(p[0], p[1]))
	}
}

func TestHeightAt_Determinism(t *testing.T) {
	a, err := HeightAt(37.5, 12.25, 100, 10, 5)
	require.NoError(t, err)
	b, err := HeightAt(37.5, 12.25, 100, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHeightAt_RangeForAllOctaves(t *testing.T) {
	for octaves := 1; octaves <= 10; octaves++ {
		for x := 0.0; x <= 100; x += 12.5 {
			for y := 0.0; y <= 100; y += 12.5 {
				h, err := HeightAt(x, y, 100, 10, octaves)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, h, -1e-9)
				assert.LessOrEqual(t, h, 10+1e-9)
			}
		}
	}
}

func TestHeightAt_InvalidParameters(t *testing.T) {
	cases := []struct {
		name        string
		size, scale float64
		octaves     int
	}{
		{"ноль октав", 100, 10, 0},
		{"отрицательные октавы", 100, 10, -1},
		{"нулевой размер", 0, 10, 3},
		{"отрицательный размер", -5, 10, 3},
		{"отрицательный масштаб", 100, -1, 3},
		{"бесконечный размер", math.Inf(1), 10, 3},
		{"размер NaN", math.NaN(), 10, 3},
		{"бесконечный масштаб", 100, math.Inf(1), 3},
		{"масштаб NaN", 100, math.NaN(), 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := HeightAt(1, 1, tc.size, tc.scale, tc.octaves)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParameter))
		})
	}
}

func TestHeightAt_ZeroScaleIsFlat(t *testing.T) {
	h, err := HeightAt(3, 4, 10, 0, 4)
	require.NoError(t, err)
	assert.Zero(t, h)
}

func TestSampler_SeedChangesTerrain(t *testing.T) {
	s1, err := NewSampler(BasisValue, 1, false)
	require.NoError(t, err)
	s2, err := NewSampler(BasisValue, 2, false)
	require.NoError(t, err)

	differ := false
	for x := 0.0; x <= 100; x += 10 {
		if s1.Height(x, 33, 100, 10, 4) != s2.Height(x, 33, 100, 10, 4) {
			differ = true
			break
		}
	}
	assert.True(t, differ, "разные сиды должны давать разный рельеф")
}

func TestSampler_IgnoreSeed(t *testing.T) {
	s, err := NewSampler(BasisValue, 1234, true)
	require.NoError(t, err)
	want, err := HeightAt(21, 55, 100, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, want, s.Height(21, 55, 100, 10, 5))
}

func TestSampler_Perlin(t *testing.T) {
	s, err := NewSampler(BasisPerlin, 7, false)
	require.NoError(t, err)
	for x := 0.0; x <= 50; x += 3.3 {
		h, err := s.HeightAt(x, 50-x, 50, 20, 6)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, h, 0.0)
		assert.LessOrEqual(t, h, 20.0)
	}
}

func TestParseBasisKind(t *testing.T) {
	k, err := ParseBasisKind("")
	require.NoError(t, err)
	assert.Equal(t, BasisValue, k)

	k, err = ParseBasisKind(" Perlin ")
	require.NoError(t, err)
	assert.Equal(t, BasisPerlin, k)

	_, err = ParseBasisKind("simplex")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
