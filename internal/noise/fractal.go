package noise

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidParameter возвращается при недопустимых параметрах синтеза.
var ErrInvalidParameter = errors.New("invalid parameter")

// BasisKind выбирает источник шума для Sampler.
type BasisKind string

const (
	BasisValue  BasisKind = "value"
	BasisPerlin BasisKind = "perlin"
)

// ParseBasisKind разбирает имя базиса из конфигурации. Пустая строка — value.
func ParseBasisKind(s string) (BasisKind, error) {
	switch BasisKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", BasisValue:
		return BasisValue, nil
	case BasisPerlin:
		return BasisPerlin, nil
	default:
		return "", fmt.Errorf("%w: неизвестный базис шума %q", ErrInvalidParameter, s)
	}
}

// Sampler синтезирует фрактальную высоту поверх выбранного базиса.
// Нулевое значение не готово к работе, используйте NewSampler.
type Sampler struct {
	basis Basis
}

// NewSampler создаёт синтезатор. При ignoreSeed сид не влияет на результат
// (поведение исходного генератора).
func NewSampler(kind BasisKind, seed int64, ignoreSeed bool) (*Sampler, error) {
	if ignoreSeed {
		seed = 0
	}
	switch kind {
	case "", BasisValue:
		return &Sampler{basis: NewValueBasis(seed)}, nil
	case BasisPerlin:
		return &Sampler{basis: NewPerlinBasis(seed)}, nil
	default:
		return nil, fmt.Errorf("%w: неизвестный базис шума %q", ErrInvalidParameter, kind)
	}
}

// NewSamplerWithBasis оборачивает произвольный базис.
func NewSamplerWithBasis(b Basis) *Sampler {
	return &Sampler{basis: b}
}

// ValidateFractal проверяет параметры фрактальной суммы.
func ValidateFractal(size, heightScale float64, octaveCount int) error {
	if octaveCount < 1 {
		return fmt.Errorf("%w: octaveCount=%d, нужно >= 1", ErrInvalidParameter, octaveCount)
	}
	if !(size > 0) || math.IsInf(size, 0) {
		return fmt.Errorf("%w: size=%g, нужно конечное > 0", ErrInvalidParameter, size)
	}
	if !(heightScale >= 0) || math.IsInf(heightScale, 0) {
		return fmt.Errorf("%w: heightScale=%g, нужно конечное >= 0", ErrInvalidParameter, heightScale)
	}
	return nil
}

// HeightAt возвращает нормализованную высоту в [0, heightScale].
// Октава i берёт шум с частотой 2^i и амплитудой 0.5^i.
func (s *Sampler) HeightAt(x, y, size, heightScale float64, octaveCount int) (float64, error) {
	if err := ValidateFractal(size, heightScale, octaveCount); err != nil {
		return 0, err
	}
	return s.height(x, y, size, heightScale, octaveCount), nil
}

// height — горячий путь без проверки параметров; вызывающий валидирует заранее.
func (s *Sampler) height(x, y, size, heightScale float64, octaveCount int) float64 {
	sum := 0.0
	frequency := 1.0
	amplitude := 1.0
	maxValue := 0.0

	for i := 0; i < octaveCount; i++ {
		sum += amplitude * s.basis.Noise2D(x*frequency/size, y*frequency/size)
		maxValue += amplitude
		frequency *= 2
		amplitude *= 0.5
	}

	normalized := (sum/maxValue + 1) * 0.5
	return normalized * heightScale
}

// Height — то же, что HeightAt, без проверки параметров.
// Используется построителем сетки, который валидирует их один раз.
func (s *Sampler) Height(x, y, size, heightScale float64, octaveCount int) float64 {
	return s.height(x, y, size, heightScale, octaveCount)
}

var legacy = &Sampler{basis: basisFunc(Noise2D)}

// basisFunc адаптирует функцию к Basis.
type basisFunc func(x, y float64) float64

func (f basisFunc) Noise2D(x, y float64) float64 { return f(x, y) }

// HeightAt — фрактальная высота на несмещённом value noise.
func HeightAt(x, y, size, heightScale float64, octaveCount int) (float64, error) {
	return legacy.HeightAt(x, y, size, heightScale, octaveCount)
}
