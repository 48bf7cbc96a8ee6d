package terrain

import (
	"errors"
	"fmt"

	"github.com/annel0/terrainforge/internal/noise"
)

// ErrInvalidParameter — параметры сетки недопустимы; работа не начиналась.
var ErrInvalidParameter = noise.ErrInvalidParameter

// ErrCancelled — генерация отменена, карта не построена.
// Это не сбой, а отдельный исход: частичная карта никогда не возвращается.
var ErrCancelled = errors.New("terrain generation cancelled")

// GridParameters описывает одну генерацию карты высот.
type GridParameters struct {
	Size        float64 `json:"size" yaml:"size"`                 // Протяжённость сетки в мировых единицах
	Resolution  int     `json:"resolution" yaml:"resolution"`     // Количество отсчётов по оси
	HeightScale float64 `json:"height_scale" yaml:"height_scale"` // Амплитуда высоты
	OctaveCount int     `json:"octave_count" yaml:"octave_count"` // Количество октав шума
	Seed        int64   `json:"seed" yaml:"seed"`                 // Ключ воспроизводимости
}

// ResolutionForDetail возвращает 2^detailLevel + 1.
func ResolutionForDetail(detailLevel int) (int, error) {
	if detailLevel < 1 || detailLevel > 30 {
		return 0, fmt.Errorf("%w: detailLevel=%d", ErrInvalidParameter, detailLevel)
	}
	return 1<<uint(detailLevel) + 1, nil
}

// NewGridParameters собирает параметры с разрешением 2^detailLevel + 1.
func NewGridParameters(size, heightScale float64, detailLevel, octaveCount int, seed int64) (GridParameters, error) {
	res, err := ResolutionForDetail(detailLevel)
	if err != nil {
		return GridParameters{}, err
	}
	p := GridParameters{
		Size:        size,
		Resolution:  res,
		HeightScale: heightScale,
		OctaveCount: octaveCount,
		Seed:        seed,
	}
	if err := p.Validate(); err != nil {
		return GridParameters{}, err
	}
	return p, nil
}

// Validate проверяет параметры до начала вычислений.
// Разрешение вида 2^d+1 не требуется: генератору подходит любое >= 2.
func (p GridParameters) Validate() error {
	if p.Resolution < 2 {
		return fmt.Errorf("%w: resolution=%d, нужно >= 2", ErrInvalidParameter, p.Resolution)
	}
	return noise.ValidateFractal(p.Size, p.HeightScale, p.OctaveCount)
}

// DetailLevel возвращает d, если Resolution = 2^d + 1, иначе false.
func (p GridParameters) DetailLevel() (int, bool) {
	n := p.Resolution - 1
	if n < 2 || n&(n-1) != 0 {
		return 0, false
	}
	d := 0
	for n > 1 {
		n >>= 1
		d++
	}
	return d, true
}

// Fingerprint — стабильный ключ параметров для кеша.
func (p GridParameters) Fingerprint(basis noise.BasisKind) string {
	if basis == "" {
		basis = noise.BasisValue
	}
	return fmt.Sprintf("terrain:%s:%g:%d:%g:%d:%d", basis, p.Size, p.Resolution, p.HeightScale, p.OctaveCount, p.Seed)
}
