package command

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/terrainforge/internal/config"
	"github.com/annel0/terrainforge/internal/terrain"
)

// ErrInvalidInput — значение поля команды вне допустимого диапазона.
var ErrInvalidInput = errors.New("invalid command input")

// Диапазоны полей команды
const (
	MinDetailLevel = 1
	MaxDetailLevel = 6
	MinRoughness   = 1
	MaxRoughness   = 10
	MinSeed        = 0
	MaxSeed        = 10000
)

// Inputs — поля команды генерации ландшафта.
type Inputs struct {
	TerrainSize float64 `json:"terrain_size"` // мм
	HeightScale float64 `json:"height_scale"` // мм
	DetailLevel int     `json:"detail_level"` // сетка 2^detail+1
	Roughness   int     `json:"roughness"`    // число октав
	Seed        int64   `json:"seed"`
}

// DefaultInputs возвращает значения, с которыми открывается команда.
func DefaultInputs() Inputs {
	return Inputs{
		TerrainSize: 100,
		HeightScale: 10,
		DetailLevel: 4,
		Roughness:   5,
		Seed:        42,
	}
}

// InputsFromConfig берёт значения по умолчанию из конфигурации.
func InputsFromConfig(tc config.TerrainConfig) Inputs {
	return Inputs{
		TerrainSize: tc.TerrainSize,
		HeightScale: tc.HeightScale,
		DetailLevel: tc.DetailLevel,
		Roughness:   tc.Roughness,
		Seed:        tc.Seed,
	}
}

// Validate проверяет диапазоны полей.
func (in Inputs) Validate() error {
	switch {
	case !(in.TerrainSize > 0) || math.IsInf(in.TerrainSize, 0):
		return fmt.Errorf("%w: terrain_size=%g, нужно конечное > 0", ErrInvalidInput, in.TerrainSize)
	case !(in.HeightScale > 0) || math.IsInf(in.HeightScale, 0):
		return fmt.Errorf("%w: height_scale=%g, нужно конечное > 0", ErrInvalidInput, in.HeightScale)
	case in.DetailLevel < MinDetailLevel || in.DetailLevel > MaxDetailLevel:
		return fmt.Errorf("%w: detail_level=%d, допустимо %d–%d", ErrInvalidInput, in.DetailLevel, MinDetailLevel, MaxDetailLevel)
	case in.Roughness < MinRoughness || in.Roughness > MaxRoughness:
		return fmt.Errorf("%w: roughness=%d, допустимо %d–%d", ErrInvalidInput, in.Roughness, MinRoughness, MaxRoughness)
	case in.Seed < MinSeed || in.Seed > MaxSeed:
		return fmt.Errorf("%w: seed=%d, допустимо %d–%d", ErrInvalidInput, in.Seed, MinSeed, MaxSeed)
	}
	return nil
}

// GridParameters переводит поля команды в параметры сетки.
func (in Inputs) GridParameters() (terrain.GridParameters, error) {
	if err := in.Validate(); err != nil {
		return terrain.GridParameters{}, err
	}
	return terrain.NewGridParameters(in.TerrainSize, in.HeightScale, in.DetailLevel, in.Roughness, in.Seed)
}
