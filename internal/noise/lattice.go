package noise

import "math"

// Константы хеша решётки. Менять нельзя: от них зависит совместимость
// с ранее сгенерированными картами высот.
const (
	hashKX     = 12.9898
	hashKY     = 78.233
	hashFactor = 43758.5453
)

// seedSpan ограничивает смещение решётки по сиду: при больших аргументах
// синус теряет точность и хеш вырождается.
const seedSpan = 8192

// LatticeValue возвращает детерминированное псевдослучайное значение в [0,1)
// для целочисленной точки решётки.
func LatticeValue(ix, iy int64) float64 {
	v := math.Sin(float64(ix)*hashKX+float64(iy)*hashKY) * hashFactor
	return v - math.Floor(v)
}

// SeedOffset переводит сид в целочисленное смещение решётки.
// Сид 0 даёт нулевое смещение, то есть исходный (несидированный) шум.
func SeedOffset(seed int64) (ox, oy int64) {
	if seed == 0 {
		return 0, 0
	}
	h := uint64(seed) * 0x9E3779B97F4A7C15
	h = (h ^ (h >> 30)) * 0xBF58476D1CE4E5B9
	h = (h ^ (h >> 27)) * 0x94D049BB133111EB
	h ^= h >> 31
	ox = int64(h%seedSpan) - seedSpan/2
	oy = int64((h>>32)%seedSpan) - seedSpan/2
	return ox, oy
}
