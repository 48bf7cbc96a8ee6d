package export

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/annel0/terrainforge/internal/terrain"
)

// WritePNG пишет 16-битное полутоновое изображение: 0 — нулевая высота,
// 65535 — heightScale. Строка сетки i — строка пикселей i.
func WritePNG(w io.Writer, hm *terrain.HeightMap) error {
	if err := png.Encode(w, Gray16(hm)); err != nil {
		return fmt.Errorf("ошибка записи PNG: %w", err)
	}
	return nil
}

// Gray16 переводит карту в изображение.
func Gray16(hm *terrain.HeightMap) *image.Gray16 {
	n := hm.Resolution()
	scale := hm.Params().HeightScale
	img := image.NewGray16(image.Rect(0, 0, n, n))
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			img.SetGray16(j, i, color.Gray16{Y: quantize(hm.At(i, j), scale)})
		}
	}
	return img
}

func quantize(h, scale float64) uint16 {
	if scale <= 0 {
		return 0
	}
	v := math.Round(h / scale * math.MaxUint16)
	if v < 0 {
		v = 0
	}
	if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	return uint16(v)
}
