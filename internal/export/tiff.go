package export

import (
	"fmt"
	"io"

	"github.com/annel0/terrainforge/internal/terrain"
	"golang.org/x/image/tiff"
)

// WriteTIFF пишет то же 16-битное изображение, что и WritePNG, в TIFF
// со сжатием Deflate. ГИС-пакеты читают такие карты высот напрямую.
func WriteTIFF(w io.Writer, hm *terrain.HeightMap) error {
	opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	if err := tiff.Encode(w, Gray16(hm), opts); err != nil {
		return fmt.Errorf("ошибка записи TIFF: %w", err)
	}
	return nil
}
