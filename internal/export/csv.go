package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/annel0/terrainforge/internal/terrain"
)

// WriteCSV пишет по одной записи на строку сетки.
func WriteCSV(w io.Writer, hm *terrain.HeightMap) error {
	cw := csv.NewWriter(w)
	n := hm.Resolution()
	record := make([]string, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			record[j] = strconv.FormatFloat(hm.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("ошибка записи CSV: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("ошибка записи CSV: %w", err)
	}
	return nil
}
