// Package export превращает карту высот в файлы для внешних программ:
// поверхность OBJ, 16-битные PNG и TIFF, CSV.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/annel0/terrainforge/internal/terrain"
)

// Format — формат выгрузки.
type Format string

const (
	FormatOBJ  Format = "obj"
	FormatPNG  Format = "png"
	FormatCSV  Format = "csv"
	FormatTIFF Format = "tiff"
)

// ParseFormat разбирает имя формата без учёта регистра.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatOBJ, FormatPNG, FormatCSV, FormatTIFF:
		return f, nil
	default:
		return "", fmt.Errorf("неизвестный формат выгрузки %q", s)
	}
}

// ContentType возвращает MIME-тип формата.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatTIFF:
		return "image/tiff"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	default:
		return "model/obj"
	}
}

// Extension возвращает расширение файла с точкой.
func (f Format) Extension() string { return "." + string(f) }

// Write выгружает карту в w в указанном формате.
func Write(w io.Writer, hm *terrain.HeightMap, f Format) error {
	if hm == nil {
		return fmt.Errorf("пустая карта высот")
	}
	switch f {
	case FormatOBJ:
		return WriteOBJ(w, hm)
	case FormatPNG:
		return WritePNG(w, hm)
	case FormatCSV:
		return WriteCSV(w, hm)
	case FormatTIFF:
		return WriteTIFF(w, hm)
	default:
		return fmt.Errorf("неизвестный формат выгрузки %q", f)
	}
}
