package terrain

import (
	"encoding/json"
	"fmt"
)

// HeightMap — неизменяемая квадратная сетка высот, строка за строкой.
// Строка соответствует мировой оси Y, столбец — оси X.
type HeightMap struct {
	params GridParameters
	rows   [][]float64
}

// newHeightMap забирает rows во владение; вызывающий больше их не трогает.
func newHeightMap(p GridParameters, rows [][]float64) *HeightMap {
	return &HeightMap{params: p, rows: rows}
}

// FromRows восстанавливает карту из сохранённых значений (копирует их).
func FromRows(p GridParameters, rows [][]float64) (*HeightMap, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(rows) != p.Resolution {
		return nil, fmt.Errorf("%w: строк %d, ожидалось %d", ErrInvalidParameter, len(rows), p.Resolution)
	}
	cp := make([][]float64, len(rows))
	for i, r := range rows {
		if len(r) != p.Resolution {
			return nil, fmt.Errorf("%w: строка %d длиной %d, ожидалось %d", ErrInvalidParameter, i, len(r), p.Resolution)
		}
		cp[i] = append([]float64(nil), r...)
	}
	return newHeightMap(p, cp), nil
}

// Params возвращает параметры, по которым построена карта.
func (m *HeightMap) Params() GridParameters { return m.params }

// Resolution возвращает число отсчётов по каждой оси.
func (m *HeightMap) Resolution() int { return m.params.Resolution }

// At возвращает высоту в [row][col].
func (m *HeightMap) At(row, col int) float64 { return m.rows[row][col] }

// Row возвращает копию строки.
func (m *HeightMap) Row(i int) []float64 {
	return append([]float64(nil), m.rows[i]...)
}

// Rows возвращает глубокую копию всех значений.
func (m *HeightMap) Rows() [][]float64 {
	out := make([][]float64, len(m.rows))
	for i := range m.rows {
		out[i] = m.Row(i)
	}
	return out
}

// WorldCoord переводит индекс узла в мировые координаты.
func (m *HeightMap) WorldCoord(row, col int) (x, y float64) {
	return gridCoord(col, m.params), gridCoord(row, m.params)
}

// Bounds возвращает минимальную и максимальную высоту.
func (m *HeightMap) Bounds() (min, max float64) {
	min, max = m.rows[0][0], m.rows[0][0]
	for _, r := range m.rows {
		for _, v := range r {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	return min, max
}

// Summary — сообщение для пользователя о размере и сетке.
func (m *HeightMap) Summary() string {
	n := m.params.Resolution
	return fmt.Sprintf("Ландшафт сгенерирован: размер %g мм, сетка %d x %d точек.", m.params.Size, n, n)
}

type heightMapJSON struct {
	Params  GridParameters `json:"params"`
	Heights [][]float64    `json:"heights"`
}

// MarshalJSON реализует json.Marshaler.
func (m *HeightMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(heightMapJSON{Params: m.params, Heights: m.rows})
}

// UnmarshalJSON реализует json.Unmarshaler с проверкой формы сетки.
func (m *HeightMap) UnmarshalJSON(data []byte) error {
	var raw heightMapJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	hm, err := FromRows(raw.Params, raw.Heights)
	if err != nil {
		return err
	}
	*m = *hm
	return nil
}

func gridCoord(i int, p GridParameters) float64 {
	return float64(i) / float64(p.Resolution-1) * p.Size
}
