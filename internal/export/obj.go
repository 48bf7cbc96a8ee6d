package export

import (
	"bufio"
	"fmt"
	"io"

	"github.com/annel0/terrainforge/internal/terrain"
	"github.com/go-gl/mathgl/mgl64"
)

// WriteOBJ пишет поверхность Wavefront OBJ: вершина и нормаль на каждый узел
// сетки, два треугольника на ячейку. Высота откладывается по оси Y, строки
// сетки по Z. Грани обходятся так, что нормали смотрят вверх (+Y).
func WriteOBJ(w io.Writer, hm *terrain.HeightMap) error {
	bw := bufio.NewWriter(w)
	p := hm.Params()
	n := hm.Resolution()

	fmt.Fprintf(bw, "# terrainforge heightmap\n")
	fmt.Fprintf(bw, "# size=%g mm grid=%dx%d height_scale=%g octaves=%d seed=%d\n",
		p.Size, n, n, p.HeightScale, p.OctaveCount, p.Seed)
	fmt.Fprintf(bw, "o terrain\n")

	verts := vertices(hm)
	for _, v := range verts {
		fmt.Fprintf(bw, "v %g %g %g\n", v.X(), v.Y(), v.Z())
	}
	for _, vn := range vertexNormals(verts, n) {
		fmt.Fprintf(bw, "vn %.6f %.6f %.6f\n", vn.X(), vn.Y(), vn.Z())
	}

	// Индексы OBJ начинаются с 1
	idx := func(i, j int) int { return i*n + j + 1 }
	for i := 0; i < n-1; i++ {
		for j := 0; j < n-1; j++ {
			a, b := idx(i, j), idx(i, j+1)
			c, d := idx(i+1, j), idx(i+1, j+1)
			fmt.Fprintf(bw, "f %d//%d %d//%d %d//%d\n", a, a, c, c, b, b)
			fmt.Fprintf(bw, "f %d//%d %d//%d %d//%d\n", b, b, c, c, d, d)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("ошибка записи OBJ: %w", err)
	}
	return nil
}

func vertices(hm *terrain.HeightMap) []mgl64.Vec3 {
	n := hm.Resolution()
	out := make([]mgl64.Vec3, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x, y := hm.WorldCoord(i, j)
			out = append(out, mgl64.Vec3{x, hm.At(i, j), y})
		}
	}
	return out
}

// vertexNormals усредняет нормали соседних треугольников с весом по площади.
func vertexNormals(verts []mgl64.Vec3, n int) []mgl64.Vec3 {
	acc := make([]mgl64.Vec3, len(verts))
	add := func(a, b, c int) {
		fn := verts[b].Sub(verts[a]).Cross(verts[c].Sub(verts[a]))
		acc[a] = acc[a].Add(fn)
		acc[b] = acc[b].Add(fn)
		acc[c] = acc[c].Add(fn)
	}
	for i := 0; i < n-1; i++ {
		for j := 0; j < n-1; j++ {
			a, b := i*n+j, i*n+j+1
			c, d := (i+1)*n+j, (i+1)*n+j+1
			add(a, c, b)
			add(b, c, d)
		}
	}
	for k := range acc {
		acc[k] = acc[k].Normalize()
	}
	return acc
}
