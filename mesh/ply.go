package mesh

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"reflect"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// plyFloat converts any numeric PLY property to float64.
func plyFloat(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	default:
		return 0, false
	}
}

// plyIndices converts a PLY list property to vertex indices.
func plyIndices(v interface{}) ([]int, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]int, rv.Len())
	for i := range out {
		f, ok := plyFloat(rv.Index(i).Interface())
		if !ok {
			return nil, false
		}
		out[i] = int(f)
	}
	return out, true
}

func plyVector(elem map[string]interface{}, x, y, z string) (r3.Vector, bool) {
	vx, okX := plyFloat(elem[x])
	vy, okY := plyFloat(elem[y])
	vz, okZ := plyFloat(elem[z])
	return r3.Vector{X: vx, Y: vy, Z: vz}, okX && okY && okZ
}

// ReadPLY reads a PLY mesh. Vertices need x, y and z; nx, ny, nz and red, green, blue are
// optional. Faces are read from vertex_indices (or vertex_index) and fan-triangulated. Missing
// normals are computed from the faces.
func ReadPLY(r io.Reader) (m *Mesh, err error) {
	defer func() {
		// goply panics on malformed input
		if thePanic := recover(); thePanic != nil {
			m = nil
			err = errors.Errorf("malformed ply: %v", thePanic)
		}
	}()
	ply := goply.New(r)

	vertices := ply.Elements("vertex")
	if len(vertices) == 0 {
		return nil, errors.New("ply has no vertices")
	}
	m = &Mesh{Positions: make([]r3.Vector, len(vertices))}
	_, hasNormals := vertices[0]["nx"]
	_, hasColors := vertices[0]["red"]
	if hasNormals {
		m.Normals = make([]r3.Vector, len(vertices))
	}
	if hasColors {
		m.Colors = make([]color.NRGBA, len(vertices))
	}
	for i, v := range vertices {
		pos, ok := plyVector(v, "x", "y", "z")
		if !ok {
			return nil, errors.Errorf("vertex %d has no numeric x, y, z", i)
		}
		m.Positions[i] = pos
		if hasNormals {
			n, ok := plyVector(v, "nx", "ny", "nz")
			if !ok {
				return nil, errors.Errorf("vertex %d has no numeric nx, ny, nz", i)
			}
			m.Normals[i] = n
		}
		if hasColors {
			c, ok := plyVector(v, "red", "green", "blue")
			if !ok {
				return nil, errors.Errorf("vertex %d has no numeric red, green, blue", i)
			}
			m.Colors[i] = color.NRGBA{uint8(c.X), uint8(c.Y), uint8(c.Z), 255}
		}
	}

	for i, f := range ply.Elements("face") {
		list, ok := f["vertex_indices"]
		if !ok {
			list = f["vertex_index"]
		}
		poly, ok := plyIndices(list)
		if !ok {
			return nil, errors.Errorf("face %d has no vertex index list", i)
		}
		m.Faces = append(m.Faces, triangulate(poly)...)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.ensureNormals()
	return m, nil
}

// WritePLY writes the mesh as ASCII PLY with normals, and colors when the mesh has them.
func WritePLY(w io.Writer, m *Mesh) error {
	if err := m.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	hasNormals := len(m.Normals) == len(m.Positions)
	hasColors := len(m.Colors) == len(m.Positions) && len(m.Colors) > 0

	fmt.Fprintln(bw, "ply")
	fmt.Fprintln(bw, "format ascii 1.0")
	fmt.Fprintf(bw, "element vertex %d\n", len(m.Positions))
	fmt.Fprintln(bw, "property float x\nproperty float y\nproperty float z")
	if hasNormals {
		fmt.Fprintln(bw, "property float nx\nproperty float ny\nproperty float nz")
	}
	if hasColors {
		fmt.Fprintln(bw, "property uchar red\nproperty uchar green\nproperty uchar blue")
	}
	fmt.Fprintf(bw, "element face %d\n", len(m.Faces))
	fmt.Fprintln(bw, "property list uchar int vertex_indices")
	fmt.Fprintln(bw, "end_header")

	for i, p := range m.Positions {
		fmt.Fprintf(bw, "%g %g %g", p.X, p.Y, p.Z)
		if hasNormals {
			n := m.Normals[i]
			fmt.Fprintf(bw, " %g %g %g", n.X, n.Y, n.Z)
		}
		if hasColors {
			c := m.Colors[i]
			fmt.Fprintf(bw, " %d %d %d", c.R, c.G, c.B)
		}
		fmt.Fprintln(bw)
	}
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "3 %d %d %d\n", f[0], f[1], f[2])
	}
	return bw.Flush()
}
