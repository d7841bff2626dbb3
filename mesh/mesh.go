// Package mesh reads and writes triangle meshes and derives per-vertex normals.
package mesh

import (
	"image/color"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfmlink/visibility"
)

// Mesh is an indexed triangle mesh. Normals and Colors, when set, are parallel to Positions.
type Mesh struct {
	Positions []r3.Vector
	Normals   []r3.Vector
	Colors    []color.NRGBA
	Faces     [][3]int
}

// Vertices returns the mesh's positions and normals for the visibility engine.
func (m *Mesh) Vertices() visibility.Vertices {
	return visibility.Vertices{Positions: m.Positions, Normals: m.Normals}
}

// Validate checks face indices and the lengths of the per-vertex arrays.
func (m *Mesh) Validate() error {
	n := len(m.Positions)
	if len(m.Normals) != 0 && len(m.Normals) != n {
		return errors.Errorf("mesh has %d positions but %d normals", n, len(m.Normals))
	}
	if len(m.Colors) != 0 && len(m.Colors) != n {
		return errors.Errorf("mesh has %d positions but %d colors", n, len(m.Colors))
	}
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return errors.Errorf("face %d references vertex %d of %d", i, idx, n)
			}
		}
	}
	return nil
}

// ComputeNormals sets every vertex normal to the normalized sum of the normals of the faces
// around it, each weighted by its face's area. Vertices on no face, or whose faces cancel out,
// get a zero normal.
func (m *Mesh) ComputeNormals() {
	normals := make([]r3.Vector, len(m.Positions))
	for _, f := range m.Faces {
		a, b, c := m.Positions[f[0]], m.Positions[f[1]], m.Positions[f[2]]
		// the cross product's length is twice the face area
		n := b.Sub(a).Cross(c.Sub(a))
		for _, idx := range f {
			normals[idx] = normals[idx].Add(n)
		}
	}
	for i, n := range normals {
		if n.Norm2() > 0 {
			normals[i] = n.Normalize()
		}
	}
	m.Normals = normals
}

// ensureNormals computes normals when the file carried none.
func (m *Mesh) ensureNormals() {
	if len(m.Normals) == 0 {
		m.ComputeNormals()
	}
}

// triangulate splits a polygon into a fan of triangles around its first corner.
func triangulate(poly []int) [][3]int {
	if len(poly) < 3 {
		return nil
	}
	tris := make([][3]int, 0, len(poly)-2)
	for i := 1; i+1 < len(poly); i++ {
		tris = append(tris, [3]int{poly[0], poly[i], poly[i+1]})
	}
	return tris
}

// Format is a mesh file format.
type Format string

// Supported formats.
const (
	FormatPLY = Format("ply")
	FormatOBJ = Format("obj")
)

// FormatFromPath returns the format matching a file's extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ply":
		return FormatPLY, nil
	case ".obj":
		return FormatOBJ, nil
	default:
		return "", errors.Errorf("unsupported mesh file %q, expected .ply or .obj", path)
	}
}
