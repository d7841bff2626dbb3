package mesh

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

func parseFloats(fields []string, lineNum int) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNum)
		}
		out[i] = v
	}
	return out, nil
}

// objIndex resolves a 1-based, possibly negative, OBJ index against count elements.
func objIndex(s string, count, lineNum int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "line %d", lineNum)
	}
	switch {
	case v > 0:
		return v - 1, nil
	case v < 0:
		return count + v, nil
	default:
		return 0, errors.Errorf("line %d: index 0 is not valid", lineNum)
	}
}

// ReadOBJ reads the geometry of a Wavefront OBJ file: v (with optional r g b), vn and f.
// Normals referenced by faces are assigned to the face's vertices; when the file has exactly one
// normal per vertex and the faces reference none, they are taken in order. Missing normals are
// computed from the faces.
func ReadOBJ(r io.Reader) (*Mesh, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	m := &Mesh{}
	var fileNormals []r3.Vector
	var colors []color.NRGBA
	assigned := map[int]r3.Vector{}

	for lineNum := 1; scanner.Scan(); lineNum++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			values, err := parseFloats(fields[1:], lineNum)
			if err != nil {
				return nil, err
			}
			if len(values) < 3 {
				return nil, errors.Errorf("line %d: vertex needs 3 coordinates", lineNum)
			}
			m.Positions = append(m.Positions, r3.Vector{X: values[0], Y: values[1], Z: values[2]})
			if len(values) >= 6 {
				colors = append(colors, color.NRGBA{
					uint8(values[3]*255 + 0.5), uint8(values[4]*255 + 0.5), uint8(values[5]*255 + 0.5), 255,
				})
			}
		case "vn":
			values, err := parseFloats(fields[1:], lineNum)
			if err != nil {
				return nil, err
			}
			if len(values) < 3 {
				return nil, errors.Errorf("line %d: normal needs 3 coordinates", lineNum)
			}
			fileNormals = append(fileNormals, r3.Vector{X: values[0], Y: values[1], Z: values[2]})
		case "f":
			poly := make([]int, 0, len(fields)-1)
			for _, corner := range fields[1:] {
				parts := strings.Split(corner, "/")
				v, err := objIndex(parts[0], len(m.Positions), lineNum)
				if err != nil {
					return nil, err
				}
				poly = append(poly, v)
				if len(parts) == 3 && parts[2] != "" {
					n, err := objIndex(parts[2], len(fileNormals), lineNum)
					if err != nil {
						return nil, err
					}
					if n < 0 || n >= len(fileNormals) {
						return nil, errors.Errorf("line %d: normal %d out of range", lineNum, n+1)
					}
					assigned[v] = fileNormals[n]
				}
			}
			if len(poly) < 3 {
				return nil, errors.Errorf("line %d: face needs 3 vertices", lineNum)
			}
			m.Faces = append(m.Faces, triangulate(poly)...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading obj")
	}
	if len(m.Positions) == 0 {
		return nil, errors.New("obj has no vertices")
	}
	if len(colors) == len(m.Positions) {
		m.Colors = colors
	}

	switch {
	case len(assigned) == len(m.Positions):
		m.Normals = make([]r3.Vector, len(m.Positions))
		for v, n := range assigned {
			m.Normals[v] = n
		}
	case len(assigned) == 0 && len(fileNormals) == len(m.Positions):
		m.Normals = fileNormals
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.ensureNormals()
	return m, nil
}

// WriteOBJ writes positions, normals and faces as a Wavefront OBJ file.
func WriteOBJ(w io.Writer, m *Mesh) error {
	if err := m.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	hasNormals := len(m.Normals) == len(m.Positions)
	for _, p := range m.Positions {
		fmt.Fprintf(bw, "v %g %g %g\n", p.X, p.Y, p.Z)
	}
	if hasNormals {
		for _, n := range m.Normals {
			fmt.Fprintf(bw, "vn %g %g %g\n", n.X, n.Y, n.Z)
		}
	}
	for _, f := range m.Faces {
		if hasNormals {
			fmt.Fprintf(bw, "f %d//%d %d//%d %d//%d\n", f[0]+1, f[0]+1, f[1]+1, f[1]+1, f[2]+1, f[2]+1)
		} else {
			fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
		}
	}
	return bw.Flush()
}
