package mesh

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ReadFile reads a .ply or .obj mesh.
func ReadFile(path string) (*Mesh, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m *Mesh
	switch format {
	case FormatPLY:
		m, err = ReadPLY(f)
	case FormatOBJ:
		m, err = ReadOBJ(f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return m, nil
}

// WriteFile writes a mesh in the format matching the path's extension.
func WriteFile(path string, m *Mesh) (err error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	switch format {
	case FormatPLY:
		return WritePLY(f, m)
	default:
		return WriteOBJ(f, m)
	}
}
