package pointcloud

import (
	"bufio"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Points is the content of a cloud file in file order. Unlike a PointCloud it keeps duplicate
// positions and per-point normals.
type Points struct {
	Positions []r3.Vector
	// Normals is nil unless the file has normal_x, normal_y and normal_z fields.
	Normals []r3.Vector
	// Colors is nil unless the file has an rgb field.
	Colors []color.NRGBA
}

// Len returns the number of points.
func (pts *Points) Len() int {
	return len(pts.Positions)
}

// HasNormals reports whether every point has a normal.
func (pts *Points) HasNormals() bool {
	return pts.Len() > 0 && len(pts.Normals) == pts.Len()
}

// Cloud collects the points into a PointCloud. Points sharing a position collapse into one.
func (pts *Points) Cloud() (PointCloud, error) {
	pc := NewWithPrealloc(pts.Len())
	for i, p := range pts.Positions {
		d := NewBasicData()
		if len(pts.Colors) == pts.Len() {
			d = NewColoredData(pts.Colors[i])
		}
		if err := pc.Set(p, d); err != nil {
			return nil, errors.Wrapf(err, "point %d", i)
		}
	}
	return pc, nil
}

// PointsFromCloud lists a cloud's points in iteration order. Colors are kept when the cloud
// has any.
func PointsFromCloud(cloud PointCloud) *Points {
	pts := &Points{Positions: make([]r3.Vector, 0, cloud.Size())}
	hasColor := cloud.MetaData().HasColor
	if hasColor {
		pts.Colors = make([]color.NRGBA, 0, cloud.Size())
	}
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		pts.Positions = append(pts.Positions, p)
		if hasColor {
			pts.Colors = append(pts.Colors, colorOf(d))
		}
		return true
	})
	return pts
}

func colorOf(d Data) color.NRGBA {
	if d == nil || !d.HasColor() {
		return color.NRGBA{255, 255, 255, 255}
	}
	r, g, b := d.RGB255()
	return color.NRGBA{r, g, b, 255}
}

// ReadFile reads a .pcd file.
func ReadFile(fn string) (*Points, error) {
	if ext := strings.ToLower(filepath.Ext(fn)); ext != ".pcd" {
		return nil, errors.Errorf("cannot read point cloud %q, only .pcd is supported", fn)
	}
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	pts, err := ReadPCD(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", fn)
	}
	return pts, nil
}

// WriteToFile writes the cloud as binary .pcd or as .las depending on the extension.
func WriteToFile(cloud PointCloud, fn string) (err error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		return WriteToLASFile(cloud, fn)
	case ".pcd":
		//nolint:gosec
		f, err := os.Create(fn)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		w := bufio.NewWriter(f)
		if err := ToPCD(cloud, w, PCDBinary); err != nil {
			return err
		}
		return w.Flush()
	default:
		return errors.Errorf("do not know how to write file %q", fn)
	}
}
