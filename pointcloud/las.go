package pointcloud

import (
	"bytes"
	"encoding/binary"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
)

// LandmarkValueTag describes the variable length record holding the per-point values, one
// little endian uint64 per point in point order.
const LandmarkValueTag = "rc|pv"

// lasPointRecord returns a format 0 record, or a format 2 record carrying c when colored.
func lasPointRecord(pos r3.Vector, colored bool, c Data) lidario.LasPointer {
	// positions were range checked when they were added to the cloud
	pr0 := &lidario.PointRecord0{
		X: pos.X,
		Y: pos.Y,
		Z: pos.Z,
		// a single return: return number 1 of 1
		BitField:      lidario.PointBitField{Value: 1 | 1<<3},
		PointSourceID: 1,
	}
	if !colored {
		return pr0
	}
	rgb := colorOf(c)
	return &lidario.PointRecord2{
		PointRecord0: pr0,
		RGB: &lidario.RgbData{
			Red:   uint16(rgb.R) * 256,
			Green: uint16(rgb.G) * 256,
			Blue:  uint16(rgb.B) * 256,
		},
	}
}

// WriteToLASFile writes the cloud to a LAS file. Colored clouds use point format 2. Point values
// go into a variable length record tagged LandmarkValueTag.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	meta := cloud.MetaData()
	var pointFormatID byte
	if meta.HasColor {
		pointFormatID = 2
	}
	if err := lf.AddHeader(lidario.LasHeader{PointFormatID: pointFormatID}); err != nil {
		return err
	}

	var values bytes.Buffer
	var addErr error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		if meta.HasValue {
			var v uint64
			if d != nil && d.HasValue() {
				v = uint64(d.Value())
			}
			//nolint:errcheck
			binary.Write(&values, binary.LittleEndian, v)
		}
		addErr = lf.AddLasPoint(lasPointRecord(pos, meta.HasColor, d))
		return addErr == nil
	})
	if addErr != nil {
		return addErr
	}
	if !meta.HasValue {
		return nil
	}
	return lf.AddVLR(lidario.VLR{
		Description:             LandmarkValueTag,
		BinaryData:              values.Bytes(),
		RecordLengthAfterHeader: values.Len(),
	})
}
