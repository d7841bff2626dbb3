package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data describes data associated single point within a PointCloud.
type Data interface {
	// HasColor returns whether or not this point is colored.
	HasColor() bool

	// RGB255 returns, if colored, the RGB components of the color.
	RGB255() (uint8, uint8, uint8)

	// Color returns the native color of the point.
	Color() color.Color

	// SetColor sets the given color on the point.
	SetColor(c color.NRGBA) Data

	// HasValue returns whether or not this point has some user data value
	// associated with it. Landmark clouds store the observation count here.
	HasValue() bool

	// Value returns the user data set value, if it exists.
	Value() int

	// SetValue sets the given user data value on the point.
	SetValue(v int) Data
}

type basicData struct {
	hasColor bool
	c        color.NRGBA

	hasValue bool
	value    int
}

// NewBasicData returns a point that is solely positionally based.
func NewBasicData() Data {
	return &basicData{}
}

// NewColoredData returns a point that has both position and color.
func NewColoredData(c color.NRGBA) Data {
	return &basicData{c: c, hasColor: true}
}

// NewValueData returns a point that has both position and a user data value.
func NewValueData(v int) Data {
	return &basicData{value: v, hasValue: true}
}

func (bp *basicData) SetColor(c color.NRGBA) Data {
	bp.c = c
	bp.hasColor = true
	return bp
}

func (bp *basicData) HasColor() bool {
	return bp.hasColor
}

func (bp *basicData) RGB255() (uint8, uint8, uint8) {
	return bp.c.R, bp.c.G, bp.c.B
}

func (bp *basicData) Color() color.Color {
	return &bp.c
}

func (bp *basicData) SetValue(v int) Data {
	bp.hasValue = true
	bp.value = v
	return bp
}

func (bp *basicData) HasValue() bool {
	return bp.hasValue
}

func (bp *basicData) Value() int {
	return bp.value
}
