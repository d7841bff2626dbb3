// Package pointcloud defines a point cloud, builds one from the landmarks of an SfM scene and
// writes it out as PCD or LAS.
//
// Points keep their insertion order so that files written from the same scene are identical.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// Positions outside this range cannot be stored without losing precision in the float32 and
// scaled integer encodings the writers use.
const (
	maxPreciseFloat64 = float64(1 << 40)
	minPreciseFloat64 = -maxPreciseFloat64
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool
	HasValue bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalX, totalY, totalZ float64
	count                  int
}

// NewMetaData creates a new MetaData with empty bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge includes the point in the meta data.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasValue() {
			meta.HasValue = true
		}
	}

	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)

	meta.totalX += v.X
	meta.totalY += v.Y
	meta.totalZ += v.Z
	meta.count++
}

// Center returns the centroid of the merged points.
func (meta *MetaData) Center() r3.Vector {
	if meta.count == 0 {
		return r3.Vector{}
	}
	n := float64(meta.count)
	return r3.Vector{X: meta.totalX / n, Y: meta.totalY / n, Z: meta.totalZ / n}
}

// PointCloud is a general purpose container of points.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// CloudContains is a silly helper method.
func CloudContains(cloud PointCloud, x, y, z float64) bool {
	_, got := cloud.At(x, y, z)
	return got
}

// CloudCentroid returns the centroid of a pointcloud as a vector.
func CloudCentroid(pc PointCloud) r3.Vector {
	if pc.Size() == 0 {
		return r3.Vector{}
	}
	meta := pc.MetaData()
	return meta.Center()
}
