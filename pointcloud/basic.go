package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PointAndData is a tiny struct to facilitate returning points and data.
type PointAndData struct {
	P r3.Vector
	D Data
}

// basicPointCloud is the basic implementation of the PointCloud interface backed by
// a slice of points in insertion order and an index keyed by position.
type basicPointCloud struct {
	points   []PointAndData
	indexMap map[r3.Vector]int
	meta     MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points:   make([]PointAndData, 0, size),
		indexMap: make(map[r3.Vector]int, size),
		meta:     NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(x, y, z float64) (Data, bool) {
	idx, ok := cloud.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	if !ok {
		return nil, false
	}
	return cloud.points[idx].D, true
}

// Set validates that the point can be precisely stored before setting it in the cloud. Setting
// an existing position replaces its data and keeps its place in the iteration order.
func (cloud *basicPointCloud) Set(p r3.Vector, d Data) error {
	if err := checkPrecision(p); err != nil {
		return err
	}
	if idx, ok := cloud.indexMap[p]; ok {
		cloud.points[idx].D = d
		if d != nil {
			cloud.meta.HasColor = cloud.meta.HasColor || d.HasColor()
			cloud.meta.HasValue = cloud.meta.HasValue || d.HasValue()
		}
		return nil
	}
	cloud.indexMap[p] = len(cloud.points)
	cloud.points = append(cloud.points, PointAndData{P: p, D: d})
	cloud.meta.Merge(p, d)
	return nil
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	lowerBound := 0
	upperBound := len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		lowerBound = myBatch * batchSize
		upperBound = lowerBound + batchSize
		if upperBound > len(cloud.points) {
			upperBound = len(cloud.points)
		}
	}
	for i := lowerBound; i < upperBound; i++ {
		if !fn(cloud.points[i].P, cloud.points[i].D) {
			return
		}
	}
}

func checkPrecision(p r3.Vector) error {
	if p.X < minPreciseFloat64 || p.X > maxPreciseFloat64 {
		return errors.Errorf("x component (%v) is out of range [%v,%v]", p.X, minPreciseFloat64, maxPreciseFloat64)
	}
	if p.Y < minPreciseFloat64 || p.Y > maxPreciseFloat64 {
		return errors.Errorf("y component (%v) is out of range [%v,%v]", p.Y, minPreciseFloat64, maxPreciseFloat64)
	}
	if p.Z < minPreciseFloat64 || p.Z > maxPreciseFloat64 {
		return errors.Errorf("z component (%v) is out of range [%v,%v]", p.Z, minPreciseFloat64, maxPreciseFloat64)
	}
	return nil
}
