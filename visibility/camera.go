// Package visibility decides which cameras observe which mesh vertices.
//
// A CameraSet derives, for every imported camera, the 3x4 projection matrix and the
// world-space view axis. The Engine pushes all vertices through every camera, rejects
// back-facing and out-of-frame vertices and scores the rest by their distance to the
// image centre.
package visibility

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// degenerateDet is the smallest |det(T)| an extrinsic may have and still be inverted.
const degenerateDet = 1e-9

// Camera is one imported camera and the quantities derived from it.
type Camera struct {
	Index int
	// Intrinsics is the 3x3 camera matrix divided by its [2,2] entry.
	Intrinsics *mat.Dense
	// Extrinsics is the 4x4 camera pose divided by its [3,3] entry.
	Extrinsics *mat.Dense
	// Projection is (K/K[2,2]) * [I|0] * (T/T[3,3])^-1.
	Projection *mat.Dense
	// ViewAxis is the third column of the inverted extrinsic.
	ViewAxis r3.Vector
}

// NewCamera derives the projection matrix and view axis of a camera from its 3x3 intrinsic
// matrix k and 4x4 homogeneous extrinsic t.
func NewCamera(index int, k, t mat.Matrix) (Camera, error) {
	if k == nil || t == nil {
		return Camera{}, &EmptyInputError{What: "camera parameters"}
	}
	if r, c := k.Dims(); r != 3 || c != 3 {
		return Camera{}, errors.Errorf("camera %d: intrinsics must be 3x3, got %dx%d", index, r, c)
	}
	if r, c := t.Dims(); r != 4 || c != 4 {
		return Camera{}, errors.Errorf("camera %d: extrinsics must be 4x4, got %dx%d", index, r, c)
	}
	if k.At(2, 2) == 0 {
		return Camera{}, &DegenerateCameraError{Index: index, Reason: "intrinsic [2,2] entry is zero"}
	}
	if t.At(3, 3) == 0 {
		return Camera{}, &DegenerateCameraError{Index: index, Reason: "extrinsic [3,3] entry is zero"}
	}

	var kn mat.Dense
	kn.Scale(1/k.At(2, 2), k)
	var tn mat.Dense
	tn.Scale(1/t.At(3, 3), t)

	det := mat.Det(&tn)
	if math.IsNaN(det) || math.Abs(det) < degenerateDet {
		return Camera{}, &DegenerateCameraError{Index: index, Det: det, Reason: "extrinsic is not invertible"}
	}
	var inv mat.Dense
	// a Condition error still yields a usable inverse; only singular matrices fail here
	if err := inv.Inverse(&tn); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return Camera{}, &DegenerateCameraError{Index: index, Det: det, Reason: err.Error()}
		}
	}

	kext := mat.NewDense(3, 4, nil)
	kext.Slice(0, 3, 0, 3).(*mat.Dense).Copy(&kn)
	projection := mat.NewDense(3, 4, nil)
	projection.Mul(kext, &inv)

	return Camera{
		Index:      index,
		Intrinsics: mat.DenseCopyOf(&kn),
		Extrinsics: mat.DenseCopyOf(&tn),
		Projection: projection,
		ViewAxis:   r3.Vector{X: inv.At(0, 2), Y: inv.At(1, 2), Z: inv.At(2, 2)},
	}, nil
}

// CameraSet owns the cameras of one conversion run. It is immutable once built.
type CameraSet struct {
	cameras []Camera
}

// NewCameraSet builds a CameraSet from per-camera row-major parameter vectors: 9 values for
// the intrinsic matrix and 16 for the homogeneous extrinsic. Camera indices follow slice order.
func NewCameraSet(intrinsics, extrinsics [][]float64) (*CameraSet, error) {
	if len(intrinsics) != len(extrinsics) {
		return nil, errors.Errorf("got %d intrinsics but %d extrinsics", len(intrinsics), len(extrinsics))
	}
	ks := make([]mat.Matrix, len(intrinsics))
	ts := make([]mat.Matrix, len(extrinsics))
	for i := range intrinsics {
		if len(intrinsics[i]) != 9 {
			return nil, errors.Errorf("camera %d: expected 9 intrinsic values, got %d", i, len(intrinsics[i]))
		}
		if len(extrinsics[i]) != 16 {
			return nil, errors.Errorf("camera %d: expected 16 extrinsic values, got %d", i, len(extrinsics[i]))
		}
		ks[i] = mat.NewDense(3, 3, append([]float64(nil), intrinsics[i]...))
		ts[i] = mat.NewDense(4, 4, append([]float64(nil), extrinsics[i]...))
	}
	return NewCameraSetFromMatrices(ks, ts)
}

// NewCameraSetFromMatrices builds a CameraSet from 3x3 intrinsic and 4x4 extrinsic matrices.
func NewCameraSetFromMatrices(intrinsics, extrinsics []mat.Matrix) (*CameraSet, error) {
	if len(intrinsics) != len(extrinsics) {
		return nil, errors.Errorf("got %d intrinsics but %d extrinsics", len(intrinsics), len(extrinsics))
	}
	if len(intrinsics) == 0 {
		return nil, &EmptyInputError{What: "cameras"}
	}
	cameras := make([]Camera, 0, len(intrinsics))
	for i := range intrinsics {
		cam, err := NewCamera(i, intrinsics[i], extrinsics[i])
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, cam)
	}
	return &CameraSet{cameras: cameras}, nil
}

// Len returns the number of cameras.
func (cs *CameraSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.cameras)
}

// Camera returns the camera at index i.
func (cs *CameraSet) Camera(i int) Camera {
	return cs.cameras[i]
}

// Cameras returns all cameras in index order.
func (cs *CameraSet) Cameras() []Camera {
	if cs == nil {
		return nil
	}
	return append([]Camera(nil), cs.cameras...)
}
