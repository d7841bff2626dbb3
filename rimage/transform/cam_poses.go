package transform

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CamPose stores the 3x4 world-to-camera pose matrix as well as its 3D Rotation and Translation matrices.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// NewCamPoseFromMat creates a pointer to a Camera pose from a 3x4 (or 4x4) [R|t] dense matrix
// mapping world points into camera space.
func NewCamPoseFromMat(pose mat.Matrix) *CamPose {
	t := mat.NewDense(3, 1, []float64{pose.At(0, 3), pose.At(1, 3), pose.At(2, 3)})
	rot := mat.NewDense(3, 3, nil)
	poseMat := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, pose.At(i, j))
			poseMat.Set(i, j, pose.At(i, j))
		}
		poseMat.Set(i, 3, t.At(i, 0))
	}
	return &CamPose{
		PoseMat:     poseMat,
		Rotation:    rot,
		Translation: t,
	}
}

// NewCamPoseFromRotationCenter builds the world-to-camera pose of a camera with rotation rot
// located at center in world space, so that t = -R*C.
func NewCamPoseFromRotationCenter(rot mat.Matrix, center r3.Vector) *CamPose {
	var t mat.Dense
	t.Mul(rot, mat.NewDense(3, 1, []float64{center.X, center.Y, center.Z}))
	t.Scale(-1, &t)
	pose := mat.NewDense(3, 4, nil)
	pose.Slice(0, 3, 0, 3).(*mat.Dense).Copy(rot)
	pose.Slice(0, 3, 3, 4).(*mat.Dense).Copy(&t)
	return NewCamPoseFromMat(pose)
}

// NewCamPoseFromCameraToWorld inverts a 4x4 camera-to-world transform into the camera's pose.
func NewCamPoseFromCameraToWorld(transform mat.Matrix) (*CamPose, error) {
	if r, c := transform.Dims(); r != 4 || c != 4 {
		return nil, errors.Errorf("transform must be 4x4, got %dx%d", r, c)
	}
	var inv mat.Dense
	if err := inv.Inverse(transform); err != nil {
		return nil, errors.Wrap(err, "camera transform is not invertible")
	}
	if w := inv.At(3, 3); w != 1 && w != 0 {
		inv.Scale(1/w, &inv)
	}
	return NewCamPoseFromMat(&inv), nil
}

// Center returns the position of the camera in world space, -R^T * t.
func (cp *CamPose) Center() r3.Vector {
	var c mat.Dense
	c.Mul(cp.Rotation.T(), cp.Translation)
	return r3.Vector{X: -c.At(0, 0), Y: -c.At(1, 0), Z: -c.At(2, 0)}
}

// Apply moves a world point into camera space.
func (cp *CamPose) Apply(pt r3.Vector) r3.Vector {
	r := cp.Rotation
	return r3.Vector{
		X: r.At(0, 0)*pt.X + r.At(0, 1)*pt.Y + r.At(0, 2)*pt.Z + cp.Translation.At(0, 0),
		Y: r.At(1, 0)*pt.X + r.At(1, 1)*pt.Y + r.At(1, 2)*pt.Z + cp.Translation.At(1, 0),
		Z: r.At(2, 0)*pt.X + r.At(2, 1)*pt.Y + r.At(2, 2)*pt.Z + cp.Translation.At(2, 0),
	}
}
