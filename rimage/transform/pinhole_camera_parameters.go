// Package transform holds the pinhole camera model used to project scene points into
// views, together with its lens distortion models and camera poses.
package transform

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}

// DistortionMap is a function that transforms the undistorted input points (u,v) to the distorted points (x,y)
// according to the model in PinholeCameraModel.Distortion.
func (params *PinholeCameraModel) DistortionMap() func(u, v float64) (float64, float64) {
	return func(u, v float64) (float64, float64) {
		x := (u - params.Ppx) / params.Fx
		y := (v - params.Ppy) / params.Fy
		if params.Distortion != nil {
			x, y = params.Distortion.Transform(x, y)
		}
		x = x*params.Fx + params.Ppx
		y = y*params.Fy + params.Ppy
		return x, y
	}
}

// Project maps a world point into the image of a camera at the given pose. The point is moved
// into camera space, divided by its depth, optionally run through the lens distortion in
// normalized coordinates and finally scaled by the focal lengths and offset by the principal point.
func (params *PinholeCameraModel) Project(pose *CamPose, pt r3.Vector, applyDistortion bool) r2.Point {
	camPt := pose.Apply(pt)
	x := camPt.X / camPt.Z
	y := camPt.Y / camPt.Z
	if applyDistortion && params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return r2.Point{X: x*params.Fx + params.Ppx, Y: y*params.Fy + params.Ppy}
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width == 0 || params.Height == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromMatrix reads focal lengths and principal point from a 3x3
// camera matrix. The matrix is normalized by its bottom-right entry first.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix, width, height int) (*PinholeCameraIntrinsics, error) {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	scale := k.At(2, 2)
	if scale == 0 {
		return nil, NewNoIntrinsicsError("camera matrix has a zero homogeneous entry")
	}
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0) / scale,
		Fy:     k.At(1, 1) / scale,
		Ppx:    k.At(0, 2) / scale,
		Ppy:    k.At(1, 2) / scale,
	}, nil
}

// PointToPixel projects a 3D point given in camera space to a pixel in the image plane. A point
// with zero depth has no image and maps to (-1, -1), which falls outside any image bounds.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		return (x/z)*params.Fx + params.Ppx, (y/z)*params.Fy + params.Ppy
	}
	return -1.0, -1.0
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}
