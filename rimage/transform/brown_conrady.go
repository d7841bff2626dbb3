package transform

import "github.com/pkg/errors"

// BrownConrady is the radial and tangential lens distortion model. It maps undistorted normalized
// image coordinates to distorted ones:
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes in a slice of floats that will be passed into the struct in order.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	padded := make([]float64, 5)
	copy(padded, inp)
	return &BrownConrady{padded[0], padded[1], padded[2], padded[3], padded[4]}, nil
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// Transform distorts a point given in normalized image coordinates.
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r6
	xd := x*radDist + 2.0*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2.0*x*x)
	yd := y*radDist + 2.0*bc.TangentialP2*x*y + bc.TangentialP1*(r2+2.0*y*y)
	return xd, yd
}

// Inverse returns the model that undoes this distortion.
func (bc *BrownConrady) Inverse() *InverseBrownConrady {
	if bc == nil {
		return nil
	}
	return &InverseBrownConrady{forward: *bc}
}

// InverseBrownConrady applies the inverse of the Brown-Conrady distortion model.
// Given distorted points, it computes the corresponding undistorted points using
// an iterative Newton-Raphson method.
type InverseBrownConrady struct {
	forward BrownConrady
}

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the parameters of the forward model this one inverts.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return []float64{}
	}
	return ibc.forward.Parameters()
}

// Transform solves the forward model for (x_u, y_u) given (x_d, y_d).
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}
	k1, k2, k3 := ibc.forward.RadialK1, ibc.forward.RadialK2, ibc.forward.RadialK3
	p1, p2 := ibc.forward.TangentialP1, ibc.forward.TangentialP2

	// the distorted point is the initial guess
	xu, yu := xd, yd

	const maxIterations = 20
	const tolerance = 1e-10

	for i := 0; i < maxIterations; i++ {
		xdEst, ydEst := ibc.forward.Transform(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		r2 := xu*xu + yu*yu
		r4 := r2 * r2
		radDist := 1.0 + k1*r2 + k2*r4 + k3*r4*r2

		// J = [[dxd/dxu, dxd/dyu], [dyd/dxu, dyd/dyu]]
		dRadDistDxu := 2.0 * xu * (k1 + 2.0*k2*r2 + 3.0*k3*r4)
		dRadDistDyu := 2.0 * yu * (k1 + 2.0*k2*r2 + 3.0*k3*r4)

		dxdDxu := radDist + xu*dRadDistDxu + 2.0*p1*yu + 6.0*p2*xu
		dxdDyu := xu*dRadDistDyu + 2.0*p1*xu + 2.0*p2*yu
		dydDxu := yu*dRadDistDxu + 2.0*p2*yu + 2.0*p1*xu
		dydDyu := radDist + yu*dRadDistDyu + 2.0*p2*xu + 6.0*p1*yu

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}

		// [xu, yu] -= J^-1 * [errX, errY]
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}

	return xu, yu
}
