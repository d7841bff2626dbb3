package visibility

import "fmt"

// DegenerateCameraError is returned when a camera's parameters cannot produce a projection,
// most often because its extrinsic matrix is singular.
type DegenerateCameraError struct {
	Index  int
	Det    float64
	Reason string
}

func (e *DegenerateCameraError) Error() string {
	return fmt.Sprintf("degenerate camera %d: %s (det=%g)", e.Index, e.Reason, e.Det)
}

// EmptyInputError is returned when camera or vertex data is missing.
type EmptyInputError struct {
	What string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("empty input: no %s", e.What)
}
