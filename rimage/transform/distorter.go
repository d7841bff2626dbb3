package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// BrownConradyDistortionType is for simple lenses of narrow field easily modeled as a pinhole camera.
	BrownConradyDistortionType = DistortionType("brown_conrady")
	// InverseBrownConradyDistortionType undoes a Brown-Conrady distortion.
	InverseBrownConradyDistortionType = DistortionType("inverse_brown_conrady")
	// RadialK1DistortionType is a Brown-Conrady model with a single radial term.
	RadialK1DistortionType = DistortionType("radial_k1")
	// RadialK3DistortionType is a Brown-Conrady model with three radial terms and no tangential ones.
	RadialK3DistortionType = DistortionType("radial_k3")
)

// Distorter defines a Transform that takes an undistorted image and distorts it according to the model.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// ErrInvalidDistortion is wrapped by every InvalidDistortionError.
var ErrInvalidDistortion = errors.New("invalid distortion_parameters")

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(ErrInvalidDistortion, msg)
}

// NewDistorter returns a Distorter given a valid DistortionType and its parameters.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	switch distortionType {
	case BrownConradyDistortionType:
		return NewBrownConrady(parameters)
	case InverseBrownConradyDistortionType:
		bc, err := NewBrownConrady(parameters)
		if err != nil {
			return nil, err
		}
		return bc.Inverse(), nil
	case RadialK1DistortionType:
		if len(parameters) > 1 {
			return nil, errors.Errorf("%q takes 1 parameter, got %d", distortionType, len(parameters))
		}
		return NewBrownConrady(parameters)
	case RadialK3DistortionType:
		if len(parameters) > 3 {
			return nil, errors.Errorf("%q takes 3 parameters, got %d", distortionType, len(parameters))
		}
		return NewBrownConrady(parameters)
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}
