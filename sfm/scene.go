// Package sfm is the structure-from-motion scene model: views, camera intrinsics, poses and
// landmarks with their per-view observations. Scenes are read from and written to the
// AliceVision .sfm JSON container.
package sfm

import (
	"image/color"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfmlink/rimage/transform"
)

// IndexT identifies views, poses, intrinsics, landmarks and features.
type IndexT uint32

// UndefinedIndexT marks an identifier that is not set.
const UndefinedIndexT = IndexT(math.MaxUint32)

// UnknownDescType is the descriptor type of landmarks that do not come from feature detection.
const UnknownDescType = "unknown"

// IntrinsicType names a camera model.
type IntrinsicType string

// Known camera models.
const (
	IntrinsicPinhole = IntrinsicType("pinhole")
	IntrinsicRadial1 = IntrinsicType("radial1")
	IntrinsicRadial3 = IntrinsicType("radial3")
	IntrinsicBrown   = IntrinsicType("brown")
)

// View is one image of the scene.
type View struct {
	ViewID      IndexT
	PoseID      IndexT
	FrameID     IndexT
	IntrinsicID IndexT
	ImagePath   string
	Width       int
	Height      int
	Metadata    map[string]string
}

// Intrinsic is a camera model shared by one or more views.
type Intrinsic struct {
	ID                   IndexT
	Type                 IntrinsicType
	Width                int
	Height               int
	SensorWidth          float64
	SensorHeight         float64
	SerialNumber         string
	InitializationMode   string
	InitialFocalLengthPx float64
	Fx                   float64
	Fy                   float64
	PrincipalPoint       r2.Point
	DistortionParams     []float64
	Locked               bool
}

// Distorter returns the lens distortion of the intrinsic, nil for a plain pinhole.
func (in *Intrinsic) Distorter() (transform.Distorter, error) {
	switch in.Type {
	case IntrinsicPinhole, "":
		return nil, nil
	case IntrinsicRadial1:
		return transform.NewDistorter(transform.RadialK1DistortionType, in.DistortionParams)
	case IntrinsicRadial3:
		return transform.NewDistorter(transform.RadialK3DistortionType, in.DistortionParams)
	case IntrinsicBrown:
		return transform.NewDistorter(transform.BrownConradyDistortionType, in.DistortionParams)
	default:
		return nil, errors.Errorf("intrinsic %d: unsupported camera model %q", in.ID, in.Type)
	}
}

// CameraModel returns the pinhole model of the intrinsic.
func (in *Intrinsic) CameraModel() (*transform.PinholeCameraModel, error) {
	distortion, err := in.Distorter()
	if err != nil {
		return nil, err
	}
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width:  in.Width,
			Height: in.Height,
			Fx:     in.Fx,
			Fy:     in.Fy,
			Ppx:    in.PrincipalPoint.X,
			Ppy:    in.PrincipalPoint.Y,
		},
		Distortion: distortion,
	}, nil
}

// Pose is a camera pose: the world-to-camera rotation and the camera centre in world space.
type Pose struct {
	Rotation *mat.Dense
	Center   r3.Vector
	Locked   bool
}

// NewPoseFromCamPose copies a transform.CamPose into a Pose.
func NewPoseFromCamPose(cp *transform.CamPose, locked bool) *Pose {
	return &Pose{Rotation: mat.DenseCopyOf(cp.Rotation), Center: cp.Center(), Locked: locked}
}

// CamPose returns the pose as a transform.CamPose.
func (p *Pose) CamPose() *transform.CamPose {
	return transform.NewCamPoseFromRotationCenter(p.Rotation, p.Center)
}

// Observation is a landmark seen in one view.
type Observation struct {
	X         r2.Point
	FeatureID IndexT
	Scale     float64
}

// Landmark is a 3D scene point with its observations keyed by view id.
type Landmark struct {
	ID           IndexT
	X            r3.Vector
	DescType     string
	Color        color.NRGBA
	Observations map[IndexT]Observation
}

// Scene is a full SfM scene.
type Scene struct {
	Version         [3]int
	FeaturesFolders []string
	MatchesFolders  []string
	Views           map[IndexT]*View
	Intrinsics      map[IndexT]*Intrinsic
	Poses           map[IndexT]*Pose
	Landmarks       map[IndexT]*Landmark
}

// NewScene returns an empty scene.
func NewScene() *Scene {
	return &Scene{
		Version:    [3]int{1, 2, 0},
		Views:      map[IndexT]*View{},
		Intrinsics: map[IndexT]*Intrinsic{},
		Poses:      map[IndexT]*Pose{},
		Landmarks:  map[IndexT]*Landmark{},
	}
}

func sortedKeys[V any](m map[IndexT]V) []IndexT {
	keys := lo.Keys(m)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ViewIDs returns the view ids in ascending order.
func (s *Scene) ViewIDs() []IndexT {
	return sortedKeys(s.Views)
}

// LandmarkIDs returns the landmark ids in ascending order.
func (s *Scene) LandmarkIDs() []IndexT {
	return sortedKeys(s.Landmarks)
}

// View returns the view with the given id.
func (s *Scene) View(id IndexT) (*View, error) {
	v, ok := s.Views[id]
	if !ok {
		return nil, errors.Errorf("no view with id %d", id)
	}
	return v, nil
}

// Intrinsic returns the intrinsic of a view.
func (s *Scene) Intrinsic(view *View) (*Intrinsic, error) {
	in, ok := s.Intrinsics[view.IntrinsicID]
	if !ok {
		return nil, errors.Errorf("view %d: no intrinsic with id %d", view.ViewID, view.IntrinsicID)
	}
	return in, nil
}

// Pose returns the pose of a view.
func (s *Scene) Pose(view *View) (*Pose, error) {
	p, ok := s.Poses[view.PoseID]
	if !ok {
		return nil, errors.Errorf("view %d: no pose with id %d", view.ViewID, view.PoseID)
	}
	return p, nil
}

// SetPose sets the pose of a view, keyed by the view's pose id.
func (s *Scene) SetPose(view *View, pose *Pose) {
	s.Poses[view.PoseID] = pose
}

// Project returns the pixel at which a world point appears in a view, with or without the
// lens distortion of the view's intrinsic.
func (s *Scene) Project(viewID IndexT, pt r3.Vector, applyDistortion bool) (r2.Point, error) {
	view, err := s.View(viewID)
	if err != nil {
		return r2.Point{}, err
	}
	intrinsic, err := s.Intrinsic(view)
	if err != nil {
		return r2.Point{}, err
	}
	pose, err := s.Pose(view)
	if err != nil {
		return r2.Point{}, err
	}
	model, err := intrinsic.CameraModel()
	if err != nil {
		return r2.Point{}, err
	}
	return model.Project(pose.CamPose(), pt, applyDistortion), nil
}

// RemoveLandmarksWithoutObservations drops every landmark with no observation and returns how
// many were dropped.
func (s *Scene) RemoveLandmarksWithoutObservations() int {
	removed := 0
	for id, l := range s.Landmarks {
		if len(l.Observations) == 0 {
			delete(s.Landmarks, id)
			removed++
		}
	}
	return removed
}
