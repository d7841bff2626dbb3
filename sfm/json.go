package sfm

import (
	"bytes"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// The .sfm container stores every number as a JSON string. Readers also accept plain numbers.

type number float64

func unquote(data []byte) string {
	return strings.Trim(string(bytes.TrimSpace(data)), `"`)
}

func (n *number) UnmarshalJSON(data []byte) error {
	s := unquote(data)
	if s == "null" || s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid number %q", s)
	}
	*n = number(f)
	return nil
}

func (n number) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatFloat(float64(n), 'g', -1, 64))), nil
}

type index IndexT

func (i *index) UnmarshalJSON(data []byte) error {
	s := unquote(data)
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid index %q", s)
	}
	*i = index(v)
	return nil
}

func (i index) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(i), 10))), nil
}

type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	switch unquote(data) {
	case "1", "true":
		*f = true
	case "0", "false", "", "null":
		*f = false
	default:
		return errors.Errorf("invalid flag %s", data)
	}
	return nil
}

func (f flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte(`"1"`), nil
	}
	return []byte(`"0"`), nil
}

// focal is written as a single value when both axes share it.
type focal []number

func (f *focal) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var values []number
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return err
		}
		*f = values
		return nil
	}
	var n number
	if err := n.UnmarshalJSON(data); err != nil {
		return err
	}
	*f = focal{n}
	return nil
}

func (f focal) MarshalJSON() ([]byte, error) {
	if len(f) == 1 || (len(f) == 2 && f[0] == f[1]) {
		return f[0].MarshalJSON()
	}
	return json.Marshal([]number(f))
}

type viewJSON struct {
	ViewID      index             `json:"viewId"`
	PoseID      index             `json:"poseId"`
	FrameID     *index            `json:"frameId,omitempty"`
	IntrinsicID index             `json:"intrinsicId"`
	Path        string            `json:"path"`
	Width       number            `json:"width"`
	Height      number            `json:"height"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type intrinsicJSON struct {
	IntrinsicID          index    `json:"intrinsicId"`
	Width                number   `json:"width"`
	Height               number   `json:"height"`
	SensorWidth          *number  `json:"sensorWidth,omitempty"`
	SensorHeight         *number  `json:"sensorHeight,omitempty"`
	SerialNumber         string   `json:"serialNumber,omitempty"`
	Type                 string   `json:"type"`
	InitializationMode   string   `json:"initializationMode,omitempty"`
	PxInitialFocalLength *number  `json:"pxInitialFocalLength,omitempty"`
	PxFocalLength        focal    `json:"pxFocalLength"`
	PrincipalPoint       []number `json:"principalPoint"`
	DistortionParams     []number `json:"distortionParams"`
	Locked               flag     `json:"locked"`
}

type transformJSON struct {
	// Rotation is stored column-major.
	Rotation []number `json:"rotation"`
	Center   []number `json:"center"`
}

type poseJSON struct {
	PoseID index `json:"poseId"`
	Pose   struct {
		Transform transformJSON `json:"transform"`
		Locked    flag          `json:"locked"`
	} `json:"pose"`
}

type observationJSON struct {
	ObservationID index    `json:"observationId"`
	FeatureID     index    `json:"featureId"`
	X             []number `json:"x"`
	Scale         *number  `json:"scale,omitempty"`
}

type landmarkJSON struct {
	LandmarkID   index             `json:"landmarkId"`
	DescType     string            `json:"descType"`
	Color        []number          `json:"color"`
	X            []number          `json:"X"`
	Observations []observationJSON `json:"observations"`
}

type sceneJSON struct {
	Version         []string        `json:"version"`
	FeaturesFolders []string        `json:"featuresFolders"`
	MatchesFolders  []string        `json:"matchesFolders"`
	Views           []viewJSON      `json:"views"`
	Intrinsics      []intrinsicJSON `json:"intrinsics"`
	Poses           []poseJSON      `json:"poses,omitempty"`
	Structure       []landmarkJSON  `json:"structure,omitempty"`
}

func optional(f float64) *number {
	if f == 0 {
		return nil
	}
	n := number(f)
	return &n
}

func numbers(values ...float64) []number {
	out := make([]number, len(values))
	for i, v := range values {
		out[i] = number(v)
	}
	return out
}

func expectLen(what string, values []number, n int) error {
	if len(values) != n {
		return errors.Errorf("%s: expected %d values, got %d", what, n, len(values))
	}
	return nil
}

// Read decodes a scene from .sfm JSON.
func Read(r io.Reader) (*Scene, error) {
	var doc sceneJSON
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "error decoding sfm scene")
	}
	scene := NewScene()
	for i := 0; i < len(doc.Version) && i < 3; i++ {
		v, err := strconv.Atoi(doc.Version[i])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid version %v", doc.Version)
		}
		scene.Version[i] = v
	}
	scene.FeaturesFolders = doc.FeaturesFolders
	scene.MatchesFolders = doc.MatchesFolders

	for _, v := range doc.Views {
		view := &View{
			ViewID:      IndexT(v.ViewID),
			PoseID:      IndexT(v.PoseID),
			FrameID:     UndefinedIndexT,
			IntrinsicID: IndexT(v.IntrinsicID),
			ImagePath:   v.Path,
			Width:       int(v.Width),
			Height:      int(v.Height),
			Metadata:    v.Metadata,
		}
		if v.FrameID != nil {
			view.FrameID = IndexT(*v.FrameID)
		}
		if _, ok := scene.Views[view.ViewID]; ok {
			return nil, errors.Errorf("duplicate view id %d", view.ViewID)
		}
		scene.Views[view.ViewID] = view
	}

	for _, in := range doc.Intrinsics {
		if len(in.PxFocalLength) == 0 || len(in.PxFocalLength) > 2 {
			return nil, errors.Errorf("intrinsic %d: expected 1 or 2 focal lengths, got %d", in.IntrinsicID, len(in.PxFocalLength))
		}
		if err := expectLen("principalPoint", in.PrincipalPoint, 2); err != nil {
			return nil, errors.Wrapf(err, "intrinsic %d", in.IntrinsicID)
		}
		intrinsic := &Intrinsic{
			ID:                 IndexT(in.IntrinsicID),
			Type:               IntrinsicType(in.Type),
			Width:              int(in.Width),
			Height:             int(in.Height),
			SerialNumber:       in.SerialNumber,
			InitializationMode: in.InitializationMode,
			Fx:                 float64(in.PxFocalLength[0]),
			Fy:                 float64(in.PxFocalLength[len(in.PxFocalLength)-1]),
			PrincipalPoint:     r2.Point{X: float64(in.PrincipalPoint[0]), Y: float64(in.PrincipalPoint[1])},
			Locked:             bool(in.Locked),
		}
		if in.SensorWidth != nil {
			intrinsic.SensorWidth = float64(*in.SensorWidth)
		}
		if in.SensorHeight != nil {
			intrinsic.SensorHeight = float64(*in.SensorHeight)
		}
		if in.PxInitialFocalLength != nil {
			intrinsic.InitialFocalLengthPx = float64(*in.PxInitialFocalLength)
		}
		for _, d := range in.DistortionParams {
			intrinsic.DistortionParams = append(intrinsic.DistortionParams, float64(d))
		}
		scene.Intrinsics[intrinsic.ID] = intrinsic
	}

	for _, p := range doc.Poses {
		if err := expectLen("rotation", p.Pose.Transform.Rotation, 9); err != nil {
			return nil, errors.Wrapf(err, "pose %d", p.PoseID)
		}
		if err := expectLen("center", p.Pose.Transform.Center, 3); err != nil {
			return nil, errors.Wrapf(err, "pose %d", p.PoseID)
		}
		rot := mat.NewDense(3, 3, nil)
		for c := 0; c < 3; c++ {
			for r := 0; r < 3; r++ {
				rot.Set(r, c, float64(p.Pose.Transform.Rotation[c*3+r]))
			}
		}
		center := p.Pose.Transform.Center
		scene.Poses[IndexT(p.PoseID)] = &Pose{
			Rotation: rot,
			Center:   r3.Vector{X: float64(center[0]), Y: float64(center[1]), Z: float64(center[2])},
			Locked:   bool(p.Pose.Locked),
		}
	}

	for _, l := range doc.Structure {
		if err := expectLen("X", l.X, 3); err != nil {
			return nil, errors.Wrapf(err, "landmark %d", l.LandmarkID)
		}
		landmark := &Landmark{
			ID:           IndexT(l.LandmarkID),
			X:            r3.Vector{X: float64(l.X[0]), Y: float64(l.X[1]), Z: float64(l.X[2])},
			DescType:     l.DescType,
			Color:        color.NRGBA{255, 255, 255, 255},
			Observations: make(map[IndexT]Observation, len(l.Observations)),
		}
		if len(l.Color) == 3 {
			landmark.Color = color.NRGBA{uint8(l.Color[0]), uint8(l.Color[1]), uint8(l.Color[2]), 255}
		}
		for _, o := range l.Observations {
			if err := expectLen("x", o.X, 2); err != nil {
				return nil, errors.Wrapf(err, "landmark %d observation %d", l.LandmarkID, o.ObservationID)
			}
			obs := Observation{X: r2.Point{X: float64(o.X[0]), Y: float64(o.X[1])}, FeatureID: IndexT(o.FeatureID)}
			if o.Scale != nil {
				obs.Scale = float64(*o.Scale)
			}
			landmark.Observations[IndexT(o.ObservationID)] = obs
		}
		scene.Landmarks[landmark.ID] = landmark
	}
	return scene, nil
}

// ReadFile reads a .sfm file.
func ReadFile(path string) (*Scene, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scene, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return scene, nil
}

func encodeScene(scene *Scene) sceneJSON {
	doc := sceneJSON{
		Version: []string{
			strconv.Itoa(scene.Version[0]),
			strconv.Itoa(scene.Version[1]),
			strconv.Itoa(scene.Version[2]),
		},
		FeaturesFolders: append([]string{}, scene.FeaturesFolders...),
		MatchesFolders:  append([]string{}, scene.MatchesFolders...),
		Views:           []viewJSON{},
		Intrinsics:      []intrinsicJSON{},
	}

	for _, id := range scene.ViewIDs() {
		v := scene.Views[id]
		vj := viewJSON{
			ViewID:      index(v.ViewID),
			PoseID:      index(v.PoseID),
			IntrinsicID: index(v.IntrinsicID),
			Path:        v.ImagePath,
			Width:       number(v.Width),
			Height:      number(v.Height),
			Metadata:    v.Metadata,
		}
		if v.FrameID != UndefinedIndexT {
			frameID := index(v.FrameID)
			vj.FrameID = &frameID
		}
		doc.Views = append(doc.Views, vj)
	}

	for _, id := range sortedKeys(scene.Intrinsics) {
		in := scene.Intrinsics[id]
		doc.Intrinsics = append(doc.Intrinsics, intrinsicJSON{
			IntrinsicID:          index(in.ID),
			Width:                number(in.Width),
			Height:               number(in.Height),
			SensorWidth:          optional(in.SensorWidth),
			SensorHeight:         optional(in.SensorHeight),
			SerialNumber:         in.SerialNumber,
			Type:                 string(in.Type),
			InitializationMode:   in.InitializationMode,
			PxInitialFocalLength: optional(in.InitialFocalLengthPx),
			PxFocalLength:        focal{number(in.Fx), number(in.Fy)},
			PrincipalPoint:       numbers(in.PrincipalPoint.X, in.PrincipalPoint.Y),
			DistortionParams:     numbers(in.DistortionParams...),
			Locked:               flag(in.Locked),
		})
	}

	for _, id := range sortedKeys(scene.Poses) {
		p := scene.Poses[id]
		pj := poseJSON{PoseID: index(id)}
		rotation := make([]number, 0, 9)
		for c := 0; c < 3; c++ {
			for r := 0; r < 3; r++ {
				rotation = append(rotation, number(p.Rotation.At(r, c)))
			}
		}
		pj.Pose.Transform = transformJSON{Rotation: rotation, Center: numbers(p.Center.X, p.Center.Y, p.Center.Z)}
		pj.Pose.Locked = flag(p.Locked)
		doc.Poses = append(doc.Poses, pj)
	}

	for _, id := range scene.LandmarkIDs() {
		l := scene.Landmarks[id]
		lj := landmarkJSON{
			LandmarkID:   index(l.ID),
			DescType:     l.DescType,
			Color:        numbers(float64(l.Color.R), float64(l.Color.G), float64(l.Color.B)),
			X:            numbers(l.X.X, l.X.Y, l.X.Z),
			Observations: make([]observationJSON, 0, len(l.Observations)),
		}
		for _, viewID := range sortedKeys(l.Observations) {
			o := l.Observations[viewID]
			scale := number(o.Scale)
			lj.Observations = append(lj.Observations, observationJSON{
				ObservationID: index(viewID),
				FeatureID:     index(o.FeatureID),
				X:             numbers(o.X.X, o.X.Y),
				Scale:         &scale,
			})
		}
		doc.Structure = append(doc.Structure, lj)
	}
	return doc
}

// Write encodes a scene as indented .sfm JSON. Views, intrinsics, poses, landmarks and
// observations are written in ascending id order.
func Write(w io.Writer, scene *Scene) error {
	out, err := json.MarshalIndent(encodeScene(scene), "", "    ")
	if err != nil {
		return errors.Wrap(err, "error encoding sfm scene")
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

// WriteFile writes a scene to path.
func WriteFile(path string, scene *Scene) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return Write(f, scene)
}

