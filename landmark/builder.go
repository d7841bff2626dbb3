// Package landmark turns selected (vertex, camera) associations into scene landmarks.
package landmark

import (
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfmlink/logging"
	"go.viam.com/sfmlink/rimage/transform"
	"go.viam.com/sfmlink/sfm"
	"go.viam.com/sfmlink/visibility"
)

// Stats summarizes one Build.
type Stats struct {
	// Landmarks is the number of landmarks left in the scene.
	Landmarks int
	// Purged counts landmarks dropped because none of their observations could be placed.
	Purged int
	// Observations is the number of observations over all kept landmarks.
	Observations int
	// SkippedObservations counts selected cameras with no view in the view index.
	SkippedObservations int
}

// Builder writes landmarks into a scene.
type Builder struct {
	logger logging.Logger
}

// NewBuilder returns a Builder.
func NewBuilder(logger logging.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build replaces the scene's landmarks with one landmark per vertex that has at least one
// selected camera. Each camera becomes an observation keyed by its view id, placed at the
// distorted pixel the scene's camera model projects the vertex to. Landmark ids are vertex
// indices. Landmarks left without observations are removed before returning.
func (b *Builder) Build(
	scene *sfm.Scene,
	index *sfm.ViewIndex,
	positions []r3.Vector,
	candidates visibility.Candidates,
) (Stats, error) {
	if len(positions) != len(candidates) {
		return Stats{}, errors.Errorf("got %d vertex positions but %d candidate lists", len(positions), len(candidates))
	}
	var stats Stats
	scene.Landmarks = make(map[sfm.IndexT]*sfm.Landmark)
	missing := map[int]struct{}{}

	for v, selected := range candidates {
		if len(selected) == 0 {
			continue
		}
		lm := &sfm.Landmark{
			ID:           sfm.IndexT(v),
			X:            positions[v],
			DescType:     sfm.UnknownDescType,
			Color:        color.NRGBA{255, 255, 255, 255},
			Observations: make(map[sfm.IndexT]sfm.Observation, len(selected)),
		}
		for _, c := range selected {
			viewID, ok := index.ViewID(c.Camera)
			if !ok {
				stats.SkippedObservations++
				missing[c.Camera] = struct{}{}
				continue
			}
			px, err := scene.Project(viewID, lm.X, true)
			if err != nil {
				return Stats{}, errors.Wrapf(err, "projecting vertex %d into camera %d", v, c.Camera)
			}
			lm.Observations[viewID] = sfm.Observation{X: px, FeatureID: sfm.UndefinedIndexT, Scale: 0}
		}
		scene.Landmarks[lm.ID] = lm
	}

	stats.Purged = scene.RemoveLandmarksWithoutObservations()
	stats.Landmarks = len(scene.Landmarks)
	for _, lm := range scene.Landmarks {
		stats.Observations += len(lm.Observations)
	}
	if len(missing) > 0 {
		b.logger.Warnw("selected cameras have no view", "cameras", len(missing), "observations", stats.SkippedObservations)
	}
	b.logger.Infow("built landmarks",
		"landmarks", stats.Landmarks,
		"purged", stats.Purged,
		"observations", stats.Observations)
	return stats, nil
}

// LinkPoses sets the pose of every view in the index from its camera's extrinsic, the
// camera-to-world transform, inverted into a world-to-camera pose. Views missing from the scene
// and cameras outside the set are skipped. It returns the number of poses set.
func LinkPoses(scene *sfm.Scene, index *sfm.ViewIndex, cameras *visibility.CameraSet, locked bool) (int, error) {
	linked := 0
	for _, c := range index.Cameras() {
		viewID, _ := index.ViewID(c)
		view, ok := scene.Views[viewID]
		if !ok || c >= cameras.Len() {
			continue
		}
		camPose, err := transform.NewCamPoseFromCameraToWorld(cameras.Camera(c).Extrinsics)
		if err != nil {
			return linked, errors.Wrapf(err, "camera %d", c)
		}
		scene.SetPose(view, sfm.NewPoseFromCamPose(camPose, locked))
		linked++
	}
	return linked, nil
}

// LinkKnownPoses locks every indexed view to its camera's pose and clears the scene's feature
// and match folders, so that a later reconstruction treats the poses as known.
func LinkKnownPoses(scene *sfm.Scene, index *sfm.ViewIndex, cameras *visibility.CameraSet) (int, error) {
	scene.FeaturesFolders = []string{}
	scene.MatchesFolders = []string{}
	return LinkPoses(scene, index, cameras, true)
}

// TransferIntrinsics overwrites the focal length and principal point of every intrinsic in the
// scene with those of the 3x3 camera matrix k, normalized by its [2,2] entry.
func TransferIntrinsics(scene *sfm.Scene, k mat.Matrix) error {
	for _, in := range scene.Intrinsics {
		params, err := transform.NewPinholeCameraIntrinsicsFromMatrix(k, in.Width, in.Height)
		if err != nil {
			return err
		}
		in.Fx = params.Fx
		in.Fy = params.Fy
		in.PrincipalPoint.X = params.Ppx
		in.PrincipalPoint.Y = params.Ppy
	}
	return nil
}
