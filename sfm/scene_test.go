package sfm

import (
	"bytes"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

const sampleScene = `{
    "version": ["1", "2", "0"],
    "featuresFolders": ["/tmp/features"],
    "matchesFolders": [],
    "views": [
        {
            "viewId": "1001",
            "poseId": "1001",
            "frameId": "0",
            "intrinsicId": "77",
            "path": "/capture/frames/0.jpg",
            "width": "1920",
            "height": "1440",
            "metadata": {"Exif:ExposureTime": "0.01"}
        },
        {
            "viewId": "1002",
            "poseId": "1002",
            "intrinsicId": "77",
            "path": "/capture/frames/1.jpg",
            "width": 1920,
            "height": 1440
        }
    ],
    "intrinsics": [
        {
            "intrinsicId": "77",
            "width": "1920",
            "height": "1440",
            "sensorWidth": "6.4",
            "type": "radial3",
            "pxFocalLength": "1000",
            "principalPoint": ["960", "720"],
            "distortionParams": ["0.1", "0", "0"],
            "locked": "0"
        }
    ],
    "poses": [
        {
            "poseId": "1001",
            "pose": {
                "transform": {
                    "rotation": ["1", "0", "0", "0", "1", "0", "0", "0", "1"],
                    "center": ["0", "0", "0"]
                },
                "locked": "1"
            }
        }
    ]
}`

func TestReadScene(t *testing.T) {
	scene, err := Read(strings.NewReader(sampleScene))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scene.Version, test.ShouldResemble, [3]int{1, 2, 0})
	test.That(t, scene.ViewIDs(), test.ShouldResemble, []IndexT{1001, 1002})

	view, err := scene.View(1001)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, view.Width, test.ShouldEqual, 1920)
	test.That(t, view.FrameID, test.ShouldEqual, IndexT(0))
	test.That(t, view.Metadata["Exif:ExposureTime"], test.ShouldEqual, "0.01")

	other, err := scene.View(1002)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, other.Height, test.ShouldEqual, 1440)
	test.That(t, other.FrameID, test.ShouldEqual, UndefinedIndexT)

	intrinsic, err := scene.Intrinsic(view)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsic.Type, test.ShouldEqual, IntrinsicRadial3)
	test.That(t, intrinsic.Fx, test.ShouldEqual, 1000.)
	test.That(t, intrinsic.Fy, test.ShouldEqual, 1000.)
	test.That(t, intrinsic.PrincipalPoint, test.ShouldResemble, r2.Point{X: 960, Y: 720})
	test.That(t, intrinsic.SensorWidth, test.ShouldEqual, 6.4)
	test.That(t, intrinsic.DistortionParams, test.ShouldResemble, []float64{0.1, 0, 0})

	pose, err := scene.Pose(view)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Locked, test.ShouldBeTrue)

	_, err = scene.Pose(other)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = scene.View(5)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadRejectsMalformed(t *testing.T) {
	_, err := Read(strings.NewReader(`{"views": [{"viewId": "abc"}]}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(strings.NewReader(`{"poses": [{"poseId": "1", "pose": {"transform": {"rotation": ["1"], "center": ["0","0","0"]}}}]}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rotation")

	_, err = Read(strings.NewReader(`{"views": [{"viewId": "1", "path": "a"}, {"viewId": "1", "path": "b"}]}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "duplicate view id")
}

func TestProjectThroughScene(t *testing.T) {
	scene, err := Read(strings.NewReader(sampleScene))
	test.That(t, err, test.ShouldBeNil)

	px, err := scene.Project(1001, r3.Vector{X: 0, Y: 0, Z: 4}, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldAlmostEqual, 960)
	test.That(t, px.Y, test.ShouldAlmostEqual, 720)

	// r² = 0.25 with k1 = 0.1 scales x by 1.025
	px, err = scene.Project(1001, r3.Vector{X: 2, Y: 0, Z: 4}, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldAlmostEqual, 960+1000*0.5*1.025)
	px, err = scene.Project(1001, r3.Vector{X: 2, Y: 0, Z: 4}, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldAlmostEqual, 1460)

	_, err = scene.Project(1002, r3.Vector{X: 0, Y: 0, Z: 4}, true)
	test.That(t, err, test.ShouldNotBeNil)

	scene.Intrinsics[77].Type = "fisheye4"
	_, err = scene.Project(1001, r3.Vector{X: 0, Y: 0, Z: 4}, true)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWriteReadScene(t *testing.T) {
	scene, err := Read(strings.NewReader(sampleScene))
	test.That(t, err, test.ShouldBeNil)

	rot := mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	scene.SetPose(scene.Views[1002], &Pose{Rotation: rot, Center: r3.Vector{X: 1, Y: 2, Z: 3}})
	scene.Landmarks[4] = &Landmark{
		ID:       4,
		X:        r3.Vector{X: 0.5, Y: -0.25, Z: 3},
		DescType: UnknownDescType,
		Color:    color.NRGBA{255, 255, 255, 255},
		Observations: map[IndexT]Observation{
			1002: {X: r2.Point{X: 100.5, Y: 200.25}, FeatureID: UndefinedIndexT},
			1001: {X: r2.Point{X: 300, Y: 400}, FeatureID: UndefinedIndexT},
		},
	}

	path := filepath.Join(t.TempDir(), "scene.sfm")
	test.That(t, WriteFile(path, scene), test.ShouldBeNil)
	reread, err := ReadFile(path)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, reread.Views, test.ShouldResemble, scene.Views)
	test.That(t, reread.Intrinsics, test.ShouldResemble, scene.Intrinsics)
	test.That(t, reread.Landmarks, test.ShouldResemble, scene.Landmarks)
	test.That(t, mat.Equal(reread.Poses[1002].Rotation, rot), test.ShouldBeTrue)
	test.That(t, reread.Poses[1002].Center, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})

	var buf bytes.Buffer
	test.That(t, Write(&buf, scene), test.ShouldBeNil)
	out := buf.String()
	test.That(t, out, test.ShouldContainSubstring, `"featureId": "4294967295"`)
	test.That(t, strings.Index(out, `"observationId": "1001"`), test.ShouldBeLessThan,
		strings.Index(out, `"observationId": "1002"`))
}

func TestRotationIsColumnMajor(t *testing.T) {
	scene, err := Read(strings.NewReader(`{"poses": [{"poseId": "3", "pose": {"transform": {
		"rotation": ["0", "1", "0", "-1", "0", "0", "0", "0", "1"],
		"center": ["1", "2", "3"]}}}]}`))
	test.That(t, err, test.ShouldBeNil)
	rot := scene.Poses[3].Rotation
	test.That(t, rot.At(1, 0), test.ShouldEqual, 1.)
	test.That(t, rot.At(0, 1), test.ShouldEqual, -1.)
	test.That(t, scene.Poses[3].Locked, test.ShouldBeFalse)

	camPose := scene.Poses[3].CamPose()
	origin := camPose.Apply(r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, origin.Norm(), test.ShouldAlmostEqual, 0)
}

func TestRemoveLandmarksWithoutObservations(t *testing.T) {
	scene := NewScene()
	scene.Landmarks[0] = &Landmark{ID: 0, Observations: map[IndexT]Observation{}}
	scene.Landmarks[1] = &Landmark{ID: 1, Observations: map[IndexT]Observation{3: {}}}
	scene.Landmarks[2] = &Landmark{ID: 2}
	test.That(t, scene.RemoveLandmarksWithoutObservations(), test.ShouldEqual, 2)
	test.That(t, scene.LandmarkIDs(), test.ShouldResemble, []IndexT{1})
}
