package visibility

import (
	"context"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/sfmlink/logging"
)

var testIntrinsics = []float64{
	1000, 0, 960,
	0, 1000, 720,
	0, 0, 1,
}

// translated returns a camera-to-world transform with identity rotation located at c.
func translated(c r3.Vector) []float64 {
	return []float64{
		1, 0, 0, c.X,
		0, 1, 0, c.Y,
		0, 0, 1, c.Z,
		0, 0, 0, 1,
	}
}

func newTestCameras(t *testing.T, centers ...r3.Vector) *CameraSet {
	t.Helper()
	intrinsics := make([][]float64, len(centers))
	extrinsics := make([][]float64, len(centers))
	for i, c := range centers {
		intrinsics[i] = testIntrinsics
		extrinsics[i] = translated(c)
	}
	cams, err := NewCameraSet(intrinsics, extrinsics)
	test.That(t, err, test.ShouldBeNil)
	return cams
}

var towardCamera = r3.Vector{X: 0, Y: 0, Z: -1}

func TestCameraDerivation(t *testing.T) {
	cams := newTestCameras(t, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, cams.Len(), test.ShouldEqual, 1)
	cam := cams.Camera(0)
	test.That(t, cam.ViewAxis, test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 1})

	// the world origin sits at (-1, -2, -3) in camera space
	rows, cols := cam.Projection.Dims()
	test.That(t, rows, test.ShouldEqual, 3)
	test.That(t, cols, test.ShouldEqual, 4)
	test.That(t, cam.Projection.At(0, 3), test.ShouldAlmostEqual, 1000*-1+960*-3)
	test.That(t, cam.Projection.At(2, 3), test.ShouldAlmostEqual, -3)
}

func TestCameraNormalization(t *testing.T) {
	k := make([]float64, 9)
	for i, v := range testIntrinsics {
		k[i] = 2 * v
	}
	e := translated(r3.Vector{X: 0, Y: 0, Z: 0})
	for i := range e {
		e[i] *= 4
	}
	cams, err := NewCameraSet([][]float64{k}, [][]float64{e})
	test.That(t, err, test.ShouldBeNil)
	reference := newTestCameras(t, r3.Vector{})

	engine := NewEngine(DefaultConfig(), logging.NewTestLogger(t))
	pt := []r3.Vector{{X: 0.3, Y: -0.2, Z: 4}}
	got := engine.Project(cams.Camera(0), pt)[0]
	want := engine.Project(reference.Camera(0), pt)[0]
	test.That(t, got.Pixel.X, test.ShouldAlmostEqual, want.Pixel.X)
	test.That(t, got.Pixel.Y, test.ShouldAlmostEqual, want.Pixel.Y)
}

func TestDegenerateCamera(t *testing.T) {
	singular := []float64{
		1, 0, 0, 0,
		0, 0, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	_, err := NewCameraSet(
		[][]float64{testIntrinsics, testIntrinsics},
		[][]float64{translated(r3.Vector{}), singular},
	)
	var degenerate *DegenerateCameraError
	test.That(t, errors.As(err, &degenerate), test.ShouldBeTrue)
	test.That(t, degenerate.Index, test.ShouldEqual, 1)

	zeroW := translated(r3.Vector{})
	zeroW[15] = 0
	_, err = NewCameraSet([][]float64{testIntrinsics}, [][]float64{zeroW})
	test.That(t, errors.As(err, &degenerate), test.ShouldBeTrue)
	test.That(t, degenerate.Index, test.ShouldEqual, 0)

	_, err = NewCameraSet([][]float64{testIntrinsics[:8]}, [][]float64{translated(r3.Vector{})})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewCameraSet([][]float64{testIntrinsics}, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEmptyInput(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logging.NewTestLogger(t))
	var empty *EmptyInputError

	_, err := engine.Compute(context.Background(), nil, Vertices{
		Positions: []r3.Vector{{X: 0, Y: 0, Z: 5}},
		Normals:   []r3.Vector{towardCamera},
	})
	test.That(t, errors.As(err, &empty), test.ShouldBeTrue)
	test.That(t, empty.What, test.ShouldEqual, "cameras")

	cams := newTestCameras(t, r3.Vector{})
	_, err = engine.Compute(context.Background(), cams, Vertices{})
	test.That(t, errors.As(err, &empty), test.ShouldBeTrue)

	_, err = engine.Compute(context.Background(), cams, Vertices{Positions: []r3.Vector{{X: 0, Y: 0, Z: 5}}})
	test.That(t, errors.As(err, &empty), test.ShouldBeTrue)
	test.That(t, empty.What, test.ShouldEqual, "vertex normals")

	_, err = engine.Compute(context.Background(), cams, Vertices{
		Positions: []r3.Vector{{X: 0, Y: 0, Z: 5}, {X: 0, Y: 0, Z: 6}},
		Normals:   []r3.Vector{towardCamera},
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.As(err, &empty), test.ShouldBeFalse)

	_, err = NewCameraSetFromMatrices(nil, nil)
	test.That(t, errors.As(err, &empty), test.ShouldBeTrue)
}

func TestMaskTests(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logging.NewTestLogger(t))
	cam := newTestCameras(t, r3.Vector{}).Camera(0)

	vertices := Vertices{
		Positions: []r3.Vector{
			{X: 0, Y: 0, Z: 5},   // centre
			{X: 2, Y: 0, Z: 5},   // x = 1360
			{X: 3.5, Y: 0, Z: 5}, // x = 1660, inside the frame but in the margin
			{X: 0, Y: 0, Z: -5},  // behind the camera
			{X: 0, Y: 0, Z: 5},   // facing away
			{X: 0, Y: 0, Z: 5},   // grazing
			{X: 0, Y: 0, Z: 5},
		},
		Normals: []r3.Vector{
			towardCamera,
			towardCamera,
			towardCamera,
			towardCamera,
			{X: 0, Y: 0, Z: 1},
			{X: 1, Y: 0, Z: 0},
			r3.Vector{X: 0.2, Y: 0.1, Z: -1}.Normalize(),
		},
	}
	// only orientation and frame bounds count, so the point behind the camera passes
	test.That(t, engine.Mask(cam, vertices), test.ShouldResemble,
		[]bool{true, true, false, true, false, false, true})

	noMargin := NewEngine(Config{Width: 1920, Height: 1440}, logging.NewTestLogger(t))
	test.That(t, noMargin.Mask(cam, vertices), test.ShouldResemble,
		[]bool{true, true, true, true, false, false, true})

	cfg := DefaultConfig()
	cfg.RejectBehindCamera = true
	rejecting := NewEngine(cfg, logging.NewTestLogger(t))
	test.That(t, rejecting.Mask(cam, vertices), test.ShouldResemble,
		[]bool{true, true, false, false, false, false, true})
}

func TestMaskIgnoresDepthByDefault(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logging.NewTestLogger(t))
	cams, err := NewCameraSet(
		[][]float64{{1000, 0, 0, 0, 1000, 0, 0, 0, 1}},
		[][]float64{translated(r3.Vector{})},
	)
	test.That(t, err, test.ShouldBeNil)
	cam := cams.Camera(0)
	vertices := Vertices{
		Positions: []r3.Vector{{X: 0.1, Y: 0.05, Z: -2}},
		Normals:   []r3.Vector{towardCamera},
	}
	p := engine.Project(cam, vertices.Positions)[0]
	test.That(t, p.Depth, test.ShouldAlmostEqual, -2)
	test.That(t, p.Pixel.X, test.ShouldAlmostEqual, -50)
	test.That(t, p.Pixel.Y, test.ShouldAlmostEqual, -25)
	test.That(t, engine.Mask(cam, vertices), test.ShouldResemble, []bool{false})

	// with the principal point at the centre the mirrored point lands inside the frame
	cams, err = NewCameraSet([][]float64{testIntrinsics}, [][]float64{translated(r3.Vector{})})
	test.That(t, err, test.ShouldBeNil)
	cam = cams.Camera(0)
	p = engine.Project(cam, vertices.Positions)[0]
	test.That(t, p.Pixel.X, test.ShouldAlmostEqual, 910)
	test.That(t, p.Pixel.Y, test.ShouldAlmostEqual, 695)
	test.That(t, engine.Mask(cam, vertices), test.ShouldResemble, []bool{true})

	cfg := DefaultConfig()
	cfg.RejectBehindCamera = true
	test.That(t, NewEngine(cfg, logging.NewTestLogger(t)).Mask(cam, vertices), test.ShouldResemble, []bool{false})
}

func TestComputeScores(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logging.NewTestLogger(t))
	cams := newTestCameras(t, r3.Vector{}, r3.Vector{X: 1, Y: 0, Z: 0}, r3.Vector{X: 0, Y: 0, Z: 20})
	candidates, err := engine.Compute(context.Background(), cams, Vertices{
		Positions: []r3.Vector{{X: 0, Y: 0, Z: 5}, {X: 0, Y: 0, Z: 5}},
		Normals:   []r3.Vector{towardCamera, {X: 0, Y: 0, Z: 1}},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, candidates, test.ShouldHaveLength, 2)
	// camera 2 is past the vertex, which still projects to its centre
	test.That(t, candidates[0], test.ShouldHaveLength, 3)
	test.That(t, candidates[0][0].Camera, test.ShouldEqual, 0)
	test.That(t, candidates[0][0].Score, test.ShouldAlmostEqual, 0)
	test.That(t, candidates[0][1].Camera, test.ShouldEqual, 1)
	test.That(t, candidates[0][1].Score, test.ShouldAlmostEqual, 200)
	test.That(t, candidates[0][2].Camera, test.ShouldEqual, 2)
	test.That(t, candidates[0][2].Score, test.ShouldAlmostEqual, 0)
	test.That(t, candidates[1], test.ShouldBeEmpty)
	test.That(t, candidates.Total(), test.ShouldEqual, 3)

	cfg := DefaultConfig()
	cfg.RejectBehindCamera = true
	candidates, err = NewEngine(cfg, logging.NewTestLogger(t)).Compute(context.Background(), cams, Vertices{
		Positions: []r3.Vector{{X: 0, Y: 0, Z: 5}},
		Normals:   []r3.Vector{towardCamera},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, candidates[0], test.ShouldHaveLength, 2)
}

func randomScene(t *testing.T, numCameras, numVertices int) (*CameraSet, Vertices) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	centers := make([]r3.Vector, numCameras)
	for i := range centers {
		centers[i] = r3.Vector{X: rng.Float64()*4 - 2, Y: rng.Float64()*4 - 2, Z: rng.Float64() * 2}
	}
	vertices := Vertices{
		Positions: make([]r3.Vector, numVertices),
		Normals:   make([]r3.Vector, numVertices),
	}
	for i := 0; i < numVertices; i++ {
		vertices.Positions[i] = r3.Vector{X: rng.Float64()*6 - 3, Y: rng.Float64()*6 - 3, Z: 4 + rng.Float64()*4}
		vertices.Normals[i] = r3.Vector{X: rng.Float64() - 0.5, Y: rng.Float64() - 0.5, Z: rng.Float64() - 0.7}.Normalize()
	}
	return newTestCameras(t, centers...), vertices
}

func TestComputeDeterministic(t *testing.T) {
	cams, vertices := randomScene(t, 23, 2000)

	serialCfg := DefaultConfig()
	serialCfg.Workers = 1
	parallelCfg := DefaultConfig()
	parallelCfg.Workers = 6

	first, err := NewEngine(serialCfg, logging.NewTestLogger(t)).Compute(context.Background(), cams, vertices)
	test.That(t, err, test.ShouldBeNil)
	second, err := NewEngine(parallelCfg, logging.NewTestLogger(t)).Compute(context.Background(), cams, vertices)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second, test.ShouldResemble, first)
	test.That(t, first.Total(), test.ShouldBeGreaterThan, 0)

	for _, list := range first {
		for i := 1; i < len(list); i++ {
			test.That(t, list[i].Camera, test.ShouldBeGreaterThan, list[i-1].Camera)
		}
	}
}

func TestMarginMonotonicity(t *testing.T) {
	cams, vertices := randomScene(t, 8, 1500)
	margins := []float64{500, 300, 150, 0}
	var previous [][]bool
	for _, margin := range margins {
		engine := NewEngine(Config{Margin: margin, Width: 1920, Height: 1440}, logging.NewTestLogger(t))
		masks := make([][]bool, cams.Len())
		for c, cam := range cams.Cameras() {
			masks[c] = engine.Mask(cam, vertices)
		}
		if previous != nil {
			for c := range masks {
				for v, wasVisible := range previous[c] {
					if wasVisible {
						test.That(t, masks[c][v], test.ShouldBeTrue)
					}
				}
			}
		}
		previous = masks
	}
}

func TestBackFaceExclusion(t *testing.T) {
	cams, vertices := randomScene(t, 10, 1000)
	engine := NewEngine(Config{Width: 1920, Height: 1440}, logging.NewTestLogger(t))
	candidates, err := engine.Compute(context.Background(), cams, vertices)
	test.That(t, err, test.ShouldBeNil)
	for v, list := range candidates {
		for _, c := range list {
			test.That(t, vertices.Normals[v].Dot(cams.Camera(c.Camera).ViewAxis), test.ShouldBeLessThan, 0)
		}
	}
}
