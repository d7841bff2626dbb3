package visibility

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfmlink/logging"
	"go.viam.com/sfmlink/utils"
)

// Config holds the frame-bounds parameters of the visibility test.
type Config struct {
	// Margin is the border, in pixels, excluded from every side of the frame.
	Margin float64 `json:"margin"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	// RejectBehindCamera also drops vertices whose projection has a non-positive depth. Off by
	// default, where only the orientation and frame-bounds tests apply.
	RejectBehindCamera bool `json:"reject_behind_camera,omitempty"`
	// Workers bounds the number of camera groups processed concurrently. Zero means
	// utils.ParallelFactor.
	Workers int `json:"workers,omitempty"`
}

// DefaultConfig returns the frame used by the capture devices sfmlink was built for.
func DefaultConfig() Config {
	return Config{Margin: 300, Width: 1920, Height: 1440}
}

// Vertices are the parallel position and normal arrays of a mesh.
type Vertices struct {
	Positions []r3.Vector
	Normals   []r3.Vector
}

// Len returns the number of vertices.
func (v Vertices) Len() int {
	return len(v.Positions)
}

// Validate checks that positions and normals are present and parallel.
func (v Vertices) Validate() error {
	if len(v.Positions) == 0 {
		return &EmptyInputError{What: "vertex positions"}
	}
	if len(v.Normals) == 0 {
		return &EmptyInputError{What: "vertex normals"}
	}
	if len(v.Positions) != len(v.Normals) {
		return errors.Errorf("got %d vertex positions but %d normals", len(v.Positions), len(v.Normals))
	}
	return nil
}

// Candidate is a camera that sees a vertex, with the score of that observation.
type Candidate struct {
	Camera int
	Score  float64
}

// Candidates holds, per vertex, the cameras that see it.
type Candidates [][]Candidate

// Total returns the number of (vertex, camera) associations.
func (c Candidates) Total() int {
	total := 0
	for _, list := range c {
		total += len(list)
	}
	return total
}

// Projection is a vertex pushed through a camera's projection matrix.
type Projection struct {
	Pixel r2.Point
	// Depth is the homogeneous coordinate before dehomogenization. Points with a non-positive
	// depth are behind the camera; they are only rejected when RejectBehindCamera is set.
	Depth float64
}

// Engine computes per-camera visibility masks and per-vertex candidate lists.
type Engine struct {
	cfg    Config
	logger logging.Logger
}

// NewEngine returns an Engine using the given frame configuration.
func NewEngine(cfg Config, logger logging.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Project pushes every position through the camera's projection matrix.
func (e *Engine) Project(cam Camera, positions []r3.Vector) []Projection {
	p := cam.Projection.RawMatrix()
	row := func(r int, v r3.Vector) float64 {
		base := r * p.Stride
		return p.Data[base]*v.X + p.Data[base+1]*v.Y + p.Data[base+2]*v.Z + p.Data[base+3]
	}
	out := make([]Projection, len(positions))
	for i, v := range positions {
		w := row(2, v)
		out[i] = Projection{Pixel: r2.Point{X: row(0, v) / w, Y: row(1, v) / w}, Depth: w}
	}
	return out
}

// InFrame reports whether a projection lands inside the frame shrunk by the margin.
func (e *Engine) InFrame(p Projection) bool {
	if math.IsNaN(p.Pixel.X) || math.IsNaN(p.Pixel.Y) {
		return false
	}
	if e.cfg.RejectBehindCamera && p.Depth <= 0 {
		return false
	}
	return p.Pixel.X >= e.cfg.Margin && p.Pixel.X < e.cfg.Width-e.cfg.Margin &&
		p.Pixel.Y >= e.cfg.Margin && p.Pixel.Y < e.cfg.Height-e.cfg.Margin
}

// FacesCamera reports whether a vertex with the given normal passes the back-face test.
func FacesCamera(cam Camera, normal r3.Vector) bool {
	return normal.Dot(cam.ViewAxis) < 0
}

// Score returns the distance in pixels between a pixel and the image centre.
func (e *Engine) Score(px r2.Point) float64 {
	return math.Sqrt(utils.Square(px.X-e.cfg.Width/2) + utils.Square(px.Y-e.cfg.Height/2))
}

// Mask returns, for every vertex, whether the camera sees it.
func (e *Engine) Mask(cam Camera, vertices Vertices) []bool {
	projections := e.Project(cam, vertices.Positions)
	mask := make([]bool, len(projections))
	for i, p := range projections {
		mask[i] = FacesCamera(cam, vertices.Normals[i]) && e.InFrame(p)
	}
	return mask
}

type hit struct {
	vertex int
	camera int
	score  float64
}

// Compute builds the candidate list of every vertex over all cameras. Cameras are split into
// contiguous groups that run concurrently, each writing only to its own buffer; the buffers are
// then merged in group order so each vertex's candidates are in ascending camera order.
func (e *Engine) Compute(ctx context.Context, cameras *CameraSet, vertices Vertices) (Candidates, error) {
	if cameras.Len() == 0 {
		return nil, &EmptyInputError{What: "cameras"}
	}
	if err := vertices.Validate(); err != nil {
		return nil, err
	}

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = utils.ParallelFactor
	}

	var buffers [][]hit
	err := utils.GroupWorkParallelN(
		ctx,
		workers,
		cameras.Len(),
		func(numGroups int) {
			buffers = make([][]hit, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			var local []hit
			return func(memberNum, workNum int) {
					cam := cameras.Camera(workNum)
					visible := 0
					for v, p := range e.Project(cam, vertices.Positions) {
						if !FacesCamera(cam, vertices.Normals[v]) || !e.InFrame(p) {
							continue
						}
						local = append(local, hit{vertex: v, camera: workNum, score: e.Score(p.Pixel)})
						visible++
					}
					e.logger.Debugw("visible points", "camera", workNum, "count", visible)
				}, func() {
					buffers[groupNum] = local
				}
		},
	)
	if err != nil {
		return nil, err
	}

	counts := make([]int, vertices.Len())
	for _, buf := range buffers {
		for _, h := range buf {
			counts[h.vertex]++
		}
	}
	candidates := make(Candidates, vertices.Len())
	for v, n := range counts {
		if n > 0 {
			candidates[v] = make([]Candidate, 0, n)
		}
	}
	for _, buf := range buffers {
		for _, h := range buf {
			candidates[h.vertex] = append(candidates[h.vertex], Candidate{Camera: h.camera, Score: h.score})
		}
	}
	return candidates, nil
}
