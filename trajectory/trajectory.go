// Package trajectory reads the per-frame camera records of a device-tracking capture.
//
// A trajectory file holds one JSON record per line:
//
//	{"timestamp": 12.5, "intrinsics": [9 values], "transform": [16 values]}
//
// Both arrays are column-major. The transform is the camera-to-world pose in the device's
// convention, where cameras look down -z with +y up.
package trajectory

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"go.viam.com/sfmlink/visibility"
)

// maxLineSize bounds a single trajectory record.
const maxLineSize = 1 << 20

// axisFlip is diag(1, -1, -1, 1). Right-multiplying a device pose by it turns the camera to look
// down +z with +y down.
var axisFlip = [4]float64{1, -1, -1, 1}

// Frame is one imported camera. Matrices are row-major.
type Frame struct {
	// Line is the zero-based line of the record in the file.
	Line       int
	Timestamp  float64
	Intrinsics []float64
	Transform  []float64
}

type record struct {
	Timestamp  float64   `json:"timestamp"`
	Intrinsics []float64 `json:"intrinsics"`
	Transform  []float64 `json:"transform"`
}

// Trajectory is the ordered list of imported frames. Frame i is camera i.
type Trajectory struct {
	Frames []Frame
}

func transpose(colMajor []float64, n int) []float64 {
	out := make([]float64, n*n)
	for c := 0; c < n; c++ {
		for r := 0; r < n; r++ {
			out[r*n+c] = colMajor[c*n+r]
		}
	}
	return out
}

// Read imports every step-th record, starting with the first. Reading stops at the first
// selected line that is blank.
func Read(r io.Reader, step int) (*Trajectory, error) {
	if step < 1 {
		return nil, errors.Errorf("step must be at least 1, got %d", step)
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	traj := &Trajectory{}
	for line := 0; scanner.Scan(); line++ {
		if line%step != 0 {
			continue
		}
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			break
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if len(rec.Intrinsics) != 9 {
			return nil, errors.Errorf("line %d: expected 9 intrinsic values, got %d", line, len(rec.Intrinsics))
		}
		if len(rec.Transform) != 16 {
			return nil, errors.Errorf("line %d: expected 16 transform values, got %d", line, len(rec.Transform))
		}
		transform := transpose(rec.Transform, 4)
		for r := 0; r < 4; r++ {
			for c := 0; c < 4; c++ {
				transform[r*4+c] *= axisFlip[c]
			}
		}
		traj.Frames = append(traj.Frames, Frame{
			Line:       line,
			Timestamp:  rec.Timestamp,
			Intrinsics: transpose(rec.Intrinsics, 3),
			Transform:  transform,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading trajectory")
	}
	return traj, nil
}

// ReadFile imports a trajectory file.
func ReadFile(path string, step int) (*Trajectory, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	traj, err := Read(f, step)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return traj, nil
}

// Len returns the number of frames.
func (t *Trajectory) Len() int {
	return len(t.Frames)
}

// CameraSet derives the cameras of the trajectory.
func (t *Trajectory) CameraSet() (*visibility.CameraSet, error) {
	intrinsics := make([][]float64, len(t.Frames))
	extrinsics := make([][]float64, len(t.Frames))
	for i, f := range t.Frames {
		intrinsics[i] = f.Intrinsics
		extrinsics[i] = f.Transform
	}
	return visibility.NewCameraSet(intrinsics, extrinsics)
}
