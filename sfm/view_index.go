package sfm

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ViewIndexParseError is returned for a view whose image file name does not resolve to a
// camera index.
type ViewIndexParseError struct {
	ViewID    IndexT
	ImagePath string
	Err       error
}

func (e *ViewIndexParseError) Error() string {
	return fmt.Sprintf("view %d: cannot derive camera index from %q: %v", e.ViewID, e.ImagePath, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *ViewIndexParseError) Unwrap() error {
	return e.Err
}

// ViewIndex maps camera import indices to view ids.
type ViewIndex struct {
	byCamera map[int]IndexT
}

// NewViewIndex validates an explicit camera index to view id table. Camera indices must be
// non-negative and no view id may appear twice.
func NewViewIndex(table map[int]IndexT) (*ViewIndex, error) {
	seen := make(map[IndexT]int, len(table))
	for _, camera := range sortedCameras(table) {
		viewID := table[camera]
		if camera < 0 {
			return nil, errors.Errorf("negative camera index %d for view %d", camera, viewID)
		}
		if viewID == UndefinedIndexT {
			return nil, errors.Errorf("camera %d maps to an undefined view id", camera)
		}
		if other, ok := seen[viewID]; ok {
			return nil, errors.Errorf("view %d is mapped from cameras %d and %d", viewID, other, camera)
		}
		seen[viewID] = camera
	}
	return &ViewIndex{byCamera: lo.Assign(table)}, nil
}

// CameraIndexFromPath returns the camera index encoded as the bare integer stem of an image
// file name, e.g. "/frames/42.jpg" is camera 42.
func CameraIndexFromPath(path string) (int, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	idx, err := strconv.ParseUint(stem, 10, 31)
	if err != nil {
		return 0, errors.Errorf("file name stem %q is not a camera index", stem)
	}
	return int(idx), nil
}

// ViewIndexFromImagePaths derives the table from the image file names of the scene's views.
// Views whose file name does not parse, or whose camera index was already taken by a view with
// a lower id, are left out and reported as ViewIndexParseErrors.
func ViewIndexFromImagePaths(views map[IndexT]*View) (*ViewIndex, []*ViewIndexParseError) {
	table := make(map[int]IndexT, len(views))
	var failures []*ViewIndexParseError
	for _, id := range sortedKeys(views) {
		view := views[id]
		camera, err := CameraIndexFromPath(view.ImagePath)
		if err == nil {
			if other, taken := table[camera]; taken {
				err = errors.Errorf("camera index %d already used by view %d", camera, other)
			}
		}
		if err != nil {
			failures = append(failures, &ViewIndexParseError{ViewID: id, ImagePath: view.ImagePath, Err: err})
			continue
		}
		table[camera] = id
	}
	return &ViewIndex{byCamera: table}, failures
}

// ViewID returns the view id of a camera.
func (vi *ViewIndex) ViewID(camera int) (IndexT, bool) {
	id, ok := vi.byCamera[camera]
	return id, ok
}

// Len returns the number of mapped cameras.
func (vi *ViewIndex) Len() int {
	return len(vi.byCamera)
}

// Cameras returns the mapped camera indices in ascending order.
func (vi *ViewIndex) Cameras() []int {
	return sortedCameras(vi.byCamera)
}

func sortedCameras(table map[int]IndexT) []int {
	cameras := lo.Keys(table)
	sort.Ints(cameras)
	return cameras
}
