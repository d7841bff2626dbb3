package pointcloud

import (
	"go.viam.com/sfmlink/sfm"
)

// NewFromLandmarks returns a cloud of the scene's landmarks in ascending landmark id order. Each
// point carries the landmark color and its observation count as value. Landmarks sharing a
// position collapse into the first one's place with the last one's data.
func NewFromLandmarks(scene *sfm.Scene) (PointCloud, error) {
	ids := scene.LandmarkIDs()
	pc := NewWithPrealloc(len(ids))
	for _, id := range ids {
		l := scene.Landmarks[id]
		d := NewColoredData(l.Color).SetValue(len(l.Observations))
		if err := pc.Set(l.X, d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}
