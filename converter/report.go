package converter

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/sfmlink/consensus"
	"go.viam.com/sfmlink/landmark"
	"go.viam.com/sfmlink/sfm"
)

// StageTiming is the wall time of one pipeline stage.
type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// Report summarizes a run.
type Report struct {
	RunID string

	Cameras    int
	Vertices   int
	Candidates int

	Consensus consensus.Stats
	Landmarks landmark.Stats

	PosesLinked    int
	UnindexedViews int

	// Distribution of the number of observations per landmark.
	ObservationsMean   float64
	ObservationsStdDev float64
	ObservationsMedian float64
	ObservationsP90    float64

	Stages []StageTiming
}

// observationCounts returns the observation count of each landmark in landmark id order.
func observationCounts(scene *sfm.Scene) []float64 {
	ids := scene.LandmarkIDs()
	counts := make([]float64, len(ids))
	for i, id := range ids {
		counts[i] = float64(len(scene.Landmarks[id].Observations))
	}
	return counts
}

func (r *Report) summarizeObservations(counts []float64) error {
	if len(counts) == 0 {
		return nil
	}
	r.ObservationsMean, r.ObservationsStdDev = stat.MeanStdDev(counts, nil)
	if len(counts) < 2 || math.IsNaN(r.ObservationsStdDev) {
		r.ObservationsStdDev = 0
	}
	var err error
	if r.ObservationsMedian, err = stats.Median(counts); err != nil {
		return errors.Wrap(err, "observation median")
	}
	if r.ObservationsP90, err = stats.Percentile(counts, 90); err != nil {
		return errors.Wrap(err, "observation percentile")
	}
	return nil
}

// writeHistogram plots the observations per landmark. The format follows the extension.
func writeHistogram(path string, counts []float64, maxObservations int) error {
	p := plot.New()
	p.Title.Text = "Observations per landmark"
	p.X.Label.Text = "observations"
	p.Y.Label.Text = "landmarks"

	if len(counts) > 0 {
		bins := maxObservations
		if bins < 1 {
			bins = 1
		}
		h, err := plotter.NewHist(plotter.Values(counts), bins)
		if err != nil {
			return errors.Wrap(err, "building histogram")
		}
		p.Add(h)
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
