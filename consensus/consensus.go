// Package consensus reduces the cameras seeing each vertex to a small ranked subset.
package consensus

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"

	"go.viam.com/sfmlink/logging"
	"go.viam.com/sfmlink/utils"
	"go.viam.com/sfmlink/visibility"
)

// Config holds the consensus parameters.
type Config struct {
	// Tolerance is the score distance under which two observations fall in the same cluster.
	Tolerance float64 `json:"tolerance"`
	// TopK is the maximum number of cameras kept per vertex.
	TopK int `json:"top_k"`
	// RankByModeDeviation ranks candidates by their distance to the mode score instead of by
	// their own score.
	RankByModeDeviation bool `json:"rank_by_mode_deviation,omitempty"`
	// Workers bounds the number of vertex groups processed concurrently. Zero means
	// utils.ParallelFactor.
	Workers int `json:"workers,omitempty"`
}

// DefaultConfig returns the default consensus parameters.
func DefaultConfig() Config {
	return Config{Tolerance: 10, TopK: 5}
}

// Validate checks the parameters.
func (cfg Config) Validate() error {
	if cfg.Tolerance < 0 || math.IsNaN(cfg.Tolerance) {
		return errors.Errorf("tolerance must be non-negative, got %v", cfg.Tolerance)
	}
	if cfg.TopK < 1 {
		return errors.Errorf("top_k must be at least 1, got %d", cfg.TopK)
	}
	return nil
}

// Stats summarizes one selection run.
type Stats struct {
	Vertices       int
	ZeroVisibility int
	Kept           int
	Dropped        int
	// OutsideMode counts kept candidates whose score is not within the tolerance of their
	// vertex's mode score.
	OutsideMode int
}

func (s *Stats) add(o Stats) {
	s.Vertices += o.Vertices
	s.ZeroVisibility += o.ZeroVisibility
	s.Kept += o.Kept
	s.Dropped += o.Dropped
	s.OutsideMode += o.OutsideMode
}

// ApproximateMode returns the index of the score with the most scores (itself included) closer
// than tolerance to it. Ties go to the lowest index. It returns -1 for an empty list.
func ApproximateMode(candidates []visibility.Candidate, tolerance float64) int {
	best, bestCount := -1, 0
	for i := range candidates {
		// a score always counts itself, even with a zero tolerance
		count := 1
		for j := range candidates {
			if j != i && math.Abs(candidates[i].Score-candidates[j].Score) < tolerance {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = i, count
		}
	}
	return best
}

// Selector runs the per-vertex consensus.
type Selector struct {
	cfg    Config
	logger logging.Logger
}

// NewSelector returns a Selector for the given configuration.
func NewSelector(cfg Config, logger logging.Logger) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Selector{cfg: cfg, logger: logger}, nil
}

// SelectVertex keeps at most TopK candidates of one vertex, ranked ascending by absolute score
// (or by distance to the mode score when RankByModeDeviation is set). Equal keys keep their input
// order. The returned slice reuses the input's backing array.
func (s *Selector) SelectVertex(candidates []visibility.Candidate) ([]visibility.Candidate, Stats) {
	if len(candidates) == 0 {
		return candidates, Stats{Vertices: 1, ZeroVisibility: 1}
	}
	mode := ApproximateMode(candidates, s.cfg.Tolerance)
	modeScore := candidates[mode].Score

	keys := make([]float64, len(candidates))
	for i, c := range candidates {
		if s.cfg.RankByModeDeviation {
			keys[i] = math.Abs(c.Score - modeScore)
		} else {
			keys[i] = math.Abs(c.Score)
		}
	}
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return keys[order[a]] < keys[order[b]]
	})

	keep := utils.MinInt(s.cfg.TopK, len(candidates))
	selected := make([]visibility.Candidate, keep)
	for i := 0; i < keep; i++ {
		selected[i] = candidates[order[i]]
	}
	stats := Stats{Vertices: 1, Kept: keep, Dropped: len(candidates) - keep}
	for _, c := range selected {
		if d := math.Abs(c.Score - modeScore); d != 0 && d >= s.cfg.Tolerance {
			stats.OutsideMode++
		}
	}
	candidates = candidates[:keep]
	copy(candidates, selected)
	return candidates, stats
}

// Select replaces every vertex's candidate list with its selected subset, in rank order.
// Vertices are split into contiguous groups that run concurrently; groups touch disjoint lists.
func (s *Selector) Select(ctx context.Context, candidates visibility.Candidates) (Stats, error) {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = utils.ParallelFactor
	}
	var groupStats []Stats
	err := utils.GroupWorkParallelN(
		ctx,
		workers,
		len(candidates),
		func(numGroups int) {
			groupStats = make([]Stats, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			var local Stats
			return func(memberNum, workNum int) {
					var vs Stats
					candidates[workNum], vs = s.SelectVertex(candidates[workNum])
					local.add(vs)
				}, func() {
					groupStats[groupNum] = local
				}
		},
	)
	if err != nil {
		return Stats{}, err
	}
	var total Stats
	for _, gs := range groupStats {
		total.add(gs)
	}
	s.logger.Debugw("consensus done",
		"vertices", total.Vertices,
		"zero_visibility", total.ZeroVisibility,
		"kept", total.Kept,
		"dropped", total.Dropped,
		"outside_mode", total.OutsideMode)
	return total, nil
}
