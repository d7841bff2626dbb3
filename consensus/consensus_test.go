package consensus

import (
	"context"
	"math/rand"
	"testing"

	"go.viam.com/test"

	"go.viam.com/sfmlink/logging"
	"go.viam.com/sfmlink/visibility"
)

func newTestSelector(t *testing.T, cfg Config) *Selector {
	t.Helper()
	s, err := NewSelector(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return s
}

func TestApproximateMode(t *testing.T) {
	test.That(t, ApproximateMode(nil, 10), test.ShouldEqual, -1)

	candidates := []visibility.Candidate{{Camera: 0, Score: 50}, {Camera: 1, Score: 52}, {Camera: 2, Score: 400}}
	test.That(t, ApproximateMode(candidates, 10), test.ShouldEqual, 0)

	// the cluster around 400 is larger
	candidates = []visibility.Candidate{{Camera: 0, Score: 50}, {Camera: 1, Score: 400}, {Camera: 2, Score: 405}, {Camera: 3, Score: 52}, {Camera: 4, Score: 398}}
	test.That(t, ApproximateMode(candidates, 10), test.ShouldEqual, 1)

	// all singletons, first wins
	candidates = []visibility.Candidate{{Camera: 0, Score: 100}, {Camera: 1, Score: 0}, {Camera: 2, Score: 300}}
	test.That(t, ApproximateMode(candidates, 10), test.ShouldEqual, 0)

	// scores exactly tolerance apart do not cluster
	candidates = []visibility.Candidate{{Camera: 0, Score: 50}, {Camera: 1, Score: 60}, {Camera: 2, Score: 61}}
	test.That(t, ApproximateMode(candidates, 10), test.ShouldEqual, 1)

	// a zero tolerance leaves every score alone in its cluster
	candidates = []visibility.Candidate{{Camera: 0, Score: 50}, {Camera: 1, Score: 52}}
	test.That(t, ApproximateMode(candidates, 0), test.ShouldEqual, 0)
	candidates = []visibility.Candidate{{Camera: 0, Score: 50}, {Camera: 1, Score: 50}, {Camera: 2, Score: 50}}
	test.That(t, ApproximateMode(candidates, 0), test.ShouldEqual, 0)
}

func TestZeroTolerance(t *testing.T) {
	s := newTestSelector(t, Config{Tolerance: 0, TopK: 5})
	candidates := visibility.Candidates{{{Camera: 0, Score: 50}, {Camera: 1, Score: 52}}}
	stats, err := s.Select(context.Background(), candidates)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, candidates[0], test.ShouldResemble, []visibility.Candidate{{Camera: 0, Score: 50}, {Camera: 1, Score: 52}})
	test.That(t, stats, test.ShouldResemble, Stats{Vertices: 1, Kept: 2, OutsideMode: 1})
}

func TestThreeCameraScenario(t *testing.T) {
	s := newTestSelector(t, DefaultConfig())
	candidates := visibility.Candidates{{{Camera: 0, Score: 50}, {Camera: 1, Score: 52}, {Camera: 2, Score: 400}}}
	stats, err := s.Select(context.Background(), candidates)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, candidates[0], test.ShouldResemble, []visibility.Candidate{{Camera: 0, Score: 50}, {Camera: 1, Score: 52}, {Camera: 2, Score: 400}})
	test.That(t, stats, test.ShouldResemble, Stats{Vertices: 1, Kept: 3, OutsideMode: 1})
}

func TestRankByScore(t *testing.T) {
	s := newTestSelector(t, Config{Tolerance: 10, TopK: 2})
	selected, stats := s.SelectVertex([]visibility.Candidate{{Camera: 0, Score: 300}, {Camera: 1, Score: 20}, {Camera: 2, Score: 300}, {Camera: 3, Score: 10}})
	test.That(t, selected, test.ShouldResemble, []visibility.Candidate{{Camera: 3, Score: 10}, {Camera: 1, Score: 20}})
	test.That(t, stats.Kept, test.ShouldEqual, 2)
	test.That(t, stats.Dropped, test.ShouldEqual, 2)

	// equal scores keep their input order
	s = newTestSelector(t, Config{Tolerance: 10, TopK: 3})
	selected, _ = s.SelectVertex([]visibility.Candidate{{Camera: 4, Score: 70}, {Camera: 1, Score: 70}, {Camera: 9, Score: 70}, {Camera: 2, Score: 70}})
	test.That(t, selected, test.ShouldResemble, []visibility.Candidate{{Camera: 4, Score: 70}, {Camera: 1, Score: 70}, {Camera: 9, Score: 70}})
}

func TestRankByModeDeviation(t *testing.T) {
	s := newTestSelector(t, Config{Tolerance: 10, TopK: 2, RankByModeDeviation: true})
	selected, stats := s.SelectVertex([]visibility.Candidate{{Camera: 0, Score: 50}, {Camera: 1, Score: 400}, {Camera: 2, Score: 405}, {Camera: 3, Score: 52}, {Camera: 4, Score: 398}})
	// mode is candidate 1 at 400
	test.That(t, selected, test.ShouldResemble, []visibility.Candidate{{Camera: 1, Score: 400}, {Camera: 4, Score: 398}})
	test.That(t, stats.OutsideMode, test.ShouldEqual, 0)
}

func TestZeroVisibility(t *testing.T) {
	s := newTestSelector(t, DefaultConfig())
	candidates := visibility.Candidates{nil, {{Camera: 3, Score: 12}}, {}}
	stats, err := s.Select(context.Background(), candidates)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.Vertices, test.ShouldEqual, 3)
	test.That(t, stats.ZeroVisibility, test.ShouldEqual, 2)
	test.That(t, stats.Kept, test.ShouldEqual, 1)
	test.That(t, candidates[0], test.ShouldBeEmpty)
	test.That(t, candidates[2], test.ShouldBeEmpty)
}

func TestTopKBoundAndNoInvention(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	candidates := make(visibility.Candidates, 500)
	original := make([]map[int]float64, len(candidates))
	for v := range candidates {
		n := rng.Intn(12)
		original[v] = map[int]float64{}
		for c := 0; c < n; c++ {
			score := rng.Float64() * 800
			candidates[v] = append(candidates[v], visibility.Candidate{Camera: c, Score: score})
			original[v][c] = score
		}
	}
	counts := make([]int, len(candidates))
	for v, list := range candidates {
		counts[v] = len(list)
	}

	cfg := DefaultConfig()
	cfg.Workers = 4
	s := newTestSelector(t, cfg)
	stats, err := s.Select(context.Background(), candidates)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.Vertices, test.ShouldEqual, 500)

	kept := 0
	for v, list := range candidates {
		bound := counts[v]
		if bound > cfg.TopK {
			bound = cfg.TopK
		}
		test.That(t, len(list), test.ShouldEqual, bound)
		kept += len(list)
		for i, c := range list {
			score, ok := original[v][c.Camera]
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, c.Score, test.ShouldEqual, score)
			if i > 0 {
				test.That(t, c.Score, test.ShouldBeGreaterThanOrEqualTo, list[i-1].Score)
			}
		}
	}
	test.That(t, stats.Kept, test.ShouldEqual, kept)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)
	_, err := NewSelector(Config{Tolerance: 10, TopK: 0}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "top_k")
	_, err = NewSelector(Config{Tolerance: -1, TopK: 5}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, Config{Tolerance: 0, TopK: 5}.Validate(), test.ShouldBeNil)
}
