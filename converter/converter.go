// Package converter runs a capture through the visibility, consensus and landmark stages and
// writes the resulting scene, landmark cloud and mesh.
package converter

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/sfmlink/config"
	"go.viam.com/sfmlink/consensus"
	"go.viam.com/sfmlink/landmark"
	"go.viam.com/sfmlink/logging"
	"go.viam.com/sfmlink/mesh"
	"go.viam.com/sfmlink/sfm"
	"go.viam.com/sfmlink/utils"
	"go.viam.com/sfmlink/visibility"
)

// RunIDMetadataKey is the view metadata key holding the id of the run that wrote the scene.
const RunIDMetadataKey = "sfmlink:runId"

// Converter runs one configured conversion.
type Converter struct {
	cfg     *config.Config
	logger  logging.Logger
	loggers *logging.Registry
	clock   clock.Clock

	cameras CameraImporter
}

// Option configures a Converter.
type Option func(*Converter)

// WithClock sets the clock used to time stages.
func WithClock(clk clock.Clock) Option {
	return func(c *Converter) {
		c.clock = clk
	}
}

// WithCameraImporter replaces the trajectory importer.
func WithCameraImporter(importer CameraImporter) Option {
	return func(c *Converter) {
		c.cameras = importer
	}
}

// New returns a Converter for a validated config.
func New(cfg *config.Config, logger logging.Logger, opts ...Option) (*Converter, error) {
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	loggers := logging.NewRegistry()
	if err := loggers.UpdateConfig(cfg.LogPatterns); err != nil {
		return nil, err
	}
	c := &Converter{
		cfg:     cfg,
		logger:  logger,
		loggers: loggers,
		clock:   clock.New(),
		cameras: TrajectoryImporter{Step: cfg.Step},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type inputs struct {
	cameras *visibility.CameraSet
	mesh    *mesh.Mesh
	scene   *sfm.Scene
}

// importAll reads the trajectory, mesh and scene concurrently.
func (c *Converter) importAll(ctx context.Context) (*inputs, error) {
	meshes, err := MeshImporterFor(c.cfg.Inputs.Mesh)
	if err != nil {
		return nil, err
	}
	var in inputs
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cameras, err := c.cameras.ImportCameras(ctx, c.cfg.Inputs.Trajectory)
		if err != nil {
			return errors.Wrap(err, "importing cameras")
		}
		in.cameras = cameras
		return nil
	})
	g.Go(func() error {
		m, err := meshes.ImportMesh(ctx, c.cfg.Inputs.Mesh)
		if err != nil {
			return errors.Wrap(err, "importing mesh")
		}
		in.mesh = m
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		scene, err := sfm.ReadFile(c.cfg.Inputs.Scene)
		if err != nil {
			return errors.Wrap(err, "importing scene")
		}
		in.scene = scene
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &in, nil
}

// stage runs fn, recording its duration and warning while it runs long.
func (c *Converter) stage(
	ctx context.Context, logger logging.Logger, report *Report, name string, fn func(context.Context) error,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := utils.SlowLogger(ctx, c.clock, "stage still running", "stage", name, logger)
	start := c.clock.Now()
	err := fn(ctx)
	stop()
	elapsed := c.clock.Since(start)
	report.Stages = append(report.Stages, StageTiming{Stage: name, Duration: elapsed})
	if err != nil {
		return errors.Wrapf(err, "%s stage", name)
	}
	logger.Debugw("stage done", "stage", name, "elapsed", elapsed)
	return nil
}

// Run imports the inputs, associates vertices with cameras, builds the landmarks and writes every
// configured output. Outputs are only written once all stages succeeded; if any write fails, the
// outputs already written by the run are removed.
func (c *Converter) Run(ctx context.Context) (*Report, error) {
	runID := uuid.New().String()
	logger := c.loggers.Sublogger(c.logger, runID[:8])
	report := &Report{RunID: runID}
	logger.Infow("starting run", "run_id", runID, "config", c.cfg.ConfigFilePath)

	var (
		in         *inputs
		vertices   visibility.Vertices
		candidates visibility.Candidates
		index      *sfm.ViewIndex
	)

	if err := c.stage(ctx, logger, report, "import", func(ctx context.Context) error {
		var err error
		if in, err = c.importAll(ctx); err != nil {
			return err
		}
		vertices = in.mesh.Vertices()
		report.Cameras = in.cameras.Len()
		report.Vertices = vertices.Len()
		return nil
	}); err != nil {
		return nil, err
	}

	if err := c.stage(ctx, logger, report, "visibility", func(ctx context.Context) error {
		engine := visibility.NewEngine(c.cfg.VisibilityConfig(), c.loggers.Sublogger(logger, "visibility"))
		var err error
		if candidates, err = engine.Compute(ctx, in.cameras, vertices); err != nil {
			return err
		}
		report.Candidates = candidates.Total()
		return nil
	}); err != nil {
		return nil, err
	}

	if err := c.stage(ctx, logger, report, "consensus", func(ctx context.Context) error {
		selector, err := consensus.NewSelector(c.cfg.ConsensusConfig(), c.loggers.Sublogger(logger, "consensus"))
		if err != nil {
			return err
		}
		report.Consensus, err = selector.Select(ctx, candidates)
		return err
	}); err != nil {
		return nil, err
	}

	if err := c.stage(ctx, logger, report, "landmarks", func(ctx context.Context) error {
		var parseErrs []*sfm.ViewIndexParseError
		index, parseErrs = sfm.ViewIndexFromImagePaths(in.scene.Views)
		for _, perr := range parseErrs {
			logger.Warnw("view left out of the view index", "view_id", perr.ViewID, "path", perr.ImagePath, "error", perr.Err)
		}
		report.UnindexedViews = len(parseErrs)

		if c.cfg.TransferIntrinsics {
			if err := landmark.TransferIntrinsics(in.scene, in.cameras.Camera(0).Intrinsics); err != nil {
				return errors.Wrap(err, "transferring intrinsics")
			}
		}
		var err error
		if report.PosesLinked, err = landmark.LinkPoses(in.scene, index, in.cameras, false); err != nil {
			return err
		}
		if report.Landmarks, err = landmark.NewBuilder(c.loggers.Sublogger(logger, "landmark")).Build(
			in.scene, index, vertices.Positions, candidates,
		); err != nil {
			return err
		}
		if c.cfg.LinkKnownPoses {
			if _, err := landmark.LinkKnownPoses(in.scene, index, in.cameras); err != nil {
				return err
			}
		}
		for _, view := range in.scene.Views {
			if view.Metadata == nil {
				view.Metadata = map[string]string{}
			}
			view.Metadata[RunIDMetadataKey] = runID
		}
		return report.summarizeObservations(observationCounts(in.scene))
	}); err != nil {
		return nil, err
	}

	if err := c.stage(ctx, logger, report, "export", func(ctx context.Context) error {
		return c.exportAll(ctx, logger, in)
	}); err != nil {
		return nil, err
	}

	logger.Infow("run done",
		"cameras", report.Cameras,
		"vertices", report.Vertices,
		"candidates", report.Candidates,
		"zero_visibility", report.Consensus.ZeroVisibility,
		"landmarks", report.Landmarks.Landmarks,
		"observations", report.Landmarks.Observations,
		"observations_median", report.ObservationsMedian)
	return report, nil
}

// exportAll writes every configured output concurrently.
func (c *Converter) exportAll(ctx context.Context, logger logging.Logger, in *inputs) (err error) {
	outputs := c.cfg.Outputs
	var written []string
	writers := map[string]func(context.Context) error{}

	for _, path := range []string{outputs.Scene, outputs.PointCloud} {
		if path == "" {
			continue
		}
		exporter, err := SceneExporterFor(path)
		if err != nil {
			return err
		}
		p := path
		writers[p] = func(ctx context.Context) error { return exporter.ExportScene(ctx, p, in.scene) }
	}
	if outputs.Mesh != "" {
		exporter, err := MeshExporterFor(outputs.Mesh)
		if err != nil {
			return err
		}
		writers[outputs.Mesh] = func(ctx context.Context) error { return exporter.ExportMesh(ctx, outputs.Mesh, in.mesh) }
	}
	if outputs.Report != "" {
		maxObs := 0
		for _, id := range in.scene.LandmarkIDs() {
			maxObs = utils.MaxInt(maxObs, len(in.scene.Landmarks[id].Observations))
		}
		writers[outputs.Report] = func(context.Context) error {
			return writeHistogram(outputs.Report, observationCounts(in.scene), maxObs)
		}
	}

	defer func() {
		if err != nil {
			for _, path := range written {
				utils.RemoveFileNoError(path)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for path, write := range writers {
		written = append(written, path)
		g.Go(func() error {
			if err := write(gctx); err != nil {
				return errors.Wrapf(err, "writing %s", path)
			}
			logger.Infow("wrote output", "path", path)
			return nil
		})
	}
	return g.Wait()
}
