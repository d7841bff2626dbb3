// Package main is the sfmlink command line tool.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/sfmlink/config"
	"go.viam.com/sfmlink/converter"
	"go.viam.com/sfmlink/logging"
)

const (
	flagConfig     = "config"
	flagDebug      = "debug"
	flagInTraj     = "in-traj"
	flagInMesh     = "in-mesh"
	flagInSfM      = "in-sfm"
	flagOutSfM     = "out-sfm"
	flagOutCloud   = "out-cloud"
	flagOutMesh    = "out-mesh"
	flagOutReport  = "out-report"
	flagStep       = "step"
	flagMargin     = "margin"
	flagWidth      = "width"
	flagHeight     = "height"
	flagTolerance  = "tolerance"
	flagTopK       = "top-k"
	flagWorkers    = "workers"
	flagModeRank   = "rank-by-mode-deviation"
	flagBehind     = "reject-behind-camera"
	flagNoLock     = "no-lock-poses"
	flagNoTransfer = "keep-intrinsics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "sfmlink",
		Usage:     "link the mesh vertices of a capture to the views of an SfM scene",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load run configuration from `FILE`; flags override its values",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{Name: flagInTraj, Usage: "camera trajectory `FILE` (JSON lines)"},
			&cli.StringFlag{Name: flagInMesh, Usage: "mesh `FILE` (.ply or .obj), or a .pcd cloud with normals"},
			&cli.StringFlag{Name: flagInSfM, Usage: "camera scene `FILE` (.sfm)"},
			&cli.StringFlag{Name: flagOutSfM, Usage: "write the linked scene to `FILE`"},
			&cli.StringFlag{Name: flagOutCloud, Usage: "write the landmark cloud to `FILE` (.pcd or .las)"},
			&cli.StringFlag{Name: flagOutMesh, Usage: "write the mesh to `FILE` (.ply or .obj)"},
			&cli.StringFlag{Name: flagOutReport, Usage: "write an observation histogram to `FILE` (.png, .svg or .pdf)"},
			&cli.IntFlag{Name: flagStep, Usage: "keep every `N`th trajectory frame", Value: 1},
			&cli.Float64Flag{Name: flagMargin, Usage: "frame border in pixels excluded from visibility"},
			&cli.Float64Flag{Name: flagWidth, Usage: "frame width in pixels"},
			&cli.Float64Flag{Name: flagHeight, Usage: "frame height in pixels"},
			&cli.Float64Flag{Name: flagTolerance, Usage: "score distance of one consensus cluster"},
			&cli.IntFlag{Name: flagTopK, Usage: "maximum cameras kept per vertex"},
			&cli.IntFlag{Name: flagWorkers, Usage: "concurrent worker groups, 0 for one per CPU"},
			&cli.BoolFlag{Name: flagModeRank, Usage: "rank cameras by distance to the mode score"},
			&cli.BoolFlag{Name: flagBehind, Usage: "treat points behind a camera as out of frame"},
			&cli.BoolFlag{Name: flagNoLock, Usage: "do not lock the output poses to the trajectory"},
			&cli.BoolFlag{Name: flagNoTransfer, Usage: "keep the scene's intrinsics instead of the trajectory's"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	logger := logging.NewLogger("sfmlink")
	logger.SetLevel(level)
	defer func() {
		//nolint:errcheck
		logger.Sync()
	}()

	conv, err := converter.New(cfg, logger)
	if err != nil {
		return err
	}
	report, err := conv.Run(c.Context)
	if err != nil {
		return err
	}
	printReport(c.App.Writer, report)
	return nil
}

// configFromContext reads the config file, if any, and applies the flags that were set on top.
func configFromContext(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}

	strs := map[string]*string{
		flagInTraj:    &cfg.Inputs.Trajectory,
		flagInMesh:    &cfg.Inputs.Mesh,
		flagInSfM:     &cfg.Inputs.Scene,
		flagOutSfM:    &cfg.Outputs.Scene,
		flagOutCloud:  &cfg.Outputs.PointCloud,
		flagOutMesh:   &cfg.Outputs.Mesh,
		flagOutReport: &cfg.Outputs.Report,
	}
	for name, dst := range strs {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	floats := map[string]*float64{
		flagMargin:    &cfg.Visibility.Margin,
		flagWidth:     &cfg.Visibility.Width,
		flagHeight:    &cfg.Visibility.Height,
		flagTolerance: &cfg.Consensus.Tolerance,
	}
	for name, dst := range floats {
		if c.IsSet(name) {
			*dst = c.Float64(name)
		}
	}
	ints := map[string]*int{
		flagStep:    &cfg.Step,
		flagTopK:    &cfg.Consensus.TopK,
		flagWorkers: &cfg.Workers,
	}
	for name, dst := range ints {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	if c.IsSet(flagModeRank) {
		cfg.Consensus.RankByModeDeviation = c.Bool(flagModeRank)
	}
	if c.IsSet(flagBehind) {
		cfg.Visibility.RejectBehindCamera = c.Bool(flagBehind)
	}
	if c.Bool(flagNoLock) {
		cfg.LinkKnownPoses = false
	}
	if c.Bool(flagNoTransfer) {
		cfg.TransferIntrinsics = false
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printReport(w io.Writer, r *converter.Report) {
	fmt.Fprintf(w, "run %s\n", r.RunID)
	fmt.Fprintf(w, "cameras: %d, vertices: %d, candidates: %d\n", r.Cameras, r.Vertices, r.Candidates)
	fmt.Fprintf(w, "consensus: kept %d, dropped %d, zero visibility %d\n",
		r.Consensus.Kept, r.Consensus.Dropped, r.Consensus.ZeroVisibility)
	fmt.Fprintf(w, "landmarks: %d (purged %d), observations: %d (skipped %d)\n",
		r.Landmarks.Landmarks, r.Landmarks.Purged, r.Landmarks.Observations, r.Landmarks.SkippedObservations)
	fmt.Fprintf(w, "observations per landmark: mean %.2f, stddev %.2f, median %.0f, p90 %.0f\n",
		r.ObservationsMean, r.ObservationsStdDev, r.ObservationsMedian, r.ObservationsP90)
	for _, s := range r.Stages {
		fmt.Fprintf(w, "  %-10s %s\n", s.Stage, s.Duration)
	}
}
