// Package config defines the run configuration of a conversion and how it is read and validated.
package config

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/sfmlink/consensus"
	"go.viam.com/sfmlink/logging"
	"go.viam.com/sfmlink/visibility"
)

// Config describes one conversion run.
type Config struct {
	ConfigFilePath string `json:"-"`

	Inputs  Inputs  `json:"inputs"`
	Outputs Outputs `json:"outputs"`

	// Step keeps every Step-th frame of the trajectory.
	Step int `json:"step"`

	Visibility visibility.Config `json:"visibility"`
	Consensus  consensus.Config  `json:"consensus"`

	// Workers is used by the visibility and consensus stages when they set no worker count of
	// their own. Zero means one per CPU.
	Workers int `json:"workers,omitempty"`

	// LinkKnownPoses locks the output scene's poses to the trajectory.
	LinkKnownPoses bool `json:"link_known_poses"`
	// TransferIntrinsics overwrites the scene's intrinsics with the first frame's calibration.
	TransferIntrinsics bool `json:"transfer_intrinsics"`

	LogLevel string `json:"log_level,omitempty"`
	// LogPatterns override the level of the run's stage loggers, e.g. "sfmlink.*.visibility".
	LogPatterns []logging.LoggerPatternConfig `json:"log_patterns,omitempty"`
}

// Inputs are the files a run reads.
type Inputs struct {
	Trajectory string `json:"trajectory"`
	Mesh       string `json:"mesh"`
	Scene      string `json:"scene"`
}

// Outputs are the files a run writes. Empty paths are skipped.
type Outputs struct {
	Scene      string `json:"scene,omitempty"`
	PointCloud string `json:"point_cloud,omitempty"`
	Mesh       string `json:"mesh,omitempty"`
	Report     string `json:"report,omitempty"`
}

// Default returns a config with every parameter at its default and no files.
func Default() *Config {
	return &Config{
		Step:               1,
		Visibility:         visibility.DefaultConfig(),
		Consensus:          consensus.DefaultConfig(),
		LinkKnownPoses:     true,
		TransferIntrinsics: true,
		LogLevel:           "info",
	}
}

// Read reads a config from a JSON file, expanding environment variables in it first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from. Fields
// absent from the input keep their defaults.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := Default()
	if err := json.NewDecoder(r).Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	cfg.ConfigFilePath = originalPath
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

// VisibilityConfig returns the visibility parameters with the shared worker count applied.
func (c *Config) VisibilityConfig() visibility.Config {
	cfg := c.Visibility
	if cfg.Workers == 0 {
		cfg.Workers = c.Workers
	}
	return cfg
}

// ConsensusConfig returns the consensus parameters with the shared worker count applied.
func (c *Config) ConsensusConfig() consensus.Config {
	cfg := c.Consensus
	if cfg.Workers == 0 {
		cfg.Workers = c.Workers
	}
	return cfg
}

// Level returns the parsed log level.
func (c *Config) Level() (logging.Level, error) {
	if c.LogLevel == "" {
		return logging.INFO, nil
	}
	return logging.LevelFromString(c.LogLevel)
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return fmt.Sprintf("%s.%s", path, field)
}

// Validate returns an error naming the first invalid field.
func (c *Config) Validate(path string) error {
	if err := c.Inputs.Validate(joinPath(path, "inputs")); err != nil {
		return err
	}
	if err := c.Outputs.Validate(joinPath(path, "outputs")); err != nil {
		return err
	}
	if c.Step < 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("step must be at least 1, got %d", c.Step))
	}
	if c.Workers < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("workers must be non-negative, got %d", c.Workers))
	}
	if err := validateVisibility(joinPath(path, "visibility"), c.Visibility); err != nil {
		return err
	}
	if err := c.Consensus.Validate(); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "consensus"), err)
	}
	if c.Consensus.Workers < 0 {
		return utils.NewConfigValidationError(joinPath(path, "consensus"), errors.New("workers must be non-negative"))
	}
	if _, err := c.Level(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	for i, lpc := range c.LogPatterns {
		if err := lpc.Validate(); err != nil {
			return utils.NewConfigValidationError(joinPath(path, fmt.Sprintf("log_patterns.%d", i)), err)
		}
	}
	return nil
}

func validateVisibility(path string, cfg visibility.Config) error {
	for _, v := range []float64{cfg.Margin, cfg.Width, cfg.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return utils.NewConfigValidationError(path, errors.New("frame parameters must be finite"))
		}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("width and height must be positive, got %vx%v", cfg.Width, cfg.Height))
	}
	if cfg.Margin < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("margin must be non-negative, got %v", cfg.Margin))
	}
	if 2*cfg.Margin >= cfg.Width || 2*cfg.Margin >= cfg.Height {
		return utils.NewConfigValidationError(path,
			errors.Errorf("margin %v leaves no frame inside %vx%v", cfg.Margin, cfg.Width, cfg.Height))
	}
	if cfg.Workers < 0 {
		return utils.NewConfigValidationError(path, errors.New("workers must be non-negative"))
	}
	return nil
}

// Validate checks that every input is set and has a known extension.
func (in *Inputs) Validate(path string) error {
	if in.Trajectory == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "trajectory")
	}
	if in.Mesh == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "mesh")
	}
	if in.Scene == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "scene")
	}
	if err := checkExt(in.Mesh, ".ply", ".obj", ".pcd"); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "mesh"), err)
	}
	if err := checkExt(in.Scene, ".sfm", ".json"); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "scene"), err)
	}
	return nil
}

// Validate checks that at least one output is set and that each set output has a known extension.
func (out *Outputs) Validate(path string) error {
	if out.Scene == "" && out.PointCloud == "" && out.Mesh == "" {
		return utils.NewConfigValidationError(path, errors.New("at least one of scene, point_cloud or mesh must be set"))
	}
	for _, check := range []struct {
		field, value string
		exts         []string
	}{
		{"scene", out.Scene, []string{".sfm", ".json"}},
		{"point_cloud", out.PointCloud, []string{".pcd", ".las"}},
		{"mesh", out.Mesh, []string{".ply", ".obj"}},
		{"report", out.Report, []string{".png", ".svg", ".pdf"}},
	} {
		if check.value == "" {
			continue
		}
		if err := checkExt(check.value, check.exts...); err != nil {
			return utils.NewConfigValidationError(joinPath(path, check.field), err)
		}
	}
	return nil
}

func checkExt(file string, exts ...string) error {
	ext := strings.ToLower(filepath.Ext(file))
	for _, e := range exts {
		if ext == e {
			return nil
		}
	}
	return errors.Errorf("%q must end in one of %s", file, strings.Join(exts, ", "))
}
