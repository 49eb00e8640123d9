// Package config provides configuration loading and management for volcrop.
// It handles loading configuration from YAML files, provides default values
// and derives the deterministic output directory names that encode the
// active preprocessing parameters.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"volcrop/pkg/blob"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Data locates the input dataset and the output root.
	Data struct {
		// RootDir is the dataset root holding the "ct" and "seg"
		// subdirectories of paired NIfTI volumes.
		RootDir string `yaml:"rootDir"`

		// OutputRoot is the directory under which the derived dataset
		// directory is created. Defaults to the current directory.
		OutputRoot string `yaml:"outputRoot"`
	} `yaml:"data"`

	// Processing parameters shared by both dataset modes.
	Processing struct {
		// NumCores specifies how many source volumes are processed
		// concurrently.
		NumCores int `yaml:"numCores"`

		// SliceSizeMM is the target physical slice thickness in mm; 1
		// means keep the native z sampling.
		SliceSizeMM float64 `yaml:"sliceSizeMM"`

		// SpatialScale is the in-plane zoom factor applied to crops.
		SpatialScale float64 `yaml:"spatialScale"`

		// MinSizes are the minimum axis lengths (Z, Y, X) a crop must
		// reach to be persisted.
		MinSizes [3]int `yaml:"minSizes"`

		// RemoveLiverLabel merges the liver class into the background
		// and renumbers the tumor class: label 1 -> 0, label 2 -> 1.
		RemoveLiverLabel bool `yaml:"removeLiverLabel"`
	} `yaml:"processing"`

	// Cropping configures blob extraction. When disabled, each source
	// volume is persisted whole.
	Cropping struct {
		// Enabled turns connected-component cropping on.
		Enabled bool `yaml:"enabled"`

		blob.Params `yaml:",inline"`
	} `yaml:"cropping"`

	// Normalized configures the whole-volume normalized-dataset mode.
	Normalized struct {
		// SpatialSubsample is the in-plane zoom factor, usually below 1.
		SpatialSubsample float64 `yaml:"spatialSubsample"`

		// ExpandSlices pads the labeled z-range by this many slices on
		// each side before restricting the volume to it.
		ExpandSlices int `yaml:"expandSlices"`

		// MinDepth drops normalized volumes with fewer depth slices.
		MinDepth int `yaml:"minDepth"`
	} `yaml:"normalized"`

	// Output controls reporting and side outputs.
	Output struct {
		// SavePreviews writes a mid-slice JPEG preview next to each
		// persisted crop for quick visual inspection.
		SavePreviews bool `yaml:"savePreviews"`

		// Verbose enables per-blob debug logging.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Data.OutputRoot = "."

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.SliceSizeMM = 1
	cfg.Processing.SpatialScale = 1
	cfg.Processing.MinSizes = [3]int{3, 30, 30}
	cfg.Processing.RemoveLiverLabel = true

	cfg.Cropping.Enabled = true
	cfg.Cropping.Label = 2
	cfg.Cropping.Margins = [3]int{1, 20, 20}
	cfg.Cropping.AllowedOtherFraction = 0.5
	cfg.Cropping.MaskDilation = 0

	cfg.Normalized.SpatialSubsample = 0.5
	cfg.Normalized.ExpandSlices = 20
	cfg.Normalized.MinDepth = 48

	cfg.Output.SavePreviews = false
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Validate reports configuration errors before any volume is processed.
func (c *Config) Validate() error {
	if c.Data.RootDir == "" {
		return fmt.Errorf("data root directory is required")
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("number of cores must be at least 1, got %d", c.Processing.NumCores)
	}
	if c.Processing.SliceSizeMM <= 0 {
		return fmt.Errorf("slice size must be positive, got %v", c.Processing.SliceSizeMM)
	}
	if c.Processing.SpatialScale <= 0 {
		return fmt.Errorf("spatial scale must be positive, got %v", c.Processing.SpatialScale)
	}
	for i, s := range c.Processing.MinSizes {
		if s < 0 {
			return fmt.Errorf("minimum size for axis %d must be non-negative, got %d", i, s)
		}
	}
	if c.Cropping.Enabled {
		if err := c.Cropping.Params.Validate(); err != nil {
			return fmt.Errorf("cropping: %w", err)
		}
	}
	if c.Normalized.SpatialSubsample <= 0 {
		return fmt.Errorf("spatial subsample must be positive, got %v", c.Normalized.SpatialSubsample)
	}
	if c.Normalized.ExpandSlices < 0 {
		return fmt.Errorf("expand slices must be non-negative, got %d", c.Normalized.ExpandSlices)
	}
	if c.Normalized.MinDepth < 0 {
		return fmt.Errorf("minimum depth must be non-negative, got %d", c.Normalized.MinDepth)
	}
	return nil
}

// CropDatasetDir returns the output directory name for the crop-dataset
// mode. The name encodes every parameter that shapes the arrays, so two
// runs with different settings never collide.
func (c *Config) CropDatasetDir() string {
	name := fmt.Sprintf("LiverData_(S-%v_MS-(%d, %d, %d)_MM-%v_RL-%v",
		c.Processing.SpatialScale,
		c.Processing.MinSizes[0], c.Processing.MinSizes[1], c.Processing.MinSizes[2],
		c.Processing.SliceSizeMM,
		c.Processing.RemoveLiverLabel)
	if c.Cropping.Enabled {
		name += fmt.Sprintf("_CP-%s", c.Cropping.Params)
	}
	name += ")"
	return filepath.Join(c.Data.OutputRoot, name)
}

// NormalizedDatasetDir returns the output directory name for the
// normalized-dataset mode.
func (c *Config) NormalizedDatasetDir() string {
	return filepath.Join(c.Data.OutputRoot,
		fmt.Sprintf("Full-Torso-(%v,%v)", c.Normalized.SpatialSubsample, c.Processing.SliceSizeMM))
}
