package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Processing.SliceSizeMM != 1 {
		t.Errorf("default slice size = %v, want 1", cfg.Processing.SliceSizeMM)
	}
	if cfg.Processing.MinSizes != [3]int{3, 30, 30} {
		t.Errorf("default min sizes = %v", cfg.Processing.MinSizes)
	}
	if !cfg.Cropping.Enabled || cfg.Cropping.Label != 2 {
		t.Error("cropping around label 2 should be enabled by default")
	}
	if cfg.Cropping.MaskDilation != 0 {
		t.Errorf("default mask dilation = %d, want 0", cfg.Cropping.MaskDilation)
	}

	cfg.Data.RootDir = "/data"
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("MissingFileUsesDefaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Processing.SpatialScale != 1 {
			t.Errorf("spatial scale = %v, want default 1", cfg.Processing.SpatialScale)
		}
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "volcrop.yaml")
		doc := `
data:
  rootDir: /data/liver
processing:
  spatialScale: 0.5
  minSizes: [4, 10, 10]
cropping:
  label: 1
  margins: [1, 2, 2]
  allowedOtherFraction: 0.25
`
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Data.RootDir != "/data/liver" {
			t.Errorf("root dir = %q", cfg.Data.RootDir)
		}
		if cfg.Processing.SpatialScale != 0.5 {
			t.Errorf("spatial scale = %v, want 0.5", cfg.Processing.SpatialScale)
		}
		if cfg.Processing.MinSizes != [3]int{4, 10, 10} {
			t.Errorf("min sizes = %v", cfg.Processing.MinSizes)
		}
		if cfg.Cropping.Label != 1 || cfg.Cropping.AllowedOtherFraction != 0.25 {
			t.Errorf("cropping params = %+v", cfg.Cropping.Params)
		}
		// Untouched values keep their defaults.
		if cfg.Processing.SliceSizeMM != 1 {
			t.Errorf("slice size = %v, want default 1", cfg.Processing.SliceSizeMM)
		}
	})
}

func TestSaveConfigRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "volcrop.yaml")

	cfg := DefaultConfig()
	cfg.Data.RootDir = "/data/liver"
	cfg.Cropping.MaskDilation = 3

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got.Cropping.MaskDilation != 3 {
		t.Errorf("mask dilation = %d, want 3", got.Cropping.MaskDilation)
	}
	if got.Data.RootDir != "/data/liver" {
		t.Errorf("root dir = %q", got.Data.RootDir)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.Data.RootDir = "/data"
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"MissingRoot", func(c *Config) { c.Data.RootDir = "" }},
		{"ZeroCores", func(c *Config) { c.Processing.NumCores = 0 }},
		{"NegativeScale", func(c *Config) { c.Processing.SpatialScale = -1 }},
		{"ZeroSliceSize", func(c *Config) { c.Processing.SliceSizeMM = 0 }},
		{"ToleranceAboveOne", func(c *Config) { c.Cropping.AllowedOtherFraction = 1.5 }},
		{"NegativeMargin", func(c *Config) { c.Cropping.Margins[1] = -2 }},
		{"NegativeDilation", func(c *Config) { c.Cropping.MaskDilation = -1 }},
		{"ZeroSubsample", func(c *Config) { c.Normalized.SpatialSubsample = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	t.Run("CroppingDisabledSkipsCropChecks", func(t *testing.T) {
		cfg := base()
		cfg.Cropping.Enabled = false
		cfg.Cropping.AllowedOtherFraction = 2
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

// TestDatasetDirNames pins the configuration-derived directory naming that
// keeps runs with different parameters from colliding.
func TestDatasetDirNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Data.OutputRoot = "/out"
	cfg.Processing.SpatialScale = 0.5
	cfg.Processing.MinSizes = [3]int{3, 30, 30}
	cfg.Cropping.Label = 2
	cfg.Cropping.Margins = [3]int{1, 20, 20}

	got := cfg.CropDatasetDir()
	want := filepath.Join("/out",
		"LiverData_(S-0.5_MS-(3, 30, 30)_MM-1_RL-true_CP-[CL-2_margins-(1, 20, 20)_OB-0.5_MD-0])")
	if got != want {
		t.Errorf("crop dataset dir\n got  %q\n want %q", got, want)
	}

	cfg.Cropping.Enabled = false
	if strings.Contains(cfg.CropDatasetDir(), "CP-") {
		t.Error("disabled cropping should not appear in the directory name")
	}

	if got := cfg.NormalizedDatasetDir(); got != filepath.Join("/out", "Full-Torso-(0.5,1)") {
		t.Errorf("normalized dataset dir = %q", got)
	}
}
