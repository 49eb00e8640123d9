package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"volcrop/pkg/config"
	"volcrop/pkg/preprocess"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "volcrop.yaml", "Path to YAML configuration file")
	inputDir := flag.String("input", "", "Dataset root containing ct/ and seg/ subdirectories")
	outputRoot := flag.String("output", "", "Directory under which the dataset directory is created")
	mode := flag.String("mode", "crops", "Dataset mode: crops (blob crops as .npy) or normal (whole normalized volumes as NIfTI)")
	numCores := flag.Int("cores", runtime.NumCPU(), "Number of volumes to process concurrently")

	croppingLabel := flag.Int("label", 0, "Label whose connected blobs are cropped around")
	margins := flag.String("margins", "", "Per-axis crop margins in voxels, e.g. 1,20,20")
	allowedOther := flag.Float64("allowed-other", -1, "Allowed fraction of other-blob voxels inside a crop box, in [0,1]")
	maskDilation := flag.Int("dilation", -1, "Binary dilation iterations applied to the label mask before blob labeling")
	noCrop := flag.Bool("no-crop", false, "Disable blob cropping and persist whole volumes")

	sliceSizeMM := flag.Float64("slice-mm", 0, "Target physical slice thickness in mm (1 keeps native z sampling)")
	spatialScale := flag.Float64("scale", 0, "In-plane scale factor")
	minSizes := flag.String("min-sizes", "", "Minimum output axis lengths, e.g. 3,30,30")
	removeLiver := flag.Bool("remove-liver-label", false, "Remap labels: liver (1) to background, tumor (2) to 1")

	savePreviews := flag.Bool("previews", false, "Save a mid-slice JPEG preview per crop")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to the -config path and exit")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	if *writeConfig {
		if err := config.SaveConfig(config.DefaultConfig(), *configPath); err != nil {
			log.Fatal().Err(err).Msg("failed to write config")
		}
		log.Info().Str("path", *configPath).Msg("wrote default configuration")
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Flags set on the command line override the file configuration.
	cfg.Processing.NumCores = *numCores
	cfg.Output.Verbose = *verbose
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Data.RootDir = *inputDir
		case "output":
			cfg.Data.OutputRoot = *outputRoot
		case "label":
			cfg.Cropping.Label = int32(*croppingLabel)
		case "margins":
			cfg.Cropping.Margins = parseTriple(f.Name, *margins, log)
		case "allowed-other":
			cfg.Cropping.AllowedOtherFraction = *allowedOther
		case "dilation":
			cfg.Cropping.MaskDilation = *maskDilation
		case "no-crop":
			cfg.Cropping.Enabled = !*noCrop
		case "slice-mm":
			cfg.Processing.SliceSizeMM = *sliceSizeMM
		case "scale":
			cfg.Processing.SpatialScale = *spatialScale
		case "min-sizes":
			cfg.Processing.MinSizes = parseTriple(f.Name, *minSizes, log)
		case "remove-liver-label":
			cfg.Processing.RemoveLiverLabel = *removeLiver
		case "previews":
			cfg.Output.SavePreviews = *savePreviews
		}
	})

	if cfg.Data.RootDir == "" {
		flag.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	builder := preprocess.NewBuilder(cfg, log)

	var summary *preprocess.Summary
	switch *mode {
	case "crops":
		summary, err = builder.BuildCropDataset()
	case "normal":
		summary, err = builder.BuildNormalizedDataset()
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown mode, expected crops or normal")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("preprocessing failed")
	}
	if summary.Failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d volumes failed; see log above\n", summary.Failed, summary.Volumes)
		os.Exit(1)
	}
}

// parseTriple parses a comma-separated integer triple such as "1,20,20".
func parseTriple(name, s string, log zerolog.Logger) [3]int {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		log.Fatal().Str("flag", name).Str("value", s).Msg("expected three comma-separated integers")
	}
	var out [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			log.Fatal().Str("flag", name).Str("value", s).Msg("expected three comma-separated integers")
		}
		out[i] = v
	}
	return out
}
