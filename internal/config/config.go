// Package config loads service settings from defaults, an optional TOML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/lucasb-eyer/go-colorful"

	"image-diff/internal/alignment"
	"image-diff/internal/logger"
	"image-diff/internal/processing/filters"
	"image-diff/internal/processing/threshold"
)

const (
	SmoothingMedian   = "median"
	SmoothingGaussian = "gaussian"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Workers  WorkersConfig  `toml:"workers"`
	Align    AlignConfig    `toml:"align"`
	Diff     DiffConfig     `toml:"diff"`
	Annotate AnnotateConfig `toml:"annotate"`
	Output   OutputConfig   `toml:"output"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	MaxUploadBytes  int64    `toml:"max_upload_bytes"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type WorkersConfig struct {
	// Size of the CPU worker pool; 0 means one slot per CPU.
	Size int `toml:"size"`
}

type AlignConfig struct {
	MaxFeatures     int     `toml:"max_features"`
	RansacThreshold float64 `toml:"ransac_threshold"`
	MaxIters        int     `toml:"max_iters"`
	Confidence      float64 `toml:"confidence"`
	MinMatches      int     `toml:"min_matches"`
	GapFill         string  `toml:"gap_fill"`
}

type DiffConfig struct {
	Smoothing        string  `toml:"smoothing"`
	SmoothingKernel  int     `toml:"smoothing_kernel"`
	ThresholdFloor   float64 `toml:"threshold_floor"`
	ErodeKernel      int     `toml:"erode_kernel"`
	ErodeIterations  int     `toml:"erode_iterations"`
	DilateKernel     int     `toml:"dilate_kernel"`
	DilateIterations int     `toml:"dilate_iterations"`
}

type AnnotateConfig struct {
	FirstColor  string `toml:"first_color"`
	SecondColor string `toml:"second_color"`
	Thickness   int    `toml:"thickness"`
}

type OutputConfig struct {
	JPEGQuality int `toml:"jpeg_quality"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func Default() *Config {
	align := alignment.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration{30 * time.Second},
			WriteTimeout:    Duration{60 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
			MaxUploadBytes:  32 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logger.FormatJSON,
		},
		Align: AlignConfig{
			MaxFeatures:     align.MaxFeatures,
			RansacThreshold: align.RansacThreshold,
			MaxIters:        align.MaxIters,
			Confidence:      align.Confidence,
			MinMatches:      align.MinMatches,
			GapFill:         string(alignment.GapZero),
		},
		Diff: DiffConfig{
			Smoothing:        SmoothingMedian,
			SmoothingKernel:  filters.DefaultSmoothingKernel,
			ThresholdFloor:   threshold.DefaultFloor,
			ErodeKernel:      filters.DefaultErodeKernel,
			ErodeIterations:  filters.DefaultErodeIterations,
			DilateKernel:     filters.DefaultDilateKernel,
			DilateIterations: filters.DefaultDilateIters,
		},
		Annotate: AnnotateConfig{
			FirstColor:  "#ff0000",
			SecondColor: "#0000ff",
			Thickness:   filters.DefaultStrokeWidth,
		},
		Output: OutputConfig{
			JPEGQuality: 95,
		},
	}
}

// Load returns defaults overlaid with the TOML file at path (if non-empty)
// and then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("IMAGE_DIFF_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("IMAGE_DIFF_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IMAGE_DIFF_WORKERS: %w", err)
		}
		c.Workers.Size = n
	}

	switch {
	case os.Getenv("IMAGE_DIFF_LOG_LEVEL") != "":
		c.Log.Level = os.Getenv("IMAGE_DIFF_LOG_LEVEL")
	case os.Getenv("LOG_LEVEL") != "":
		c.Log.Level = os.Getenv("LOG_LEVEL")
	case os.Getenv("DEBUG") == "1":
		c.Log.Level = "debug"
	}

	if v := os.Getenv("IMAGE_DIFF_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case logger.FormatJSON, logger.FormatConsole, logger.FormatText:
	default:
		errs = append(errs, fmt.Errorf("log.format must be %q, %q or %q, got %q",
			logger.FormatJSON, logger.FormatConsole, logger.FormatText, c.Log.Format))
	}
	if c.Workers.Size < 0 {
		errs = append(errs, fmt.Errorf("workers.size must not be negative, got %d", c.Workers.Size))
	}
	if err := c.Align.Options().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := alignment.ParseGapMode(c.Align.GapFill); err != nil {
		errs = append(errs, fmt.Errorf("align.gap_fill: %w", err))
	}
	if c.Diff.Smoothing != SmoothingMedian && c.Diff.Smoothing != SmoothingGaussian {
		errs = append(errs, fmt.Errorf("diff.smoothing must be %q or %q, got %q", SmoothingMedian, SmoothingGaussian, c.Diff.Smoothing))
	}
	if c.Diff.ThresholdFloor < 0 || c.Diff.ThresholdFloor > 255 {
		errs = append(errs, fmt.Errorf("diff.threshold_floor must be within [0, 255], got %g", c.Diff.ThresholdFloor))
	}
	if c.Diff.SmoothingKernel < 3 || c.Diff.SmoothingKernel%2 == 0 {
		errs = append(errs, fmt.Errorf("diff.smoothing_kernel must be odd and at least 3, got %d", c.Diff.SmoothingKernel))
	}
	for name, v := range map[string]int{
		"diff.erode_kernel":      c.Diff.ErodeKernel,
		"diff.erode_iterations":  c.Diff.ErodeIterations,
		"diff.dilate_kernel":     c.Diff.DilateKernel,
		"diff.dilate_iterations": c.Diff.DilateIterations,
		"annotate.thickness":     c.Annotate.Thickness,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if _, _, err := c.Annotate.Colors(); err != nil {
		errs = append(errs, err)
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("output.jpeg_quality must be within [1, 100], got %d", c.Output.JPEGQuality))
	}

	return errors.Join(errs...)
}

func (a AlignConfig) Options() alignment.Options {
	return alignment.Options{
		MaxFeatures:     a.MaxFeatures,
		RansacThreshold: a.RansacThreshold,
		MaxIters:        a.MaxIters,
		Confidence:      a.Confidence,
		MinMatches:      a.MinMatches,
	}
}

// Colors returns the stroke colors for the first and second image.
func (a AnnotateConfig) Colors() (color.RGBA, color.RGBA, error) {
	first, err := ParseColor(a.FirstColor)
	if err != nil {
		return color.RGBA{}, color.RGBA{}, fmt.Errorf("annotate.first_color: %w", err)
	}
	second, err := ParseColor(a.SecondColor)
	if err != nil {
		return color.RGBA{}, color.RGBA{}, fmt.Errorf("annotate.second_color: %w", err)
	}
	return first, second, nil
}

// ParseColor reads a "#rrggbb" hex color.
func ParseColor(hex string) (color.RGBA, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, err
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}
