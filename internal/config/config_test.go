package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-diff/internal/alignment"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"IMAGE_DIFF_ADDR", "IMAGE_DIFF_WORKERS", "IMAGE_DIFF_LOG_LEVEL",
		"IMAGE_DIFF_LOG_FORMAT", "LOG_LEVEL", "DEBUG",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image-diff.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(32<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, 500, cfg.Align.MaxFeatures)
	assert.Equal(t, 5.0, cfg.Align.RansacThreshold)
	assert.Equal(t, "zero", cfg.Align.GapFill)
	assert.Equal(t, SmoothingMedian, cfg.Diff.Smoothing)
	assert.Equal(t, 5, cfg.Diff.SmoothingKernel)
	assert.Equal(t, 70.0, cfg.Diff.ThresholdFloor)
	assert.Equal(t, 3, cfg.Diff.ErodeIterations)
	assert.Equal(t, 5, cfg.Diff.DilateIterations)
	assert.Equal(t, 4, cfg.Annotate.Thickness)

	first, second, err := cfg.Annotate.Colors()
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, first)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, second)
	assert.Equal(t, alignment.DefaultOptions(), cfg.Align.Options())
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
[server]
addr = "127.0.0.1:9000"
read_timeout = "5s"

[align]
gap_fill = "footprint"
min_matches = 8

[diff]
smoothing = "gaussian"
threshold_floor = 40.0

[annotate]
first_color = "#00ff00"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout.Duration)
	// Untouched keys keep defaults.
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout.Duration)
	assert.Equal(t, "footprint", cfg.Align.GapFill)
	assert.Equal(t, 8, cfg.Align.MinMatches)
	assert.Equal(t, SmoothingGaussian, cfg.Diff.Smoothing)
	assert.Equal(t, 40.0, cfg.Diff.ThresholdFloor)

	first, _, err := cfg.Annotate.Colors()
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{G: 255, A: 255}, first)
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)

	tests := map[string]string{
		"unknown key":  "[server]\nport = 80\n",
		"bad duration": "[server]\nread_timeout = \"soon\"\n",
		"bad syntax":   "[server\n",
		"invalid":      "[diff]\nsmoothing = \"box\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMAGE_DIFF_ADDR", ":7000")
	t.Setenv("IMAGE_DIFF_WORKERS", "3")
	t.Setenv("IMAGE_DIFF_LOG_FORMAT", "console")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Workers.Size)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "warn", cfg.Log.Level)

	t.Setenv("IMAGE_DIFF_LOG_LEVEL", "error")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)

	t.Setenv("IMAGE_DIFF_WORKERS", "many")
	_, err = Load("")
	assert.Error(t, err)
}

func TestDebugFlag(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEBUG", "1")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"addr", func(c *Config) { c.Server.Addr = "" }},
		{"upload limit", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"workers", func(c *Config) { c.Workers.Size = -1 }},
		{"confidence", func(c *Config) { c.Align.Confidence = 2 }},
		{"gap fill", func(c *Config) { c.Align.GapFill = "inpaint" }},
		{"even kernel", func(c *Config) { c.Diff.SmoothingKernel = 4 }},
		{"floor", func(c *Config) { c.Diff.ThresholdFloor = 300 }},
		{"erode", func(c *Config) { c.Diff.ErodeIterations = 0 }},
		{"color", func(c *Config) { c.Annotate.SecondColor = "blue" }},
		{"quality", func(c *Config) { c.Output.JPEGQuality = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("later")))
}
