// Command imgdiff compares two photographs of the same scene and writes the
// annotated pair side by side as a JPEG.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"image-diff/internal/config"
	"image-diff/internal/logger"
	"image-diff/internal/opencv/memory"
	"image-diff/internal/services"
	"image-diff/internal/worker"
)

func main() {
	first := flag.String("i1", "", "Path to the reference image")
	second := flag.String("i2", "", "Path to the image to compare")
	out := flag.String("o", "combined_image.jpg", "Output JPEG path")
	configPath := flag.String("config", "", "Path to a TOML config file")
	workers := flag.Int("workers", -1, "Worker pool size (0 = one per CPU, default from config)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *first == "" || *second == "" {
		fmt.Fprintln(os.Stderr, "Usage: imgdiff -i1 <reference> -i2 <target> [-o out.jpg] [-config file.toml] [-workers N]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "imgdiff: %v\n", err)
		os.Exit(1)
	}
	if *workers >= 0 {
		cfg.Workers.Size = *workers
	}

	log, err := newLogger(cfg.Log, *verbose, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "imgdiff: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *first, *second, *out); err != nil {
		fmt.Fprintf(os.Stderr, "imgdiff: %v\n", err)
		os.Exit(1)
	}
}

// newLogger follows the log section of the config. -v only raises the level.
func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) (logger.Logger, error) {
	level := cfg.Level
	if verbose {
		level = "debug"
	}
	return logger.New(cfg.Format, level, w)
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger, firstPath, secondPath, outPath string) error {
	svc, err := services.NewDiffService(cfg, worker.NewPool(cfg.Workers.Size), log)
	if err != nil {
		return err
	}
	defer svc.Close()

	a, err := os.Open(firstPath)
	if err != nil {
		return err
	}
	defer a.Close()
	b, err := os.Open(secondPath)
	if err != nil {
		return err
	}
	defer b.Close()

	tracker := memory.NewTracker()
	res, err := svc.DiffEncoded(ctx, a, b, tracker)
	if err != nil {
		return err
	}
	defer res.Close()

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err := svc.WriteCombined(f, res); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	st := res.Stats
	fmt.Printf("%s: %d changed region(s), %d/%d inliers, coverage %.1f%%\n",
		outPath, len(res.Contours), st.Inliers, st.Matches, st.Coverage*100)
	fmt.Printf("  target frame: %v\n", st.TargetBounds)
	for i, r := range st.Regions {
		fmt.Printf("  region %d: x=%d y=%d w=%d h=%d\n", i+1, r.Min.X, r.Min.Y, r.Dx(), r.Dy())
	}
	log.Debug("imgdiff", "memory", map[string]interface{}{"peak_bytes": tracker.GetStats().PeakBytes})
	for _, e := range res.Timings {
		log.Debug("imgdiff", "timing", map[string]interface{}{
			"operation": e.Operation,
			"count":     e.Count,
			"total_ms":  e.Total.Milliseconds(),
		})
	}
	return nil
}
