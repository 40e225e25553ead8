// Command image-diff serves the photo comparison endpoint over HTTP.
package main

import (
	"flag"
	"fmt"
	"os"

	"image-diff/internal/config"
	"image-diff/internal/logger"
	"image-diff/internal/server"
	"image-diff/internal/services"
	"image-diff/internal/shutdown"
	"image-diff/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "image-diff: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Format, cfg.Log.Level, os.Stderr)
	if err != nil {
		return err
	}

	pool := worker.NewPool(cfg.Workers.Size)
	log.Info("Main", "worker pool ready", map[string]interface{}{"slots": pool.Size()})

	svc, err := services.NewDiffService(cfg, pool, log)
	if err != nil {
		return err
	}

	sm := shutdown.NewManager(log, cfg.Server.ShutdownTimeout.Duration)
	srv := server.New(cfg.Server, svc, log).WithBaseContext(sm.Context())

	sm.Register("diff-service", shutdown.Func(func() {
		if err := svc.Close(); err != nil {
			log.Error("Main", err, nil)
		}
	}))
	sm.Register("http-server", srv)
	sm.Listen()

	if err := srv.ListenAndServe(); err != nil {
		sm.Shutdown()
		return err
	}

	<-sm.Done()
	log.Info("Main", "terminated", nil)
	return nil
}
