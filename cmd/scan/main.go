// Command scan runs a single scan session against a YAML configuration
// file: bounded scan over the configured block range, filling any gaps left
// by a prior interrupted run, then (if end_block is "latest") transitioning
// into live-tail polling until interrupted. Grounded on the teacher's
// cmd/indexer.go main(): flag-based config path, logrus setup, and a
// SIGINT/SIGTERM-driven cancellable context.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/example/evmscan/internal/bootstrap"
	"github.com/example/evmscan/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	dataDir := flag.String("data-dir", "data", "Directory for the durable event store")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("interrupt received, shutting down gracefully…")
		cancel()
	}()

	built, err := bootstrap.Build(ctx, cfg, *dataDir)
	if err != nil {
		log.Fatalf("failed to initialise scan: %v", err)
	}

	logrus.Infof("starting scan: mode=%s start=%d end=%d live=%v", cfg.Mode, built.Start, built.End, built.Live)
	scanErr := built.Controller.ScanBlocks(ctx, built.Start, built.End, built.Live)
	if err := built.Store.Save(); err != nil {
		logrus.WithError(err).Warn("failed to save store")
	}
	if scanErr != nil {
		if ctx.Err() != nil {
			logrus.Info("scan stopped")
			return
		}
		log.Fatalf("scan terminated with error: %v", scanErr)
	}
}
