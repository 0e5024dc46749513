// Command acquisitiond runs the video acquisition daemon: it accepts order
// descriptors over HTTP, schedules recurring capture windows against remote
// cameras or archived sources, and delivers the resulting artifacts
// downstream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/inpointtech/acquisition/internal/capture"
	"github.com/inpointtech/acquisition/internal/config"
	"github.com/inpointtech/acquisition/internal/delivery"
	"github.com/inpointtech/acquisition/internal/intake"
	"github.com/inpointtech/acquisition/internal/log"
	"github.com/inpointtech/acquisition/internal/merge"
	"github.com/inpointtech/acquisition/internal/pool"
	"github.com/inpointtech/acquisition/internal/storage"
	"github.com/inpointtech/acquisition/internal/store"
	"github.com/inpointtech/acquisition/internal/worker"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "acquisition",
	})
	logger := log.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration rejected")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.data_dir_failed").
			Str("path", cfg.DataDir).
			Msg("could not create data directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSqliteStore(cfg.DBPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.store_failed").
			Str("path", cfg.DBPath).
			Msg("could not open request store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing request store")
		}
	}()

	s3store, err := storage.NewS3(ctx, storage.S3Options{
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		TmpDir:    filepath.Join(cfg.DataDir, "archived"),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.storage_failed").
			Msg("could not initialise S3 storage")
	}

	engine := capture.NewEngine(
		capture.TCPProbe{},
		capture.NewFFmpegSession(cfg.FFmpegPath),
		capture.NewFFprobe(cfg.FFprobePath),
		merge.New(cfg.FFmpegPath),
	)
	handshake := delivery.New(st, s3store, cfg.TriggerURL, cfg.TriggerAPIKey, cfg.UploadBucket, delivery.RetryPolicy{
		MaxAttempts:  cfg.DeliveryMaxAttempts,
		InitialDelay: cfg.DeliveryInitialDelay,
		MaxDelay:     cfg.DeliveryMaxDelay,
	})

	p := pool.New(cfg.PoolCapacity)
	wk := worker.New(p, st, worker.NewPipeline(cfg.DataDir, engine, s3store, handshake))
	sched := intake.NewScheduler(ctx, p, st, wk)

	router := intake.NewRouter(sched, intake.RouterConfig{
		RateLimit:       cfg.RateLimit,
		RateLimitWindow: time.Minute,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("event", "daemon.listening").
			Str("addr", cfg.ListenAddr).
			Int("pool_capacity", cfg.PoolCapacity).
			Str("version", version).
			Msg("acquisition daemon started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("event", "daemon.serve_failed").Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Str("event", "daemon.shutdown").Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	// Workers see the cancelled root context; wait for them to unwind.
	sched.Wait()
	logger.Info().Str("event", "daemon.stopped").Msg("all workers stopped")
}
