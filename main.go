package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaelberg/audiostream/config"
	"github.com/kaelberg/audiostream/internal/admission"
	"github.com/kaelberg/audiostream/internal/auth"
	"github.com/kaelberg/audiostream/internal/cache"
	"github.com/kaelberg/audiostream/internal/collection"
	"github.com/kaelberg/audiostream/internal/dispatch"
	"github.com/kaelberg/audiostream/internal/ioqueue"
	"github.com/kaelberg/audiostream/internal/server"
	"github.com/kaelberg/audiostream/internal/transcode"
)

// Process exit codes for fatal startup failures, matching the distinct
// categories the server's error taxonomy calls out.
const (
	exitCodeConfigError = 1
	exitCodeBindFailure = 3
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	slog.Info("Starting audiostream service",
		"port", cfg.Port,
		"collections", cfg.Collections,
		"cache_dir", cfg.CacheDir,
	)

	collections := collection.NewRegistry(cfg.Collections)

	var fileCache *cache.Cache
	if !cfg.CacheDisabled {
		var err error
		fileCache, err = cache.Open(cfg.CacheDir, cfg.CacheMaxFiles, cfg.CacheMaxBytes)
		if err != nil {
			// CacheOpenError is not fatal: log it and run the rest of the
			// process with caching disabled rather than refusing to serve
			// files the transcode cache has nothing to do with.
			slog.Error("failed to open transcode cache, continuing with caching disabled", "error", err)
			fileCache = nil
		}
	} else {
		slog.Info("transcode cache disabled by configuration")
	}

	adm := admission.NewController(cfg.MaxParallelTranscodes)
	gateway := transcode.NewGateway(cfg.EncoderBinary)
	ioq := ioqueue.New(cfg.MaxParallelTranscodes + 1)

	d := dispatch.New(collections, fileCache, adm, gateway, ioq)

	a := auth.New(auth.Config{
		Username:  cfg.AdminUsername,
		Password:  cfg.AdminPassword,
		JWTSecret: cfg.JWTSecret,
	})

	srv := server.New(cfg, d, a, fileCache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
		<-sigChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "listen" {
			slog.Error("failed to bind listening socket", "error", err)
			os.Exit(exitCodeBindFailure)
		}
		slog.Error("server error", "error", err)
		os.Exit(exitCodeConfigError)
	}

	slog.Info("shutting down gracefully...")
	time.Sleep(time.Duration(cfg.ShutdownGraceMillis) * time.Millisecond)
	slog.Info("server stopped")
}
