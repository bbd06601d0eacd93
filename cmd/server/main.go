// Proctor server - keystroke and mouse anomaly scoring for online exams
package main

import (
	"context"
	"os"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/config"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/logging"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/server"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	bootLogger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.NewWithOptions(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})

	logger.Info("starting proctor",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"profile", cfg.ProfilePath,
		"keystroke_model", cfg.KeystrokeModelPath,
		"mouse_model", cfg.MouseModelPath,
	)

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	server.Version = Version
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1) //nolint:gocritic // tracing has nothing to flush yet
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
