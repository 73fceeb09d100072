package main

import (
	"context"

	"github.com/joho/godotenv"

	"parley/internal/app"
	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/shutdown"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	fl := config.ParseCommandFlags()
	cfg := config.LoadEffective(fl)

	logger.InitWithLevel(cfg.Logging.Level, cfg.Logging.Sink)

	verStr := version
	if commit != "none" {
		verStr += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr += " @ " + buildDate
	}

	a, err := app.New(cfg, verStr)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Storage.DBPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server failed", err, cfg.Storage.DBPath)
	}
}
