// MIT License
//
// Copyright (c) 2026 halog contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"halog/internal/api"
	"halog/internal/banner"
	"halog/internal/config"
	"halog/internal/database"
	"halog/internal/database/models"
	"halog/internal/database/repositories"
	"halog/internal/enrichment"
	"halog/internal/ingestion"
	parsers "halog/internal/parser"
	"halog/internal/version"

	"github.com/pterm/pterm"
)

const geoIPCacheSize = 10000

func main() {
	configPath := flag.String("config", "halog.yaml", "path to the configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		pterm.Printfln("halog %s", version.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		pterm.DefaultLogger.Fatal("Failed to load configuration",
			pterm.DefaultLogger.Args("path", *configPath, "error", err))
	}

	logger := pterm.DefaultLogger.WithLevel(logLevel(cfg.Logging.Level))

	banner.Print()
	logger.Info("Starting halog",
		logger.Args("version", version.Version, "config", *configPath))

	// Database
	db, err := database.NewConnection(&database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		AutoTuning:   cfg.Database.MaxOpenConns == 0,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open database", logger.Args("error", err))
	}

	sourceRepo := repositories.NewLogSourceRepository(db)
	sessionRepo := repositories.NewSessionRepository(db, logger)
	statsRepo := repositories.NewStatsRepository(db, logger)

	// GeoIP enrichment, optional
	geoIP, err := enrichment.NewGeoIPEnricher(
		cfg.GeoIP.CityDBPath,
		cfg.GeoIP.ASNDBPath,
		db,
		logger,
		geoIPCacheSize,
	)
	if err != nil {
		logger.Warn("GeoIP enrichment disabled", logger.Args("error", err))
		geoIP = nil
	} else if geoIP.IsEnabled() {
		if err := geoIP.LoadCache(); err != nil {
			logger.Warn("Failed to preload GeoIP cache", logger.Args("error", err))
		}
	}

	// Retention cleanup
	cleanup := database.NewCleanupService(db, logger, cfg.Database.RetentionDays, true)
	cleanup.Start()

	// Ingestion
	registry := parsers.NewRegistry(logger)
	coordinator := ingestion.NewCoordinator(
		sourceRepo,
		sessionRepo,
		registry,
		geoIP,
		logger,
		cfg.Ingestion.BatchSize,
		cfg.Ingestion.WorkerPoolSize,
	)

	sources := make([]*models.LogSource, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, &models.LogSource{
			Name:       src.Name,
			Path:       src.Path,
			ParserType: src.Parser,
		})
	}
	if err := coordinator.RegisterSources(sources); err != nil {
		logger.Fatal("Failed to register log sources", logger.Args("error", err))
	}
	if err := coordinator.Start(); err != nil {
		logger.Fatal("Failed to start ingestion", logger.Args("error", err))
	}
	coordinator.StartSyncLoop(30 * time.Second)

	// API
	server := api.NewServer(cfg.API.Listen, api.Deps{
		SessionRepo:    sessionRepo,
		StatsRepo:      statsRepo,
		CleanupService: cleanup,
		Coordinator:    coordinator,
		DBPath:         cfg.Database.Path,
		RetentionDays:  cfg.Database.RetentionDays,
	}, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("API server failed", logger.Args("error", err))
		}
	}()

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", logger.Args("error", err))
	}

	coordinator.Stop()
	cleanup.Stop()

	if geoIP != nil {
		if err := geoIP.Close(); err != nil {
			logger.Warn("Failed to close GeoIP databases", logger.Args("error", err))
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info("halog stopped")
}

func logLevel(level string) pterm.LogLevel {
	switch level {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "warn":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	default:
		return pterm.LogLevelInfo
	}
}
