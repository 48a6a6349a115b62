// Package main is the entry point for the dot-plot server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dotplot-sc/server/internal/api"
	"github.com/dotplot-sc/server/internal/cache"
	"github.com/dotplot-sc/server/internal/config"
	"github.com/dotplot-sc/server/internal/data/expr"
	"github.com/dotplot-sc/server/internal/render"
	"github.com/dotplot-sc/server/internal/service"
	"github.com/dotplot-sc/server/internal/session"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting dot-plot server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		PlotCacheSizeMB: cfg.Cache.PlotSizeMB,
		PlotTTL:         time.Duration(cfg.Cache.PlotTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}

	// Initialize plot renderer (shared across all datasets)
	plotRenderer := render.NewPlotRenderer(render.Config{
		Width:           cfg.Render.Width,
		Height:          cfg.Render.Height,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	log.Printf("Loading %d dataset(s), default: %s", len(datasetIDs), cfg.Data.DefaultDataset)

	// Load each dataset; both sources are fetched joined, so a single
	// unreachable source fails the whole dataset.
	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]

		records, catalog, err := expr.Load(ctx, ds.ExpressionPath, ds.GenesPath)
		if err != nil {
			log.Fatalf("Failed to load dataset %q: %v", datasetID, err)
		}

		log.Printf("  [%s] Expression: %s (%d records)", datasetID, ds.ExpressionPath, len(records))
		log.Printf("  [%s] Catalog: %s (%d genes)", datasetID, ds.GenesPath, catalog.Len())

		plotService := service.NewPlotService(service.PlotServiceConfig{
			DatasetID: datasetID,
			Records:   records,
			Catalog:   catalog,
			Cache:     cacheManager,
			Renderer:  plotRenderer,
			Width:     cfg.Render.Width,
			Height:    cfg.Render.Height,
		})

		registry.Register(datasetID, plotService)
	}

	// Initialize session store for the access gate
	sessions := session.NewStore(session.Config{
		PasswordSHA256: cfg.Auth.PasswordSHA256,
		TTL:            time.Duration(cfg.Auth.SessionTTLMinutes) * time.Minute,
		MaxSessions:    cfg.Auth.MaxSessions,
	})
	if sessions.GateOpen() {
		log.Printf("Access gate: open (no password configured)")
	} else {
		log.Printf("Access gate: enabled, session_ttl=%dm", cfg.Auth.SessionTTLMinutes)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		Sessions:    sessions,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	cacheManager.Close()

	log.Println("Server stopped")
}
