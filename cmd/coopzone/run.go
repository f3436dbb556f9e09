package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stwalsh4118/coopzone/internal/config"
	"github.com/stwalsh4118/coopzone/internal/database"
	"github.com/stwalsh4118/coopzone/internal/export"
	"github.com/stwalsh4118/coopzone/internal/handlers"
	"github.com/stwalsh4118/coopzone/internal/logger"
	"github.com/stwalsh4118/coopzone/internal/middleware"
	"github.com/stwalsh4118/coopzone/internal/models"
	"github.com/stwalsh4118/coopzone/internal/repository"
	"github.com/stwalsh4118/coopzone/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
)

// app is the wiring shared by both commands.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.Database
	service services.ExclusionService
}

// bootstrap loads configuration and builds the repositories and the service.
// The database is only opened when the input source or the result sink needs it.
func bootstrap(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := newLogger(cfg.Server.Env)
	a := &app{cfg: cfg, log: log}

	if cfg.UsesDatabase() {
		db, err := database.NewPostgresPool(ctx, cfg.Database)
		if err != nil {
			log.Error("Failed to connect to database", err, map[string]interface{}{
				"host": cfg.Database.Host,
				"port": cfg.Database.Port,
				"name": cfg.Database.Name,
			})
			return nil, err
		}
		a.db = db

		log.Info("Database connection established", map[string]interface{}{
			"host":     cfg.Database.Host,
			"port":     cfg.Database.Port,
			"database": cfg.Database.Name,
			"pool_min": cfg.Database.PoolMin,
			"pool_max": cfg.Database.PoolMax,
		})
	}

	var repo repository.InputRepository
	switch cfg.Input.Source {
	case config.SourcePostGIS:
		repo = repository.NewPostGISRepository(a.db)
	default:
		repo = repository.NewFileRepository(repository.FileOptions{
			ParcelsPath:     cfg.Input.ParcelsPath,
			BuildingsPath:   cfg.Input.BuildingsPath,
			BoundaryPath:    cfg.Input.BoundaryPath,
			ZoningTablePath: cfg.Input.ZoningTablePath,
			UseTablePath:    cfg.Input.UseTablePath,
			ParcelIDField:   cfg.Input.ParcelIDField,
			ZoningField:     cfg.Input.ZoningField,
			FacilityIDField: cfg.Input.FacilityIDField,
		})
	}

	var sink repository.ResultRepository
	if cfg.Output.SaveToDatabase {
		if err := a.db.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, err
		}
		sink = repository.NewResultRepository(a.db)
	}

	service, err := services.NewExclusionService(repo, sink, serviceConfig(cfg.Exclusion), log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("invalid exclusion configuration: %w", err)
	}
	a.service = service

	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

// writeOutputs writes the enabled file artifacts of a run.
func (a *app) writeOutputs(set *models.ExclusionSet) ([]string, error) {
	opts := export.Options{
		GeoJSON:  a.cfg.Output.GeoJSON,
		Workbook: a.cfg.Output.Workbook,
		Summary:  a.cfg.Output.Summary,
	}
	if !opts.GeoJSON && !opts.Workbook && !opts.Summary {
		return nil, nil
	}

	written, err := export.WriteAll(a.cfg.Output.Dir, set, opts)
	if err != nil {
		return nil, err
	}
	a.log.Info("Outputs written", map[string]interface{}{
		"dir":   a.cfg.Output.Dir,
		"files": len(written),
	})
	return written, nil
}

func serviceConfig(c config.ExclusionConfig) services.ServiceConfig {
	return services.ServiceConfig{
		DwellingUses:      c.DwellingUses,
		ConsistencyPolicy: c.ConsistencyPolicy,
		AreaTolerance:     c.AreaTolerance,
		MaxWarnings:       c.MaxWarnings,
		Engine: services.EngineConfig{
			Radius:             c.Radius,
			MitreLimit:         c.MitreLimit,
			Workers:            c.Workers,
			SliverArea:         c.SliverArea,
			RequireOwnDwelling: c.RequireOwnDwelling,
			MultiOccupancy:     c.MultiOccupancy,
			ExcludeFootprints:  c.ExcludeFootprints,
		},
	}
}

// newLogger logs to stderr so stdout carries only the run report.
func newLogger(env string) *logger.Logger {
	var out io.Writer = os.Stderr
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return logger.NewWithWriter(out, env)
}

func runCompute(ctx context.Context, configPath, outDir string) error {
	a, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if outDir != "" {
		a.cfg.Output.Dir = outDir
	}

	set, err := a.service.Run(ctx)
	if err != nil {
		return err
	}

	written, err := a.writeOutputs(set)
	if err != nil {
		return err
	}

	printRunReport(os.Stdout, set, written)
	return nil
}

func runServe(ctx context.Context, configPath string) error {
	a, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log

	log.Info("Starting coopzone API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": a.cfg.Server.Env,
		"port":        a.cfg.Server.Port,
	})

	// The API starts with a complete result set.
	store := services.NewResultStore(a.service, log)
	set, err := store.Recompute(ctx)
	if err != nil {
		return err
	}
	if _, err := a.writeOutputs(set); err != nil {
		return err
	}

	if a.cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(ctx, a, store)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", a.cfg.Server.Port),
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": a.cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		log.Error("Server failed to start", err, nil)
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown
	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
	return nil
}

// newRouter registers middleware and routes. Runs started through the API
// are cancelled with ctx.
func newRouter(ctx context.Context, a *app, store *services.ResultStore) *gin.Engine {
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.log))
	router.Use(middleware.Recovery(a.log))
	router.Use(middleware.CORS(a.cfg.CORS.Origins))

	// A nil *database.Database must not become a non-nil Pinger.
	var db handlers.Pinger
	if a.db != nil {
		db = a.db
	}
	healthHandler := handlers.NewHealthHandler(db, store, a.cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)

	exclusionHandler := handlers.NewExclusionHandler(ctx, store)

	// Register API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/summary", exclusionHandler.Summary)
		v1.GET("/layers/:layer", exclusionHandler.Layer)
		v1.POST("/runs", exclusionHandler.Recompute)

		parcels := v1.Group("/parcels")
		{
			parcels.GET("", exclusionHandler.ListParcels)
			parcels.GET("/at-point", exclusionHandler.AtPoint)
			parcels.GET("/:id/exclusion", exclusionHandler.ParcelExclusion)
		}
	}

	return router
}
