// Package server assembles the reporter HTTP API: the catalog and run
// routers, the screenshot file handler, and the common middleware.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/redstone-qa/reporter/pkg/catalog"
	"github.com/redstone-qa/reporter/pkg/config"
	"github.com/redstone-qa/reporter/pkg/db"
	"github.com/redstone-qa/reporter/pkg/runs"
	"github.com/redstone-qa/reporter/pkg/screenshots"
)

// Server owns the stores and the assembled router.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *gorm.DB
	catalog *catalog.CatalogStore
	runs    *runs.RunStore
	shots   *screenshots.FileStore
	sweeper *screenshots.Sweeper
	router  chi.Router
	httpSrv *http.Server
}

// New connects the database, migrates the schema, and builds the stores
// and router.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	gormDB, err := db.Connect(cfg.DatabaseType, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}

	catalogStore := catalog.NewCatalogStore(gormDB)
	if err := catalogStore.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	shots := screenshots.NewFileStore(cfg.ScreenshotDir, logger)

	runStore := runs.NewRunStore(gormDB, shots, logger)
	if err := runStore.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrating run schema: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		db:      gormDB,
		catalog: catalogStore,
		runs:    runStore,
		shots:   shots,
	}
	if cfg.SweepEnabled {
		s.sweeper = screenshots.NewSweeper(shots, runStore, cfg.SweepInterval, cfg.SweepMinAge, logger)
	}
	s.router = s.mountRoutes()
	return s, nil
}

func (s *Server) mountRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		catalog.RegisterRoutes(r, s.catalog)
		runs.RegisterRoutes(r, s.runs, s.shots, s.logger)
	})
	r.Mount("/screenshots", s.shots.Handler())

	r.Get("/healthz", s.healthHandler)

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Router returns the assembled handler, for tests and embedding.
func (s *Server) Router() chi.Router { return s.router }

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully. The screenshot sweeper runs alongside when enabled.
func (s *Server) Run(ctx context.Context) error {
	if s.sweeper != nil {
		go s.sweeper.Run(ctx)
	}

	s.httpSrv = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.ListenAddr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
