// Package app assembles the store and pipeline services from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/cors"

	"github.com/rpattn/outreach-core/internal/audit"
	"github.com/rpattn/outreach-core/internal/config"
	"github.com/rpattn/outreach-core/internal/db"
	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/httpapi"
	"github.com/rpattn/outreach-core/internal/ingestion"
	"github.com/rpattn/outreach-core/internal/middleware"
	"github.com/rpattn/outreach-core/internal/pipeline"
	"github.com/rpattn/outreach-core/internal/repository"
	"github.com/rpattn/outreach-core/internal/repository/memory"
	"github.com/rpattn/outreach-core/pkg/logger"
	"github.com/rpattn/outreach-core/pkg/validator"
)

// App holds the wired services for one process.
type App struct {
	Config     config.Config
	Store      repository.Store
	IDs        *domain.IDScheme
	Validation *pipeline.ValidationService
	Adjuster   *pipeline.Adjuster
	Promotion  *pipeline.PromotionEngine
	Audit      *audit.Logger
	Ingestion  *ingestion.Service

	conn *db.Connection
}

// New opens the configured store and builds the services on top of it. When
// migrate is set, pending schema migrations run before the pool is opened.
func New(ctx context.Context, cfg config.Config, migrate bool) (*App, error) {
	ids, err := domain.NewIDScheme(cfg.Identity)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, IDs: ids}

	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn(ctx, "using in-memory store; data is lost on exit")
		a.Store = memory.NewStore()
	case config.StorageDriverPostgres:
		if migrate {
			if err := db.RunMigrations(cfg.Database); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.conn = conn
		a.Store = repository.NewPostgresStore(conn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	v := validator.NewRecordValidator(ids.Pattern())
	a.Validation = pipeline.NewValidationService(a.Store, v, cfg.Pipeline)
	a.Adjuster = pipeline.NewAdjuster(a.Store, v)
	a.Promotion = pipeline.NewPromotionEngine(a.Store, cfg.Pipeline)
	a.Audit = audit.NewLogger(a.Store.Audit())
	a.Ingestion = ingestion.NewService(a.Store.Intake(), ids, v)
	return a, nil
}

// Health pings the database; the memory store is always healthy.
func (a *App) Health(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Pool.Ping(ctx)
}

// Handler returns the full HTTP stack: CORS, request ids, per-request record
// loaders and request logging around the API routes.
func (a *App) Handler() http.Handler {
	api := httpapi.New(httpapi.Deps{
		Store:      a.Store,
		Validation: a.Validation,
		Adjuster:   a.Adjuster,
		Promotion:  a.Promotion,
		Audit:      a.Audit,
		Ingestion:  a.Ingestion,
		Health:     a.Health,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   a.Config.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	// LoggingMiddleware wraps the mux directly so it sees the matched pattern.
	var h http.Handler = middleware.LoggingMiddleware(api.Routes())
	h = middleware.DataLoaderMiddleware(a.Store.Intake())(h)
	h = middleware.RequestID(h)
	return corsHandler.Handler(h)
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
}
