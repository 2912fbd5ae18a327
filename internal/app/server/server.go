package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/platform/config"
	"kpiboard/internal/platform/metrics"
	"kpiboard/internal/store"
	"kpiboard/internal/store/postgres"
	"kpiboard/internal/store/workbook"
	"kpiboard/internal/transport/http/api"
	actionshandler "kpiboard/internal/transport/http/handlers/actions"
	authhandler "kpiboard/internal/transport/http/handlers/auth"
	dashboardhandler "kpiboard/internal/transport/http/handlers/dashboard"
	reportshandler "kpiboard/internal/transport/http/handlers/reports"
	"kpiboard/internal/transport/http/middleware"
)

type App struct {
	Config  config.Config
	Store   store.Store
	Metrics *metrics.Collector
	Router  http.Handler

	cancelWatcher context.CancelFunc
}

// New builds the store, seeds it and wires the router. The caller owns
// the listener; tests mount App.Router on httptest servers.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Metrics: metrics.New()}

	switch cfg.StoreDriver {
	case config.DriverWorkbook:
		wb, err := workbook.Open(cfg.WorkbookPath)
		if err != nil {
			return nil, err
		}
		if err := wb.Seed(ctx, cfg.SeedAdminName, cfg.SeedAdminKey); err != nil {
			_ = wb.Close()
			return nil, fmt.Errorf("seed workbook: %w", err)
		}
		app.Store = wb
		if cfg.WatchWorkbook {
			watchCtx, cancel := context.WithCancel(context.Background())
			app.cancelWatcher = cancel
			go func() {
				if err := workbook.Watch(watchCtx, wb, slog.Default()); err != nil {
					slog.Warn("workbook watcher exited", "err", err)
				}
			}()
		}
	case config.DriverPostgres:
		pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if err := pg.Seed(ctx, cfg.SeedAdminName, cfg.SeedAdminKey); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
		app.Store = pg
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	app.Router = app.buildRouter()
	return app, nil
}

func (a *App) buildRouter() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(a.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(a.Config.Environment == "production"))
	router.Use(middleware.BodyLimit(a.Config.MaxBodyBytes))
	router.Use(middleware.Auth(a.Config.JWTSecret))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Store.Ping(ctx); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(a.Config.RateLimitPerMinute, time.Minute))

		authH := authhandler.NewHandler(a.Store, a.Config.JWTSecret, a.Config.TokenTTL)
		r.With(middleware.LoginRateLimit(a.Config.RateLimitPerMinute, time.Minute)).
			Post("/auth/login", authH.HandleLogin)
		r.Post("/auth/logout", authH.HandleLogout)

		dashboardhandler.NewHandler(a.Store).RegisterRoutes(r)
		actionshandler.NewHandler(a.Store, a.Metrics).RegisterRoutes(r)
		reportshandler.NewHandler(a.Store).RegisterRoutes(r)

		if a.Config.MetricsEnabled {
			r.With(middleware.RequireAdmin).Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
				api.Success(w, a.Metrics.Snapshot(), middleware.GetRequestID(req.Context()))
			})
		}
	})

	return router
}

func (a *App) Close() {
	if a.cancelWatcher != nil {
		a.cancelWatcher()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
