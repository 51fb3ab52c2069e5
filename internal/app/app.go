package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/olgkv/cyclecount/internal/config"
	"github.com/olgkv/cyclecount/internal/cyclecount"
	"github.com/olgkv/cyclecount/internal/events"
	"github.com/olgkv/cyclecount/internal/gateway"
	"github.com/olgkv/cyclecount/internal/httpapi"
	"github.com/olgkv/cyclecount/internal/metrics"
	"github.com/olgkv/cyclecount/internal/ports"
	"github.com/olgkv/cyclecount/internal/roles"
	"github.com/olgkv/cyclecount/internal/service"
	"github.com/olgkv/cyclecount/internal/storage"
)

const limiterTTL = 10 * time.Minute

// App is the wired application. Stats is only set for the file-backed
// gateway.
type App struct {
	Server  *http.Server
	Service *service.Service
	Stats   func() (int, int)

	closers []func() error
}

// NewServer wires application dependencies and returns the configured HTTP
// server together with the service it exposes.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}
	m := metrics.New()

	gw, err := a.newGateway(ctx, cfg, logger, m)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	ready, err := cyclecount.ParseReadiness(cfg.CompletionReadiness)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("parse COMPLETION_READINESS: %w", err)
	}
	ctrl := cyclecount.NewController(ready, roles.ParseSet(cfg.PermittedRoles))

	var pub ports.EventPublisher = events.Noop{}
	if cfg.RabbitMQURL != "" {
		rp, err := events.NewRabbitPublisher(events.RabbitConfig{URL: cfg.RabbitMQURL, Exchange: cfg.RabbitMQExchange}, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rp.Close)
		pub = rp
	}

	svc := service.New(service.Deps{
		Gateway:    gw,
		Controller: ctrl,
		Roles:      roles.NewResolver(gw, logger, m),
		Events:     pub,
		Metrics:    m,
		Logger:     logger,
	}, service.Config{DefaultPageSize: cfg.DefaultPageSize, MaxPageSize: cfg.MaxPageSize})
	h := httpapi.NewHandler(svc, logger)

	var limiter *ipRateLimiter
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		limiter = newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, limiterTTL)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", httpapi.ActorHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(loggingMiddleware(logger, m))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return rateLimitMiddleware(limiter, next) })
		h.Register(r)
	})

	a.Server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.Service = svc
	return a, nil
}

// newGateway picks the backend: remote API, then PostgreSQL, then the JSON
// file.
func (a *App) newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (ports.Gateway, error) {
	switch {
	case cfg.GatewayURL != "":
		logger.Info("using remote gateway", "url", cfg.GatewayURL)
		return gateway.New(gateway.Config{
			BaseURL:  cfg.GatewayURL,
			Timeout:  cfg.GatewayTimeout,
			Attempts: cfg.GatewayRetries,
		}, nil, logger, m)

	case cfg.DatabaseURL != "":
		logger.Info("using postgres gateway")
		pool, err := storage.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		gw, err := storage.NewPostgresGateway(pool)
		if err != nil {
			return nil, err
		}
		if err := gw.Migrate(ctx); err != nil {
			return nil, err
		}
		return gw, nil

	default:
		logger.Info("using file gateway", "path", cfg.DataFile)
		fg := storage.NewFileGateway(storage.NewJSONRepository(cfg.DataFile))
		if err := fg.Load(); err != nil {
			return nil, fmt.Errorf("load storage: %w", err)
		}
		a.Stats = fg.Stats
		return fg, nil
	}
}

// Close releases the broker and database connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loggingMiddleware(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}

			latency := time.Since(start)
			m.ObserveHTTP(r.Method, route, status, latency)
			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"request_id", middleware.GetReqID(r.Context()),
				"latency_ms", latency.Milliseconds(),
				"status", status,
			)
		})
	}
}
