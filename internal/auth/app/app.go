package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	httpapi "github.com/edportal/sessionauth/internal/auth/http"
	"github.com/edportal/sessionauth/internal/auth/metrics"
	"github.com/edportal/sessionauth/internal/auth/service"
	"github.com/edportal/sessionauth/internal/auth/store"
	"github.com/edportal/sessionauth/internal/auth/store/drivers/memory"
	"github.com/edportal/sessionauth/internal/auth/store/drivers/postgres"
	"github.com/edportal/sessionauth/internal/auth/store/drivers/redis"
	"github.com/edportal/sessionauth/internal/auth/store/drivers/sqlite"
	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/edportal/sessionauth/pkg/httpx"
	"github.com/edportal/sessionauth/pkg/jwtx"
	"github.com/edportal/sessionauth/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"

	// storeConnectTimeout bounds the startup retries against Redis.
	storeConnectTimeout = 30 * time.Second
)

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	directory store.Directory
	sessions  store.Sessions
	codec     *jwtx.Codec
	registry  *prometheus.Registry
	metrics   *metrics.Metrics

	authService *service.AuthService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "auth-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Pepper for password hashing
	if err := cryptox.LoadPepperFile(app.cfg.PepperFile); err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}

	ctx := context.Background()

	if err := app.initDirectory(ctx); err != nil {
		return nil, err
	}

	if err := app.initSessions(ctx); err != nil {
		_ = app.directory.Close()
		return nil, err
	}

	codec, err := InitCodec(app.cfg, app.logger)
	if err != nil {
		app.closeStores()
		return nil, err
	}
	app.codec = codec

	app.initMetrics()
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.logger.Info("auth service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"session_store", app.cfg.SessionStore,
		"directory", app.cfg.DirectoryDriver,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.closeStores()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// Handler returns the fully wired HTTP handler without starting a listener.
func (app *Application) Handler() http.Handler { return app.router }

// Close releases the stores. Use it instead of Shutdown when Run was never
// called.
func (app *Application) Close() error { return app.closeStores() }

func (app *Application) closeStores() error {
	var errs []error
	if err := app.sessions.Close(); err != nil {
		app.logger.Error("error closing session store", "error", err)
		errs = append(errs, err)
	}
	if err := app.directory.Close(); err != nil {
		app.logger.Error("error closing directory", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// initDirectory opens the identity directory. The SQLite directory owns its
// schema; the Postgres one reads the portal's users table.
func (app *Application) initDirectory(ctx context.Context) error {
	switch app.cfg.DirectoryDriver {
	case "postgres":
		dir, err := postgres.Open(ctx, app.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres directory: %w", err)
		}
		app.directory = dir

	default:
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
		dir, err := sqlite.Open(dsn)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		if err := dir.ApplyMigrations(); err != nil {
			_ = dir.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		app.logger.Info("database migrations applied successfully")
		app.directory = dir
	}
	return nil
}

// initSessions connects the session store. Redis is retried with backoff so
// the service can start alongside it.
func (app *Application) initSessions(ctx context.Context) error {
	if app.cfg.SessionStore == "memory" {
		app.logger.Warn("using in-memory session store; sessions are lost on restart and not shared between instances")
		app.sessions = memory.NewSessions()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	sessions, err := backoff.RetryNotifyWithData(
		func() (*redis.Sessions, error) {
			return redis.Open(ctx, redis.Config{
				Addr:      app.cfg.Redis.Addr,
				Password:  app.cfg.Redis.Password,
				DB:        app.cfg.Redis.DB,
				KeyPrefix: app.cfg.Redis.KeyPrefix,
				Timeout:   app.cfg.Redis.Timeout,
			})
		},
		backoff.WithContext(policy, ctx),
		func(err error, wait time.Duration) {
			app.logger.Warn("session store not reachable, retrying", "addr", app.cfg.Redis.Addr, "wait", wait, "error", err)
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to session store: %w", err)
	}

	app.sessions = sessions
	return nil
}

func (app *Application) initMetrics() {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.authService = &service.AuthService{
		Directory: app.directory,
		Sessions:  app.sessions,
		Codec:     app.codec,
		Metrics:   app.metrics,
		TTL:       app.cfg.TTLPolicy(),
	}
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.codec,
		BuildVersion,
		app.authService,
		app.logger,
	)
	router.Cookies = httpx.CookieConfig{
		Domain: app.cfg.CookieDomain,
		Secure: app.cfg.Production(),
	}
	if app.cfg.MetricsEnabled {
		router.Gatherer = app.registry
	}
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
