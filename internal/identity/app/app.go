package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cobaltline/identity/internal/identity/audit"
	httpapi "github.com/cobaltline/identity/internal/identity/http"
	"github.com/cobaltline/identity/internal/identity/service"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/internal/identity/store/drivers/sqlite"
	"github.com/cobaltline/identity/internal/identity/throttle"
	"github.com/cobaltline/identity/pkg/cryptox"
	"github.com/cobaltline/identity/pkg/jwtx"
	"github.com/cobaltline/identity/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application wires the identity service together and owns its lifecycle.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db          store.Store
	redisClient *redis.Client
	dispatcher  *audit.Dispatcher

	authService         *service.AuthService
	tokenService        *service.TokenService
	sessionService      *service.SessionService
	mfaService          *service.MFAService
	permissionService   *service.PermissionService
	bootstrapService    *service.BootstrapService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "identity-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	if seeded, err := app.bootstrapService.BootstrapIfEmpty(context.Background()); err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	} else if seeded {
		app.logger.Info("empty store bootstrapped with default roles and admin account")
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("identity service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown stops the server and releases resources in dependency order.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down identity service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	// Drains buffered audit events before the store goes away.
	app.dispatcher.Close()
	if dropped := app.dispatcher.Dropped(); dropped > 0 {
		app.logger.Warn("audit events dropped during lifetime", "count", dropped)
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("identity service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initServices() error {
	signer, err := jwtx.NewHS256([]byte(app.cfg.SigningSecret), app.cfg.Issuer, app.cfg.Audience)
	if err != nil {
		return fmt.Errorf("initialize token signer: %w", err)
	}

	box, err := cryptox.NewSecretBoxFromFile(app.cfg.MasterKeyFile)
	if err != nil {
		return fmt.Errorf("initialize master key: %w", err)
	}

	app.dispatcher = audit.NewDispatcher(
		&audit.SlogSink{Logger: app.logger},
		app.cfg.AuditBufferSize,
	)

	if app.cfg.RedisAddr != "" {
		app.redisClient = redis.NewClient(&redis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		app.logger.Info("distributed login throttle enabled", "addr", app.cfg.RedisAddr)
	} else {
		app.logger.Warn("no redis configured, login throttling is per-instance only")
	}

	app.tokenService = &service.TokenService{
		Store:      app.db,
		Signer:     signer,
		Audit:      app.dispatcher,
		AccessTTL:  app.cfg.AccessTokenTTL,
		RefreshTTL: app.cfg.RefreshTokenTTL,
	}

	app.sessionService = &service.SessionService{
		Store:             app.db,
		Audit:             app.dispatcher,
		SessionTimeout:    app.cfg.SessionTimeout,
		RememberMeTimeout: app.cfg.RememberMeTimeout,
		MaxConcurrent:     app.cfg.MaxConcurrentSessions,
	}

	app.mfaService = &service.MFAService{
		Store:            app.db,
		Box:              box,
		Audit:            app.dispatcher,
		Issuer:           app.cfg.Issuer,
		LockoutThreshold: app.cfg.MFALockoutThreshold,
		LockoutDuration:  app.cfg.MFALockoutDuration,
	}

	app.permissionService = &service.PermissionService{
		Store: app.db,
		Audit: app.dispatcher,
	}

	app.authService = &service.AuthService{
		Store:    app.db,
		Tokens:   app.tokenService,
		Sessions: app.sessionService,
		MFA:      app.mfaService,
		Throttle: throttle.NewLoginThrottle(app.redisClient, app.cfg.LoginMaxAttempts, app.cfg.LoginAttemptWindow),
		Audit:    app.dispatcher,
	}

	app.bootstrapService = &service.BootstrapService{
		Store:         app.db,
		AdminUsername: app.cfg.BootstrapAdminUsername,
		AdminPassword: app.cfg.BootstrapAdminPassword,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)

	router.AuthService = app.authService
	router.TokenService = app.tokenService
	router.SessionService = app.sessionService
	router.MFAService = app.mfaService
	router.PermissionService = app.permissionService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
