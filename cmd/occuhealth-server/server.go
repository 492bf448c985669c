package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/occuhealth/occuhealth/internal/config"
	"github.com/occuhealth/occuhealth/internal/domain/absence"
	"github.com/occuhealth/occuhealth/internal/domain/atcaracterizacion"
	"github.com/occuhealth/occuhealth/internal/domain/attracking"
	"github.com/occuhealth/occuhealth/internal/domain/emo"
	"github.com/occuhealth/occuhealth/internal/domain/employee"
	"github.com/occuhealth/occuhealth/internal/domain/pve"
	"github.com/occuhealth/occuhealth/internal/domain/recommendation"
	"github.com/occuhealth/occuhealth/internal/domain/records"
	"github.com/occuhealth/occuhealth/internal/importer"
	"github.com/occuhealth/occuhealth/internal/platform/auth"
	"github.com/occuhealth/occuhealth/internal/platform/blobstore"
	"github.com/occuhealth/occuhealth/internal/platform/cache"
	"github.com/occuhealth/occuhealth/internal/platform/db"
	"github.com/occuhealth/occuhealth/internal/platform/docstore"
	"github.com/occuhealth/occuhealth/internal/platform/events"
	"github.com/occuhealth/occuhealth/internal/platform/metrics"
	"github.com/occuhealth/occuhealth/internal/platform/middleware"
	"github.com/occuhealth/occuhealth/internal/platform/notification"
	"github.com/occuhealth/occuhealth/internal/platform/websocket"
	"github.com/occuhealth/occuhealth/migrations"
)

const version = "0.1.0"

// server holds the wired echo instance and everything that must be closed
// when it stops.
type server struct {
	echo    *echo.Echo
	pingers map[string]db.Pinger
	closers []func() error
}

func (s *server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	srv, err := newServer(context.Background(), cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn().Err(err).Msg("close failed")
		}
	}()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = srv.echo.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.echo.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer connects the backends selected by cfg and registers every route.
func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	s := &server{pingers: make(map[string]db.Pinger)}
	if err := s.wire(ctx, cfg, logger); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *server) wire(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	policy, err := cfg.CancelPolicy()
	if err != nil {
		return err
	}

	// Storage
	store, err := s.openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var pending importer.PendingStore = importer.NewMemoryPendingStore()
	if cfg.RedisURL != "" {
		rc, err := cache.NewClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		s.closers = append(s.closers, rc.Close)
		s.pingers["redis"] = rc
		store = docstore.NewCachedStore(store, rc, cfg.CollectionCacheTTL, logger)
		pending = importer.NewRedisPendingStore(rc)
		logger.Info().Msg("collection cache and pending imports on redis")
	}

	// Import events
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		publisher = kp
		s.closers = append(s.closers, kp.Close)
	}

	// Mail
	var sender notification.EmailSender = notification.LogSender{Logger: logger}
	if cfg.SMTPHost != "" {
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	mailer := notification.NewManager(sender, notification.NewTemplateEngine(), logger)

	hub := websocket.NewHub(logger)

	// Attachments
	blobs, err := blobstore.NewFileStore(cfg.AttachmentsDir)
	if err != nil {
		return fmt.Errorf("attachments store: %w", err)
	}
	uploader := blobstore.NewUploader(blobs, strings.TrimRight(cfg.PublicBaseURL, "/")+"/api/v1/attachments")

	registry, err := importer.NewRegistry(
		employee.Entity(),
		absence.Entity(),
		attracking.Entity(),
		atcaracterizacion.Entity(),
		emo.Entity(),
		recommendation.Entity(),
		pve.Entity(),
	)
	if err != nil {
		return err
	}
	importSvc := importer.NewService(registry, store, pending, importer.Config{
		PendingTTL:       cfg.ImportPendingTTL,
		CancelPolicy:     policy,
		Concurrency:      cfg.ImportCommitConcurrency,
		Location:         loc,
		NotifyRecipients: cfg.ImportNotifyRecipients,
	}, logger, importer.WithBroadcaster(hub), importer.WithPublisher(publisher), importer.WithMailer(mailer))

	authMW, err := authMiddleware(cfg)
	if err != nil {
		return err
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s.echo = e

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadMaxSize))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(s.pingers))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// Audit runs inside the tenant middleware so entries land in the
	// caller's tenant.
	apiV1 := e.Group("/api/v1",
		authMW,
		db.TenantMiddleware(cfg.DefaultTenant),
		middleware.RateLimit(rateLimitCfg),
		middleware.Audit(logger, &middleware.DocumentRecorder{Store: store}),
	)

	deps := records.Deps{Hub: hub, Uploader: uploader, Logger: logger}
	notifier := recommendation.NewNotifier(mailer, cfg.RecommendationNotifyRecipients, logger)

	records.NewHandler(employee.NewService(store, deps)).RegisterRoutes(apiV1)
	records.NewHandler(absence.NewService(store, deps)).RegisterRoutes(apiV1)
	records.NewHandler(attracking.NewService(store, deps)).RegisterRoutes(apiV1)
	records.NewHandler(atcaracterizacion.NewService(store, deps)).RegisterRoutes(apiV1)
	records.NewHandler(emo.NewService(store, deps)).RegisterRoutes(apiV1)
	records.NewHandler(recommendation.NewService(store, deps, notifier)).RegisterRoutes(apiV1)
	records.NewHandler(pve.NewService(store, deps)).RegisterRoutes(apiV1)

	importer.NewHandler(importSvc).RegisterRoutes(apiV1)
	blobstore.NewHandler(blobs, uploader).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins, logger).RegisterRoutes(apiV1)

	logger.Info().
		Str("docstore", cfg.DocstoreDriver).
		Str("auth_mode", cfg.ResolvedAuthMode()).
		Int("entities", len(registry.All())).
		Msg("server wired")
	return nil
}

// openStore opens the document store named by DOCSTORE_DRIVER. On postgres
// the default tenant's schema is created and migrated.
func (s *server) openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (docstore.Store, error) {
	switch cfg.DocstoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		s.pingers["database"] = pool
		if err := db.CreateTenantSchema(ctx, pool, cfg.DefaultTenant, db.NewMigrator(pool, migrations.FS)); err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")
		return docstore.NewPGStore(pool), nil
	case config.DriverSQLite:
		st, err := docstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, st.Close)
		s.pingers["database"] = st
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite store")
		return st, nil
	case config.DriverMemory:
		st := docstore.NewMemoryStore()
		s.pingers["database"] = st
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		return st, nil
	}
	return nil, fmt.Errorf("unknown docstore driver %q", cfg.DocstoreDriver)
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	switch mode := cfg.ResolvedAuthMode(); mode {
	case config.AuthModeDevelopment:
		return auth.DevAuthMiddleware(), nil
	case config.AuthModeToken:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	case config.AuthModeExternal:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}
