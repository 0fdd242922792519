package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/domain/packages"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/settings"
	"github.com/clinic/clinic/internal/domain/worker"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/jobs"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/reporting"
	"github.com/clinic/clinic/internal/platform/websocket"
)

const version = "0.1.0"

func runServer() error {
	ctx := context.Background()
	cfg, pool, err := openPool(ctx)
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to start")
	}
	defer pool.Close()

	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	tokens := auth.NewTokenIssuer(cfg.SigningKey(), cfg.JWTIssuer, cfg.TokenTTL)
	jwtCfg := tokens.Config()
	jwtCfg.Skipper = auth.AuthSkipper
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant, auth.TenantSkipper))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() db.PoolStats { return db.GetPoolStats(pool) }))

	hub := websocket.NewHub(logger)
	svc := newServices(pool, logger, hub)

	settings.NewHandler(svc.settings).RegisterRoutes(apiV1)
	patient.NewHandler(svc.patients).RegisterRoutes(apiV1)
	worker.NewHandler(svc.workers, tokens).RegisterRoutes(apiV1)
	inventory.NewHandler(svc.inventory).RegisterRoutes(apiV1)
	packages.NewHandler(svc.packages).RegisterRoutes(apiV1)
	billing.NewHandler(svc.billing).RegisterRoutes(apiV1)
	appointment.NewHandler(svc.appointments).RegisterRoutes(apiV1)
	reporting.NewHandler(svc.reports).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	if cfg.JobsEnabled {
		scheduler := jobs.NewScheduler(jobs.Config{
			Tenants:      cfg.JobsTenants,
			ReminderLead: cfg.ReminderLead,
		}, func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error {
			return db.WithTenant(ctx, pool, tenant, fn)
		}, svc.appointments, svc.inventory, logger)
		if err := scheduler.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start jobs")
		}
		defer scheduler.Stop()
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// services holds the wired domain services of one process.
type services struct {
	settings     *settings.Service
	patients     *patient.Service
	workers      *worker.Service
	inventory    *inventory.Service
	packages     *packages.Service
	billing      *billing.Service
	appointments *appointment.Service
	reports      *reporting.Service
}

func newServices(pool *pgxpool.Pool, logger zerolog.Logger, pub websocket.Publisher) *services {
	tx := db.NewTransactor(pool)

	settingsSvc := settings.NewService(settings.NewRepoPG(pool))

	patientSvc := patient.NewService(patient.NewRepoPG(pool))
	patientSvc.SetDocumentTypes(settingsSvc)
	patientSvc.SetPublisher(pub)

	workerSvc := worker.NewService(worker.NewRepoPG(pool), logger)

	inventorySvc := inventory.NewService(inventory.NewCategoryRepoPG(pool), inventory.NewProductRepoPG(pool), tx)
	inventorySvc.SetThreshold(settingsSvc)
	inventorySvc.SetPublisher(pub)

	packageSvc := packages.NewService(packages.NewPackageRepoPG(pool), packages.NewPatientPackageRepoPG(pool), tx, patientSvc)
	packageSvc.SetPublisher(pub)

	billingSvc := billing.NewService(billing.NewAbonoRepoPG(pool), billing.NewPaymentRepoPG(pool), billing.NewSaleRepoPG(pool),
		tx, patientSvc, inventorySvc)
	billingSvc.SetMethodProvider(settingsSvc)
	billingSvc.SetPublisher(pub)
	packageSvc.SetPaymentRecorder(billingSvc)

	apptSvc := appointment.NewService(appointment.NewRepoPG(pool), tx, patientSvc, workerSvc, inventorySvc, packageSvc, billingSvc)
	apptSvc.SetDurationDefault(settingsSvc)
	apptSvc.SetPublisher(pub)

	billingSvc.RegisterPayer(billing.TargetAppointment, apptSvc.RegisterPayment)
	billingSvc.RegisterPayer(billing.TargetPatientPackage, packagePayer(tx, packageSvc, billingSvc))
	billingSvc.AddVoidListener(apptSvc)
	billingSvc.AddVoidListener(packageVoids(packageSvc))

	return &services{
		settings:     settingsSvc,
		patients:     patientSvc,
		workers:      workerSvc,
		inventory:    inventorySvc,
		packages:     packageSvc,
		billing:      billingSvc,
		appointments: apptSvc,
		reports:      reporting.NewService(reporting.NewPoolRunner(pool)),
	}
}
