package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"match-escrow-system/config"
	"match-escrow-system/handlers"
	"match-escrow-system/middleware"
	"match-escrow-system/models"
	"match-escrow-system/realtime"
	"match-escrow-system/services"
	"match-escrow-system/utils"
	"match-escrow-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogPretty)

	db, err := utils.OpenDatabase(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database unavailable")
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := services.DefaultMetrics()
	ledger := services.NewLedgerService(db, services.LedgerOptions{
		Currency:  cfg.Currency,
		Precision: cfg.CurrencyPrecision,
		Metrics:   metrics,
	}, logger)
	governance := services.NewGovernanceService(db, cfg.Currency, logger)
	players := services.NewPlayerService(db, cfg.Currency, logger)
	settings := services.NewSettingsService(db)
	records := services.NewMatchRecordStore(db)

	root, err := governance.EnsureRoot(ctx, cfg.RootNodeName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap root node")
	}
	logger.Info().Uint("root_node_id", root.ID).Msg("✅ hierarchy root ready")

	registry := services.NewMatchRegistry(cfg.EntryFee, metrics)

	// Nothing is live yet: every held stake belongs to a match lost in a restart.
	if n, err := ledger.ReleaseStaleHolds(ctx, 0, registry.IsLive); err != nil {
		logger.Error().Err(err).Msg("startup hold recovery incomplete")
	} else if n > 0 {
		logger.Warn().Int("holds", n).Msg("released holds left by a previous run")
	}

	hub := realtime.NewHub(logger)
	orchestrator := services.NewOrchestrator(registry, ledger, hub, records, services.OrchestratorConfig{
		EntryFee:            cfg.EntryFee,
		WinThreshold:        cfg.WinThreshold,
		PlatformFeeFraction: cfg.PlatformFeeFraction,
		Currency:            cfg.Currency,
		Precision:           cfg.CurrencyPrecision,
		DisconnectPolicy:    cfg.DisconnectPolicy,
		LedgerTimeout:       cfg.LedgerCallTimeout,
	}, logger)

	sched, err := services.StartMaintenanceScheduler(ledger, registry, metrics, services.MaintenanceOptions{
		HoldTTL: cfg.HoldTTL,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	if cfg.R2.Enabled() {
		store, err := utils.NewR2Store(ctx, utils.R2Options{
			AccountID:       cfg.R2.AccountID,
			AccessKeyID:     cfg.R2.AccessKeyID,
			AccessKeySecret: cfg.R2.AccessKeySecret,
			Bucket:          cfg.R2.Bucket,
			CDNBaseURL:      cfg.R2.CDNBaseURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		go workers.NewReceiptArchiver(records, store, logger).Run(ctx, cfg.ArchiveInterval)
	} else {
		logger.Warn().Msg("⚠️  R2 not configured, match receipts stay in the database only")
	}

	app := fiber.New(fiber.Config{
		AppName:               "match-escrow-system",
		DisableStartupMessage: true,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Service-Token, X-Node-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// 🔐 GLOBAL: Only Gateway requests allowed, health check excepted
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken, logger, "/healthz"))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	realtime.NewGateway(hub, orchestrator, logger).SetupRoutes(app)
	handlers.SetupRoutes(app, handlers.Deps{
		Ledger:              ledger,
		Governance:          governance,
		Players:             players,
		Settings:            settings,
		Registry:            registry,
		ServiceKey:          cfg.ServiceAPIKey,
		PlatformFeeFraction: cfg.PlatformFeeFraction,
		Logger:              logger,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	logger.Info().Str("port", cfg.Port).Msgf("✅ Server running on http://localhost:%s", cfg.Port)
	logger.Info().Strs("origins", cfg.AllowedOrigins).Msg("✅ CORS configured")

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := sched.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("scheduler shutdown failed")
	}
}
