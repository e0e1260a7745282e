package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/audit"
	"github.com/flowmetric/telemetry-engine/pkg/auth"
	"github.com/flowmetric/telemetry-engine/pkg/config"
	"github.com/flowmetric/telemetry-engine/pkg/database"
	"github.com/flowmetric/telemetry-engine/pkg/handlers"
	"github.com/flowmetric/telemetry-engine/pkg/logging"
	"github.com/flowmetric/telemetry-engine/pkg/middleware"
	"github.com/flowmetric/telemetry-engine/pkg/partition"
	"github.com/flowmetric/telemetry-engine/pkg/repositories"
	"github.com/flowmetric/telemetry-engine/pkg/retry"
	"github.com/flowmetric/telemetry-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.Int("retention_months", cfg.Retention.Months))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Migrations run over database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	// Storage layer
	partitions := partition.NewManager(logger)
	eventRepo := repositories.NewEventRepository(partitions)
	workflowRepo := repositories.NewWorkflowRepository(partitions)
	auditRepo := repositories.NewAuditRepository()
	statsRepo := repositories.NewStatsRepository()

	// Services
	securityAuditor := audit.NewSecurityAuditor(logger)
	auditSvc := services.NewAuditService(db, auditRepo, logger)
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Ingest.MaxRetries
	telemetrySvc := services.NewTelemetryService(db, eventRepo, workflowRepo, auditSvc, securityAuditor, retryCfg, logger)
	statsSvc := services.NewStatsService(db, statsRepo, auditSvc, cfg.Stats.DefaultWindowDays, cfg.Stats.ActivityDays, logger)
	retentionSvc := services.NewRetentionService(db, eventRepo, workflowRepo, auditSvc, partitions, cfg.Retention.Months, logger)

	// Authentication
	verifier, err := auth.NewTokenVerifier(&auth.VerifierConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		Issuers:            cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to create token verifier", zap.Error(err))
	}
	defer verifier.Close()
	authSvc := auth.NewAuthService(verifier, cfg.Auth.AdminRole, logger)
	authMiddleware := auth.NewMiddleware(authSvc, securityAuditor, logger)

	// HTTP surface
	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	ingestHandler := handlers.NewIngestHandler(telemetrySvc, logger)
	ingestHandler.RegisterRoutes(mux, authMiddleware.Classify)

	adminHandler := handlers.NewAdminHandler(telemetrySvc, statsSvc, auditSvc, retentionSvc, logger)
	adminHandler.RegisterRoutes(mux, authMiddleware.RequirePrivileged)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting telemetry-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
