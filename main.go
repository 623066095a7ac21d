package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"eqas-cloud/internal/audit"
	"eqas-cloud/internal/auth"
	"eqas-cloud/internal/observability/metrics"
	vocabapp "eqas-cloud/internal/vocab/application"
	vocab "eqas-cloud/internal/vocab/domain"
	"eqas-cloud/internal/vocab/infrastructure/cache"
	"eqas-cloud/internal/vocab/infrastructure/memory"
	vocabrepo "eqas-cloud/internal/vocab/infrastructure/postgres"
	vocabhttp "eqas-cloud/internal/vocab/interfaces/http"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db          *sql.DB
		store       vocab.Store
		auditLogger audit.Logger
	)
	switch cfg.Store {
	case storeMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		store = memory.NewStore()
		auditLogger = audit.NewMemoryLog(0)
	default:
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db open error", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("db ping error", zap.Error(err))
		}
		store = vocabrepo.NewStore(db)
		auditLogger = audit.NewRepository(db)
	}

	metrics.Init(db, logger)

	serviceOpts := []vocabapp.Option{
		vocabapp.WithLogger(logger),
		vocabapp.WithAuditLogger(auditLogger),
	}
	handlerOpts := []vocabhttp.Option{vocabhttp.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer client.Close()
		readCache, err := cache.NewCache(client, logger, cache.WithTTL(cfg.CacheTTL))
		if err != nil {
			logger.Fatal("cache error", zap.Error(err))
		}
		if err := readCache.Ping(ctx); err != nil {
			logger.Warn("redis unreachable; reads fall through to the store", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		serviceOpts = append(serviceOpts, vocabapp.WithCache(readCache))
		handlerOpts = append(handlerOpts, vocabhttp.WithReadCache(readCache))
	}

	mappingService, err := vocabapp.NewMappingService(store, serviceOpts...)
	if err != nil {
		logger.Fatal("mapping service error", zap.Error(err))
	}
	catalogService, err := vocabapp.NewCatalogService(store, serviceOpts...)
	if err != nil {
		logger.Fatal("catalog service error", zap.Error(err))
	}
	handler, err := vocabhttp.NewHandler(mappingService, catalogService, handlerOpts...)
	if err != nil {
		logger.Fatal("vocab handler error", zap.Error(err))
	}

	var authMiddleware *auth.Middleware
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
		authMiddleware = auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	} else {
		logger.Warn("AUTH_JWT_SECRET not set; /vocab routes are unauthenticated")
	}

	if cfg.RepairInterval > 0 {
		go runRepairLoop(ctx, mappingService, cfg.RepairInterval, logger)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           vocabhttp.NewRouter(handler, authMiddleware, promhttp.Handler(), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", zap.Error(err))
		}
	}()

	logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopmentConfig().Build()
	}
	cfg := zap.NewProductionConfig()
	if parsed, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = parsed
	}
	return cfg.Build()
}

// runRepairLoop periodically promotes a primary topic for vocabularies that
// lost theirs.
func runRepairLoop(ctx context.Context, service *vocabapp.MappingService, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := service.RepairIntegrity(ctx)
			if err != nil {
				logger.Error("scheduled repair failed", zap.Error(err))
				continue
			}
			if summary.RepairedCount > 0 || len(summary.Failures) > 0 {
				logger.Info("scheduled repair finished",
					zap.Int("repaired", summary.RepairedCount),
					zap.Int("failed", len(summary.Failures)),
				)
			}
		}
	}
}
