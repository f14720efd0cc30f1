package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"med-eval/internal/config"
	"med-eval/internal/db"
	apihttp "med-eval/internal/http"
	"med-eval/internal/observability"
	"med-eval/internal/repository"
	"med-eval/internal/scoring"
	"med-eval/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	shutdownTracing := observability.InitTracing(ctx, logger, cfg)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	schema := scoring.Default()
	if cfg.ScoringSchemaPath != "" {
		schema, err = loadSchema(cfg.ScoringSchemaPath)
		if err != nil {
			logger.Fatal("scoring schema", zap.String("path", cfg.ScoringSchemaPath), zap.Error(err))
		}
	}
	logger.Info("scoring schema loaded", zap.Int("indicators", schema.Len()), zap.Int("categories", len(schema.Categories())))

	var (
		evaluatorRepo  repository.EvaluatorRepository
		evaluationRepo repository.EvaluationRepository
	)
	if cfg.UsesDatabase() {
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Ping(ctx, pool); err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		if cfg.AutoMigrate {
			if err := db.EnsureSchema(ctx, pool); err != nil {
				logger.Fatal("db schema", zap.Error(err))
			}
		}
		evaluatorRepo = repository.NewPgEvaluatorRepository(pool)
		evaluationRepo = repository.NewPgEvaluationRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store := repository.NewMemoryStore()
		evaluatorRepo = store
		evaluationRepo = store
	}

	loginWindow := time.Duration(cfg.LoginWindowMinutes) * time.Minute
	var (
		loginLimiter = service.NewLoginLimiter(loginWindow, cfg.LoginMaxAttempts)
		tokenStore   service.RefreshTokenStore
		redisClient  *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			loginLimiter = service.NewRedisLoginLimiter(redisClient, loginWindow, cfg.LoginMaxAttempts)
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
		}
		cancel()
	}

	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured, admin endpoints disabled")
	}
	adminGate, err := service.NewAdminGate(cfg.AdminPasscode, loginLimiter)
	if err != nil {
		logger.Fatal("admin gate", zap.Error(err))
	}
	if !adminGate.Enabled() {
		logger.Warn("admin passcode not configured")
	}

	identitySvc := service.NewIdentityService(logger, evaluatorRepo, loginLimiter).WithSessionRevoker(jwtSvc)
	progressStore := service.NewProgressStore(logger, schema, evaluatorRepo, evaluationRepo)
	analyticsSvc := service.NewAnalyticsService(logger, schema, progressStore)

	router := apihttp.NewRouter(logger,
		apihttp.RouterOptions{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			ServiceName:    cfg.OTelServiceName,
			Tracing:        cfg.OTelEnabled,
		},
		jwtSvc,
		apihttp.NewEvaluationHandler(logger, identitySvc, progressStore, jwtSvc),
		apihttp.NewAnalyticsHandler(logger, analyticsSvc),
		apihttp.NewAuthHandler(logger, adminGate, jwtSvc),
		apihttp.NewSchemaHandler(schema),
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func loadSchema(path string) (*scoring.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scoring.Load(f)
}
