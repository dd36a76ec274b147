// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"inkgen-service/internal/config"
	"inkgen-service/internal/db"
	adminHandler "inkgen-service/internal/handlers/admin"
	authHandler "inkgen-service/internal/handlers/auth"
	creditsHandler "inkgen-service/internal/handlers/credits"
	generationHandler "inkgen-service/internal/handlers/generation"
	usageHandler "inkgen-service/internal/handlers/usage"
	wsHandler "inkgen-service/internal/handlers/websocket"
	"inkgen-service/internal/middleware"
	"inkgen-service/internal/pkg/jwt"
	"inkgen-service/internal/pkg/ratelimit"
	"inkgen-service/internal/pkg/session"
	"inkgen-service/internal/pkg/tracker"
	"inkgen-service/internal/repository/postgres"
	adminUsecase "inkgen-service/internal/service/admin"
	auditUsecase "inkgen-service/internal/service/audit"
	authUsecase "inkgen-service/internal/service/auth"
	creditsUsecase "inkgen-service/internal/service/credits"
	"inkgen-service/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger

	pool    *pgxpool.Pool
	redis   *redis.Client
	tracker *tracker.Tracker
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.New()
	return &Server{cfg: cfg, engine: engine}
}

func (s *Server) Start() error {
	ctx := context.Background()

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB()
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	s.pool = pool

	// ----- Redis -----
	redisCfg := db.RedisConfig{
		ClusterMode: false,
		Addresses:   []string{s.cfg.RedisAddr},
		Password:    s.cfg.RedisPass,
		DB:          0,
		PoolSize:    10,
	}

	redisClient, err := db.NewRedisClient(redisCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Println("[REDIS] ✅ Connected successfully")
	s.redis = redisClient

	// ----- Logger -----
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	s.logger = logger

	// ----- JWT Manager -----
	jwtManager, err := jwt.LoadAndBuild(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT manager: %w", err)
	}

	// ----- Business timezone -----
	loc, err := time.LoadLocation(s.cfg.BusinessTimezone)
	if err != nil {
		logger.Warn("invalid business timezone, falling back to UTC",
			zap.String("timezone", s.cfg.BusinessTimezone), zap.Error(err))
		loc = time.UTC
	}

	// ----- Repositories -----
	sessionRepo := postgres.NewSessionRepository(pool)
	usageRepo := postgres.NewUsageRepository(pool)
	configRepo := postgres.NewRateLimitConfigRepository(pool)
	authRepo := postgres.NewAuthRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	dbWrapper := postgres.NewDB(pool)
	creditsRepo := postgres.NewCreditsRepository(dbWrapper)

	// ----- Background write-behind queue -----
	trk := tracker.New(logger, s.cfg.TrackerQueueSize, s.cfg.TrackerWorkers)
	s.tracker = trk

	// ----- Audit trail -----
	auditService := auditUsecase.NewService(auditRepo, trk, logger)

	// ----- WebSocket Hub -----
	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	// ----- Session Manager -----
	sessionManager := session.NewManager(sessionRepo, trk, logger,
		session.WithNotifier(hub),
		session.WithAudit(auditService),
	)
	throttle := session.NewLoginThrottle(redisClient)

	// ----- Rate Limiter -----
	configSource := ratelimit.NewCachedSource(configRepo, redisClient, logger)
	limiter := ratelimit.NewLimiter(configSource, usageRepo, loc, logger,
		ratelimit.WithAudit(auditService),
	)

	// ----- Services (Usecases) -----
	creditsService := creditsUsecase.NewCreditsService(creditsRepo, s.cfg.SignupCredits, logger)
	authService := authUsecase.NewAuthService(
		authRepo,
		jwtManager,
		sessionManager,
		throttle,
		creditsService,
		auditService,
		logger,
	)
	adminService := adminUsecase.NewAdminService(
		configRepo,
		configSource,
		limiter,
		sessionManager,
		authRepo,
		creditsService,
		auditService,
		logger,
	)

	// ----- Background sweeps -----
	go s.runSweeps(ctx, sessionManager, limiter)

	// ----- Handlers -----
	authHandlerInst := authHandler.NewAuthHandler(authService, logger)
	generationHandlerInst := generationHandler.NewGenerationHandler(creditsService, logger)
	usageHandlerInst := usageHandler.NewUsageHandler(limiter, logger)
	adminHandlerInst := adminHandler.NewAdminHandler(adminService, auditService, logger)
	creditsHandlerInst := creditsHandler.NewCreditsHandler(creditsService, logger)
	wsHandlerInst := wsHandler.NewWebSocketHandler(hub, authService, logger)

	// ----- Middlewares -----
	authMiddleware := middleware.NewAuthMiddleware(authService, creditsService, logger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, logger)

	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(),
	)

	// ----- Router -----
	handlers := &Handlers{
		AuthHandler:         authHandlerInst,
		GenerationHandler:   generationHandlerInst,
		UsageHandler:        usageHandlerInst,
		AdminHandler:        adminHandlerInst,
		CreditsHandler:      creditsHandlerInst,
		WSHandler:           wsHandlerInst,
		AuthMiddleware:      authMiddleware,
		RateLimitMiddleware: rateLimitMiddleware,
	}
	SetupRouter(s.engine, logger, handlers)

	// ----- Start HTTP -----
	log.Printf("🚀 Server running on %s", s.cfg.HTTPAddr)
	return s.engine.Run(s.cfg.HTTPAddr)
}

// Shutdown drains the background write queue and closes connections.
func (s *Server) Shutdown(ctx context.Context) {
	if s.tracker != nil {
		if err := s.tracker.Close(ctx); err != nil && s.logger != nil {
			s.logger.Warn("tracker drain incomplete", zap.Error(err))
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// runSweeps drives the periodic storage reclamation: purging session
// rows inactive past retention and usage rows older than the
// configured retention window. Both are cheap and idempotent.
func (s *Server) runSweeps(ctx context.Context, sessionManager *session.Manager, limiter *ratelimit.Limiter) {
	sessionTicker := time.NewTicker(s.cfg.SessionCleanupInterval)
	usageTicker := time.NewTicker(s.cfg.UsageRetentionInterval)
	defer sessionTicker.Stop()
	defer usageTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-sessionTicker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			n, err := sessionManager.CleanupExpired(sweepCtx)
			cancel()
			if err != nil {
				s.logger.Error("session cleanup failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("session cleanup", zap.Int64("deleted", n))
			}

		case <-usageTicker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			n, err := limiter.ResetDailyUsage(sweepCtx)
			cancel()
			if err != nil {
				s.logger.Error("usage retention sweep failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("usage retention sweep", zap.Int64("deleted", n))
			}
		}
	}
}
