package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"userbackend/internal/account"
	"userbackend/internal/api/auth"
	"userbackend/internal/api/middleware"
	"userbackend/internal/config"
	"userbackend/internal/pkg/identitycache"
	"userbackend/internal/pkg/metrics"
	"userbackend/internal/pkg/notify"
	"userbackend/internal/pkg/password"
	"userbackend/internal/pkg/resettoken"
	"userbackend/internal/pkg/token"
	"userbackend/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、可选的 Redis 客户端以及 Gin 路由引擎。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	users  *store.UserStore
	hasher *password.Hasher
	cache  *identitycache.Cache
	auth   *auth.Handler
	gate   *middleware.Gate
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接数据库并执行自动迁移
// 2. 连接 Redis（未配置地址时跳过，身份缓存退化为直接查库）
// 3. 组装账户服务、认证网关与路由
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			closeDB(db)
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	users := store.NewUserStore(db)
	hasher := password.NewHasher(cfg.App.BcryptCost)
	issuer := token.NewIssuer(cfg.Security.JWTSecret, cfg.EffectiveTokenTTL())
	cache := identitycache.NewCache(rdb, cfg.App.IdentityCacheTTL)

	svc := account.NewService(account.Deps{
		Store:         users,
		Hasher:        hasher,
		Tokens:        issuer,
		Resets:        resettoken.NewManager(users, cfg.App.ResetTokenTTL),
		Mailer:        notify.NewEmailNotifier(&cfg.Email, logger),
		Cache:         cache,
		ResetLinkBase: cfg.Security.ResetLinkBase,
		Logger:        logger,
	})

	// 初始化 Prometheus 指标
	metrics.InitMetrics()

	if cfg.Env() == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rdb:    rdb,
		router: r,
		users:  users,
		hasher: hasher,
		cache:  cache,
		auth:   auth.NewHandler(svc, logger),
		gate:   middleware.NewGate(issuer, svc, logger),
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Working")
	})

	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	auth.RegisterRoutes(s.router.Group("/api/v1/user"), s.auth, s.gate)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "database"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
