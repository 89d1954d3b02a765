package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/tile-arena/internal/config"
	"github.com/wfunc/tile-arena/internal/game"
	"github.com/wfunc/tile-arena/internal/middleware"
	"github.com/wfunc/tile-arena/internal/utils"
	ws "github.com/wfunc/tile-arena/internal/websocket"
)

// Dependencies 路由依赖，DB与Redis可为空
type Dependencies struct {
	Config      *config.Config
	Coordinator *game.Coordinator
	Hub         *ws.Hub
	Tokens      *utils.JWTManager
	DB          *gorm.DB
	Redis       redis.UniversalClient
	Logger      *zap.Logger
}

// Router API路由器
type Router struct {
	engine         *gin.Engine
	deps           Dependencies
	authHandler    *AuthHandler
	matchHandler   *MatchHandler
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(deps Dependencies) *Router {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())

	router := &Router{
		engine:         engine,
		deps:           deps,
		authHandler:    NewAuthHandler(deps.Tokens, log),
		matchHandler:   NewMatchHandler(deps.Coordinator, log),
		wsHandler:      NewWebSocketHandler(deps.Hub, deps.Config.WebSocket, log.Named("websocket")),
		authMiddleware: middleware.NewAuthMiddleware(deps.Tokens),
		log:            log,
	}
	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	wsPath := r.deps.Config.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.engine.GET(wsPath, r.authMiddleware.OptionalAuth(), r.wsHandler.Connect)

	v1 := r.engine.Group("/api/v1")
	{
		if r.deps.Config.Security.DevTokens {
			v1.POST("/auth/token", r.authHandler.IssueToken)
		}

		matches := v1.Group("/matches")
		{
			matches.GET("", r.matchHandler.ListMatches)
			matches.GET("/:id", r.matchHandler.GetMatch)
			matches.GET("/:id/players", r.matchHandler.GetPlayers)
			matches.GET("/:id/audit", r.matchHandler.AuditMatch)

			authRequired := matches.Group("")
			authRequired.Use(r.authMiddleware.RequireAuth())
			{
				authRequired.POST("", r.matchHandler.CreateMatch)
				authRequired.POST("/join-by-code", r.matchHandler.JoinByCode)
				authRequired.POST("/:id/join", r.matchHandler.JoinMatch)
				authRequired.POST("/:id/cancel", r.matchHandler.CancelMatch)
			}
		}
	}

	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "not_found",
			Message: "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if r.deps.DB != nil {
		sqlDB, err := r.deps.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			healthy = false
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}
	if r.deps.Redis != nil {
		if err := r.deps.Redis.Ping(ctx).Err(); err != nil {
			healthy = false
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"checks":      checks,
		"connections": r.deps.Hub.GetOnlineCount(),
	})
}

// Handler 返回http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
