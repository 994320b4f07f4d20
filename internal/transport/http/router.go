package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginSwagger "github.com/swaggo/gin-swagger"
	swaggerFiles "github.com/swaggo/files"
	"go.uber.org/zap"

	"mailrelay/backend/internal/cache"
	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/health"
	"mailrelay/backend/internal/middleware"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/service"
	"mailrelay/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	mailboxes *service.MailboxService
	cache     cache.ListCache
	metrics   *monitoring.Metrics
	log       *zap.Logger
	cacheTTL  time.Duration
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MailboxService *service.MailboxService
	Cache          cache.ListCache           // 列表缓存，为空时不缓存
	Metrics        *monitoring.Metrics       // Prometheus 指标，为空时不暴露 /metrics
	Health         *health.HealthChecker     // 健康检查
	WebSocketHub   *websocket.Hub            // WebSocket Hub
	IngestLimiter  *middleware.IPRateLimiter // 入站接口限流器
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	listCache := deps.Cache
	if listCache == nil {
		listCache = cache.Noop{}
	}

	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(middleware.RequestID())
	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, log)
		router.Use(mm.PanicRecovery())
		router.Use(mm.HTTPMetrics())
	} else {
		router.Use(middleware.RecoveryHandler(log))
	}
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders: []string{
			"Content-Length",
			middleware.RequestIDHeader,
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		mailboxes: deps.MailboxService,
		cache:     listCache,
		metrics:   deps.Metrics,
		log:       log,
		cacheTTL:  deps.Config.Cache.TTL,
	}

	var blockRecorder middleware.BlockRecorder
	if deps.Metrics != nil {
		blockRecorder = deps.Metrics
	}
	ingestLimit := middleware.RateLimitByIP(deps.IngestLimiter, "ingest", blockRecorder, log)
	defaultBody := middleware.BodySizeLimit(middleware.DefaultBodyLimit)
	ingestBody := middleware.BodySizeLimit(middleware.IngestBodyLimit)

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查
	if deps.Health != nil {
		probes := gin.WrapH(http.StripPrefix("/health", deps.Health.Handler()))
		router.GET("/health", handler.healthSummary(deps.Health))
		router.GET("/health/live", probes)
		router.GET("/health/ready", probes)
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	// Prometheus 指标端点
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Address Routes ==========
		v1.GET("/address", handler.generateAddress)
		v1.POST("/address", defaultBody, handler.generateAddress)

		// ========== Message Routes ==========
		v1.POST("/messages", ingestLimit, ingestBody, handler.ingestMessage)
		v1.GET("/messages", handler.listMessages)
		v1.DELETE("/messages", defaultBody, handler.clearMessages)

		// ========== Mailbox Routes ==========
		mailboxRoutes := v1.Group("/mailboxes")
		{
			mailboxRoutes.GET("/:address/messages", handler.listMessages)
			mailboxRoutes.DELETE("/:address/messages", defaultBody, handler.clearMessages)
		}

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}

// healthSummary 返回各依赖的检查结果，任一失败时返回 503
func (h *Handler) healthSummary(checker *health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		state := "ok"
		if !checker.Healthy() {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(status, gin.H{
			"status": state,
			"checks": checker.CheckHealth(),
		})
	}
}
