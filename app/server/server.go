package server

import (
	"context"
	"net/http"
	"time"

	"task-miner/app/auth"
	"task-miner/app/config"
	"task-miner/app/handler"
	"task-miner/app/logger"
	"task-miner/app/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 接口依赖的组件
type Deps struct {
	Processor handler.Processor
	Services  handler.ServiceRegistry
	History   handler.RunHistory
}

// Server 表示 HTTP 服务器
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server
	deps   Deps
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, log *logger.Logger, deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Metrics())

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Config: cfg,
		Logger: log,
		deps:   deps,
	}

	// 设置路由
	s.setupRoutes()

	return s
}

// Handler 返回路由，供测试使用
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Start 启动服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	jwtService := auth.NewJWTService(s.Config.JWT)
	authHandler := handler.NewAuthHandler(s.Config.Server, jwtService)
	processingHandler := handler.NewProcessingHandler(s.deps.Processor, s.deps.Services, s.deps.History, s.Logger)

	s.gin.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.gin.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API路由组
	api := s.gin.Group("/api")

	// 认证相关路由（不需要JWT验证）
	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.RefreshToken)
	}

	// 需要JWT验证的路由
	protected := api.Group("/")
	protected.Use(middleware.JWTAuth(jwtService))
	{
		protected.GET("/status", processingHandler.Status)
		protected.GET("/services", processingHandler.Services)
		protected.GET("/runs", processingHandler.Runs)
		protected.POST("/process", processingHandler.Process)
		protected.POST("/scan", processingHandler.Scan)
	}
}
