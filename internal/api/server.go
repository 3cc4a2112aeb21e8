// Package api 对外的运维 HTTP 接口：状态查询、模式切换、档案管理、
// 停机触发与确认。路由与 CORS 配置沿用 gin + gin-contrib/cors。
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"growgate/internal/dosing"
	"growgate/internal/history"
	"growgate/internal/photoperiod"
	"growgate/internal/pkg"
	"growgate/internal/profile"
	"growgate/internal/registry"
	"growgate/internal/safety"
)

// 状态接口里保留的最近告警/意图条数
const recentKeep = 200

// Server 持有各环节的引用，handler 全部挂在它上面
type Server struct {
	logger   *zap.Logger
	config   *pkg.Config
	store    *pkg.SnapshotStore
	registry *registry.Registry
	profiles *profile.Manager
	interlock *safety.Interlock
	scheduler *photoperiod.Scheduler
	doser     *dosing.Controller
	audit     *history.Store
	ingest    func(pkg.Reading) error

	mu      sync.Mutex
	alerts  []pkg.AlertEvent
	intents []pkg.ActuatorIntent
}

// Deps 组装 Server 需要的依赖集合
type Deps struct {
	Store     *pkg.SnapshotStore
	Registry  *registry.Registry
	Profiles  *profile.Manager
	Interlock *safety.Interlock
	Scheduler *photoperiod.Scheduler
	Doser     *dosing.Controller
	Audit     *history.Store
	Ingest    func(pkg.Reading) error
}

// NewServer 构造 Server
func NewServer(ctx context.Context, deps Deps) *Server {
	return &Server{
		logger:    pkg.LoggerFromContext(ctx),
		config:    pkg.ConfigFromContext(ctx),
		store:     deps.Store,
		registry:  deps.Registry,
		profiles:  deps.Profiles,
		interlock: deps.Interlock,
		scheduler: deps.Scheduler,
		doser:     deps.Doser,
		audit:     deps.Audit,
		ingest:    deps.Ingest,
	}
}

// RecordAlert 供事件总线订阅回调，把告警收进最近环
func (s *Server) RecordAlert(a pkg.AlertEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	if len(s.alerts) > recentKeep {
		s.alerts = s.alerts[len(s.alerts)-recentKeep:]
	}
}

// RecordIntent 供意图扇出回调，把已下发的意图收进最近环
func (s *Server) RecordIntent(in pkg.ActuatorIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, in)
	if len(s.intents) > recentKeep {
		s.intents = s.intents[len(s.intents)-recentKeep:]
	}
}

func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

// SetupRouter 配置 Gin 路由
func (s *Server) SetupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// 配置 CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"} // 允许所有来源，生产环境应配置具体来源
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(config))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/state", s.GetState)       // GET /api/v1/state
		apiV1.GET("/devices", s.GetDevices)   // GET /api/v1/devices
		apiV1.POST("/devices", s.PostDevice)  // POST /api/v1/devices
		apiV1.GET("/alerts", s.GetAlerts)     // GET /api/v1/alerts
		apiV1.GET("/intents", s.GetIntents)   // GET /api/v1/intents
		apiV1.GET("/history", s.GetHistory)   // GET /api/v1/history
		apiV1.POST("/mode", s.PostMode)       // POST /api/v1/mode
		apiV1.POST("/readings", s.PostReading) // POST /api/v1/readings

		prof := apiV1.Group("/profile")
		{
			prof.GET("", s.GetProfile)                // GET /api/v1/profile
			prof.POST("/stage", s.PostStage)          // POST /api/v1/profile/stage
			prof.POST("/reset", s.PostReset)          // POST /api/v1/profile/reset
			prof.POST("/override", s.PostOverride)    // POST /api/v1/profile/override
			prof.POST("/dry", s.PostDry)              // POST /api/v1/profile/dry
			prof.POST("/dry/stop", s.PostDryStop)     // POST /api/v1/profile/dry/stop
		}

		estop := apiV1.Group("/estop")
		{
			estop.POST("", s.PostEstop)       // POST /api/v1/estop
			estop.POST("/ack", s.PostEstopAck) // POST /api/v1/estop/ack
		}
	}
	return r
}

// Run 启动 HTTP 服务并在 ctx 取消时优雅退出
func (s *Server) Run(ctx context.Context) error {
	port := s.config.API.Port
	if port == 0 {
		port = 8081
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.SetupRouter(),
	}

	errCh := pkg.ErrChanFromContext(ctx)
	go func() {
		s.logger.Info("运维接口已启动", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("运维接口启动失败: %w", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
