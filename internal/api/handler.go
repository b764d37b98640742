package api

import (
	"net/http"
	"time"

	"robot-core/internal/audit"
	"robot-core/internal/balance"
	"robot-core/internal/events"
	"robot-core/internal/link"
	"robot-core/internal/reconcile"
	"robot-core/internal/robot"
	"robot-core/pkg/broker"
	"robot-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the control-plane services.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	DB         *db.Database
	Gateway    broker.Gateway
	Linker     *link.Linker
	Balance    *balance.Synchronizer
	Reconciler *reconcile.Reconciler
	Robots     *robot.Manager
	Auditor    *audit.Logger
	JWTSecret  string

	// BalanceMaxWait bounds how long a balance read may wait for a live
	// fetch; SyncWindow is how far back a trade sync reads deal history.
	BalanceMaxWait time.Duration
	SyncWindow     time.Duration
}

// ServerDeps bundles the constructor arguments.
type ServerDeps struct {
	Bus            *events.Bus
	DB             *db.Database
	Gateway        broker.Gateway
	Linker         *link.Linker
	Balance        *balance.Synchronizer
	Reconciler     *reconcile.Reconciler
	Robots         *robot.Manager
	Auditor        *audit.Logger
	JWTSecret      string
	BalanceMaxWait time.Duration
	SyncWindow     time.Duration
}

func NewServer(deps ServerDeps) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:         r,
		Bus:            deps.Bus,
		DB:             deps.DB,
		Gateway:        deps.Gateway,
		Linker:         deps.Linker,
		Balance:        deps.Balance,
		Reconciler:     deps.Reconciler,
		Robots:         deps.Robots,
		Auditor:        deps.Auditor,
		JWTSecret:      deps.JWTSecret,
		BalanceMaxWait: deps.BalanceMaxWait,
		SyncWindow:     deps.SyncWindow,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/accounts/link", s.createLink)
			protected.POST("/accounts/resolve", s.resolveLink)
			protected.DELETE("/accounts/link", s.disconnectLink)

			protected.GET("/balance", s.getBalance)
			protected.GET("/trades", s.getTrades)
			protected.POST("/sync/trades", s.syncTrades)

			protected.GET("/robots", s.listRobots)
			protected.POST("/robots/:id/start", s.startRobot)
			protected.POST("/robots/:id/stop", s.stopRobot)
			protected.PUT("/robots/:id/config", s.updateRobotConfig)
			protected.POST("/robots/stop-all", s.stopAllRobots)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
