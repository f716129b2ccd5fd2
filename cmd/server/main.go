package main

import (
	"context"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/wagate/server/internal/api/handlers"
	"github.com/wagate/server/internal/api/middleware"
	"github.com/wagate/server/internal/config"
	"github.com/wagate/server/internal/crypto"
	"github.com/wagate/server/internal/database"
	"github.com/wagate/server/internal/logger"
	"github.com/wagate/server/internal/models"
	"github.com/wagate/server/internal/session"
	"github.com/wagate/server/internal/waclient"
	"github.com/wagate/server/internal/webhook"
	"github.com/wagate/server/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	}

	// Set Gin mode
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Open database
	logger.Infof("Opening database: %s", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	queries := models.New(db.DB)

	// Initialize JWT manager
	jwtManager := crypto.NewJWTManager(cfg.MasterSecret)

	// Initialize Socket.IO server
	logger.Infof("Initializing Socket.IO server...")
	socketIOServer := websocket.NewSocketIOServer(jwtManager)
	defer socketIOServer.Close()

	// Session core
	registry := session.NewRegistry()
	guard := session.NewGuard(cfg.StorageRoot)
	validator := session.NewValidator(registry)
	realtime := newAuditSink(socketIOServer, queries)

	router := session.NewRouter(session.RouterConfig{
		EnabledEvents:      cfg.EnabledEvents,
		Webhook:            webhook.NewSink(),
		Realtime:           realtime,
		MarkSeen:           cfg.MarkSeen,
		AttachmentMaxBytes: cfg.AttachmentMaxBytes,
	})
	defer router.Close()

	supervisor := session.NewSupervisor(session.SupervisorConfig{
		Factory:   waclient.New,
		Registry:  registry,
		Guard:     guard,
		Router:    router,
		Validator: validator,
		Realtime:  realtime,
		ResolveWebhook: func(id string) string {
			url, err := queries.SessionWebhookURL(context.Background(), id)
			if err != nil {
				logger.Warnf("session %s: webhook lookup failed: %v", id, err)
			}
			if url == "" {
				return cfg.DefaultWebhookURL
			}
			return url
		},
		BrowserPath:      cfg.BrowserPath,
		BrowserArgs:      cfg.BrowserArgs,
		Headless:         cfg.Headless,
		ReleaseStaleLock: cfg.ReleaseStaleLock,
		RecoverOnCrash:   cfg.RecoverOnCrash,
	})

	// Bring persisted sessions back before serving traffic.
	logger.Infof("Restoring persisted sessions from %s", cfg.StorageRoot)
	if err := supervisor.Restore(context.Background()); err != nil {
		logger.Errorf("Failed to restore sessions: %v", err)
		os.Exit(1)
	}

	// Create Gin router
	engine := gin.Default()

	// CORS middleware
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// Logging middleware
	engine.Use(middleware.LoggingMiddleware())

	// Root endpoint - returns plain text for client validation
	engine.GET("/", func(c *gin.Context) {
		c.String(200, "Welcome to Wagate Server!")
	})

	// Initialize handlers
	authHandler, err := handlers.NewAuthHandler(jwtManager, cfg.MasterSecret)
	if err != nil {
		logger.Errorf("Failed to create auth handler: %v", err)
		os.Exit(1)
	}
	sessionsHandler := handlers.NewSessionsHandler(supervisor, validator, registry, queries)
	streamServer := websocket.NewStreamServer(registry)

	// Public routes (no auth required)
	v1 := engine.Group("/v1")
	{
		v1.POST("/auth/token", authHandler.IssueToken)
		v1.GET("/version", func(c *gin.Context) {
			c.JSON(200, gin.H{"version": "1.0.0"})
		})
	}

	// Protected routes (auth required)
	protected := v1.Group("")
	protected.Use(middleware.AuthMiddleware(jwtManager))
	{
		protected.GET("/sessions", sessionsHandler.List)
		protected.POST("/sessions/flush", sessionsHandler.Flush)
		protected.POST("/sessions/:id/start", sessionsHandler.Start)
		protected.GET("/sessions/:id/status", sessionsHandler.Status)
		protected.GET("/sessions/:id/qr", sessionsHandler.QR)
		protected.POST("/sessions/:id/restart", sessionsHandler.Restart)
		protected.POST("/sessions/:id/terminate", sessionsHandler.Terminate)
		protected.DELETE("/sessions/:id", sessionsHandler.Delete)

		// Plain WebSocket pairing stream
		protected.GET("/sessions/:id/stream", streamServer.HandleStream)
	}

	// Mount Socket.IO endpoint at /v1/events (accessible without auth for
	// handshake; auth is checked after the connection is established)
	engine.Any("/v1/events", socketIOServer.HandleSocketIO())
	engine.Any("/v1/events/*any", socketIOServer.HandleSocketIO())

	// Start HTTP server
	logger.Infof("Wagate Server starting on http://localhost%s", cfg.Addr)
	logger.Infof("Database: %s", cfg.DatabasePath)

	if err := engine.Run(cfg.Addr); err != nil {
		logger.Errorf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
