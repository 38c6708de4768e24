package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/engine"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/room"
)

// Server wraps the Fiber app and the whiteboard handlers.
type Server struct {
	app               *fiber.App
	cfg               *config.Config
	tokens            *auth.TokenManager
	authHandler       *handler.AuthHandler
	whiteboardHandler *handler.WhiteboardHandler
	healthHandler     *handler.HealthHandler
	wsHandler         *handler.BoardWSHandler
}

// New assembles the HTTP surface around an already-wired sync core.
func New(cfg *config.Config, db *gorm.DB, eng *engine.Engine, hub *handler.BoardHub,
	registry *room.Registry, storePinger handler.Pinger) *Server {

	app := fiber.New(fiber.Config{
		AppName:       "Whiteboard Sync Backend",
		ServerHeader:  "Fiber",
		StrictRouting: true,
		CaseSensitive: true,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
		Prefork:       false, // incompatible with the in-process hub
		BodyLimit:     cfg.Board.MaxPayloadBytes,
	})

	tokens := auth.NewTokenManager(cfg.Auth.AccessToken, cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)

	return &Server{
		app:               app,
		cfg:               cfg,
		tokens:            tokens,
		authHandler:       handler.NewAuthHandler(tokens, cfg.Auth.AccessToken),
		whiteboardHandler: handler.NewWhiteboardHandler(db, eng),
		healthHandler:     handler.NewHealthHandler(storePinger, db, hub),
		wsHandler:         handler.NewBoardWSHandler(hub, eng, registry),
	}
}

// SetupMiddleware installs the base middleware stack.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: false,
	}))
}

// SetupRoutes registers the REST and websocket endpoints.
func (s *Server) SetupRoutes() {
	s.app.Get("/health", s.healthHandler.Check)

	// brute-force protection on token minting
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})
	s.app.Post("/auth/token", authLimiter, s.authHandler.IssueToken)

	api := s.app.Group("/api", auth.Middleware(s.tokens))
	api.Get("/whiteboard/loaddata", s.whiteboardHandler.GetLoadData)
	api.Post("/whiteboard/draw", s.whiteboardHandler.Draw)
	api.Get("/whiteboard/settings", s.whiteboardHandler.GetSettings)
	api.Put("/whiteboard/settings", s.whiteboardHandler.UpdateSettings)

	// Websocket upgrade: authenticate before the protocol switch and
	// stash the author identity for the session handler.
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		username := c.Query("username")
		if !s.tokens.Open() {
			claims, err := s.tokens.Verify(c.Query("at"))
			if err != nil {
				return c.SendStatus(fiber.StatusUnauthorized)
			}
			if claims != nil {
				username = claims.Username
			}
		}
		c.Locals("username", username)
		return c.Next()
	})
	s.app.Get("/ws/board", websocket.New(s.wsHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start runs the server until SIGINT/SIGTERM.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("[Server] Shutting down...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("[Server] Shutdown error: %v", err)
		}
	}()

	log.Printf("[Server] Whiteboard sync backend starting on %s", s.cfg.Server.Port)
	log.Printf("[Server] WebSocket endpoint: ws://localhost%s/ws/board", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
