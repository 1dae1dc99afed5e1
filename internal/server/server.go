package server

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"lingua-scheduler/internal/config"
	"lingua-scheduler/internal/gateway"
)

// Server wraps the Fiber app mounting the scheduler's two WebSocket
// endpoints, following the teacher's New/SetupMiddleware/SetupRoutes/
// Start/Shutdown split.
type Server struct {
	app *fiber.App
	cfg *config.Config
	log *zap.Logger
	gw  *gateway.Gateway
}

func New(cfg *config.Config, log *zap.Logger, gw *gateway.Gateway) *Server {
	app := fiber.New(fiber.Config{
		AppName:       "Lingua Scheduler",
		ServerHeader:  "Fiber",
		StrictRouting: true,
		CaseSensitive: true,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
		Prefork:       false, // websocket compatibility
	})

	return &Server{app: app, cfg: cfg, log: log, gw: gw}
}

func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: s.cfg.CORS.AllowHeaders,
	}))
}

func (s *Server) SetupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"instance":  s.gw.InstanceID,
			"timestamp": time.Now().Unix(),
		})
	})

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	wsCfg := websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}

	s.app.Get("/ws/session", websocket.New(s.gw.HandleSession, wsCfg))
	s.app.Get("/ws/node", websocket.New(s.gw.HandleNode, wsCfg))
}

// Start boots the listener with graceful shutdown on SIGINT/SIGTERM,
// mirroring the teacher's signal-notify-then-ShutdownWithTimeout shape.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.log.Info("shutting down scheduler")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			s.log.Fatal("server shutdown error", zap.Error(err))
		}
	}()

	s.log.Info("scheduler starting",
		zap.String("port", s.cfg.Server.Port),
		zap.String("instance_id", s.gw.InstanceID),
		zap.String("session_endpoint", "/ws/session"),
		zap.String("node_endpoint", "/ws/node"),
	)

	return s.app.Listen(s.cfg.Server.Port)
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
