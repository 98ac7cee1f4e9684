// http/server.go
package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/ytnotes-server/auth"
	"github.com/ViniZap4/ytnotes-server/coordinator"
	"github.com/ViniZap4/ytnotes-server/notes"
	"github.com/ViniZap4/ytnotes-server/popup"
	"github.com/ViniZap4/ytnotes-server/ws"
)

// Deps are the components the HTTP server exposes.
type Deps struct {
	Service     *notes.Service
	Coordinator *coordinator.Coordinator
	Sessions    *popup.Sessions
	Hub         *ws.Hub
	Bridge      *ws.Bridge
	Password    *auth.Password
	Issuer      *auth.Issuer
	Log         zerolog.Logger
	CorsOrigins string
}

type Server struct {
	app *fiber.App
	log zerolog.Logger
}

func NewServer(d Deps) *Server {
	log := d.Log.With().Str("component", "http").Logger()
	app := fiber.New(fiber.Config{
		AppName:               "ytnotes-server",
		UnescapePath:          true,
		Immutable:             true,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	})

	origins := d.CorsOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, " + auth.TokenHeader + ", " + sessionHeader,
		AllowMethods:  "GET, POST, PUT, DELETE, OPTIONS",
		ExposeHeaders: sessionHeader,
	}))
	app.Use(requestLogger(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"extension": d.Bridge.Connected(),
			"sessions":  d.Sessions.Len(),
			"listeners": d.Hub.Len(),
		})
	})

	api := app.Group("/api")
	api.Post("/auth/token", tokenHandler(d.Password, d.Issuer))

	protected := api.Group("", auth.Middleware(d.Password, d.Issuer))
	NewStoreController(d.Service, d.Coordinator).RegisterRoutes(protected)
	NewPopupController(d.Sessions).RegisterRoutes(protected)

	wsGroup := app.Group("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, auth.Middleware(d.Password, d.Issuer))
	wsGroup.Get("/events", websocket.New(d.Hub.ServeEvents))
	wsGroup.Get("/bridge", websocket.New(d.Bridge.ServeBridge))

	return &Server{app: app, log: log}
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("server starting")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}
		log.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}

type tokenRequest struct {
	Password string `json:"password"`
}

func tokenHandler(password *auth.Password, issuer *auth.Issuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req tokenRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := password.Check(req.Password); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
		}
		token, exp, err := issuer.Issue("password")
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"token": token, "expiresAt": exp})
	}
}
