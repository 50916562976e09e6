// Package api wires the HTTP surface of the dispatch service.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/api/handlers"
	"github.com/orrn/printdispatch/internal/api/middleware"
)

type Handlers struct {
	Auth     *middleware.AuthMiddleware
	Jobs     *handlers.JobHandler
	Printers *handlers.PrinterHandler
	Webhooks *handlers.WebhookHandler
	Archive  *handlers.ArchiveHandler
	Settings *handlers.SettingsHandler
	// Notifications serves the push websocket at /ws. It takes the session
	// cookie or a bearer token like the rest of the API.
	Notifications http.Handler
}

func NewRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if h.Notifications != nil {
		r.GET("/ws", h.Auth.RequireAuth(), gin.WrapH(h.Notifications))
	}

	auth := r.Group("/api/auth")
	auth.POST("/setup", h.Auth.SetupHandler)
	auth.POST("/login", h.Auth.LoginHandler)
	auth.POST("/logout", h.Auth.LogoutHandler)
	auth.GET("/status", h.Auth.StatusHandler)

	protected := r.Group("/api", h.Auth.RequireAuth())
	protected.PUT("/auth/password", h.Auth.ChangePasswordHandler)
	h.Jobs.RegisterRoutes(protected)
	h.Printers.RegisterRoutes(protected)
	h.Webhooks.RegisterRoutes(protected)
	if h.Archive != nil {
		h.Archive.RegisterRoutes(protected)
	}
	if h.Settings != nil {
		handlers.RegisterSettingsRoutes(protected, h.Settings)
	}

	return r
}
