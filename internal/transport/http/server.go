package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/auth"
	"github.com/vovakirdan/roomwire/internal/config"
	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/service/chat"
	"github.com/vovakirdan/roomwire/internal/store"
)

// Server is the HTTP server plus the websocket sessions it has hijacked.
type Server struct {
	*stdhttp.Server
	ws *WSHandler
}

// Shutdown stops accepting requests, then closes websocket sessions and waits for their
// in-flight events to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.Server.Shutdown(ctx), s.ws.Shutdown(ctx))
}

// NewServer builds the HTTP server: websocket gateway, REST API, health and metrics.
// The websocket endpoint sits on the outer mux since gin refuses to hijack a
// connection once a status has been written.
func NewServer(
	presence core.Presence,
	chatSvc *chat.Service,
	authService *auth.Service,
	users store.UserStore,
	cfg *config.Config,
	logger *zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), MetricsMiddleware(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ws := NewWSHandler(
		presence,
		newDispatcher(presence, chatSvc, logger),
		authService,
		cfg.MaxMessageBytes,
		cfg.RateLimitPerMinute,
		logger,
	)

	authHandlers := NewAuthHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(chatSvc, logger)
	userHandlers := NewUserHandlers(users, logger)

	api := router.Group("/api")
	api.POST("/register", authHandlers.Register)
	api.POST("/login", authHandlers.Login)

	protected := api.Group("")
	protected.Use(AuthMiddleware(authService, logger))
	protected.GET("/me", userHandlers.Me)
	protected.GET("/users/:username", userHandlers.Lookup)
	protected.GET("/rooms", roomHandlers.ListRooms)
	protected.POST("/rooms", roomHandlers.CreateRoom)
	protected.GET("/rooms/:id/messages", roomHandlers.History)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", ws)
	mux.Handle("/", router)

	return &Server{
		Server: &stdhttp.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		ws: ws,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
