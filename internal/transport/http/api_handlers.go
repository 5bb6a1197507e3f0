package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/auth"
)

// AuthHandlers serves account registration and login.
type AuthHandlers struct {
	auth *auth.Service
	log  *zerolog.Logger
}

// NewAuthHandlers creates the account handlers.
func NewAuthHandlers(authService *auth.Service, logger *zerolog.Logger) *AuthHandlers {
	return &AuthHandlers{auth: authService, log: logger}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SessionResponse returns the token together with the caller's own user, so a
// client knows its id before opening the websocket.
type SessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

type sessionFunc func(ctx context.Context, username, password string) (*auth.Session, error)

// Register creates an account.
// POST /api/register
func (h *AuthHandlers) Register(c *gin.Context) {
	h.openSession(c, "register", http.StatusCreated, h.auth.Register)
}

// Login opens a session for an existing account.
// POST /api/login
func (h *AuthHandlers) Login(c *gin.Context) {
	h.openSession(c, "login", http.StatusOK, h.auth.Login)
}

func (h *AuthHandlers) openSession(c *gin.Context, action string, okStatus int, open sessionFunc) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Str("action", action).Msg("invalid credentials body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	session, err := open(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrUserExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
		return
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	default:
		h.log.Error().Err(err).Str("action", action).Str("username", req.Username).Msg("auth request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("action", action).Int64("user_id", session.User.ID).Msg("session opened")
	c.JSON(okStatus, SessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      UserResponse{ID: session.User.ID, Username: session.User.Username},
	})
}
