package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/store"
)

// UserHandlers provides HTTP handlers for user lookups.
type UserHandlers struct {
	store store.UserStore
	log   *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.UserStore, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store: st,
		log:   logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Me returns the authenticated user.
// GET /api/me
func (h *UserHandlers) Me(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), uid)
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, UserResponse{ID: user.ID, Username: user.Username})
}

// Lookup resolves a username to the id clients put in participantIds.
// GET /api/users/:username
func (h *UserHandlers) Lookup(c *gin.Context) {
	username := strings.TrimSpace(c.Param("username"))
	if username == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "username is required"})
		return
	}

	user, err := h.store.GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, UserResponse{ID: user.ID, Username: user.Username})
}

func (h *UserHandlers) respondLookupError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	h.log.Error().Err(err).Msg("failed to look up user")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
