package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/proto"
	"github.com/vovakirdan/roomwire/internal/service/chat"
)

// RoomHandlers provides HTTP handlers for room endpoints.
type RoomHandlers struct {
	chat *chat.Service
	log  *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(chatSvc *chat.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		chat: chatSvc,
		log:  logger,
	}
}

// CreateRoom finds or creates the room of the caller and the given participants.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	var req proto.JoinOrCreateRoomData
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	res, err := h.chat.JoinOrCreate(c.Request.Context(), uid, resolveRequest(req))
	if err != nil {
		h.fail(c, err, uid)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		h.log.Info().Int64("room_id", res.Room.ID).Int64("user_id", uid).Msg("room created")
	}
	c.JSON(status, proto.NewRoom(res.Room))
}

// ListRooms returns one page of the caller's rooms ordered by activity.
// GET /api/rooms?page=1&limit=20
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	rooms, err := h.chat.ListPage(c.Request.Context(), uid, page, limit)
	if err != nil {
		h.fail(c, err, uid)
		return
	}

	h.log.Debug().Int64("user_id", uid).Int("room_count", len(rooms.Rooms)).Msg("rooms listed")
	c.JSON(http.StatusOK, proto.NewRoomList(rooms))
}

// History returns one page of a room's messages, newest first.
// GET /api/rooms/:id/messages?page=1&page_size=10
func (h *RoomHandlers) History(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))

	history, err := h.chat.FetchHistory(c.Request.Context(), uid, roomID, page, pageSize)
	if err != nil {
		h.fail(c, err, uid)
		return
	}
	c.JSON(http.StatusOK, proto.NewChatHistory(history))
}

func (h *RoomHandlers) fail(c *gin.Context, err error, uid int64) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Int64("user_id", uid).Str("path", c.FullPath()).Msg("room request failed")
	}
	c.JSON(status, ErrorResponse{Error: publicMessage(err)})
}
