package http

import (
	"errors"
	"net/http"

	"github.com/vovakirdan/roomwire/internal/proto"
	"github.com/vovakirdan/roomwire/internal/service/chat"
	"github.com/vovakirdan/roomwire/internal/store"
)

const (
	msgInvalidPayload = "Invalid payload"
	msgUnknownEvent   = "Unknown event type"
	msgRateLimited    = "Rate limit exceeded"
	msgNotInRoom      = "You are not in this room."
	msgInternal       = "Internal server error"
)

// genericFailures replaces storage and lookup details for events that report a fixed message.
var genericFailures = map[string]string{
	proto.InboundGetChatHistory:   "Failed to fetch chat history",
	proto.InboundMessageDelivered: "Failed to mark message as delivered",
	proto.InboundMessageRead:      "Failed to mark message as read",
	proto.InboundGetUserRooms:     "Failed to fetch room list",
}

// errorData converts a handler error into the payload sent to the originating connection.
func errorData(event string, err error) proto.ErrorData {
	var ce *chat.Error
	if !errors.As(err, &ce) {
		if generic, ok := genericFailures[event]; ok {
			return proto.ErrorData{Code: string(chat.KindStorage), Message: generic}
		}
		return proto.ErrorData{Code: string(chat.KindStorage), Message: msgInternal}
	}

	switch ce.Kind {
	case chat.KindValidation, chat.KindForbidden:
		return proto.ErrorData{Code: string(ce.Kind), Message: ce.Message}
	default:
		if generic, ok := genericFailures[event]; ok {
			return proto.ErrorData{Code: string(ce.Kind), Message: generic}
		}
		return proto.ErrorData{Code: string(ce.Kind), Message: ce.Message}
	}
}

// statusFor maps chat error kinds to HTTP status codes.
func statusFor(err error) int {
	switch chat.KindOf(err) {
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the client-safe text of err.
func publicMessage(err error) string {
	var ce *chat.Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	return msgInternal
}

func resolveRequest(data proto.JoinOrCreateRoomData) chat.ResolveRequest {
	return chat.ResolveRequest{
		Type:           store.RoomType(data.Type),
		ParticipantIDs: data.ParticipantIDs,
		ListingID:      data.ListingID,
	}
}
