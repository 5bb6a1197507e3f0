package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundJoinOrCreateRoom = "join_or_create_room"
	InboundJoinRoom         = "join_room"
	InboundLeaveRoom        = "leave_room"
	InboundSendMessage      = "send_message"
	InboundGetChatHistory   = "get_chat_history"
	InboundMessageDelivered = "message_delivered"
	InboundMessageRead      = "message_read"
	InboundGetUserRooms     = "get_user_rooms"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// inboundAliases maps legacy client spellings to canonical event names.
var inboundAliases = map[string]string{
	"joinOrCreateRoom":  InboundJoinOrCreateRoom,
	"getChatHistory":    InboundGetChatHistory,
	"message-delivered": InboundMessageDelivered,
	"message-read":      InboundMessageRead,
}

// CanonicalType resolves aliases to the canonical inbound event name.
func CanonicalType(t string) string {
	if canonical, ok := inboundAliases[t]; ok {
		return canonical
	}
	return t
}

// JoinOrCreateRoomData asks for the room of an exact participant set.
type JoinOrCreateRoomData struct {
	Type           string  `json:"type"`
	ParticipantIDs []int64 `json:"participantIds"`
	ListingID      *string `json:"listingId,omitempty"`
}

// RoomRefData names a room.
type RoomRefData struct {
	RoomID int64 `json:"roomId"`
}

// SendMessageData is a chat message from the client.
type SendMessageData struct {
	RoomID  int64  `json:"roomId"`
	Content string `json:"content"`
}

// ChatHistoryData requests one page of room history.
type ChatHistoryData struct {
	RoomID   int64 `json:"roomId"`
	Page     int   `json:"page,omitempty"`
	PageSize int   `json:"pageSize,omitempty"`
}

// MessageRefData acknowledges delivery of one message.
type MessageRefData struct {
	MessageID int64 `json:"messageId"`
}

// MessageIDsData acknowledges reading a batch of messages.
type MessageIDsData struct {
	MessageIDs []int64 `json:"messageIds"`
}

// RoomListData requests one page of the user's rooms.
type RoomListData struct {
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// ErrorData describes a failed request.
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
