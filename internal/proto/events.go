package proto

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/roomwire/internal/service/chat"
	"github.com/vovakirdan/roomwire/internal/store"
)

// Room is the wire form of a room.
type Room struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"`
	ListingID    *string   `json:"listingId,omitempty"`
	Participants []int64   `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Message is the wire form of a message.
type Message struct {
	ID         int64     `json:"id"`
	RoomID     int64     `json:"roomId"`
	SenderID   int64     `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	Content    string    `json:"content"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Participant is the wire form of a room member.
type Participant struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// RoomSummary is a room list entry.
type RoomSummary struct {
	ID           int64         `json:"id"`
	Type         string        `json:"type"`
	ListingID    *string       `json:"listingId,omitempty"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"lastMessage"`
	UnreadCount  int           `json:"unreadCount"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Pagination is the wire form of page metadata.
type Pagination struct {
	CurrentPage     int  `json:"currentPage"`
	Limit           int  `json:"limit"`
	Total           int  `json:"total"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	StartIndex      int  `json:"startIndex"`
	EndIndex        int  `json:"endIndex"`
}

// RoomList is the room_list payload.
type RoomList struct {
	Rooms      []RoomSummary `json:"rooms"`
	Pagination Pagination    `json:"pagination"`
}

// ChatHistory is the chat_history payload.
type ChatHistory struct {
	RoomID      int64     `json:"roomId"`
	Messages    []Message `json:"messages"`
	CurrentPage int       `json:"currentPage"`
	PageSize    int       `json:"pageSize"`
	Total       int       `json:"total"`
	TotalPages  int       `json:"totalPages"`
}

// StatusChange is the message-status-updated payload.
type StatusChange struct {
	MessageID int64  `json:"messageId"`
	Status    string `json:"status"`
	UserID    int64  `json:"userId"`
}

// ReadReceipt is the message_read payload.
type ReadReceipt struct {
	RoomID     int64   `json:"roomId"`
	MessageIDs []int64 `json:"messageIds"`
	Status     string  `json:"status"`
	UserID     int64   `json:"userId"`
}

// EncodeEvent wraps a domain payload into an outbound envelope.
// Payloads already encoded elsewhere pass through as json.RawMessage.
func EncodeEvent(name string, payload any) Outbound {
	if errData, ok := payload.(ErrorData); ok {
		return Outbound{Type: OutboundTypeError, Event: name, Data: errData}
	}
	return Outbound{Type: OutboundTypeEvent, Event: name, Data: EncodePayload(payload)}
}

// EncodePayload maps domain values to their wire form.
func EncodePayload(payload any) any {
	switch p := payload.(type) {
	case json.RawMessage:
		return p
	case *store.Room:
		return NewRoom(p)
	case *store.Message:
		return NewMessage(p)
	case chat.StatusChange:
		return StatusChange{MessageID: p.MessageID, Status: string(p.Status), UserID: p.UserID}
	case chat.ReadReceipt:
		return ReadReceipt{RoomID: p.RoomID, MessageIDs: p.MessageIDs, Status: string(p.Status), UserID: p.UserID}
	case *chat.RoomPage:
		return NewRoomList(p)
	case *chat.HistoryPage:
		return NewChatHistory(p)
	default:
		return payload
	}
}

// NewRoom converts a store room.
func NewRoom(r *store.Room) Room {
	participants := r.Participants
	if participants == nil {
		participants = []int64{}
	}
	return Room{
		ID:           r.ID,
		Type:         string(r.Type),
		ListingID:    r.ListingID,
		Participants: participants,
		CreatedAt:    r.CreatedAt,
	}
}

// NewMessage converts a store message.
func NewMessage(m *store.Message) Message {
	return Message{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Status:     string(m.Status),
		CreatedAt:  m.CreatedAt,
	}
}

// NewRoomList converts a page of room summaries.
func NewRoomList(p *chat.RoomPage) RoomList {
	rooms := make([]RoomSummary, 0, len(p.Rooms))
	for _, r := range p.Rooms {
		participants := make([]Participant, 0, len(r.Participants))
		for _, part := range r.Participants {
			participants = append(participants, Participant{ID: part.UserID, Username: part.Username})
		}
		var last *Message
		if r.LastMessage != nil {
			m := NewMessage(r.LastMessage)
			last = &m
		}
		rooms = append(rooms, RoomSummary{
			ID:           r.ID,
			Type:         string(r.Type),
			ListingID:    r.ListingID,
			Participants: participants,
			LastMessage:  last,
			UnreadCount:  r.UnreadCount,
			CreatedAt:    r.CreatedAt,
		})
	}
	pg := p.Pagination
	return RoomList{
		Rooms: rooms,
		Pagination: Pagination{
			CurrentPage:     pg.CurrentPage,
			Limit:           pg.Limit,
			Total:           pg.Total,
			TotalPages:      pg.TotalPages,
			HasNextPage:     pg.HasNextPage,
			HasPreviousPage: pg.HasPreviousPage,
			StartIndex:      pg.StartIndex,
			EndIndex:        pg.EndIndex,
		},
	}
}

// NewChatHistory converts a history page.
func NewChatHistory(p *chat.HistoryPage) ChatHistory {
	messages := make([]Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		messages = append(messages, NewMessage(m))
	}
	return ChatHistory{
		RoomID:      p.RoomID,
		Messages:    messages,
		CurrentPage: p.CurrentPage,
		PageSize:    p.PageSize,
		Total:       p.Total,
		TotalPages:  p.TotalPages,
	}
}
