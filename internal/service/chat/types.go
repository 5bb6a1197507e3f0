package chat

import (
	"time"

	"github.com/vovakirdan/roomwire/internal/store"
)

// Options tunes limits of the chat components.
type Options struct {
	MaxContentBytes int
	DefaultPageSize int
	MaxPageSize     int
	RoomListLimit   int
}

// DefaultOptions returns the limits used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxContentBytes: 4096,
		DefaultPageSize: 10,
		MaxPageSize:     100,
		RoomListLimit:   20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxContentBytes <= 0 {
		o.MaxContentBytes = d.MaxContentBytes
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = d.DefaultPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = d.MaxPageSize
	}
	if o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}
	if o.RoomListLimit <= 0 {
		o.RoomListLimit = d.RoomListLimit
	}
	return o
}

// ResolveRequest asks for the room of an exact participant set.
type ResolveRequest struct {
	Type           store.RoomType
	ParticipantIDs []int64
	ListingID      *string
}

// Resolution is the room a resolve request ended up in.
type Resolution struct {
	Room    *store.Room
	Created bool
}

// StatusChange tells a sender that one of their messages moved forward.
type StatusChange struct {
	MessageID int64
	Status    store.MessageStatus
	UserID    int64
}

// ReadReceipt lists the messages of one room that became READ.
type ReadReceipt struct {
	RoomID     int64
	MessageIDs []int64
	Status     store.MessageStatus
	UserID     int64
}

// RoomSummary is a room as seen by one member. It is recomputed on every request.
type RoomSummary struct {
	ID           int64
	Type         store.RoomType
	ListingID    *string
	Participants []store.Participant
	LastMessage  *store.Message
	UnreadCount  int
	CreatedAt    time.Time
}

// activityAt is the time the room list is ordered by.
func (s RoomSummary) activityAt() (time.Time, bool) {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt, true
	}
	return s.CreatedAt, false
}

// Pagination describes one slice of a larger list.
type Pagination struct {
	CurrentPage     int
	Limit           int
	Total           int
	TotalPages      int
	HasNextPage     bool
	HasPreviousPage bool
	StartIndex      int
	EndIndex        int
}

// RoomPage is one page of a user's room list.
type RoomPage struct {
	Rooms      []RoomSummary
	Pagination Pagination
}

// HistoryPage is one page of a room's messages, newest first.
type HistoryPage struct {
	RoomID      int64
	Messages    []*store.Message
	CurrentPage int
	PageSize    int
	Total       int
	TotalPages  int
}
