package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateRoom is returned by CreateRoom when a room with the same participant key exists.
	ErrDuplicateRoom = errors.New("room with the same participants already exists")
	// ErrUserExists is returned by CreateUser when the username is taken.
	ErrUserExists = errors.New("user already exists")
)

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Participant is the display view of a room member.
type Participant struct {
	UserID   int64
	Username string
}

// RoomType defines different types of rooms.
type RoomType string

const (
	RoomTypeDirect  RoomType = "DIRECT"
	RoomTypeGroup   RoomType = "GROUP"
	RoomTypeListing RoomType = "LISTING"
)

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	switch t {
	case RoomTypeDirect, RoomTypeGroup, RoomTypeListing:
		return true
	default:
		return false
	}
}

// Room represents a chat room with an immutable participant set.
type Room struct {
	ID             int64
	Type           RoomType
	ListingID      *string
	ParticipantKey string
	Participants   []int64 // sorted ascending
	CreatedAt      time.Time
}

// HasParticipant reports whether userID is a member of the room.
func (r *Room) HasParticipant(userID int64) bool {
	_, found := slices.BinarySearch(r.Participants, userID)
	return found
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "SENT"
	MessageStatusDelivered MessageStatus = "DELIVERED"
	MessageStatusRead      MessageStatus = "READ"
)

// Rank orders statuses along the delivery lifecycle. Unknown statuses rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return 0
	}
}

// Before returns the statuses that may legally advance to s.
func (s MessageStatus) Before() []MessageStatus {
	var out []MessageStatus
	for _, st := range []MessageStatus{MessageStatusSent, MessageStatusDelivered, MessageStatusRead} {
		if st.Rank() < s.Rank() {
			out = append(out, st)
		}
	}
	return out
}

// Message represents a persisted chat message.
type Message struct {
	ID         int64
	RoomID     int64
	SenderID   int64
	SenderName string
	Content    string
	Status     MessageStatus
	CreatedAt  time.Time
}

// RoomActivity is a room seen from one member: participants, latest message and unread count.
type RoomActivity struct {
	Room         *Room
	Participants []Participant
	LastMessage  *Message
	UnreadCount  int
}

// CreateRoomParams describes a room to create together with its memberships.
type CreateRoomParams struct {
	Type           RoomType
	ListingID      *string
	ParticipantIDs []int64
}

// NormalizeParticipants returns the ids sorted ascending without duplicates.
func NormalizeParticipants(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// ParticipantKey builds the canonical identity of a participant set within a type and listing.
// The ids must be normalized.
func ParticipantKey(roomType RoomType, listingID *string, ids []int64) string {
	var b strings.Builder
	b.WriteString(string(roomType))
	b.WriteByte('|')
	if listingID != nil {
		b.WriteString(*listingID)
	}
	b.WriteByte('|')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// GetRoomByID retrieves a room with its participants.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// FindRoomsByParticipants returns rooms of the given type and listing whose members
	// include every id in participantIDs. Callers filter for exact set equality.
	FindRoomsByParticipants(ctx context.Context, roomType RoomType, listingID *string, participantIDs []int64) ([]*Room, error)

	// CreateRoom creates a room and all membership rows atomically.
	// Returns ErrDuplicateRoom when the participant key is already taken.
	CreateRoom(ctx context.Context, params CreateRoomParams) (*Room, error)

	// IsMember checks if user is a member of the room.
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)

	// ListRoomsForUser returns every room the user belongs to with its latest message and
	// the number of SENT or DELIVERED messages from other senders. Order is unspecified.
	ListRoomsForUser(ctx context.Context, userID int64) ([]*RoomActivity, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a message with status SENT.
	CreateMessage(ctx context.Context, senderID, roomID int64, content string) (*Message, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// GetMessages retrieves the messages that exist among ids. Unknown ids are skipped.
	GetMessages(ctx context.Context, ids []int64) ([]*Message, error)

	// UpdateMessageStatus moves the given messages forward to status. Messages already at
	// or beyond status are left untouched. Returns the ids this call actually moved.
	UpdateMessageStatus(ctx context.Context, ids []int64, status MessageStatus) ([]int64, error)

	// ListMessages returns one page of a room's messages, newest first, and the room's total.
	ListMessages(ctx context.Context, roomID int64, page, pageSize int) ([]*Message, int, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
