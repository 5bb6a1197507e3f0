package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/metrics"
	"github.com/vovakirdan/roomwire/internal/store"
)

// RouterStore is the storage the router needs.
type RouterStore interface {
	GetRoomByID(ctx context.Context, id int64) (*store.Room, error)
	CreateMessage(ctx context.Context, senderID, roomID int64, content string) (*store.Message, error)
}

// PresenceChecker answers whether a user watches a channel.
type PresenceChecker interface {
	IsUserPresentInChannel(ctx context.Context, userID int64, channel string) (bool, error)
}

// Router persists messages and fans them out.
type Router struct {
	store      RouterStore
	transport  core.Transport
	presence   PresenceChecker
	maxContent int
	log        *zerolog.Logger
}

// NewRouter creates a router.
func NewRouter(st RouterStore, transport core.Transport, presence PresenceChecker, opts Options, logger *zerolog.Logger) *Router {
	return &Router{
		store:      st,
		transport:  transport,
		presence:   presence,
		maxContent: opts.withDefaults().MaxContentBytes,
		log:        orNop(logger),
	}
}

// Send stores a message from senderID in roomID and delivers it. Room viewers get one
// receive_message broadcast; other participants get one notify on their private channel.
func (r *Router) Send(ctx context.Context, senderID, roomID int64, content string) (*store.Message, error) {
	if roomID <= 0 || strings.TrimSpace(content) == "" {
		return nil, validationError(msgRoomRequired)
	}
	if len(content) > r.maxContent {
		return nil, validationError(msgMessageTooLong)
	}

	room, err := r.store.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError(msgRoomNotFound, err)
		}
		return nil, storageError("Failed to send message", err)
	}
	if !room.HasParticipant(senderID) {
		return nil, forbiddenError(msgNotParticipant)
	}

	msg, err := r.store.CreateMessage(ctx, senderID, roomID, content)
	if err != nil {
		return nil, storageError("Failed to send message", err)
	}
	metrics.MessagesSent.Inc()

	r.fanOut(ctx, room, msg)
	return msg, nil
}

// fanOut is best effort: failures are logged and never undo the stored message.
func (r *Router) fanOut(ctx context.Context, room *store.Room, msg *store.Message) {
	channel := core.RoomChannel(room.ID)

	if err := r.transport.Broadcast(ctx, channel, core.EventReceiveMessage, msg); err != nil {
		metrics.FanoutFailures.WithLabelValues("broadcast").Inc()
		r.log.Warn().Err(err).Int64("room_id", room.ID).Int64("message_id", msg.ID).Msg("broadcast failed")
	} else {
		metrics.FanoutDeliveries.WithLabelValues("broadcast").Inc()
	}

	for _, userID := range room.Participants {
		if userID == msg.SenderID {
			continue
		}
		present, err := r.presence.IsUserPresentInChannel(ctx, userID, channel)
		if err != nil {
			// Unknown presence: notify rather than risk a silent miss.
			r.log.Warn().Err(err).Int64("user_id", userID).Int64("room_id", room.ID).Msg("presence check failed")
		}
		if present {
			continue
		}
		if err := r.transport.SendToUser(ctx, userID, core.EventNotify, msg); err != nil {
			metrics.FanoutFailures.WithLabelValues("notify").Inc()
			r.log.Warn().Err(err).Int64("user_id", userID).Int64("message_id", msg.ID).Msg("notify failed")
			continue
		}
		metrics.FanoutDeliveries.WithLabelValues("notify").Inc()
	}
}
