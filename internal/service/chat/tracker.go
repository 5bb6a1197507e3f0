package chat

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/metrics"
	"github.com/vovakirdan/roomwire/internal/store"
)

// TrackerStore is the storage the tracker needs.
type TrackerStore interface {
	GetMessage(ctx context.Context, id int64) (*store.Message, error)
	GetMessages(ctx context.Context, ids []int64) ([]*store.Message, error)
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)
	UpdateMessageStatus(ctx context.Context, ids []int64, status store.MessageStatus) ([]int64, error)
}

// Tracker advances message delivery status and republishes changes.
type Tracker struct {
	store     TrackerStore
	transport core.Transport
	log       *zerolog.Logger
}

// NewTracker creates a tracker.
func NewTracker(st TrackerStore, transport core.Transport, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		store:     st,
		transport: transport,
		log:       orNop(logger),
	}
}

// MarkDelivered moves a SENT message to DELIVERED on behalf of actorID. Messages already
// DELIVERED or READ are returned unchanged and no events are published.
func (t *Tracker) MarkDelivered(ctx context.Context, actorID, messageID int64) (*store.Message, error) {
	if messageID <= 0 {
		return nil, validationError(msgMessageRequired)
	}

	msg, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError(msgMessageNotFound, err)
		}
		return nil, storageError("Failed to mark message as delivered", err)
	}
	if err := t.requireMember(ctx, actorID, msg.RoomID); err != nil {
		return nil, err
	}
	if msg.Status != store.MessageStatusSent {
		return msg, nil
	}

	moved, err := t.store.UpdateMessageStatus(ctx, []int64{messageID}, store.MessageStatusDelivered)
	if err != nil {
		return nil, storageError("Failed to mark message as delivered", err)
	}
	if len(moved) == 0 {
		// Lost a race with another transition; report what is stored now.
		if current, err := t.store.GetMessage(ctx, messageID); err == nil {
			return current, nil
		}
		return msg, nil
	}

	msg.Status = store.MessageStatusDelivered
	metrics.StatusTransitions.WithLabelValues(string(store.MessageStatusDelivered)).Inc()

	if err := t.transport.Broadcast(ctx, core.RoomChannel(msg.RoomID), core.EventMessageDelivered, msg); err != nil {
		t.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("publish delivered failed")
	}
	t.notifySender(ctx, msg.SenderID, StatusChange{
		MessageID: msg.ID,
		Status:    store.MessageStatusDelivered,
		UserID:    actorID,
	})
	return msg, nil
}

// MarkRead moves the given messages to READ and returns how many changed. Unknown ids and
// messages in rooms actorID does not belong to are skipped. Each affected room receives one
// message_read event with its own subset of ids.
func (t *Tracker) MarkRead(ctx context.Context, actorID int64, messageIDs []int64) (int64, error) {
	ids := slices.DeleteFunc(slices.Clone(messageIDs), func(id int64) bool { return id <= 0 })
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	msgs, err := t.store.GetMessages(ctx, ids)
	if err != nil {
		return 0, storageError("Failed to mark message as read", err)
	}

	membership := make(map[int64]bool)
	var pending []*store.Message
	for _, msg := range msgs {
		member, ok := membership[msg.RoomID]
		if !ok {
			member, err = t.store.IsMember(ctx, actorID, msg.RoomID)
			if err != nil {
				return 0, storageError("Failed to mark message as read", err)
			}
			membership[msg.RoomID] = member
		}
		if member && msg.Status != store.MessageStatusRead {
			pending = append(pending, msg)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	pendingIDs := make([]int64, len(pending))
	for i, msg := range pending {
		pendingIDs[i] = msg.ID
	}
	moved, err := t.store.UpdateMessageStatus(ctx, pendingIDs, store.MessageStatusRead)
	if err != nil {
		return 0, storageError("Failed to mark message as read", err)
	}
	metrics.StatusTransitions.WithLabelValues(string(store.MessageStatusRead)).Add(float64(len(moved)))

	// A concurrent batch may have moved some ids first; only report our own transitions.
	pending = slices.DeleteFunc(pending, func(msg *store.Message) bool {
		_, ok := slices.BinarySearch(moved, msg.ID)
		return !ok
	})

	byRoom := make(map[int64][]int64)
	for _, msg := range pending {
		byRoom[msg.RoomID] = append(byRoom[msg.RoomID], msg.ID)
	}
	roomIDs := make([]int64, 0, len(byRoom))
	for roomID := range byRoom {
		roomIDs = append(roomIDs, roomID)
	}
	slices.Sort(roomIDs)

	for _, roomID := range roomIDs {
		receipt := ReadReceipt{
			RoomID:     roomID,
			MessageIDs: byRoom[roomID],
			Status:     store.MessageStatusRead,
			UserID:     actorID,
		}
		if err := t.transport.Broadcast(ctx, core.RoomChannel(roomID), core.EventMessageRead, receipt); err != nil {
			t.log.Warn().Err(err).Int64("room_id", roomID).Msg("publish read failed")
		}
	}
	for _, msg := range pending {
		t.notifySender(ctx, msg.SenderID, StatusChange{
			MessageID: msg.ID,
			Status:    store.MessageStatusRead,
			UserID:    actorID,
		})
	}

	return int64(len(moved)), nil
}

func (t *Tracker) requireMember(ctx context.Context, userID, roomID int64) error {
	member, err := t.store.IsMember(ctx, userID, roomID)
	if err != nil {
		return storageError("Failed to check membership", err)
	}
	if !member {
		return forbiddenError(msgNotParticipant)
	}
	return nil
}

func (t *Tracker) notifySender(ctx context.Context, senderID int64, change StatusChange) {
	if err := t.transport.SendToUser(ctx, senderID, core.EventMessageStatusUpdated, change); err != nil {
		t.log.Warn().Err(err).
			Int64("user_id", senderID).
			Int64("message_id", change.MessageID).
			Msg("publish status change failed")
	}
}
