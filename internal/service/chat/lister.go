package chat

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/vovakirdan/roomwire/internal/store"
)

// ListerStore is the storage the lister needs.
type ListerStore interface {
	GetRoomByID(ctx context.Context, id int64) (*store.Room, error)
	ListRoomsForUser(ctx context.Context, userID int64) ([]*store.RoomActivity, error)
	ListMessages(ctx context.Context, roomID int64, page, pageSize int) ([]*store.Message, int, error)
}

// Lister builds room lists and history pages.
type Lister struct {
	store ListerStore
	opts  Options
}

// NewLister creates a lister.
func NewLister(st ListerStore, opts Options) *Lister {
	return &Lister{store: st, opts: opts.withDefaults()}
}

// ListForUser returns the user's rooms. Rooms with messages come first, most recent
// message first; rooms without messages follow, newest room first.
func (l *Lister) ListForUser(ctx context.Context, userID int64) ([]RoomSummary, error) {
	activities, err := l.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, storageError("Failed to fetch room list", err)
	}

	summaries := make([]RoomSummary, 0, len(activities))
	for _, a := range activities {
		summaries = append(summaries, RoomSummary{
			ID:           a.Room.ID,
			Type:         a.Room.Type,
			ListingID:    a.Room.ListingID,
			Participants: a.Participants,
			LastMessage:  a.LastMessage,
			UnreadCount:  a.UnreadCount,
			CreatedAt:    a.Room.CreatedAt,
		})
	}
	slices.SortStableFunc(summaries, compareActivity)
	return summaries, nil
}

func compareActivity(a, b RoomSummary) int {
	at, aHas := a.activityAt()
	bt, bHas := b.activityAt()
	if aHas != bHas {
		if aHas {
			return -1
		}
		return 1
	}
	if c := bt.Compare(at); c != 0 {
		return c
	}
	if aHas {
		return cmp.Compare(b.LastMessage.ID, a.LastMessage.ID)
	}
	return cmp.Compare(b.ID, a.ID)
}

// maxPage bounds client supplied page numbers so offsets never overflow.
const maxPage = 1_000_000

func clampPage(page int) int {
	return max(1, min(page, maxPage))
}

// Paginate slices an ordered room list. Page defaults to 1 and limit to the configured
// room list limit; limit never exceeds the configured max page size.
func (l *Lister) Paginate(summaries []RoomSummary, page, limit int) RoomPage {
	page = clampPage(page)
	if limit < 1 {
		limit = l.opts.RoomListLimit
	}
	limit = min(limit, max(l.opts.MaxPageSize, l.opts.RoomListLimit))

	total := len(summaries)
	totalPages := (total + limit - 1) / limit
	start := total
	if page <= totalPages {
		start = (page - 1) * limit
	}
	end := min(start+limit, total)

	return RoomPage{
		Rooms: summaries[start:end],
		Pagination: Pagination{
			CurrentPage:     page,
			Limit:           limit,
			Total:           total,
			TotalPages:      totalPages,
			HasNextPage:     page < totalPages,
			HasPreviousPage: page > 1,
			StartIndex:      start,
			EndIndex:        end,
		},
	}
}

// FetchHistory returns one page of a room's messages, newest first.
func (l *Lister) FetchHistory(ctx context.Context, actorID, roomID int64, page, pageSize int) (*HistoryPage, error) {
	if roomID <= 0 {
		return nil, validationError(msgRoomRequired)
	}
	page = clampPage(page)
	if pageSize < 1 {
		pageSize = l.opts.DefaultPageSize
	}
	pageSize = min(pageSize, l.opts.MaxPageSize)

	if _, err := l.Room(ctx, actorID, roomID); err != nil {
		return nil, err
	}

	msgs, total, err := l.store.ListMessages(ctx, roomID, page, pageSize)
	if err != nil {
		return nil, storageError("Failed to fetch chat history", err)
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}

	return &HistoryPage{
		RoomID:      roomID,
		Messages:    msgs,
		CurrentPage: page,
		PageSize:    pageSize,
		Total:       total,
		TotalPages:  (total + pageSize - 1) / pageSize,
	}, nil
}

// Room returns a room the actor participates in.
func (l *Lister) Room(ctx context.Context, actorID, roomID int64) (*store.Room, error) {
	if roomID <= 0 {
		return nil, validationError(msgRoomRequired)
	}
	room, err := l.store.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError(msgRoomNotFound, err)
		}
		return nil, storageError("Failed to load room", err)
	}
	if !room.HasParticipant(actorID) {
		return nil, forbiddenError(msgNotParticipant)
	}
	return room, nil
}
