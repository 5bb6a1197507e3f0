package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/metrics"
	"github.com/vovakirdan/roomwire/internal/store"
)

// ResolverStore is the storage the resolver needs.
type ResolverStore interface {
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	FindRoomsByParticipants(ctx context.Context, roomType store.RoomType, listingID *string, participantIDs []int64) ([]*store.Room, error)
	CreateRoom(ctx context.Context, params store.CreateRoomParams) (*store.Room, error)
}

// Resolver finds or creates the unique room of an exact participant set.
type Resolver struct {
	store ResolverStore
	locks *keyedMutex
	log   *zerolog.Logger
}

// NewResolver creates a resolver.
func NewResolver(st ResolverStore, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		store: st,
		locks: newKeyedMutex(),
		log:   orNop(logger),
	}
}

// FindOrCreate returns the room whose participants are exactly the requester plus
// req.ParticipantIDs, creating it when none exists.
func (r *Resolver) FindOrCreate(ctx context.Context, requesterID int64, req ResolveRequest) (*Resolution, error) {
	if req.Type == "" || len(req.ParticipantIDs) == 0 {
		return nil, validationError(msgMissingTypeOrParticipants)
	}
	if !req.Type.Valid() {
		return nil, validationError(msgUnsupportedType)
	}

	listingID := normalizeListing(req.ListingID)
	if req.Type == store.RoomTypeListing && listingID == nil {
		return nil, validationError(msgMissingListing)
	}

	if requesterID <= 0 || slices.ContainsFunc(req.ParticipantIDs, func(id int64) bool { return id <= 0 }) {
		return nil, validationError(msgInvalidParticipant)
	}
	ids := store.NormalizeParticipants(append(slices.Clone(req.ParticipantIDs), requesterID))
	if req.Type == store.RoomTypeDirect && len(ids) != 2 {
		return nil, validationError(msgDirectPair)
	}

	unlock := r.locks.Lock(store.ParticipantKey(req.Type, listingID, ids))
	defer unlock()

	room, err := r.lookup(ctx, req.Type, listingID, ids)
	if err != nil {
		return nil, storageError("Failed to join or create room", err)
	}
	if room != nil {
		metrics.RoomResolutions.WithLabelValues(string(req.Type), "found").Inc()
		return &Resolution{Room: room}, nil
	}

	for _, id := range ids {
		if _, err := r.store.GetUserByID(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, notFoundError(msgParticipantNotFound, fmt.Errorf("user %d: %w", id, err))
			}
			return nil, storageError("Failed to join or create room", err)
		}
	}

	room, err = r.store.CreateRoom(ctx, store.CreateRoomParams{
		Type:           req.Type,
		ListingID:      listingID,
		ParticipantIDs: ids,
	})
	if errors.Is(err, store.ErrDuplicateRoom) {
		// Another process created it between our lookup and insert.
		room, err = r.lookup(ctx, req.Type, listingID, ids)
		if err == nil && room == nil {
			err = errors.New("duplicate room not visible after conflict")
		}
		if err != nil {
			return nil, storageError("Failed to join or create room", err)
		}
		metrics.RoomResolutions.WithLabelValues(string(req.Type), "found").Inc()
		return &Resolution{Room: room}, nil
	}
	if err != nil {
		return nil, storageError("Failed to join or create room", err)
	}

	metrics.RoomResolutions.WithLabelValues(string(req.Type), "created").Inc()
	r.log.Info().
		Int64("room_id", room.ID).
		Str("type", string(room.Type)).
		Int("participants", len(room.Participants)).
		Msg("room created")
	return &Resolution{Room: room, Created: true}, nil
}

// lookup returns the candidate whose participant set equals ids, or nil.
func (r *Resolver) lookup(ctx context.Context, roomType store.RoomType, listingID *string, ids []int64) (*store.Room, error) {
	candidates, err := r.store.FindRoomsByParticipants(ctx, roomType, listingID, ids)
	if err != nil {
		return nil, fmt.Errorf("find rooms: %w", err)
	}
	for _, room := range candidates {
		if slices.Equal(store.NormalizeParticipants(room.Participants), ids) {
			return room, nil
		}
	}
	return nil, nil
}

func normalizeListing(listingID *string) *string {
	if listingID == nil {
		return nil
	}
	v := strings.TrimSpace(*listingID)
	if v == "" {
		return nil
	}
	return &v
}

// keyedMutex serializes callers sharing a key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func orNop(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return logger
}
