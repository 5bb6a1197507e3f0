// Package chat implements room resolution, message routing, delivery tracking and
// room listing on top of a store and a real-time transport.
package chat

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/store"
)

// Store is everything the chat components read and write.
type Store interface {
	ResolverStore
	RouterStore
	TrackerStore
	ListerStore
}

// Service bundles the chat components behind one entry point.
type Service struct {
	*Resolver
	*Router
	*Tracker
	*Lister

	transport core.Transport
	log       *zerolog.Logger
}

// New creates a chat service.
func New(st Store, transport core.Transport, presence PresenceChecker, opts Options, logger *zerolog.Logger) *Service {
	logger = orNop(logger)
	return &Service{
		Resolver:  NewResolver(st, logger),
		Router:    NewRouter(st, transport, presence, opts, logger),
		Tracker:   NewTracker(st, transport, logger),
		Lister:    NewLister(st, opts),
		transport: transport,
		log:       logger,
	}
}

// JoinOrCreate resolves the room of the requester and participants. When the room is new,
// every other participant gets a new_room event on their private channel.
func (s *Service) JoinOrCreate(ctx context.Context, requesterID int64, req ResolveRequest) (*Resolution, error) {
	res, err := s.FindOrCreate(ctx, requesterID, req)
	if err != nil {
		return nil, err
	}
	if res.Created {
		s.announce(ctx, requesterID, res.Room)
	}
	return res, nil
}

func (s *Service) announce(ctx context.Context, creatorID int64, room *store.Room) {
	for _, userID := range room.Participants {
		if userID == creatorID {
			continue
		}
		if err := s.transport.SendToUser(ctx, userID, core.EventNewRoom, room); err != nil {
			s.log.Warn().Err(err).Int64("user_id", userID).Int64("room_id", room.ID).Msg("announce room failed")
		}
	}
}

// ListPage returns one page of the user's room list.
func (s *Service) ListPage(ctx context.Context, userID int64, page, limit int) (*RoomPage, error) {
	rooms, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := s.Paginate(rooms, page, limit)
	return &p, nil
}
