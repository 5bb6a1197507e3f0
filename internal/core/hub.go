package core

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/metrics"
)

var (
	// ErrUnknownClient is returned when a client was never connected or already left.
	ErrUnknownClient = errors.New("unknown client")
	// ErrNotInChannel is returned when leaving a channel the client has not joined.
	ErrNotInChannel = errors.New("not in channel")
)

// Transport delivers events to channels.
type Transport interface {
	// Broadcast delivers an event once to every connection joined to channel.
	Broadcast(ctx context.Context, channel, event string, payload any) error
	// SendToUser delivers an event to the private channel of userID.
	SendToUser(ctx context.Context, userID int64, event string, payload any) error
}

// Presence tracks which users are connected and which channels their connections joined.
type Presence interface {
	Connect(ctx context.Context, c *Client) error
	Disconnect(ctx context.Context, c *Client) error
	Join(ctx context.Context, c *Client, channel string) error
	Leave(ctx context.Context, c *Client, channel string) error
	IsUserPresentInChannel(ctx context.Context, userID int64, channel string) (bool, error)
}

// Hub is the in-process connection registry. It implements Transport and Presence
// for the connections of this node.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[string]*Channel
	log      *zerolog.Logger
}

// NewHub creates a new hub instance.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		clients:  make(map[string]*Client),
		channels: make(map[string]*Channel),
		log:      logger,
	}
}

// Connect registers a client and joins it to its private user channel.
func (h *Hub) Connect(_ context.Context, c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[c.ID]; !exists {
		h.clients[c.ID] = c
		metrics.ConnectionsActive.Inc()
	}
	h.joinLocked(c, UserChannel(c.UserID))

	h.log.Debug().Str("client_id", c.ID).Int64("user_id", c.UserID).Msg("client connected")
	return nil
}

// Disconnect removes a client from every channel and from the registry.
func (h *Hub) Disconnect(_ context.Context, c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[c.ID]; !exists {
		return ErrUnknownClient
	}
	for _, name := range c.Channels() {
		h.leaveLocked(c, name)
	}
	delete(h.clients, c.ID)
	metrics.ConnectionsActive.Dec()

	h.log.Debug().Str("client_id", c.ID).Int64("user_id", c.UserID).Msg("client disconnected")
	return nil
}

// Join subscribes the client to a channel. Joining twice is a no-op.
func (h *Hub) Join(_ context.Context, c *Client, channel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[c.ID]; !exists {
		return ErrUnknownClient
	}
	h.joinLocked(c, channel)
	return nil
}

// Leave unsubscribes the client from a channel.
func (h *Hub) Leave(_ context.Context, c *Client, channel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.leaveLocked(c, channel) {
		return ErrNotInChannel
	}
	return nil
}

func (h *Hub) joinLocked(c *Client, name string) {
	ch, ok := h.channels[name]
	if !ok {
		ch = NewChannel(name)
		h.channels[name] = ch
	}
	ch.AddClient(c)
	c.addChannel(name)
}

func (h *Hub) leaveLocked(c *Client, name string) bool {
	c.removeChannel(name)
	ch, ok := h.channels[name]
	if !ok || !ch.RemoveClient(c) {
		return false
	}
	if ch.Empty() {
		delete(h.channels, name)
	}
	return true
}

// IsUserPresentInChannel reports whether any local connection of userID joined channel.
func (h *Hub) IsUserPresentInChannel(_ context.Context, userID int64, channel string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.channels[channel]
	if !ok {
		return false, nil
	}
	return ch.HasUser(userID), nil
}

// Broadcast delivers an event to every local connection joined to channel.
func (h *Hub) Broadcast(_ context.Context, channel, event string, payload any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.channels[channel]
	if !ok {
		return nil
	}
	if dropped := ch.Broadcast(&Event{Name: event, Channel: channel, Payload: payload}); dropped > 0 {
		metrics.EventsDropped.Add(float64(dropped))
		h.log.Warn().Str("channel", channel).Str("event", event).Int("dropped", dropped).Msg("slow consumers dropped event")
	}
	return nil
}

// SendToUser delivers an event to the private channel of userID.
func (h *Hub) SendToUser(ctx context.Context, userID int64, event string, payload any) error {
	return h.Broadcast(ctx, UserChannel(userID), event, payload)
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
