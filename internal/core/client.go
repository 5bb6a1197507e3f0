package core

import "sync"

const clientBuffer = 64

// Client is one live connection as seen by the core layer.
type Client struct {
	ID     string
	UserID int64
	Name   string
	Events chan *Event

	mu       sync.Mutex
	channels map[string]struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, userID int64, name string) *Client {
	if name == "" {
		name = id
	}
	return &Client{
		ID:       id,
		UserID:   userID,
		Name:     name,
		Events:   make(chan *Event, clientBuffer),
		channels: make(map[string]struct{}),
	}
}

// Send queues an event for the client. Returns false if the buffer is full.
func (c *Client) Send(event *Event) bool {
	select {
	case c.Events <- event:
		return true
	default:
		return false
	}
}

// InChannel reports whether the client has joined the channel.
func (c *Client) InChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// Channels returns the names of all joined channels.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for name := range c.channels {
		out = append(out, name)
	}
	return out
}

func (c *Client) addChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; ok {
		return false
	}
	c.channels[channel] = struct{}{}
	return true
}

func (c *Client) removeChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	delete(c.channels, channel)
	return true
}
