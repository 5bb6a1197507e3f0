package core

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	roomChannelPrefix = "room:"
	userChannelPrefix = "user:"
)

// RoomChannel is the channel of every connection currently viewing a room.
func RoomChannel(roomID int64) string {
	return roomChannelPrefix + strconv.FormatInt(roomID, 10)
}

// UserChannel is the private channel every connection of a user joins on connect.
func UserChannel(userID int64) string {
	return userChannelPrefix + strconv.FormatInt(userID, 10)
}

// ParseRoomChannel extracts the room id from a room channel name.
func ParseRoomChannel(channel string) (int64, error) {
	raw, ok := strings.CutPrefix(channel, roomChannelPrefix)
	if !ok {
		return 0, fmt.Errorf("not a room channel: %q", channel)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Channel groups clients subscribed to the same name.
type Channel struct {
	Name    string
	clients map[*Client]struct{}
}

// NewChannel constructs a channel with no clients.
func NewChannel(name string) *Channel {
	return &Channel{
		Name:    name,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the channel. Returns true if newly added.
func (ch *Channel) AddClient(c *Client) bool {
	if _, exists := ch.clients[c]; exists {
		return false
	}
	ch.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the channel. Returns true if removed.
func (ch *Channel) RemoveClient(c *Client) bool {
	if _, exists := ch.clients[c]; !exists {
		return false
	}
	delete(ch.clients, c)
	return true
}

// HasUser reports whether any connection of userID is in the channel.
func (ch *Channel) HasUser(userID int64) bool {
	for client := range ch.clients {
		if client.UserID == userID {
			return true
		}
	}
	return false
}

// Broadcast sends an event to all clients in the channel and returns how many were dropped.
func (ch *Channel) Broadcast(event *Event) int {
	dropped := 0
	for client := range ch.clients {
		if !client.Send(event) {
			// Slow consumer.
			dropped++
		}
	}
	return dropped
}

// Empty returns true if no clients are in the channel.
func (ch *Channel) Empty() bool {
	return len(ch.clients) == 0
}
