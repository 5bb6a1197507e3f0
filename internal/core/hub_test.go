package core

import (
	"context"
	"errors"
	"testing"
)

func TestHubJoinBroadcastAndLeave(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	for _, c := range []*Client{alice, bob} {
		if err := hub.Connect(ctx, c); err != nil {
			t.Fatalf("connect %s: %v", c.Name, err)
		}
	}

	room := RoomChannel(7)
	if err := hub.Join(ctx, alice, room); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := hub.Join(ctx, bob, room); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	if err := hub.Broadcast(ctx, room, EventReceiveMessage, "hi"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	for _, c := range []*Client{alice, bob} {
		ev := mustEvent(t, c.Events, EventReceiveMessage)
		if ev.Payload != "hi" || ev.Channel != room {
			t.Fatalf("unexpected event for %s: %+v", c.Name, ev)
		}
	}

	if err := hub.Leave(ctx, alice, room); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := hub.Broadcast(ctx, room, EventReceiveMessage, "again"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	mustEvent(t, bob.Events, EventReceiveMessage)
	noEvent(t, alice.Events)
}

func TestHubDoubleJoinDeliversOnce(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)

	alice := NewClient("a", 1, "alice")
	_ = hub.Connect(ctx, alice)

	room := RoomChannel(1)
	_ = hub.Join(ctx, alice, room)
	_ = hub.Join(ctx, alice, room)

	_ = hub.Broadcast(ctx, room, EventReceiveMessage, "once")
	mustEvent(t, alice.Events, EventReceiveMessage)
	noEvent(t, alice.Events)
}

func TestHubLeaveUnknownChannelError(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)

	alice := NewClient("a", 1, "alice")
	_ = hub.Connect(ctx, alice)

	if err := hub.Leave(ctx, alice, "room:404"); !errors.Is(err, ErrNotInChannel) {
		t.Fatalf("expected ErrNotInChannel, got %v", err)
	}
}

func TestHubJoinRequiresConnect(t *testing.T) {
	hub := NewHub(nil)
	ghost := NewClient("g", 9, "ghost")

	if err := hub.Join(context.Background(), ghost, RoomChannel(1)); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient, got %v", err)
	}
}

func TestHubSendToUserReachesEveryConnection(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)

	laptop := NewClient("l", 5, "eve")
	phone := NewClient("p", 5, "eve")
	other := NewClient("o", 6, "mallory")
	for _, c := range []*Client{laptop, phone, other} {
		_ = hub.Connect(ctx, c)
	}

	if err := hub.SendToUser(ctx, 5, EventNotify, "ping"); err != nil {
		t.Fatalf("send to user: %v", err)
	}
	mustEvent(t, laptop.Events, EventNotify)
	mustEvent(t, phone.Events, EventNotify)
	noEvent(t, other.Events)
}

func TestHubPresence(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)

	alice := NewClient("a", 1, "alice")
	_ = hub.Connect(ctx, alice)
	room := RoomChannel(3)

	present, err := hub.IsUserPresentInChannel(ctx, 1, room)
	if err != nil || present {
		t.Fatalf("expected absent before join, got %v %v", present, err)
	}

	_ = hub.Join(ctx, alice, room)
	if present, _ = hub.IsUserPresentInChannel(ctx, 1, room); !present {
		t.Fatal("expected present after join")
	}
	if present, _ = hub.IsUserPresentInChannel(ctx, 2, room); present {
		t.Fatal("other user must not be present")
	}

	if err := hub.Disconnect(ctx, alice); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if present, _ = hub.IsUserPresentInChannel(ctx, 1, room); present {
		t.Fatal("expected absent after disconnect")
	}
	if present, _ = hub.IsUserPresentInChannel(ctx, 1, UserChannel(1)); present {
		t.Fatal("user channel must be released on disconnect")
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("expected no clients, got %d", hub.ClientCount())
	}
}

func TestHubSlowConsumerDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)

	slow := NewClient("s", 1, "slow")
	_ = hub.Connect(ctx, slow)

	for i := 0; i < clientBuffer+10; i++ {
		if err := hub.SendToUser(ctx, 1, EventNotify, i); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if got := len(slow.Events); got != clientBuffer {
		t.Fatalf("expected full buffer of %d, got %d", clientBuffer, got)
	}
}

func TestParseRoomChannel(t *testing.T) {
	id, err := ParseRoomChannel(RoomChannel(42))
	if err != nil || id != 42 {
		t.Fatalf("expected 42, got %d %v", id, err)
	}
	if _, err := ParseRoomChannel(UserChannel(42)); err == nil {
		t.Fatal("expected error for user channel")
	}
}
