package chat

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/store"
	"github.com/vovakirdan/roomwire/internal/store/sqlite"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type testEnv struct {
	svc   *Service
	store *sqlite.SQLiteStore
	hub   *core.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema, sqlite.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hub := core.NewHub(nil)
	return &testEnv{
		svc:   New(st, hub, hub, DefaultOptions(), nil),
		store: st,
		hub:   hub,
	}
}

func (e *testEnv) users(t *testing.T, names ...string) []int64 {
	t.Helper()

	ids := make([]int64, 0, len(names))
	for _, name := range names {
		u, err := e.store.CreateUser(context.Background(), name, "hash")
		if err != nil {
			t.Fatalf("failed to create user %s: %v", name, err)
		}
		ids = append(ids, u.ID)
	}
	return ids
}

// connect opens a hub connection for userID; its Events channel is the user's event log.
func (e *testEnv) connect(t *testing.T, userID int64) *core.Client {
	t.Helper()

	c := core.NewClient("conn-"+strconv.FormatInt(userID, 10)+"-"+strconv.Itoa(e.hub.ClientCount()), userID, "")
	if err := e.hub.Connect(context.Background(), c); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func (e *testEnv) view(t *testing.T, c *core.Client, roomID int64) {
	t.Helper()

	if err := e.hub.Join(context.Background(), c, core.RoomChannel(roomID)); err != nil {
		t.Fatalf("join room: %v", err)
	}
}

func (e *testEnv) room(t *testing.T, requesterID int64, roomType store.RoomType, others ...int64) *store.Room {
	t.Helper()

	res, err := e.svc.FindOrCreate(context.Background(), requesterID, ResolveRequest{Type: roomType, ParticipantIDs: others})
	if err != nil {
		t.Fatalf("resolve room: %v", err)
	}
	return res.Room
}

func (e *testEnv) send(t *testing.T, senderID, roomID int64, content string) *store.Message {
	t.Helper()

	msg, err := e.svc.Send(context.Background(), senderID, roomID, content)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return msg
}

// drain returns every event queued for the client.
func drain(c *core.Client) []*core.Event {
	var out []*core.Event
	for {
		select {
		case ev := <-c.Events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(events []*core.Event, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func findEvent(t *testing.T, events []*core.Event, name string) *core.Event {
	t.Helper()

	for _, ev := range events {
		if ev.Name == name {
			return ev
		}
	}
	t.Fatalf("expected event %q, got %d other events", name, len(events))
	return nil
}
