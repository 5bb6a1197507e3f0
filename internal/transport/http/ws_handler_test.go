package http

import (
	"context"
	"io"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomwire/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected health response: %d %q", resp.StatusCode, body)
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.ts.URL, "http", "ws", 1) + "/ws"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.ts.URL, "http", "ws", 1) + "/ws?token=garbage"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("expected dial with bad token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebSocketChatFlow(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceToken, aliceID := srv.register(t, "alice")
	bobToken, bobID := srv.register(t, "bob")

	alice := srv.dial(t, ctx, aliceToken)
	bob := srv.dial(t, ctx, bobToken)
	srv.waitConnected(t, 2)

	send(t, ctx, alice, proto.InboundJoinOrCreateRoom, proto.JoinOrCreateRoomData{
		Type:           "DIRECT",
		ParticipantIDs: []int64{bobID},
	})
	room := decodeData[proto.Room](t, readUntil(t, ctx, alice, "room_created"))
	if room.ID == 0 || room.Type != "DIRECT" {
		t.Fatalf("unexpected room: %+v", room)
	}
	if len(room.Participants) != 2 || room.Participants[0] != aliceID || room.Participants[1] != bobID {
		t.Fatalf("unexpected participants: %v", room.Participants)
	}

	announced := decodeData[proto.Room](t, readUntil(t, ctx, bob, "new_room"))
	if announced.ID != room.ID {
		t.Fatalf("bob was announced room %d, want %d", announced.ID, room.ID)
	}

	// Bob is not in the room channel yet, so the first message arrives as a notify.
	send(t, ctx, alice, proto.InboundSendMessage, proto.SendMessageData{RoomID: room.ID, Content: "hi bob"})
	notified := decodeData[proto.Message](t, readUntil(t, ctx, bob, "notify"))
	if notified.Content != "hi bob" || notified.SenderID != aliceID || notified.Status != "SENT" {
		t.Fatalf("unexpected notify: %+v", notified)
	}
	echoed := decodeData[proto.Message](t, readUntil(t, ctx, alice, "receive_message"))
	if echoed.ID != notified.ID {
		t.Fatalf("alice echo id %d, want %d", echoed.ID, notified.ID)
	}

	send(t, ctx, bob, proto.InboundJoinRoom, proto.RoomRefData{RoomID: room.ID})
	readUntil(t, ctx, bob, "room_joined")

	send(t, ctx, alice, proto.InboundSendMessage, proto.SendMessageData{RoomID: room.ID, Content: "now live"})
	live := decodeData[proto.Message](t, readUntil(t, ctx, bob, "receive_message"))
	if live.Content != "now live" {
		t.Fatalf("unexpected live message: %+v", live)
	}

	send(t, ctx, bob, proto.InboundMessageDelivered, proto.MessageRefData{MessageID: live.ID})
	change := decodeData[proto.StatusChange](t, readUntil(t, ctx, alice, "message-status-updated"))
	if change.MessageID != live.ID || change.Status != "DELIVERED" || change.UserID != bobID {
		t.Fatalf("unexpected status change: %+v", change)
	}

	send(t, ctx, bob, proto.InboundMessageRead, proto.MessageIDsData{MessageIDs: []int64{notified.ID, live.ID}})
	receipt := decodeData[proto.ReadReceipt](t, readUntil(t, ctx, alice, "message_read"))
	if receipt.RoomID != room.ID || len(receipt.MessageIDs) != 2 || receipt.Status != "READ" {
		t.Fatalf("unexpected read receipt: %+v", receipt)
	}

	send(t, ctx, alice, proto.InboundGetChatHistory, proto.ChatHistoryData{RoomID: room.ID})
	history := decodeData[proto.ChatHistory](t, readUntil(t, ctx, alice, "chat_history"))
	if history.Total != 2 || len(history.Messages) != 2 || history.PageSize != 10 {
		t.Fatalf("unexpected history: %+v", history)
	}
	for _, m := range history.Messages {
		if m.Status != "READ" {
			t.Fatalf("message %d status %s, want READ", m.ID, m.Status)
		}
	}

	send(t, ctx, bob, proto.InboundGetUserRooms, proto.RoomListData{})
	list := decodeData[proto.RoomList](t, readUntil(t, ctx, bob, "room_list"))
	if len(list.Rooms) != 1 || list.Rooms[0].ID != room.ID {
		t.Fatalf("unexpected room list: %+v", list)
	}
	if list.Rooms[0].LastMessage == nil || list.Rooms[0].LastMessage.Content != "now live" {
		t.Fatalf("unexpected last message: %+v", list.Rooms[0].LastMessage)
	}

	send(t, ctx, bob, proto.InboundLeaveRoom, proto.RoomRefData{RoomID: room.ID})
	left := decodeData[proto.RoomRefData](t, readUntil(t, ctx, bob, "room_left"))
	if left.RoomID != room.ID {
		t.Fatalf("left room %d, want %d", left.RoomID, room.ID)
	}
}

func TestWebSocketRejoinReportsExistingRoom(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceToken, _ := srv.register(t, "alice")
	_, bobID := srv.register(t, "bob")

	alice := srv.dial(t, ctx, aliceToken)
	srv.waitConnected(t, 1)

	req := proto.JoinOrCreateRoomData{Type: "DIRECT", ParticipantIDs: []int64{bobID}}
	send(t, ctx, alice, proto.InboundJoinOrCreateRoom, req)
	first := decodeData[proto.Room](t, readUntil(t, ctx, alice, "room_created"))

	// Legacy camelCase alias resolves to the same handler.
	send(t, ctx, alice, "joinOrCreateRoom", req)
	second := decodeData[proto.Room](t, readUntil(t, ctx, alice, "room_joined"))
	if first.ID != second.ID {
		t.Fatalf("rejoin created room %d, want %d", second.ID, first.ID)
	}
}

func TestWebSocketErrors(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, _ := srv.register(t, "alice")
	conn := srv.dial(t, ctx, token)
	srv.waitConnected(t, 1)

	tests := []struct {
		name    string
		event   string
		data    any
		code    string
		message string
	}{
		{
			name:    "unknown event",
			event:   "dance",
			data:    struct{}{},
			code:    "unknown_event",
			message: "Unknown event type",
		},
		{
			name:    "missing room id",
			event:   proto.InboundSendMessage,
			data:    proto.SendMessageData{Content: "hello"},
			code:    "validation",
			message: "Room ID is required",
		},
		{
			name:    "unsupported room type",
			event:   proto.InboundJoinOrCreateRoom,
			data:    proto.JoinOrCreateRoomData{Type: "CHANNEL", ParticipantIDs: []int64{2}},
			code:    "validation",
			message: "Unsupported chat type.",
		},
		{
			name:    "listing room without listing id",
			event:   proto.InboundJoinOrCreateRoom,
			data:    proto.JoinOrCreateRoomData{Type: "LISTING", ParticipantIDs: []int64{2}},
			code:    "validation",
			message: "Please provide listing ID.",
		},
		{
			name:    "unknown participant",
			event:   proto.InboundJoinOrCreateRoom,
			data:    proto.JoinOrCreateRoomData{Type: "GROUP", ParticipantIDs: []int64{404}},
			code:    "not_found",
			message: "Participant not found.",
		},
		{
			name:    "history of missing room",
			event:   "getChatHistory",
			data:    proto.ChatHistoryData{RoomID: 999},
			code:    "not_found",
			message: "Failed to fetch chat history",
		},
		{
			name:    "delivery of missing message",
			event:   "message-delivered",
			data:    proto.MessageRefData{MessageID: 999},
			code:    "not_found",
			message: "Failed to mark message as delivered",
		},
		{
			name:    "leave room never joined",
			event:   proto.InboundLeaveRoom,
			data:    proto.RoomRefData{RoomID: 42},
			code:    "validation",
			message: "You are not in this room.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, ctx, conn, tt.event, tt.data)
			got := decodeData[proto.ErrorData](t, readUntil(t, ctx, conn, "error"))
			if got.Code != tt.code {
				t.Errorf("code = %q, want %q", got.Code, tt.code)
			}
			if !strings.HasPrefix(got.Message, tt.message) {
				t.Errorf("message = %q, want prefix %q", got.Message, tt.message)
			}
		})
	}
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, _ := srv.register(t, "alice")
	conn := srv.dial(t, ctx, token)
	srv.waitConnected(t, 1)

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write raw frame: %v", err)
	}
	got := decodeData[proto.ErrorData](t, readUntil(t, ctx, conn, "error"))
	if got.Message != "Invalid payload" {
		t.Fatalf("unexpected error message %q", got.Message)
	}

	// An empty read batch produces nothing; the next request still gets its reply.
	send(t, ctx, conn, proto.InboundMessageRead, proto.MessageIDsData{})
	send(t, ctx, conn, proto.InboundGetUserRooms, proto.RoomListData{})

	list := decodeData[proto.RoomList](t, readUntil(t, ctx, conn, "room_list"))
	if len(list.Rooms) != 0 || list.Pagination.CurrentPage != 1 || list.Pagination.Limit != 20 {
		t.Fatalf("unexpected empty room list: %+v", list)
	}
}

func TestWebSocketEmptyReadBatchIsSilent(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, _ := srv.register(t, "alice")
	conn := srv.dial(t, ctx, token)
	srv.waitConnected(t, 1)

	send(t, ctx, conn, proto.InboundMessageRead, proto.MessageIDsData{})
	send(t, ctx, conn, "message-read", proto.MessageIDsData{MessageIDs: []int64{}})
	send(t, ctx, conn, proto.InboundGetUserRooms, proto.RoomListData{})

	// Frames arrive in order, so the very next one must be the room list.
	var out outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Event != "room_list" {
		t.Fatalf("first frame after empty batches is %q (%s), want room_list", out.Event, out.Data)
	}
}

func TestWebSocketHostilePagingKeepsServerUp(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceToken, _ := srv.register(t, "alice")
	_, bobID := srv.register(t, "bob")
	alice := srv.dial(t, ctx, aliceToken)
	srv.waitConnected(t, 1)

	send(t, ctx, alice, proto.InboundJoinOrCreateRoom, proto.JoinOrCreateRoomData{Type: "DIRECT", ParticipantIDs: []int64{bobID}})
	room := decodeData[proto.Room](t, readUntil(t, ctx, alice, "room_created"))

	send(t, ctx, alice, proto.InboundGetUserRooms, proto.RoomListData{Page: 2, Limit: math.MaxInt})
	list := decodeData[proto.RoomList](t, readUntil(t, ctx, alice, "room_list"))
	if len(list.Rooms) != 0 || list.Pagination.Limit != 100 || list.Pagination.Total != 1 {
		t.Fatalf("unexpected room list: %+v", list)
	}

	send(t, ctx, alice, proto.InboundGetUserRooms, proto.RoomListData{Page: math.MaxInt / 10, Limit: 20})
	list = decodeData[proto.RoomList](t, readUntil(t, ctx, alice, "room_list"))
	if len(list.Rooms) != 0 || list.Pagination.Total != 1 {
		t.Fatalf("unexpected far room list: %+v", list)
	}

	send(t, ctx, alice, proto.InboundGetChatHistory, proto.ChatHistoryData{RoomID: room.ID, Page: math.MaxInt, PageSize: math.MaxInt})
	history := decodeData[proto.ChatHistory](t, readUntil(t, ctx, alice, "chat_history"))
	if len(history.Messages) != 0 || history.PageSize != 100 {
		t.Fatalf("unexpected history: %+v", history)
	}

	// The connection is still served afterwards.
	send(t, ctx, alice, proto.InboundGetUserRooms, proto.RoomListData{})
	list = decodeData[proto.RoomList](t, readUntil(t, ctx, alice, "room_list"))
	if len(list.Rooms) != 1 || list.Rooms[0].ID != room.ID {
		t.Fatalf("unexpected room list: %+v", list)
	}
}

func TestShutdownClosesWebSockets(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, _ := srv.register(t, "alice")
	conn := srv.dial(t, ctx, token)
	srv.waitConnected(t, 1)

	// The client keeps reading so it can answer the close handshake.
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	if err := srv.ws.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if n := srv.hub.ClientCount(); n != 0 {
		t.Fatalf("expected no registered connections after shutdown, have %d", n)
	}

	err := <-readErr
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Fatalf("close status %v (err %v), want going away", status, err)
	}

	wsURL := strings.Replace(srv.ts.URL, "http", "ws", 1) + "/ws?token=" + token
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got err=%v resp=%+v", err, resp)
	}
}
