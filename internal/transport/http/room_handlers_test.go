package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/vovakirdan/roomwire/internal/proto"
)

func doJSON(t *testing.T, method, url, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)

	creds := CredentialsRequest{Username: "carol", Password: "secret123"}
	status, body := doJSON(t, http.MethodPost, srv.ts.URL+"/api/register", "", creds)
	if status != http.StatusCreated {
		t.Fatalf("register status %d: %s", status, body)
	}
	var registered SessionResponse
	if err := json.Unmarshal(body, &registered); err != nil || registered.User.ID == 0 || registered.User.Username != "carol" {
		t.Fatalf("register returned no user: %s", body)
	}

	status, _ = doJSON(t, http.MethodPost, srv.ts.URL+"/api/register", "", creds)
	if status != http.StatusConflict {
		t.Fatalf("duplicate register status %d, want 409", status)
	}

	status, body = doJSON(t, http.MethodPost, srv.ts.URL+"/api/login", "", creds)
	if status != http.StatusOK {
		t.Fatalf("login status %d: %s", status, body)
	}
	var session SessionResponse
	if err := json.Unmarshal(body, &session); err != nil || session.Token == "" || session.User.ID != registered.User.ID {
		t.Fatalf("login returned no token: %s", body)
	}

	status, _ = doJSON(t, http.MethodPost, srv.ts.URL+"/api/login", "", CredentialsRequest{Username: "carol", Password: "wrong"})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad login status %d, want 401", status)
	}

	status, _ = doJSON(t, http.MethodPost, srv.ts.URL+"/api/register", "", CredentialsRequest{Username: "a/b", Password: "secret123"})
	if status != http.StatusBadRequest {
		t.Fatalf("unsafe username status %d, want 400", status)
	}
}

func TestUserLookup(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, aliceID := srv.register(t, "alice")
	_, bobID := srv.register(t, "bob")

	status, body := doJSON(t, http.MethodGet, srv.ts.URL+"/api/me", aliceToken, nil)
	if status != http.StatusOK {
		t.Fatalf("me status %d: %s", status, body)
	}
	var me UserResponse
	if err := json.Unmarshal(body, &me); err != nil || me.ID != aliceID || me.Username != "alice" {
		t.Fatalf("unexpected me response: %s", body)
	}

	status, body = doJSON(t, http.MethodGet, srv.ts.URL+"/api/users/bob", aliceToken, nil)
	if status != http.StatusOK {
		t.Fatalf("lookup status %d: %s", status, body)
	}
	var bob UserResponse
	if err := json.Unmarshal(body, &bob); err != nil || bob.ID != bobID {
		t.Fatalf("unexpected lookup response: %s", body)
	}

	status, _ = doJSON(t, http.MethodGet, srv.ts.URL+"/api/users/nobody", aliceToken, nil)
	if status != http.StatusNotFound {
		t.Fatalf("missing user status %d, want 404", status)
	}
}

func TestRoomEndpointsRequireAuth(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/rooms", "/api/rooms/1/messages", "/api/me"} {
		status, _ := doJSON(t, http.MethodGet, srv.ts.URL+path, "", nil)
		if status != http.StatusUnauthorized {
			t.Errorf("GET %s status %d, want 401", path, status)
		}
	}
	status, _ := doJSON(t, http.MethodGet, srv.ts.URL+"/api/rooms", "not-a-token", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("invalid token status %d, want 401", status)
	}
}

func TestCreateRoom(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, aliceID := srv.register(t, "alice")
	_, bobID := srv.register(t, "bob")

	req := proto.JoinOrCreateRoomData{Type: "DIRECT", ParticipantIDs: []int64{bobID}}

	status, body := doJSON(t, http.MethodPost, srv.ts.URL+"/api/rooms", aliceToken, req)
	if status != http.StatusCreated {
		t.Fatalf("create status %d: %s", status, body)
	}
	var created proto.Room
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	if len(created.Participants) != 2 || created.Participants[0] != aliceID {
		t.Fatalf("unexpected participants %v", created.Participants)
	}

	status, body = doJSON(t, http.MethodPost, srv.ts.URL+"/api/rooms", aliceToken, req)
	if status != http.StatusOK {
		t.Fatalf("existing room status %d: %s", status, body)
	}
	var existing proto.Room
	if err := json.Unmarshal(body, &existing); err != nil || existing.ID != created.ID {
		t.Fatalf("expected room %d again, got %s", created.ID, body)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	srv := newTestServer(t)
	token, _ := srv.register(t, "alice")

	tests := []struct {
		name   string
		req    proto.JoinOrCreateRoomData
		status int
		text   string
	}{
		{
			name:   "missing type",
			req:    proto.JoinOrCreateRoomData{ParticipantIDs: []int64{2}},
			status: http.StatusBadRequest,
			text:   "Please provide both chat type and participant ID.",
		},
		{
			name:   "listing without id",
			req:    proto.JoinOrCreateRoomData{Type: "LISTING", ParticipantIDs: []int64{2}},
			status: http.StatusBadRequest,
			text:   "Please provide listing ID.",
		},
		{
			name:   "unknown participant",
			req:    proto.JoinOrCreateRoomData{Type: "DIRECT", ParticipantIDs: []int64{404}},
			status: http.StatusNotFound,
			text:   "Participant not found.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, http.MethodPost, srv.ts.URL+"/api/rooms", token, tt.req)
			if status != tt.status {
				t.Fatalf("status %d, want %d: %s", status, tt.status, body)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(body, &resp); err != nil || resp.Error != tt.text {
				t.Fatalf("error %q, want %q", resp.Error, tt.text)
			}
		})
	}
}

func TestListRoomsAndHistory(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := srv.register(t, "alice")
	_, bobID := srv.register(t, "bob")
	eveToken, _ := srv.register(t, "eve")

	status, body := doJSON(t, http.MethodPost, srv.ts.URL+"/api/rooms", aliceToken,
		proto.JoinOrCreateRoomData{Type: "DIRECT", ParticipantIDs: []int64{bobID}})
	if status != http.StatusCreated {
		t.Fatalf("create status %d: %s", status, body)
	}
	var room proto.Room
	if err := json.Unmarshal(body, &room); err != nil {
		t.Fatalf("decode room: %v", err)
	}

	status, body = doJSON(t, http.MethodGet, srv.ts.URL+"/api/rooms?page=1&limit=5", aliceToken, nil)
	if status != http.StatusOK {
		t.Fatalf("list status %d: %s", status, body)
	}
	var list proto.RoomList
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Rooms) != 1 || list.Rooms[0].ID != room.ID {
		t.Fatalf("unexpected rooms: %+v", list.Rooms)
	}
	if list.Pagination.Limit != 5 || list.Pagination.Total != 1 || list.Pagination.HasNextPage {
		t.Fatalf("unexpected pagination: %+v", list.Pagination)
	}
	if list.Rooms[0].LastMessage != nil || len(list.Rooms[0].Participants) != 2 {
		t.Fatalf("unexpected summary: %+v", list.Rooms[0])
	}

	historyURL := fmt.Sprintf("%s/api/rooms/%d/messages?page=1&page_size=500", srv.ts.URL, room.ID)
	status, body = doJSON(t, http.MethodGet, historyURL, aliceToken, nil)
	if status != http.StatusOK {
		t.Fatalf("history status %d: %s", status, body)
	}
	var history proto.ChatHistory
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if history.PageSize != 100 || history.Total != 0 || history.Messages == nil {
		t.Fatalf("unexpected history: %+v", history)
	}

	status, _ = doJSON(t, http.MethodGet, historyURL, eveToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("outsider history status %d, want 403", status)
	}

	status, _ = doJSON(t, http.MethodGet, srv.ts.URL+"/api/rooms/abc/messages", aliceToken, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad room id status %d, want 400", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// One request so the HTTP counters have a sample.
	doJSON(t, http.MethodGet, srv.ts.URL+"/health", "", nil)

	status, body := doJSON(t, http.MethodGet, srv.ts.URL+"/metrics", "", nil)
	if status != http.StatusOK {
		t.Fatalf("metrics status %d", status)
	}
	if !strings.Contains(string(body), "roomwire_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}
