package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomwire/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "http://localhost:8080", "server base URL")
	user := flag.String("user", "cli-user", "username")
	password := flag.String("password", "cli-password", "password")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	token, err := authenticate(*base, *user, *password)
	if err != nil {
		return err
	}

	wsURL := strings.Replace(*base, "http", "ws", 1) + "/ws?token=" + url.QueryEscape(token)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s as %s\n", *base, *user)
	fmt.Println("Commands: /dm <username>, /join <room id>, /history, /rooms. Other lines are sent to the current room.")

	c := &chatClient{conn: conn, base: *base, token: token}

	go func() {
		defer cancel()
		c.readLoop(ctx)
	}()

	c.writeLoop(ctx)
	return nil
}

// authenticate logs in, registering the account first when it does not exist.
func authenticate(base, user, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": user, "password": password})

	for _, path := range []string{"/api/login", "/api/register"} {
		resp, err := http.Post(base+path, "application/json", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("%s: %w", path, err)
		}
		var out struct {
			Token string `json:"token"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if out.Token != "" {
			return out.Token, nil
		}
		log.Printf("%s: %s", path, out.Error)
	}
	return "", errors.New("could not authenticate")
}

type chatClient struct {
	conn  *websocket.Conn
	base  string
	token string
	room  atomic.Int64
}

func (c *chatClient) send(ctx context.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, c.conn, proto.Inbound{Type: event, Data: payload})
}

func (c *chatClient) lookup(username string) (int64, error) {
	req, err := http.NewRequest(http.MethodGet, c.base+"/api/users/"+url.PathEscape(username), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("lookup %s: %s", username, resp.Status)
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *chatClient) readLoop(ctx context.Context) {
	for {
		var out struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, c.conn, &out); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch out.Event {
		case "room_created", "room_joined":
			var room proto.Room
			if json.Unmarshal(out.Data, &room) == nil {
				c.room.Store(room.ID)
				fmt.Printf("* now in room %d (%s)\n", room.ID, room.Type)
			}
		case "receive_message", "notify":
			var msg proto.Message
			if json.Unmarshal(out.Data, &msg) == nil {
				fmt.Printf("[room %d] %d: %s\n", msg.RoomID, msg.SenderID, msg.Content)
				_ = c.send(ctx, proto.InboundMessageDelivered, proto.MessageRefData{MessageID: msg.ID})
			}
		case "error":
			var e proto.ErrorData
			_ = json.Unmarshal(out.Data, &e)
			fmt.Printf("! %s\n", e.Message)
		default:
			fmt.Printf("event=%s data=%s\n", out.Event, out.Data)
		}
	}
}

func (c *chatClient) writeLoop(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.handleLine(ctx, strings.TrimSpace(line)); err != nil {
				log.Printf("%v", err)
			}
		}
	}
}

func (c *chatClient) handleLine(ctx context.Context, text string) error {
	cmd, arg, _ := strings.Cut(text, " ")
	switch cmd {
	case "":
		return nil
	case "/dm":
		id, err := c.lookup(arg)
		if err != nil {
			return err
		}
		return c.send(ctx, proto.InboundJoinOrCreateRoom, proto.JoinOrCreateRoomData{Type: "DIRECT", ParticipantIDs: []int64{id}})
	case "/join":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("bad room id %q", arg)
		}
		return c.send(ctx, proto.InboundJoinRoom, proto.RoomRefData{RoomID: id})
	case "/history":
		return c.send(ctx, proto.InboundGetChatHistory, proto.ChatHistoryData{RoomID: c.room.Load()})
	case "/rooms":
		return c.send(ctx, proto.InboundGetUserRooms, proto.RoomListData{})
	default:
		if c.room.Load() == 0 {
			return errors.New("join a room first with /dm or /join")
		}
		return c.send(ctx, proto.InboundSendMessage, proto.SendMessageData{RoomID: c.room.Load(), Content: text})
	}
}
