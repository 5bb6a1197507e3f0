package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/auth"
	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/proto"
	"github.com/vovakirdan/roomwire/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	presence        core.Presence
	dispatcher      *dispatcher
	authService     *auth.Service
	maxMessageBytes int64
	ratePerMinute   int
	log             *zerolog.Logger

	// sessions is cancelled on shutdown; each open connection closes itself then.
	sessions    context.Context
	endSessions context.CancelFunc
	mu          sync.Mutex
	closing     bool
	active      sync.WaitGroup
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(
	presence core.Presence,
	dispatcher *dispatcher,
	authService *auth.Service,
	maxMessageBytes int64,
	ratePerMinute int,
	logger *zerolog.Logger,
) *WSHandler {
	sessions, endSessions := context.WithCancel(context.Background())
	return &WSHandler{
		presence:        presence,
		dispatcher:      dispatcher,
		authService:     authService,
		maxMessageBytes: maxMessageBytes,
		ratePerMinute:   ratePerMinute,
		log:             logger,
		sessions:        sessions,
		endSessions:     endSessions,
	}
}

// Shutdown refuses new connections, cancels the open ones and waits until their read
// loops have returned, so no event is still being handled afterwards.
func (h *WSHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.endSessions()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *WSHandler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.active.Add(1)
	return true
}

// tokenFromRequest reads the JWT from ?token= or an Authorization: Bearer header.
func tokenFromRequest(r *stdhttp.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && scheme == "Bearer" {
			return token
		}
	}
	return ""
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	claims, err := h.authService.ValidateToken(tokenFromRequest(r))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws unauthorized")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}
	if !h.track() {
		stdhttp.Error(w, "shutting down", stdhttp.StatusServiceUnavailable)
		return
	}
	defer h.active.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// A close handshake ends the read loop once the current event is handled.
	stopOnShutdown := context.AfterFunc(h.sessions, func() {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stopOnShutdown()

	client := core.NewClient(utils.NewID(), claims.UserID, claims.Username)
	if err := h.presence.Connect(ctx, client); err != nil {
		h.log.Error().Err(err).Int64("user_id", claims.UserID).Msg("register connection")
		conn.Close(websocket.StatusInternalError, "presence unavailable")
		return
	}
	defer func() {
		if err := h.presence.Disconnect(context.WithoutCancel(ctx), client); err != nil {
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("unregister connection")
		}
	}()

	h.log.Info().Str("client_id", client.ID).Int64("user_id", client.UserID).Msg("ws connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	h.log.Info().Str("client_id", client.ID).Int64("user_id", client.UserID).Msg("ws disconnected")
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.ratePerMinute)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("malformed inbound")
			h.dispatcher.send(client, core.EventError, proto.ErrorData{Code: "bad_request", Message: msgInvalidPayload})
			continue
		}

		if !limiter.allow() {
			h.dispatcher.send(client, core.EventError, proto.ErrorData{Code: "rate_limited", Message: msgRateLimited})
			continue
		}
		h.dispatcher.dispatch(ctx, client, inbound)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, proto.EncodeEvent(event.Name, event.Payload)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
