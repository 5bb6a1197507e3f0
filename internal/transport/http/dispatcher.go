package http

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/metrics"
	"github.com/vovakirdan/roomwire/internal/proto"
	"github.com/vovakirdan/roomwire/internal/service/chat"
)

// reply is an event for the originating connection only.
type reply struct {
	event   string
	payload any
}

type handlerFunc func(ctx context.Context, client *core.Client, data json.RawMessage) (*reply, error)

// dispatcher routes inbound websocket events of one server to the chat service.
type dispatcher struct {
	presence core.Presence
	chat     *chat.Service
	log      *zerolog.Logger
	handlers map[string]handlerFunc
}

func newDispatcher(presence core.Presence, chatSvc *chat.Service, logger *zerolog.Logger) *dispatcher {
	d := &dispatcher{presence: presence, chat: chatSvc, log: logger}
	d.handlers = map[string]handlerFunc{
		proto.InboundJoinOrCreateRoom: d.joinOrCreateRoom,
		proto.InboundJoinRoom:         d.joinRoom,
		proto.InboundLeaveRoom:        d.leaveRoom,
		proto.InboundSendMessage:      d.sendMessage,
		proto.InboundGetChatHistory:   d.chatHistory,
		proto.InboundMessageDelivered: d.messageDelivered,
		proto.InboundMessageRead:      d.messageRead,
		proto.InboundGetUserRooms:     d.userRooms,
	}
	return d
}

// dispatch handles one inbound event. Failures become one error event for the client.
func (d *dispatcher) dispatch(ctx context.Context, client *core.Client, inbound proto.Inbound) {
	event := proto.CanonicalType(inbound.Type)

	handler, ok := d.handlers[event]
	if !ok {
		metrics.InboundEvents.WithLabelValues("unknown", "error").Inc()
		d.send(client, core.EventError, proto.ErrorData{Code: "unknown_event", Message: msgUnknownEvent})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.InboundEvents.WithLabelValues(event, "error").Inc()
			d.log.Error().
				Interface("panic", r).
				Str("event", event).
				Str("client_id", client.ID).
				Msg("inbound handler panicked")
			d.send(client, core.EventError, proto.ErrorData{Code: "internal", Message: msgInternal})
		}
	}()

	out, err := handler(ctx, client, inbound.Data)
	if err != nil {
		metrics.InboundEvents.WithLabelValues(event, "error").Inc()
		data := errorData(event, err)
		logEvent := d.log.Debug()
		if data.Code == string(chat.KindStorage) {
			logEvent = d.log.Error()
		}
		logEvent.Err(err).
			Str("event", event).
			Str("client_id", client.ID).
			Int64("user_id", client.UserID).
			Msg("inbound event failed")
		d.send(client, core.EventError, data)
		return
	}

	metrics.InboundEvents.WithLabelValues(event, "ok").Inc()
	if out != nil {
		d.send(client, out.event, out.payload)
	}
}

func (d *dispatcher) send(client *core.Client, event string, payload any) {
	if !client.Send(&core.Event{Name: event, Payload: payload}) {
		metrics.EventsDropped.Inc()
		d.log.Warn().Str("client_id", client.ID).Str("event", event).Msg("reply dropped, client buffer full")
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &chat.Error{Kind: chat.KindValidation, Message: msgInvalidPayload, Err: err}
	}
	return v, nil
}

func (d *dispatcher) joinOrCreateRoom(ctx context.Context, client *core.Client, data json.RawMessage) (*reply, error) {
	req, err := decode[proto.JoinOrCreateRoomData](data)
	if err != nil {
		return nil, err
	}

	res, err := d.chat.JoinOrCreate(ctx, client.UserID, resolveRequest(req))
	if err != nil {
		return nil, err
	}
	if err := d.presence.Join(ctx, client, core.RoomChannel(res.Room.ID)); err != nil {
		return nil, err
	}

	event := core.EventRoomJoined
	if res.Created {
		event = core.EventRoomCreated
	}
	return &reply{event: event, payload: res.Room}, nil
}

func (d *dispatcher) joinRoom(ctx context.Context, client *core.Client, data json.RawMessage) (*reply, error) {
	req, err := decode[proto.RoomRefData](data)
	if err != nil {
		return nil, err
	}

	room, err := d.chat.Room(ctx, client.UserID, req.RoomID)
	if err != nil {
		return nil, err
	}
	if err := d.presence.Join(ctx, client, core.RoomChannel(room.ID)); err != nil {
		return nil, err
	}
	return &reply{event: core.EventRoomJoined, payload: room}, nil
}

func (d *dispatcher) leaveRoom(ctx context.Context, client *core.Client, data json.RawMessage) (*reply, error) {
	req, err := decode[proto.RoomRefData](data)
	if err != nil {
		return nil, err
	}

	err = d.presence.Leave(ctx, client, core.RoomChannel(req.RoomID))
	if errors.Is(err, core.ErrNotInChannel) {
		return nil, &chat.Error{Kind: chat.KindValidation, Message: msgNotInRoom, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return &reply{event: core.EventRoomLeft, payload: proto.RoomRefData{RoomID: req.RoomID}}, nil
}

func (d *dispatcher) sendMessage(ctx context.Context, client *core.Client, data json.RawMessage) (*reply, error) {
	req, err := decode[proto.SendMessageData](data)
	if err != nil {
		return nil, err
	}

	if _, err := d.chat.Send(ctx, client.UserID, req.RoomID, req.Content); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *dispatcher) chatHistory(ctx context.Context, client *core.Client, data json.RawMessage) (*reply, error) {
	req, err := decode[proto.ChatHistoryData](data)
	if err != nil {
		return nil, err
	}

	page, err := d.chat.FetchHistory(ctx, client.UserID, req.RoomID, req.Page, req.PageSize)
	if err != nil {
		return nil, err
	}
	return &reply{event: core.EventChatHistory, payload: page}, nil
}

func (d *dispatcher) messageDelivered(ctx context.Context, client *core.Client, data json.RawMessage) (*reply, error) {
	req, err := decode[proto.MessageRefData](data)
	if err != nil {
		return nil, err
	}

	_, err = d.chat.MarkDelivered(ctx, client.UserID, req.MessageID)
	return nil, err
}

func (d *dispatcher) messageRead(ctx context.Context, client *core.Client, data json.RawMessage) (*reply, error) {
	req, err := decode[proto.MessageIDsData](data)
	if err != nil {
		return nil, err
	}

	_, err = d.chat.MarkRead(ctx, client.UserID, req.MessageIDs)
	return nil, err
}

func (d *dispatcher) userRooms(ctx context.Context, client *core.Client, data json.RawMessage) (*reply, error) {
	req, err := decode[proto.RoomListData](data)
	if err != nil {
		return nil, err
	}

	page, err := d.chat.ListPage(ctx, client.UserID, req.Page, req.Limit)
	if err != nil {
		return nil, err
	}
	return &reply{event: core.EventRoomList, payload: page}, nil
}
