// Package redis relays channel broadcasts between nodes over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/metrics"
	"github.com/vovakirdan/roomwire/internal/proto"
)

// envelope is one relayed broadcast. Data is already in wire form.
type envelope struct {
	Node    string          `json:"node"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

func encodeEnvelope(node, channel, event string, payload any) ([]byte, error) {
	data, err := json.Marshal(proto.EncodePayload(payload))
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(envelope{Node: node, Channel: channel, Event: event, Data: data})
}

// Relay decorates a local transport. Broadcasts are delivered locally and
// published for the other nodes, which deliver them to their own connections.
type Relay struct {
	local  core.Transport
	client goredis.UniversalClient
	node   string
	topic  string
	log    *zerolog.Logger
}

var _ core.Transport = (*Relay)(nil)

// NewRelay creates a relay publishing on topic as node.
func NewRelay(local core.Transport, client goredis.UniversalClient, node, topic string, logger *zerolog.Logger) *Relay {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Relay{local: local, client: client, node: node, topic: topic, log: logger}
}

// Broadcast delivers locally, then publishes. A publish failure is returned after
// local delivery already happened.
func (r *Relay) Broadcast(ctx context.Context, channel, event string, payload any) error {
	if err := r.local.Broadcast(ctx, channel, event, payload); err != nil {
		return err
	}

	msg, err := encodeEnvelope(r.node, channel, event, payload)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.topic, msg).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, channel, err)
	}
	metrics.RelayMessages.WithLabelValues("published").Inc()
	return nil
}

// SendToUser relays to the private channel of userID.
func (r *Relay) SendToUser(ctx context.Context, userID int64, event string, payload any) error {
	return r.Broadcast(ctx, core.UserChannel(userID), event, payload)
}

// Run subscribes to the topic and delivers foreign envelopes locally until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.topic)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.topic, err)
	}
	r.log.Info().Str("topic", r.topic).Str("node", r.node).Msg("relay subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.log.Warn().Err(err).Msg("relay dropped malformed envelope")
		return
	}
	if env.Node == r.node {
		return
	}

	metrics.RelayMessages.WithLabelValues("received").Inc()
	if err := r.local.Broadcast(ctx, env.Channel, env.Event, env.Data); err != nil {
		r.log.Warn().Err(err).Str("channel", env.Channel).Str("event", env.Event).Msg("relay local delivery failed")
	}
}
