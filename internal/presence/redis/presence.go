// Package redis mirrors channel membership into Redis so presence checks see
// connections held by every node, not only the local hub.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/core"
)

// memberTTL bounds how long counts written by a crashed node survive.
const memberTTL = 24 * time.Hour

// release decrements a user's connection count and drops the field at zero.
var release = goredis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

// Presence decorates a local presence registry. Every join and leave is applied
// locally first and then mirrored as a per-channel hash of user id to connection count.
type Presence struct {
	local  core.Presence
	client goredis.UniversalClient
	prefix string
	log    *zerolog.Logger
}

var _ core.Presence = (*Presence)(nil)

// NewPresence wraps local with a Redis mirror under keys prefix+channel.
func NewPresence(local core.Presence, client goredis.UniversalClient, prefix string, logger *zerolog.Logger) *Presence {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Presence{local: local, client: client, prefix: prefix, log: logger}
}

func (p *Presence) key(channel string) string {
	return p.prefix + channel
}

// Connect registers the client locally and mirrors its private user channel.
func (p *Presence) Connect(ctx context.Context, c *core.Client) error {
	fresh := !c.InChannel(core.UserChannel(c.UserID))
	if err := p.local.Connect(ctx, c); err != nil {
		return err
	}
	if fresh {
		p.acquire(ctx, c.UserID, core.UserChannel(c.UserID))
	}
	return nil
}

// Disconnect removes the client locally and releases every channel it held.
func (p *Presence) Disconnect(ctx context.Context, c *core.Client) error {
	channels := c.Channels()
	if err := p.local.Disconnect(ctx, c); err != nil {
		return err
	}
	if len(channels) == 0 {
		return nil
	}

	field := strconv.FormatInt(c.UserID, 10)
	pipe := p.client.Pipeline()
	for _, channel := range channels {
		release.Eval(ctx, pipe, []string{p.key(channel)}, field)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn().Err(err).Int64("user_id", c.UserID).Int("channels", len(channels)).Msg("redis presence release failed")
	}
	return nil
}

// Join subscribes the client locally; the mirror is bumped only for a new membership.
func (p *Presence) Join(ctx context.Context, c *core.Client, channel string) error {
	fresh := !c.InChannel(channel)
	if err := p.local.Join(ctx, c, channel); err != nil {
		return err
	}
	if fresh {
		p.acquire(ctx, c.UserID, channel)
	}
	return nil
}

// Leave unsubscribes the client locally and releases the mirrored membership.
func (p *Presence) Leave(ctx context.Context, c *core.Client, channel string) error {
	if err := p.local.Leave(ctx, c, channel); err != nil {
		return err
	}
	field := strconv.FormatInt(c.UserID, 10)
	if err := release.Run(ctx, p.client, []string{p.key(channel)}, field).Err(); err != nil {
		p.log.Warn().Err(err).Int64("user_id", c.UserID).Str("channel", channel).Msg("redis presence release failed")
	}
	return nil
}

// IsUserPresentInChannel answers from the local hub when it can and asks Redis otherwise.
func (p *Presence) IsUserPresentInChannel(ctx context.Context, userID int64, channel string) (bool, error) {
	present, err := p.local.IsUserPresentInChannel(ctx, userID, channel)
	if err == nil && present {
		return true, nil
	}

	n, err := p.client.HGet(ctx, p.key(channel), strconv.FormatInt(userID, 10)).Int64()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Presence) acquire(ctx context.Context, userID int64, channel string) {
	key := p.key(channel)
	pipe := p.client.TxPipeline()
	pipe.HIncrBy(ctx, key, strconv.FormatInt(userID, 10), 1)
	pipe.Expire(ctx, key, memberTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn().Err(err).Int64("user_id", userID).Str("channel", channel).Msg("redis presence acquire failed")
	}
}
