// Package commands is a thin, illustrative layer of typed wrappers over
// the redis/v2 core's opaque Command/Client API. It covers a handful of
// verbs (GET, SET, DEL, PUBLISH, SUBSCRIBE) to show how a full per-command
// facade would plug in; it deliberately does not enumerate the whole
// Redis command set.
package commands

import (
	"context"

	"github.com/pascaldekloe/redis/v2"
)

// Get issues GET and reports key absence via ok.
func Get(ctx context.Context, c *redis.Client, key string) (value []byte, ok bool, err error) {
	reply, err := c.Do(ctx, redis.NewCommand("GET").AddString(key))
	if err != nil {
		return nil, false, err
	}
	if reply.Type == redis.Error {
		return nil, false, redis.ServerError(reply.Raw)
	}
	if reply.IsNull {
		return nil, false, nil
	}
	return reply.Raw, true, nil
}

// Set issues SET.
func Set(ctx context.Context, c *redis.Client, key string, value []byte) error {
	reply, err := c.Do(ctx, redis.NewCommand("SET").AddString(key).AddBytes(value))
	if err != nil {
		return err
	}
	if reply.Type == redis.Error {
		return redis.ServerError(reply.Raw)
	}
	return nil
}

// Del issues DEL and returns the number of keys removed.
func Del(ctx context.Context, c *redis.Client, keys ...string) (int64, error) {
	cmd := redis.NewCommand("DEL")
	for _, key := range keys {
		cmd = cmd.AddString(key)
	}
	reply, err := c.Do(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if reply.Type == redis.Error {
		return 0, redis.ServerError(reply.Raw)
	}
	return redis.ParseInt(reply.Raw), nil
}

// Publish issues PUBLISH and returns the receiving client count.
func Publish(ctx context.Context, c *redis.Client, channel string, message []byte) (int64, error) {
	return c.Publish(ctx, channel, message)
}

// Subscribe issues SUBSCRIBE and decodes every arriving push message
// into its typed pub/sub view, dropping anything that fails to decode.
func Subscribe(ctx context.Context, c *redis.Client, channels ...string) (<-chan redis.RefPubSubMessage, error) {
	raw, err := c.Subscribe(ctx, channels...)
	if err != nil {
		return nil, err
	}

	out := make(chan redis.RefPubSubMessage, cap(raw))
	go func() {
		defer close(out)
		for push := range raw {
			if push.Sub != nil {
				out <- *push.Sub
			}
		}
	}()
	return out, nil
}
