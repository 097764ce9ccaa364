package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps channels in Redis: one hash of channel infos keyed by
// identity and one list of JSON messages per channel.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store using keys under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) namesKey() string {
	return s.prefix + ":channels"
}

func (s *RedisStore) messagesKey(key string) string {
	return s.prefix + ":messages:" + key
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, name string) (bool, error) {
	display, key, err := normalizeName(name)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(Info{Name: display, CreatedAt: nowUTC()})
	if err != nil {
		return false, err
	}
	ok, err := s.client.HSetNX(ctx, s.namesKey(), key, data).Result()
	if err != nil {
		return false, unavailable("create channel", err)
	}
	if ok {
		return true, nil
	}
	cur, err := s.info(ctx, display, key)
	if err != nil {
		return false, err
	}
	return existing(cur.Name, display)
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) (map[string]Info, error) {
	all, err := s.client.HGetAll(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, unavailable("list channels", err)
	}
	out := make(map[string]Info, len(all))
	for _, raw := range all {
		var info Info
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, fmt.Errorf("corrupt channel entry: %w", err)
		}
		out[info.Name] = info
	}
	return out, nil
}

// Post implements Store.
func (s *RedisStore) Post(ctx context.Context, name, sender, body string) (Message, error) {
	display, key, err := normalizeName(name)
	if err != nil {
		return Message{}, err
	}
	if _, err := s.info(ctx, display, key); err != nil {
		return Message{}, err
	}
	msg, err := newMessage(sender, body)
	if err != nil {
		return Message{}, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}
	// channels are never deleted, so the list cannot be orphaned
	if err := s.client.RPush(ctx, s.messagesKey(key), data).Err(); err != nil {
		return Message{}, unavailable("post message", err)
	}
	return msg, nil
}

// History implements Store.
func (s *RedisStore) History(ctx context.Context, name string) ([]Message, error) {
	display, key, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	if _, err := s.info(ctx, display, key); err != nil {
		return nil, err
	}
	raw, err := s.client.LRange(ctx, s.messagesKey(key), 0, -1).Result()
	if err != nil {
		return nil, unavailable("read history", err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			return nil, fmt.Errorf("corrupt message in %q: %w", display, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) info(ctx context.Context, display, key string) (Info, error) {
	raw, err := s.client.HGet(ctx, s.namesKey(), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Info{}, notFound(display)
		}
		return Info{}, unavailable("find channel", err)
	}
	var info Info
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return Info{}, fmt.Errorf("corrupt channel entry: %w", err)
	}
	return info, nil
}
