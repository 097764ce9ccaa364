package channel

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/peder1981/p2p-chat/internal/config"
	"github.com/peder1981/p2p-chat/internal/storage"
)

// Open builds the backend selected by cfg. The returned close func
// releases the backend's connections.
func Open(ctx context.Context, cfg config.ChannelsConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), func() error { return nil }, nil

	case "sqlite":
		path, err := storage.DataFile(cfg.SQLitePath, "channels.db")
		if err != nil {
			return nil, nil, err
		}
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		s, err := NewSQLStore(db)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return s, sqlDB.Close, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, cfg.RedisKey), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown channel backend %q", cfg.Backend)
	}
}
