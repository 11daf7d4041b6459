package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	logx "kvpush/pkg/logx"
)

// redisStore maps keys to plain redis strings under a prefix.
type redisStore struct {
	rdb    *redis.Client
	prefix string
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.connectWait())
	defer cancel()
	ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	if err := connectWithRetry(ctx, log, ping); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Debug("redis store ready", logx.String("addr", addr))
	return newRedisStore(rdb, cfg.Prefix), nil
}

func newRedisStore(rdb *redis.Client, prefix string) *redisStore {
	if prefix == "" {
		prefix = "kvpush:"
	}
	return &redisStore{rdb: rdb, prefix: prefix}
}

func (s *redisStore) key(k string) string { return s.prefix + k }

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, s.key(key), value, 0).Err()
}

func (s *redisStore) Close() error { return s.rdb.Close() }
