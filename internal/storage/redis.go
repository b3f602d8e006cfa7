package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

const redisKeyPrefix = "clickcounter:doc:"

// RedisConfig holds the connection settings for RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps each document as a JSON string under
// "clickcounter:doc:<id>".
type RedisStore struct {
	client *redis.Client
}

// NewRedis builds a RedisStore. Unlike Open it does not fail when the server
// is unreachable: the caller decides whether to run degraded.
func NewRedis(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("storage: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &RedisStore{client: client}, nil
}

func redisKey(id string) string {
	return redisKeyPrefix + sanitizeID(id)
}

func (s *RedisStore) Get(ctx context.Context, id string) (Document, bool, error) {
	data, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("storage: redis get %s: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, false, fmt.Errorf("storage: decode %s: %w", id, err)
	}
	return doc, true, nil
}

func (s *RedisStore) Upsert(ctx context.Context, id string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", id, err)
	}
	if err := s.client.Set(ctx, redisKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("storage: redis set %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("storage: redis ping: %w", err)
	}
	return nil
}

// DBPath is always "" for Redis.
func (s *RedisStore) DBPath() string { return "" }

func (s *RedisStore) Close() error { return s.client.Close() }
