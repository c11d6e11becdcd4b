package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/genbi-gateway/internal/query"
)

const configKeyPrefix = "genbi:config:"

// Store keeps per-user query configs in Redis. It implements query.Store.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func configKey(userID string) string {
	return configKeyPrefix + userID
}

func (s *Store) Load(ctx context.Context, userID string) (query.Config, error) {
	b, err := s.rdb.Get(ctx, configKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return query.Config{}, query.ErrNotFound
		}
		return query.Config{}, err
	}
	var cfg query.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return query.Config{}, fmt.Errorf("decode query config for %s: %w", userID, err)
	}
	return cfg, nil
}

// Save overwrites the user's config. No expiry: it lives as long as the user does.
func (s *Store) Save(ctx context.Context, userID string, cfg query.Config) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, configKey(userID), b, 0).Err()
}
