package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

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

func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func userChannel(userID uint64) string {
	return fmt.Sprintf("user:%d:events", userID)
}

// PublishUserEvent fans a serialized event envelope out to the per-user
// pub/sub channel the realtime transport subscribes to.
func (s *Store) PublishUserEvent(ctx context.Context, userID uint64, payload []byte) error {
	return s.rdb.Publish(ctx, userChannel(userID), payload).Err()
}

func (s *Store) Close() error { return s.rdb.Close() }
