// Package redisstore keeps document update logs in redis lists. Suitable
// when room lifetimes are short and a relational database is not available
// to the collaboration tier.
package redisstore

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff"
	"github.com/redis/go-redis/v9"
)

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Connect dials redis with exponential backoff and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ping := func() error {
		return client.Ping(ctx).Err()
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(ping, b); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return client, nil
}

func key(roomID string) string {
	return "collab:doc:" + roomID
}

func (s *Store) LoadUpdates(ctx context.Context, roomID string) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, key(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load updates: %w", err)
	}

	updates := make([][]byte, len(vals))
	for i, v := range vals {
		updates[i] = []byte(v)
	}
	return updates, nil
}

func (s *Store) AppendUpdate(ctx context.Context, roomID string, update []byte) error {
	if err := s.client.RPush(ctx, key(roomID), update).Err(); err != nil {
		return fmt.Errorf("append update: %w", err)
	}
	return nil
}

func (s *Store) Compact(ctx context.Context, roomID string, snapshot []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key(roomID))
	pipe.RPush(ctx, key(roomID), snapshot)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	return nil
}
