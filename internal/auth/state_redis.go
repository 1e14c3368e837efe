package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisStatePrefix = "oauth:state:"

// RedisStateStore implements StateStore on Redis so multiple replicas behind
// a load balancer can serve the authorization flow: the replica issuing the
// URL and the replica handling the callback need not be the same process.
// Atomic single-use semantics come from GETDEL.
type RedisStateStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStateStore constructs a Redis-backed state store whose entries live
// for at most ttl.
func NewRedisStateStore(client redis.UniversalClient, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{client: client, ttl: ttl}
}

// Put stores the encoded entry with the store's TTL.
func (s *RedisStateStore) Put(ctx context.Context, platform, state string, entry *OAuthState) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis state store: marshal entry: %w", err)
	}
	if err = s.client.Set(ctx, redisStatePrefix+stateKey(platform, state), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis state store: persist entry: %w", err)
	}
	return nil
}

// Take atomically fetches and deletes the entry, or returns nil when absent
// or expired.
func (s *RedisStateStore) Take(ctx context.Context, platform, state string) (*OAuthState, error) {
	data, err := s.client.GetDel(ctx, redisStatePrefix+stateKey(platform, state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis state store: load entry: %w", err)
	}
	var entry OAuthState
	if err = json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("redis state store: decode entry: %w", err)
	}
	return &entry, nil
}

// Close releases the underlying Redis client.
func (s *RedisStateStore) Close() {
	_ = s.client.Close()
}
