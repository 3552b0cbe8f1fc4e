package statusstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store, grounded one-to-one on
// redis_manager.py's key layout and TTL-refresh-on-every-write
// behavior: state and state_timestamp are overwritten together,
// delivered injects live in a Set, and counts are maintained with
// INCR rather than re-deriving SCARD on every write.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-configured *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Dial builds a *redis.Client from addr/db and wraps it.
func Dial(addr string, db int) *RedisStore {
	return NewRedisStore(redis.NewClient(&redis.Options{Addr: addr, DB: db}))
}

func (s *RedisStore) PutState(ctx context.Context, scenario, state string) error {
	keys := Keys{Scenario: scenario}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keys.State(), state, TTL)
	pipe.Set(ctx, keys.StateTimestamp(), time.Now().Unix(), TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put state for %s: %w", scenario, err)
	}
	return nil
}

func (s *RedisStore) PutTimer(ctx context.Context, scenario string, snap TimerSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal timer snapshot: %w", err)
	}
	keys := Keys{Scenario: scenario}
	if err := s.client.Set(ctx, keys.Timer(), payload, TTL).Err(); err != nil {
		return fmt.Errorf("put timer for %s: %w", scenario, err)
	}
	return nil
}

func (s *RedisStore) MarkDelivered(ctx context.Context, scenario, team, injectID string) error {
	keys := Keys{Scenario: scenario}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, keys.Delivered(team), injectID)
	pipe.Expire(ctx, keys.Delivered(team), TTL)
	pipe.Incr(ctx, keys.Count(team))
	pipe.Expire(ctx, keys.Count(team), TTL)
	pipe.Set(ctx, keys.DeliveredAt(injectID), time.Now().Unix(), TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark delivered %s/%s/%s: %w", scenario, team, injectID, err)
	}
	return nil
}

func (s *RedisStore) CountDelivered(ctx context.Context, scenario, team string) (int, error) {
	keys := Keys{Scenario: scenario}
	n, err := s.client.SCard(ctx, keys.Delivered(team)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("count delivered %s/%s: %w", scenario, team, err)
	}
	return int(n), nil
}

func (s *RedisStore) Purge(ctx context.Context, scenario string) error {
	keys := Keys{Scenario: scenario}
	var cursor uint64
	var toDelete []string
	for {
		batch, next, err := s.client.Scan(ctx, cursor, keys.Pattern(), 100).Result()
		if err != nil {
			return fmt.Errorf("purge scan %s: %w", scenario, err)
		}
		toDelete = append(toDelete, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(toDelete) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, toDelete...).Err(); err != nil {
		return fmt.Errorf("purge delete %s: %w", scenario, err)
	}
	return nil
}
