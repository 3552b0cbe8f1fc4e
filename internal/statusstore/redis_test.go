package statusstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client)
}

func TestRedisStoreMarkDeliveredIdempotentCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.MarkDelivered(ctx, "maritime", "blue", "inject-a"); err != nil {
			t.Fatalf("MarkDelivered: %v", err)
		}
	}
	if err := store.MarkDelivered(ctx, "maritime", "blue", "inject-b"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	count, err := store.CountDelivered(ctx, "maritime", "blue")
	if err != nil {
		t.Fatalf("CountDelivered: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected cardinality 2 (idempotent add), got %d", count)
	}
}

func TestRedisStorePutStateAndPurge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutState(ctx, "maritime", "Running"); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	if err := store.PutTimer(ctx, "maritime", TimerSnapshot{Elapsed: 5, Formatted: "T+00:05"}); err != nil {
		t.Fatalf("PutTimer: %v", err)
	}
	if err := store.MarkDelivered(ctx, "maritime", "blue", "x"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	if err := store.Purge(ctx, "maritime"); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	count, err := store.CountDelivered(ctx, "maritime", "blue")
	if err != nil {
		t.Fatalf("CountDelivered after purge: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 after purge, got %d", count)
	}
}
