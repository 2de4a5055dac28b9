package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hotel-concierge/internal/core/ports"
)

// Ensure RedisRepository implements its ports
var (
	_ ports.DedupRepository    = (*RedisRepository)(nil)
	_ ports.ConversationLocker = (*RedisRepository)(nil)
)

// ErrLockTimeout is returned when a conversation lock could not be taken in time
var ErrLockTimeout = errors.New("conversation lock wait timed out")

// releaseScript deletes the lock only if we still own it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRepository implements deduplication and the cross-process
// conversation lock on Redis
type RedisRepository struct {
	client  *redis.Client
	lockTTL time.Duration
	poll    time.Duration
}

// NewRedisRepository creates a new Redis repository instance. lockTTL bounds
// how long a crashed worker can keep a conversation locked.
func NewRedisRepository(client *redis.Client, lockTTL time.Duration) *RedisRepository {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &RedisRepository{
		client:  client,
		lockTTL: lockTTL,
		poll:    50 * time.Millisecond,
	}
}

// ============================================================================
// DedupRepository Implementation
// ============================================================================

// Claim marks an event as being processed with SET NX and a TTL. Only the
// first caller for an event ID gets true. Value is a timestamp for debugging
// purposes.
func (r *RedisRepository) Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	key := buildDedupKey(eventID)

	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		slog.Error("Failed to claim webhook event",
			"error", err,
			"event_id", eventID,
			"ttl", ttl,
		)
		return false, fmt.Errorf("claim event: %w", err)
	}
	if !ok {
		slog.Warn("Duplicate webhook event detected",
			"event_id", eventID,
			"key", key,
		)
	}
	return ok, nil
}

// Release deletes a claim so the platform's redelivery is processed
func (r *RedisRepository) Release(ctx context.Context, eventID string) error {
	if err := r.client.Del(ctx, buildDedupKey(eventID)).Err(); err != nil {
		return fmt.Errorf("release event: %w", err)
	}
	return nil
}

// buildDedupKey constructs the Redis key for deduplication
func buildDedupKey(eventID string) string {
	return fmt.Sprintf("dedup:msg:%s", eventID)
}

// ============================================================================
// ConversationLocker Implementation
// ============================================================================

// Lock takes lock:conv:{id} with SET NX and a random token, polling until it
// is free or ctx ends. The returned func releases it only if still owned.
func (r *RedisRepository) Lock(ctx context.Context, conversationID string) (func(), error) {
	key := "lock:conv:" + conversationID
	token := uuid.NewString()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire conversation lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// Release even if the caller's context is already cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			slog.Warn("Failed to release conversation lock",
				"error", err,
				"conversation_id", conversationID,
			)
		}
	}, nil
}

// Ping checks connectivity for the status endpoint
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
