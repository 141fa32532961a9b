// Package queue provides the Redis-backed blob and pending-queue store.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrImageMissing is returned when an image's raw bytes have expired or were
// never written. Callers mark the item failed instead of retrying.
var ErrImageMissing = errors.New("original image expired or missing")

// StatusProcessing is written to the status key while an image is in flight.
const StatusProcessing = "PROCESSING"

// Config holds configuration for the queue store.
type Config struct {
	Addr     string
	Password string
	DB       int
	ImageTTL time.Duration
}

// Store wraps a Redis client with the pipeline's key scheme.
type Store struct {
	rdb      *redis.Client
	imageTTL time.Duration
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	ttl := cfg.ImageTTL
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}
	return &Store{rdb: rdb, imageTTL: ttl}, nil
}

// NewStoreFromClient wraps an existing client. Used by tests.
func NewStoreFromClient(rdb *redis.Client, imageTTL time.Duration) *Store {
	if imageTTL <= 0 {
		imageTTL = 1 * time.Hour
	}
	return &Store{rdb: rdb, imageTTL: imageTTL}
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Enqueue stores the raw image bytes with a TTL and appends the image id to
// the user's pending list.
func (s *Store) Enqueue(ctx context.Context, userID, imageID int64, raw []byte) error {
	if err := s.rdb.Set(ctx, ImageKey(userID, imageID), raw, s.imageTTL).Err(); err != nil {
		return fmt.Errorf("store image %d/%d: %w", userID, imageID, err)
	}
	if err := s.rdb.LPush(ctx, PendingKey(userID), imageID).Err(); err != nil {
		return fmt.Errorf("push pending %d/%d: %w", userID, imageID, err)
	}
	return nil
}

// PopPending atomically moves the oldest pending image id to the user's
// processing list. Returns ok=false without error when the queue is empty.
func (s *Store) PopPending(ctx context.Context, userID int64) (int64, bool, error) {
	val, err := s.rdb.RPopLPush(ctx, PendingKey(userID), ProcessingKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pop pending %d: %w", userID, err)
	}
	imageID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Junk in the queue; drop it from processing so it cannot wedge the loop.
		s.rdb.LRem(ctx, ProcessingKey(userID), 0, val)
		return 0, false, fmt.Errorf("parse pending id %q: %w", val, err)
	}
	if err := s.rdb.Set(ctx, StatusKey(userID, imageID), StatusProcessing, s.imageTTL).Err(); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Int64("image_id", imageID).
			Msg("Failed to write status key")
	}
	return imageID, true, nil
}

// GetImage fetches the raw bytes for one image. Returns ErrImageMissing when
// the key expired or was never written.
func (s *Store) GetImage(ctx context.Context, userID, imageID int64) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, ImageKey(userID, imageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrImageMissing
	}
	if err != nil {
		return nil, fmt.Errorf("get image %d/%d: %w", userID, imageID, err)
	}
	return raw, nil
}

// Ack removes one consumed image: its processing-list entry, its raw bytes and
// its status key. Consumed bytes are never available for a second attempt.
func (s *Store) Ack(ctx context.Context, userID, imageID int64) error {
	pipe := s.rdb.Pipeline()
	pipe.LRem(ctx, ProcessingKey(userID), 0, imageID)
	pipe.Del(ctx, ImageKey(userID, imageID))
	pipe.Del(ctx, StatusKey(userID, imageID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %d/%d: %w", userID, imageID, err)
	}
	return nil
}

// PendingCount returns the length of the user's pending list.
func (s *Store) PendingCount(ctx context.Context, userID int64) (int64, error) {
	n, err := s.rdb.LLen(ctx, PendingKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen pending %d: %w", userID, err)
	}
	return n, nil
}

// ActiveUsers scans for users with a non-empty pending list.
func (s *Store) ActiveUsers(ctx context.Context) ([]int64, error) {
	var users []int64
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, "pending:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan pending keys: %w", err)
		}
		for _, key := range keys {
			id, err := strconv.ParseInt(strings.TrimPrefix(key, "pending:"), 10, 64)
			if err != nil {
				continue
			}
			n, err := s.rdb.LLen(ctx, key).Result()
			if err != nil || n == 0 {
				continue
			}
			users = append(users, id)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return users, nil
}
