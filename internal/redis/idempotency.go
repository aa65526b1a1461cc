package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyTTL is how long a client-provided dispatch key shields
	// against duplicate dispatches. The client controls uniqueness, so the
	// window is generous.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL bounds the reservation while a dispatch is in flight, so
	// a crashed process cannot wedge the key forever.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateDispatch indicates an idempotency key collision while the
// original dispatch is still being processed.
var ErrDuplicateDispatch = errors.New("duplicate dispatch: idempotency key already reserved")

// DispatchResult is the cached outcome of an idempotent dispatch.
type DispatchResult struct {
	NotificationID string `json:"notification_id"`
	CreatedAt      int64  `json:"created_at"`
}

// IdempotencyService deduplicates dispatch requests per user using Redis.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotencyService creates a new idempotency service.
func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{client: client, logger: logger}
}

func (s *IdempotencyService) buildKey(userID, idempotencyKey string) string {
	return fmt.Sprintf("dispatch:idem:%s:%s", userID, idempotencyKey)
}

// Check retrieves a cached result for an idempotency key.
// Returns (nil, nil) if the key doesn't exist, (result, nil) if found, or
// ErrDuplicateDispatch if the key is currently being processed.
func (s *IdempotencyService) Check(ctx context.Context, userID, idempotencyKey string) (*DispatchResult, error) {
	key := s.buildKey(userID, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateDispatch
	}

	var result DispatchResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal cached dispatch result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.String("user_id", userID),
		zap.String("notification_id", result.NotificationID),
	)
	return &result, nil
}

// Store saves the result of a completed dispatch under the key.
func (s *IdempotencyService) Store(ctx context.Context, userID, idempotencyKey string, result *DispatchResult) error {
	key := s.buildKey(userID, idempotencyKey)

	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, key, data, IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Reserve acquires the key with SET NX. Returns true when acquired.
func (s *IdempotencyService) Reserve(ctx context.Context, userID, idempotencyKey string) (bool, error) {
	key := s.buildKey(userID, idempotencyKey)

	set, err := s.client.rdb.SetNX(ctx, key, processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return set, nil
}

// Release drops a reservation after a failed dispatch so the client can retry.
func (s *IdempotencyService) Release(ctx context.Context, userID, idempotencyKey string) error {
	return s.client.rdb.Del(ctx, s.buildKey(userID, idempotencyKey)).Err()
}

// CheckOrReserve checks for an existing result or reserves the key.
// Returns the cached result if found, nil after reserving successfully, or
// ErrDuplicateDispatch when another dispatch holds the reservation.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, userID, idempotencyKey string) (*DispatchResult, error) {
	result, err := s.Check(ctx, userID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	reserved, err := s.Reserve(ctx, userID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDuplicateDispatch
	}
	return nil, nil
}
