package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/recruitflow/relay/internal/metrics"
)

// ErrValidation wraps endpoint input problems rejected before persistence.
var ErrValidation = errors.New("validation failed")

// CreateEndpointInput carries the fields a user supplies when registering an
// outgoing webhook endpoint.
type CreateEndpointInput struct {
	URL             string
	Method          string
	Events          []string
	Secret          string
	Headers         map[string]string
	MaxRetries      *int
	BackoffStrategy string
	TimeoutMs       *int
}

// UpdateEndpointInput is a partial patch; nil fields are left untouched.
type UpdateEndpointInput struct {
	URL             *string
	Method          *string
	Events          []string
	Secret          *string
	Headers         map[string]string
	MaxRetries      *int
	BackoffStrategy *string
	TimeoutMs       *int
}

// EndpointStatistics aggregates delivery health across one owner's endpoints.
type EndpointStatistics struct {
	Total           int     `json:"total"`
	Active          int     `json:"active"`
	Paused          int     `json:"paused"`
	Failed          int     `json:"failed"`
	TotalDeliveries int64   `json:"total_deliveries"`
	SuccessRate     float64 `json:"success_rate"`
}

// Webhooks is the registry: CRUD and health bookkeeping for endpoints.
type Webhooks struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewWebhooks creates the webhook registry.
func NewWebhooks(db *DB, logger *zap.Logger) *Webhooks {
	return &Webhooks{coll: db.webhooks, logger: logger}
}

func validateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url must be a valid http(s) URL", ErrValidation)
	}
	return nil
}

func validateMethod(method string) error {
	if method != "POST" && method != "PUT" {
		return fmt.Errorf("%w: method must be POST or PUT", ErrValidation)
	}
	return nil
}

// Create validates and persists a new endpoint with zeroed counters.
func (s *Webhooks) Create(ctx context.Context, userID string, in CreateEndpointInput) (*WebhookEndpoint, error) {
	if err := validateEndpointURL(in.URL); err != nil {
		return nil, err
	}
	method := in.Method
	if method == "" {
		method = "POST"
	}
	if err := validateMethod(method); err != nil {
		return nil, err
	}
	if len(in.Events) == 0 {
		return nil, fmt.Errorf("%w: events must not be empty", ErrValidation)
	}

	maxRetries := DefaultMaxRetries
	if in.MaxRetries != nil {
		if *in.MaxRetries < 0 || *in.MaxRetries > 10 {
			return nil, fmt.Errorf("%w: max_retries must be between 0 and 10", ErrValidation)
		}
		maxRetries = *in.MaxRetries
	}
	backoff := in.BackoffStrategy
	if backoff == "" {
		backoff = BackoffExponential
	}
	if backoff != BackoffLinear && backoff != BackoffExponential {
		return nil, fmt.Errorf("%w: backoff_strategy must be linear or exponential", ErrValidation)
	}
	timeoutMs := DefaultTimeoutMs
	if in.TimeoutMs != nil && *in.TimeoutMs > 0 {
		timeoutMs = *in.TimeoutMs
	}

	now := time.Now().UTC()
	ep := &WebhookEndpoint{
		ID:              uuid.NewString(),
		UserID:          userID,
		URL:             in.URL,
		Method:          method,
		Headers:         in.Headers,
		Secret:          in.Secret,
		Events:          in.Events,
		Status:          EndpointActive,
		IsActive:        true,
		MaxRetries:      maxRetries,
		BackoffStrategy: backoff,
		TimeoutMs:       timeoutMs,
		Attempts:        []DeliveryAttempt{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if _, err := s.coll.InsertOne(ctx, ep); err != nil {
		return nil, fmt.Errorf("insert endpoint: %w", err)
	}

	s.logger.Info("webhook endpoint registered",
		zap.String("endpoint_id", ep.ID),
		zap.String("user_id", userID),
		zap.String("url", ep.URL),
		zap.Strings("events", ep.Events),
	)
	return ep, nil
}

// Get fetches one endpoint scoped to its owner.
func (s *Webhooks) Get(ctx context.Context, id, userID string) (*WebhookEndpoint, error) {
	var ep WebhookEndpoint
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "userId": userID}).Decode(&ep)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query endpoint: %w", err)
	}
	return &ep, nil
}

// GetByID fetches one endpoint regardless of owner. The delivery engine uses
// it to re-check existence and active state between retries.
func (s *Webhooks) GetByID(ctx context.Context, id string) (*WebhookEndpoint, error) {
	var ep WebhookEndpoint
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&ep)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query endpoint: %w", err)
	}
	return &ep, nil
}

// ListByUser returns all endpoints owned by the user, newest first.
func (s *Webhooks) ListByUser(ctx context.Context, userID string) ([]*WebhookEndpoint, error) {
	cursor, err := s.coll.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer cursor.Close(ctx)

	eps := []*WebhookEndpoint{}
	if err := cursor.All(ctx, &eps); err != nil {
		return nil, fmt.Errorf("decode endpoints: %w", err)
	}
	return eps, nil
}

// GetActiveForEvent returns the owner's active endpoints subscribed to the
// event, either by exact name or via the ALL wildcard.
func (s *Webhooks) GetActiveForEvent(ctx context.Context, userID, event string) ([]*WebhookEndpoint, error) {
	filter := bson.M{
		"userId":   userID,
		"isActive": true,
		"status":   EndpointActive,
		"events":   bson.M{"$in": []string{EventWildcard, event}},
	}

	cursor, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query endpoints for event: %w", err)
	}
	defer cursor.Close(ctx)

	eps := []*WebhookEndpoint{}
	if err := cursor.All(ctx, &eps); err != nil {
		return nil, fmt.Errorf("decode endpoints: %w", err)
	}
	return eps, nil
}

// RecordAttempt applies one terminal delivery outcome to the endpoint.
//
// Counters, the bounded attempt history and timestamps advance in a single
// atomic document update; the FAILED/ACTIVE status transitions follow in a
// second conditional update whose filter encodes the transition guard, so
// concurrent recorders can never lose an update or double-apply a transition.
// Mirrors (*WebhookEndpoint).ApplyAttempt.
func (s *Webhooks) RecordAttempt(ctx context.Context, id string, a DeliveryAttempt) error {
	now := a.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
		a.Timestamp = now
	}

	inc := bson.M{"totalDeliveries": 1}
	set := bson.M{"lastDeliveryAt": now, "updatedAt": now}
	if a.Success {
		inc["successfulDeliveries"] = 1
		set["consecutiveFailures"] = 0
		set["lastSuccessAt"] = now
	} else {
		inc["failedDeliveries"] = 1
		inc["consecutiveFailures"] = 1
		set["lastFailureAt"] = now
	}

	update := bson.M{
		"$inc": inc,
		"$set": set,
		"$push": bson.M{
			"attempts": bson.M{
				"$each":  []DeliveryAttempt{a},
				"$slice": -AttemptHistorySize,
			},
		},
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	// Status transition, guarded by the filter so it applies exactly once.
	if a.Success {
		_, err = s.coll.UpdateOne(ctx,
			bson.M{"_id": id, "status": EndpointFailed},
			bson.M{"$set": bson.M{"status": EndpointActive, "isActive": true, "updatedAt": now}},
		)
		if err != nil {
			return fmt.Errorf("re-enable endpoint: %w", err)
		}
		return nil
	}

	tripped, err := s.coll.UpdateOne(ctx,
		bson.M{
			"_id":                 id,
			"consecutiveFailures": bson.M{"$gte": FailureThreshold},
			"status":              bson.M{"$ne": EndpointFailed},
		},
		bson.M{"$set": bson.M{"status": EndpointFailed, "isActive": false, "updatedAt": now}},
	)
	if err != nil {
		return fmt.Errorf("auto-disable endpoint: %w", err)
	}
	if tripped.ModifiedCount > 0 {
		metrics.RecordEndpointAutoDisabled()
		s.logger.Warn("webhook endpoint auto-disabled after consecutive failures",
			zap.String("endpoint_id", id),
			zap.Int("threshold", FailureThreshold),
		)
	}
	return nil
}

// ToggleActive flips the active flag. Enabling restores ACTIVE; disabling
// marks the endpoint PAUSED, a state distinct from auto-disable (FAILED).
func (s *Webhooks) ToggleActive(ctx context.Context, id, userID string, isActive bool) (*WebhookEndpoint, error) {
	status := EndpointPaused
	if isActive {
		status = EndpointActive
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "userId": userID},
		bson.M{"$set": bson.M{
			"isActive":  isActive,
			"status":    status,
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return nil, fmt.Errorf("toggle endpoint: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id, userID)
}

// Update applies a partial patch, revalidating URL/method/events when present.
func (s *Webhooks) Update(ctx context.Context, id, userID string, in UpdateEndpointInput) (*WebhookEndpoint, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}

	if in.URL != nil {
		if err := validateEndpointURL(*in.URL); err != nil {
			return nil, err
		}
		set["url"] = *in.URL
	}
	if in.Method != nil {
		if err := validateMethod(*in.Method); err != nil {
			return nil, err
		}
		set["method"] = *in.Method
	}
	if in.Events != nil {
		if len(in.Events) == 0 {
			return nil, fmt.Errorf("%w: events must not be empty", ErrValidation)
		}
		set["events"] = in.Events
	}
	if in.Secret != nil {
		set["secret"] = *in.Secret
	}
	if in.Headers != nil {
		set["headers"] = in.Headers
	}
	if in.MaxRetries != nil {
		if *in.MaxRetries < 0 || *in.MaxRetries > 10 {
			return nil, fmt.Errorf("%w: max_retries must be between 0 and 10", ErrValidation)
		}
		set["maxRetries"] = *in.MaxRetries
	}
	if in.BackoffStrategy != nil {
		if *in.BackoffStrategy != BackoffLinear && *in.BackoffStrategy != BackoffExponential {
			return nil, fmt.Errorf("%w: backoff_strategy must be linear or exponential", ErrValidation)
		}
		set["backoffStrategy"] = *in.BackoffStrategy
	}
	if in.TimeoutMs != nil {
		if *in.TimeoutMs <= 0 {
			return nil, fmt.Errorf("%w: timeout_ms must be positive", ErrValidation)
		}
		set["timeoutMs"] = *in.TimeoutMs
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "userId": userID}, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("update endpoint: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id, userID)
}

// Delete removes an endpoint, scoped to its owner.
func (s *Webhooks) Delete(ctx context.Context, id, userID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id, "userId": userID})
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Statistics aggregates delivery health across all of the owner's endpoints.
func (s *Webhooks) Statistics(ctx context.Context, userID string) (*EndpointStatistics, error) {
	eps, err := s.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &EndpointStatistics{Total: len(eps)}
	var successful int64
	for _, ep := range eps {
		switch ep.Status {
		case EndpointActive:
			stats.Active++
		case EndpointPaused:
			stats.Paused++
		case EndpointFailed:
			stats.Failed++
		}
		stats.TotalDeliveries += ep.TotalDeliveries
		successful += ep.SuccessfulDeliveries
	}
	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(successful) / float64(stats.TotalDeliveries)
	}
	return stats, nil
}
