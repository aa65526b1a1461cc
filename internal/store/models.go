package store

import (
	"time"
)

// Channel constants
const (
	ChannelInApp   = "in_app"
	ChannelEmail   = "email"
	ChannelPush    = "push"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
)

// ValidChannels is the set of recognized delivery channels.
var ValidChannels = map[string]bool{
	ChannelInApp:   true,
	ChannelEmail:   true,
	ChannelPush:    true,
	ChannelSMS:     true,
	ChannelWebhook: true,
}

// Per-channel delivery status constants
const (
	DeliveryPending   = "pending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryFailed    = "failed"
)

// EventWildcard subscribes an endpoint to every event type.
const EventWildcard = "ALL"

// Webhook endpoint status constants
const (
	EndpointActive   = "ACTIVE"
	EndpointPaused   = "PAUSED"
	EndpointDisabled = "DISABLED"
	EndpointFailed   = "FAILED"
)

const (
	// FailureThreshold is the number of consecutive failed deliveries after
	// which an endpoint is auto-disabled (status FAILED, active cleared).
	FailureThreshold = 5

	// AttemptHistorySize caps the per-endpoint delivery attempt ring buffer.
	AttemptHistorySize = 10

	// DefaultMaxRetries applies when an endpoint does not configure its own.
	DefaultMaxRetries = 3

	// DefaultTimeoutMs applies when an endpoint does not configure its own.
	DefaultTimeoutMs = 30000
)

// Backoff strategy constants
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// DeliveryState tracks one channel's delivery progress for a notification.
type DeliveryState struct {
	Status      string     `bson:"status" json:"status"`
	SentAt      *time.Time `bson:"sentAt,omitempty" json:"sent_at,omitempty"`
	DeliveredAt *time.Time `bson:"deliveredAt,omitempty" json:"delivered_at,omitempty"`
	ReadAt      *time.Time `bson:"readAt,omitempty" json:"read_at,omitempty"`
	Error       string     `bson:"error,omitempty" json:"error,omitempty"`
	RetryCount  int        `bson:"retryCount,omitempty" json:"retry_count,omitempty"`
}

// SourceRef points at the entity that triggered a notification.
type SourceRef struct {
	Type string `bson:"type" json:"type"`
	ID   string `bson:"id" json:"id"`
}

// Notification represents one event delivered to one user.
type Notification struct {
	ID         string                   `bson:"_id" json:"id"`
	UserID     string                   `bson:"userId" json:"user_id"`
	Type       string                   `bson:"type" json:"type"`
	Category   string                   `bson:"category" json:"category"`
	Priority   string                   `bson:"priority" json:"priority"`
	Title      string                   `bson:"title" json:"title"`
	Message    string                   `bson:"message" json:"message"`
	Data       map[string]interface{}   `bson:"data,omitempty" json:"data,omitempty"`
	Channels   []string                 `bson:"channels" json:"channels"`
	Delivery   map[string]DeliveryState `bson:"delivery" json:"delivery"`
	IsRead     bool                     `bson:"isRead" json:"is_read"`
	ReadAt     *time.Time               `bson:"readAt,omitempty" json:"read_at,omitempty"`
	IsArchived bool                     `bson:"isArchived" json:"is_archived"`
	ArchivedAt *time.Time               `bson:"archivedAt,omitempty" json:"archived_at,omitempty"`
	ExpiresAt  *time.Time               `bson:"expiresAt,omitempty" json:"expires_at,omitempty"`
	GroupKey   string                   `bson:"groupKey,omitempty" json:"group_key,omitempty"`
	Source     *SourceRef               `bson:"source,omitempty" json:"source,omitempty"`
	CreatedAt  time.Time                `bson:"createdAt" json:"created_at"`
	UpdatedAt  time.Time                `bson:"updatedAt" json:"updated_at"`
}

// DeliveryAttempt records the terminal outcome of one logical delivery to a
// webhook endpoint. It is embedded in the endpoint's bounded attempt history.
type DeliveryAttempt struct {
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	Success        bool      `bson:"success" json:"success"`
	StatusCode     int       `bson:"statusCode,omitempty" json:"status_code,omitempty"`
	Error          string    `bson:"error,omitempty" json:"error,omitempty"`
	ResponseTimeMs int64     `bson:"responseTimeMs,omitempty" json:"response_time_ms,omitempty"`
	Event          string    `bson:"event,omitempty" json:"event,omitempty"`
	Retries        int       `bson:"retries,omitempty" json:"retries,omitempty"`
}

// WebhookEndpoint is one outgoing subscription owned by a user.
type WebhookEndpoint struct {
	ID     string `bson:"_id" json:"id"`
	UserID string `bson:"userId" json:"user_id"`
	URL    string `bson:"url" json:"url"`
	Method string `bson:"method" json:"method"`

	Headers map[string]string `bson:"headers,omitempty" json:"headers,omitempty"`
	Secret  string            `bson:"secret,omitempty" json:"-"`
	Events  []string          `bson:"events" json:"events"`

	Status   string `bson:"status" json:"status"`
	IsActive bool   `bson:"isActive" json:"is_active"`

	MaxRetries      int    `bson:"maxRetries" json:"max_retries"`
	BackoffStrategy string `bson:"backoffStrategy" json:"backoff_strategy"`
	TimeoutMs       int    `bson:"timeoutMs" json:"timeout_ms"`

	TotalDeliveries      int64 `bson:"totalDeliveries" json:"total_deliveries"`
	SuccessfulDeliveries int64 `bson:"successfulDeliveries" json:"successful_deliveries"`
	FailedDeliveries     int64 `bson:"failedDeliveries" json:"failed_deliveries"`
	ConsecutiveFailures  int   `bson:"consecutiveFailures" json:"consecutive_failures"`

	LastSuccessAt  *time.Time `bson:"lastSuccessAt,omitempty" json:"last_success_at,omitempty"`
	LastFailureAt  *time.Time `bson:"lastFailureAt,omitempty" json:"last_failure_at,omitempty"`
	LastDeliveryAt *time.Time `bson:"lastDeliveryAt,omitempty" json:"last_delivery_at,omitempty"`

	Attempts []DeliveryAttempt `bson:"attempts" json:"attempts"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// SubscribedTo reports whether the endpoint subscribes to the given event,
// either by name or via the "ALL" wildcard.
func (e *WebhookEndpoint) SubscribedTo(event string) bool {
	for _, ev := range e.Events {
		if ev == EventWildcard || ev == event {
			return true
		}
	}
	return false
}

// ApplyAttempt applies one terminal delivery outcome to the endpoint's
// counters, attempt history and status, in memory. The mongo registry performs
// the equivalent mutation server-side with atomic update operators; this
// helper centralizes the transition rules so they stay testable and so
// in-memory fakes behave identically.
//
// Rules: counters always advance; consecutiveFailures resets on success and
// increments on failure; reaching FailureThreshold flips the endpoint to
// FAILED and clears the active flag; a success while FAILED restores ACTIVE;
// the attempt history is FIFO-bounded at AttemptHistorySize.
func (e *WebhookEndpoint) ApplyAttempt(a DeliveryAttempt) {
	now := a.Timestamp
	e.TotalDeliveries++
	e.LastDeliveryAt = &now

	if a.Success {
		e.SuccessfulDeliveries++
		e.ConsecutiveFailures = 0
		e.LastSuccessAt = &now
		if e.Status == EndpointFailed {
			e.Status = EndpointActive
			e.IsActive = true
		}
	} else {
		e.FailedDeliveries++
		e.ConsecutiveFailures++
		e.LastFailureAt = &now
		if e.ConsecutiveFailures >= FailureThreshold && e.Status != EndpointFailed {
			e.Status = EndpointFailed
			e.IsActive = false
		}
	}

	e.Attempts = append(e.Attempts, a)
	if len(e.Attempts) > AttemptHistorySize {
		e.Attempts = e.Attempts[len(e.Attempts)-AttemptHistorySize:]
	}
	e.UpdatedAt = now
}

// ChannelSettings is the per-channel on/off matrix used by preferences.
type ChannelSettings struct {
	InApp   bool `bson:"inApp" json:"in_app"`
	Email   bool `bson:"email" json:"email"`
	Push    bool `bson:"push" json:"push"`
	SMS     bool `bson:"sms" json:"sms"`
	Webhook bool `bson:"webhook" json:"webhook"`
}

// Channels returns the enabled channels as a slice, in a stable order.
func (c ChannelSettings) Channels() []string {
	out := make([]string, 0, 5)
	if c.InApp {
		out = append(out, ChannelInApp)
	}
	if c.Email {
		out = append(out, ChannelEmail)
	}
	if c.Push {
		out = append(out, ChannelPush)
	}
	if c.SMS {
		out = append(out, ChannelSMS)
	}
	if c.Webhook {
		out = append(out, ChannelWebhook)
	}
	return out
}

// NotificationPreferences is the per-user delivery configuration.
type NotificationPreferences struct {
	UserID     string                     `bson:"_id" json:"user_id"`
	Enabled    bool                       `bson:"enabled" json:"enabled"`
	Defaults   ChannelSettings            `bson:"defaults" json:"defaults"`
	Categories map[string]ChannelSettings `bson:"categories,omitempty" json:"categories,omitempty"`
	CreatedAt  time.Time                  `bson:"createdAt" json:"created_at"`
	UpdatedAt  time.Time                  `bson:"updatedAt" json:"updated_at"`
}

// DefaultPreferences returns the system defaults a user starts with.
func DefaultPreferences(userID string) *NotificationPreferences {
	now := time.Now().UTC()
	return &NotificationPreferences{
		UserID:  userID,
		Enabled: true,
		Defaults: ChannelSettings{
			InApp: true,
			Email: true,
		},
		Categories: map[string]ChannelSettings{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
