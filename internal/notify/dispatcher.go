package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/recruitflow/relay/internal/audit"
	"github.com/recruitflow/relay/internal/metrics"
	"github.com/recruitflow/relay/internal/store"
	"github.com/recruitflow/relay/internal/webhook"
)

// NotificationStore is the dispatcher's view of notification persistence.
type NotificationStore interface {
	Create(ctx context.Context, n *store.Notification) error
	SetChannelStatus(ctx context.Context, id, channel, status, errMsg string, retryCount int) error
}

// EndpointSource supplies the active endpoints subscribed to an event.
type EndpointSource interface {
	GetActiveForEvent(ctx context.Context, userID, event string) ([]*store.WebhookEndpoint, error)
}

// Deliverer is the webhook delivery engine as the dispatcher sees it.
type Deliverer interface {
	Deliver(ctx context.Context, ep *store.WebhookEndpoint, event string, notif webhook.NotificationPayload) store.DeliveryAttempt
}

// DispatchInput describes one notification-worthy event.
type DispatchInput struct {
	Recipient Recipient
	Type      string
	Title     string
	Message   string
	Data      map[string]interface{}

	// Optional. Derived from Type when empty.
	Category string
	Priority string

	// Optional. Forces the channel set instead of resolving preferences.
	Channels []string

	ExpiresAt *time.Time
	GroupKey  string
	Source    *store.SourceRef
}

// Dispatcher orchestrates creation and multi-channel fan-out of one
// notification. Channel deliveries are independent and best-effort: dispatch
// succeeds once the notification record persists, and downstream failures are
// visible only through delivery-status fields and audit events.
type Dispatcher struct {
	notifications NotificationStore
	endpoints     EndpointSource
	resolver      *Resolver
	deliverer     Deliverer
	senders       []ChannelSender
	audit         audit.Recorder
	logger        *zap.Logger

	inflight sync.WaitGroup
}

// NewDispatcher wires the dispatcher with its collaborators.
func NewDispatcher(
	notifications NotificationStore,
	endpoints EndpointSource,
	resolver *Resolver,
	deliverer Deliverer,
	recorder audit.Recorder,
	logger *zap.Logger,
	senders ...ChannelSender,
) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		endpoints:     endpoints,
		resolver:      resolver,
		deliverer:     deliverer,
		senders:       senders,
		audit:         recorder,
		logger:        logger,
	}
}

// Dispatch creates the notification and fans it out to the resolved channels.
// The returned error covers validation and the notification-create step only;
// channel delivery runs detached.
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) (*store.Notification, error) {
	if in.Recipient.UserID == "" {
		return nil, fmt.Errorf("%w: recipient user id is required", store.ErrValidation)
	}
	if in.Type == "" {
		return nil, fmt.Errorf("%w: type is required", store.ErrValidation)
	}

	category, priority := in.Category, in.Priority
	if category == "" || priority == "" {
		derivedCategory, derivedPriority := Classify(in.Type)
		if category == "" {
			category = derivedCategory
		}
		if priority == "" {
			priority = derivedPriority
		}
	}

	channels := in.Channels
	if len(channels) > 0 {
		if err := ValidateChannels(channels); err != nil {
			return nil, err
		}
	} else {
		resolved, err := d.resolver.Resolve(ctx, in.Recipient.UserID, category)
		if err != nil {
			return nil, err
		}
		channels = resolved
	}

	delivery := make(map[string]store.DeliveryState, len(channels))
	for _, ch := range channels {
		delivery[ch] = store.DeliveryState{Status: store.DeliveryPending}
	}

	n := &store.Notification{
		UserID:    in.Recipient.UserID,
		Type:      in.Type,
		Category:  category,
		Priority:  priority,
		Title:     in.Title,
		Message:   in.Message,
		Data:      in.Data,
		Channels:  channels,
		Delivery:  delivery,
		ExpiresAt: in.ExpiresAt,
		GroupKey:  in.GroupKey,
		Source:    in.Source,
	}

	if err := d.notifications.Create(ctx, n); err != nil {
		return nil, err
	}

	for _, ch := range channels {
		metrics.RecordNotificationDispatched(in.Type, ch)
	}

	// Fan-out survives the caller's request context.
	bg := context.WithoutCancel(ctx)
	for _, ch := range channels {
		switch ch {
		case store.ChannelInApp:
			// The stored record is the delivery.
			d.setChannelStatus(ctx, n.ID, ch, store.DeliveryDelivered, "", 0)
		case store.ChannelWebhook:
			d.fanOutWebhooks(bg, n)
		default:
			d.sendViaChannel(bg, n, ch, in.Recipient)
		}
	}

	return n, nil
}

// sendViaChannel delivers one non-webhook channel through its sender in a
// detached task with an isolated failure boundary.
func (d *Dispatcher) sendViaChannel(ctx context.Context, n *store.Notification, channel string, to Recipient) {
	var sender ChannelSender
	for _, s := range d.senders {
		if s.SupportsChannel(channel) {
			sender = s
			break
		}
	}
	if sender == nil {
		d.logger.Warn("no sender for channel",
			zap.String("channel", channel),
			zap.String("notification_id", n.ID),
		)
		d.setChannelStatus(ctx, n.ID, channel, store.DeliveryFailed, "no sender configured", 0)
		return
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer d.recoverPanic(n.ID, channel)

		if err := sender.Send(ctx, n, to); err != nil {
			d.logger.Error("channel delivery failed",
				zap.String("channel", channel),
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
			metrics.RecordChannelDelivery(channel, store.DeliveryFailed)
			d.setChannelStatus(ctx, n.ID, channel, store.DeliveryFailed, err.Error(), 0)
			return
		}
		metrics.RecordChannelDelivery(channel, store.DeliverySent)
		d.setChannelStatus(ctx, n.ID, channel, store.DeliverySent, "", 0)
	}()
}

// fanOutWebhooks queries the registry and delivers to each matching endpoint
// in its own detached task. One endpoint's failure never affects another's
// delivery or the dispatch result.
func (d *Dispatcher) fanOutWebhooks(ctx context.Context, n *store.Notification) {
	endpoints, err := d.endpoints.GetActiveForEvent(ctx, n.UserID, n.Type)
	if err != nil {
		d.logger.Error("failed to query webhook endpoints",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		d.setChannelStatus(ctx, n.ID, store.ChannelWebhook, store.DeliveryFailed, err.Error(), 0)
		return
	}
	if len(endpoints) == 0 {
		d.setChannelStatus(ctx, n.ID, store.ChannelWebhook, store.DeliveryFailed, "no active endpoints subscribed", 0)
		return
	}

	payload := webhook.NotificationPayload{
		NotificationID: n.ID,
		Type:           n.Type,
		Category:       n.Category,
		Priority:       n.Priority,
		Title:          n.Title,
		Message:        n.Message,
		Data:           n.Data,
	}

	d.audit.Record(ctx, audit.Event{
		Type:     "webhook.trigger",
		Actor:    n.UserID,
		Resource: "notification:" + n.ID,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]interface{}{
			"event":     n.Type,
			"endpoints": len(endpoints),
		},
	})

	results := make(chan store.DeliveryAttempt, len(endpoints))
	for _, ep := range endpoints {
		ep := ep
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("panic in webhook delivery",
						zap.String("notification_id", n.ID),
						zap.String("endpoint_id", ep.ID),
						zap.Any("panic", r),
					)
					results <- store.DeliveryAttempt{
						Timestamp: time.Now().UTC(),
						Success:   false,
						Error:     fmt.Sprintf("panic: %v", r),
						Event:     n.Type,
					}
				}
			}()
			results <- d.deliverer.Deliver(ctx, ep, n.Type, payload)
		}()
	}

	// Collector settles the webhook channel status once every endpoint has a
	// terminal outcome.
	count := len(endpoints)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		succeeded := 0
		retries := 0
		lastErr := ""
		for i := 0; i < count; i++ {
			attempt := <-results
			if attempt.Success {
				succeeded++
			} else if attempt.Error != "" {
				lastErr = attempt.Error
			}
			if attempt.Retries > retries {
				retries = attempt.Retries
			}
		}

		if succeeded > 0 {
			metrics.RecordChannelDelivery(store.ChannelWebhook, store.DeliverySent)
			d.setChannelStatus(ctx, n.ID, store.ChannelWebhook, store.DeliverySent, "", retries)
			return
		}
		errMsg := "all endpoint deliveries failed"
		if lastErr != "" {
			errMsg = lastErr
		}
		metrics.RecordChannelDelivery(store.ChannelWebhook, store.DeliveryFailed)
		d.setChannelStatus(ctx, n.ID, store.ChannelWebhook, store.DeliveryFailed, errMsg, retries)
	}()
}

func (d *Dispatcher) setChannelStatus(ctx context.Context, id, channel, status, errMsg string, retryCount int) {
	if err := d.notifications.SetChannelStatus(ctx, id, channel, status, errMsg, retryCount); err != nil {
		d.logger.Error("failed to update channel delivery status",
			zap.String("notification_id", id),
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) recoverPanic(notificationID, channel string) {
	if r := recover(); r != nil {
		d.logger.Error("panic in channel delivery",
			zap.String("notification_id", notificationID),
			zap.String("channel", channel),
			zap.Any("panic", r),
		)
	}
}

// Drain waits for in-flight channel deliveries, bounded by ctx. Used during
// shutdown and by tests.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
