// Package webhook implements signed, retried delivery of event payloads to
// user-registered HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/recruitflow/relay/internal/audit"
	"github.com/recruitflow/relay/internal/metrics"
	"github.com/recruitflow/relay/internal/store"
)

const userAgent = "RecruitFlow-Relay/1.0"

// Registry is the slice of the webhook registry the deliverer needs: outcome
// recording, plus existence/active re-checks between retries.
type Registry interface {
	GetByID(ctx context.Context, id string) (*store.WebhookEndpoint, error)
	RecordAttempt(ctx context.Context, id string, a store.DeliveryAttempt) error
}

// NotificationPayload is the notification section of the wire body.
type NotificationPayload struct {
	NotificationID string                 `json:"notificationId"`
	Type           string                 `json:"type"`
	Category       string                 `json:"category"`
	Priority       string                 `json:"priority"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// Payload is the JSON body a subscriber receives.
type Payload struct {
	WebhookID    string              `json:"webhookId"`
	Event        string              `json:"event"`
	Timestamp    string              `json:"timestamp"`
	Notification NotificationPayload `json:"notification"`
}

// Deliverer sends signed payloads to endpoints with bounded retries.
type Deliverer struct {
	client   *http.Client
	registry Registry
	audit    audit.Recorder
	logger   *zap.Logger
}

// NewDeliverer creates a delivery engine. The http.Client carries no global
// timeout; each attempt is bounded by the endpoint's configured timeout.
func NewDeliverer(registry Registry, recorder audit.Recorder, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		client:   &http.Client{},
		registry: registry,
		audit:    recorder,
		logger:   logger,
	}
}

// Sign computes the hex HMAC-SHA256 of body using the endpoint secret.
// Receivers recompute it over the raw request body to verify authenticity.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// attemptResult is the classified outcome of one HTTP attempt.
type attemptResult struct {
	statusCode int
	err        error
	retryable  bool
	elapsed    time.Duration
}

// Deliver sends one event to one endpoint, retrying transient failures with
// the endpoint's backoff strategy up to its maxRetries. Exactly one terminal
// outcome is recorded to the registry; delivery never errors to the caller.
func (d *Deliverer) Deliver(ctx context.Context, ep *store.WebhookEndpoint, event string, notif NotificationPayload) store.DeliveryAttempt {
	start := time.Now()

	payload := Payload{
		WebhookID:    ep.ID,
		Event:        event,
		Timestamp:    start.UTC().Format(time.RFC3339),
		Notification: notif,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		// Cannot happen for the types above, but keep the failure visible.
		attempt := store.DeliveryAttempt{
			Timestamp: time.Now().UTC(),
			Success:   false,
			Error:     fmt.Sprintf("marshal payload: %v", err),
			Event:     event,
		}
		d.record(ctx, ep, attempt, 0)
		return attempt
	}

	var signature string
	if ep.Secret != "" {
		signature = Sign(ep.Secret, body)
	}

	maxRetries := ep.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var last attemptResult
	retries := 0
	for attempt := 0; ; attempt++ {
		last = d.attempt(ctx, ep, event, body, signature)

		outcome := "terminal"
		if last.err == nil && last.statusCode >= 200 && last.statusCode < 300 {
			outcome = "success"
		} else if last.retryable {
			outcome = "retryable"
		}
		metrics.RecordWebhookAttempt(outcome)

		d.auditAttempt(ctx, ep, event, last, attempt)

		if outcome == "success" || !last.retryable || attempt >= maxRetries {
			break
		}

		wait := Backoff(ep.BackoffStrategy, attempt)
		d.logger.Debug("webhook attempt failed, backing off",
			zap.String("endpoint_id", ep.ID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			last.err = ctx.Err()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}

		// The endpoint may have been deleted or paused while we waited.
		current, err := d.registry.GetByID(ctx, ep.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				d.logger.Info("webhook endpoint removed mid-delivery, abandoning retries",
					zap.String("endpoint_id", ep.ID),
				)
				return store.DeliveryAttempt{
					Timestamp: time.Now().UTC(),
					Success:   false,
					Error:     "endpoint removed during delivery",
					Event:     event,
					Retries:   retries,
				}
			}
			d.logger.Warn("endpoint re-check failed, continuing retries",
				zap.String("endpoint_id", ep.ID),
				zap.Error(err),
			)
		} else if !current.IsActive {
			d.logger.Info("webhook endpoint deactivated mid-delivery, stopping retries",
				zap.String("endpoint_id", ep.ID),
			)
			break
		}

		retries++
	}

	success := last.err == nil && last.statusCode >= 200 && last.statusCode < 300

	attempt := store.DeliveryAttempt{
		Timestamp:      time.Now().UTC(),
		Success:        success,
		StatusCode:     last.statusCode,
		ResponseTimeMs: last.elapsed.Milliseconds(),
		Event:          event,
		Retries:        retries,
	}
	if !success {
		if last.err != nil {
			attempt.Error = last.err.Error()
		} else {
			attempt.Error = fmt.Sprintf("endpoint returned status %d", last.statusCode)
		}
	}

	d.record(ctx, ep, attempt, time.Since(start).Milliseconds())
	return attempt
}

// attempt performs a single signed HTTP request bounded by the endpoint's
// timeout and classifies the outcome.
func (d *Deliverer) attempt(ctx context.Context, ep *store.WebhookEndpoint, event string, body []byte, signature string) attemptResult {
	timeoutMs := ep.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = store.DefaultTimeoutMs
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(reqCtx, ep.Method, ep.URL, bytes.NewReader(body))
	if err != nil {
		return attemptResult{err: fmt.Errorf("build request: %w", err), retryable: false}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-ID", ep.ID)
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Timestamp", start.UTC().Format(time.RFC3339))
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	for key, value := range ep.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		// A slow receiver reads differently from a broken one.
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return attemptResult{
				err:       fmt.Errorf("request timed out after %dms", timeoutMs),
				retryable: true,
				elapsed:   elapsed,
			}
		}
		return attemptResult{err: fmt.Errorf("request failed: %w", err), retryable: true, elapsed: elapsed}
	}
	defer resp.Body.Close()

	// Drain a bounded preview so the connection can be reused.
	_, _ = io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return attemptResult{statusCode: resp.StatusCode, elapsed: elapsed}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return attemptResult{statusCode: resp.StatusCode, retryable: true, elapsed: elapsed}
	default:
		// Remaining 4xx: receiver-side rejection, not worth retrying.
		return attemptResult{statusCode: resp.StatusCode, retryable: false, elapsed: elapsed}
	}
}

func (d *Deliverer) record(ctx context.Context, ep *store.WebhookEndpoint, attempt store.DeliveryAttempt, totalMs int64) {
	outcome := "failure"
	if attempt.Success {
		outcome = "success"
	}
	metrics.RecordWebhookDelivery(outcome, time.Duration(totalMs)*time.Millisecond)

	if err := d.registry.RecordAttempt(ctx, ep.ID, attempt); err != nil {
		d.logger.Error("failed to record delivery outcome",
			zap.String("endpoint_id", ep.ID),
			zap.Error(err),
		)
	}

	fields := []zap.Field{
		zap.String("endpoint_id", ep.ID),
		zap.String("url", ep.URL),
		zap.String("event", attempt.Event),
		zap.Bool("success", attempt.Success),
		zap.Int("status_code", attempt.StatusCode),
		zap.Int("retries", attempt.Retries),
		zap.Int64("total_ms", totalMs),
	}
	if attempt.Success {
		d.logger.Info("webhook delivered", fields...)
	} else {
		d.logger.Warn("webhook delivery failed", append(fields, zap.String("error", attempt.Error))...)
	}
}

func (d *Deliverer) auditAttempt(ctx context.Context, ep *store.WebhookEndpoint, event string, res attemptResult, attempt int) {
	outcome := audit.OutcomeSuccess
	meta := map[string]interface{}{
		"url":         ep.URL,
		"event":       event,
		"attempt":     attempt + 1,
		"status_code": res.statusCode,
		"elapsed_ms":  res.elapsed.Milliseconds(),
	}
	if res.err != nil || res.statusCode < 200 || res.statusCode >= 300 {
		outcome = audit.OutcomeFailure
		if res.err != nil {
			meta["error"] = res.err.Error()
		}
	}

	d.audit.Record(ctx, audit.Event{
		Type:     "webhook.attempt",
		Actor:    ep.UserID,
		Resource: "webhook:" + ep.ID,
		Outcome:  outcome,
		Metadata: meta,
	})
}
