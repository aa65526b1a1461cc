// Package api exposes the HTTP surface: notification dispatch and queries,
// webhook endpoint management, and notification preferences. Authentication
// happens upstream; the authenticated identity arrives in trusted headers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/recruitflow/relay/internal/audit"
	"github.com/recruitflow/relay/internal/metrics"
	"github.com/recruitflow/relay/internal/notify"
	"github.com/recruitflow/relay/internal/redis"
	"github.com/recruitflow/relay/internal/store"
	"github.com/recruitflow/relay/internal/webhook"
)

// NotificationReader covers the notification query and mutation surface the
// handlers need.
type NotificationReader interface {
	Get(ctx context.Context, id, userID string) (*store.Notification, error)
	List(ctx context.Context, f store.NotificationFilter) (*store.NotificationPage, error)
	Summary(ctx context.Context, userID string) (*store.NotificationSummary, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Archive(ctx context.Context, id, userID string) error
	Delete(ctx context.Context, id, userID string) error
	DeleteMany(ctx context.Context, ids []string, userID string) (int64, error)
}

// WebhookRegistry covers endpoint management.
type WebhookRegistry interface {
	Create(ctx context.Context, userID string, in store.CreateEndpointInput) (*store.WebhookEndpoint, error)
	Get(ctx context.Context, id, userID string) (*store.WebhookEndpoint, error)
	ListByUser(ctx context.Context, userID string) ([]*store.WebhookEndpoint, error)
	Update(ctx context.Context, id, userID string, in store.UpdateEndpointInput) (*store.WebhookEndpoint, error)
	ToggleActive(ctx context.Context, id, userID string, isActive bool) (*store.WebhookEndpoint, error)
	Delete(ctx context.Context, id, userID string) error
	Statistics(ctx context.Context, userID string) (*store.EndpointStatistics, error)
}

// PreferenceManager covers preference reads and updates.
type PreferenceManager interface {
	Get(ctx context.Context, userID string) (*store.NotificationPreferences, error)
	Update(ctx context.Context, userID string, patch store.PreferencesPatch) (*store.NotificationPreferences, error)
	SetCategory(ctx context.Context, userID, category string, settings store.ChannelSettings) (*store.NotificationPreferences, error)
	Reset(ctx context.Context, userID string) (*store.NotificationPreferences, error)
}

// DispatchService creates and fans out notifications.
type DispatchService interface {
	Dispatch(ctx context.Context, in notify.DispatchInput) (*store.Notification, error)
}

// TestDeliverer sends a probe event through the delivery engine.
type TestDeliverer interface {
	Deliver(ctx context.Context, ep *store.WebhookEndpoint, event string, notif webhook.NotificationPayload) store.DeliveryAttempt
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for the API handlers.
type Handler struct {
	logger        *zap.Logger
	notifications NotificationReader
	webhooks      WebhookRegistry
	preferences   PreferenceManager
	dispatcher    DispatchService
	deliverer     TestDeliverer
	audit         audit.Recorder
	idempotency   *redis.IdempotencyService // nil when Redis is not configured
}

// NewHandler creates the API handler.
func NewHandler(
	logger *zap.Logger,
	notifications NotificationReader,
	webhooks WebhookRegistry,
	preferences PreferenceManager,
	dispatcher DispatchService,
	deliverer TestDeliverer,
	recorder audit.Recorder,
	idempotency *redis.IdempotencyService,
) *Handler {
	return &Handler{
		logger:        logger,
		notifications: notifications,
		webhooks:      webhooks,
		preferences:   preferences,
		dispatcher:    dispatcher,
		deliverer:     deliverer,
		audit:         recorder,
		idempotency:   idempotency,
	}
}

// Routes mounts every handler under the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.DispatchNotification)
		r.Get("/", h.ListNotifications)
		r.Get("/summary", h.GetSummary)
		r.Post("/read-all", h.MarkAllRead)
		r.Post("/bulk-delete", h.BulkDelete)
		r.Get("/{id}", h.GetNotification)
		r.Post("/{id}/read", h.MarkRead)
		r.Post("/{id}/archive", h.ArchiveNotification)
		r.Delete("/{id}", h.DeleteNotification)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/", h.CreateWebhook)
		r.Get("/", h.ListWebhooks)
		r.Get("/stats", h.WebhookStats)
		r.Get("/{id}", h.GetWebhook)
		r.Patch("/{id}", h.UpdateWebhook)
		r.Post("/{id}/toggle", h.ToggleWebhook)
		r.Post("/{id}/test", h.TestWebhook)
		r.Delete("/{id}", h.DeleteWebhook)
	})

	r.Route("/preferences", func(r chi.Router) {
		r.Get("/", h.GetPreferences)
		r.Patch("/", h.UpdatePreferences)
		r.Patch("/categories/{category}", h.UpdateCategoryPreferences)
		r.Post("/reset", h.ResetPreferences)
	})
}

// identity extracts the authenticated identity from the trusted headers the
// auth boundary sets. Requests without a user id are rejected.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (notify.Recipient, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing_identity", "Missing identity", "X-User-ID header is required")
		return notify.Recipient{}, false
	}
	return notify.Recipient{
		UserID: userID,
		Email:  r.Header.Get("X-User-Email"),
		Phone:  r.Header.Get("X-User-Phone"),
	}, true
}

// --- notifications ---

// DispatchRequest is the incoming dispatch body.
type DispatchRequest struct {
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Category  string                 `json:"category,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
	Channels  []string               `json:"channels,omitempty"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
	GroupKey  string                 `json:"group_key,omitempty"`
	Source    *store.SourceRef       `json:"source,omitempty"`
}

// DispatchNotification handles POST /v1/notifications.
// Supports deduplication via the Idempotency-Key header.
func (h *Handler) DispatchNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Type == "" || req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "type and title are required")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, recipient.UserID, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateDispatch) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another dispatch with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding", zap.Error(err))
		}
		if cached != nil {
			metrics.RecordIdempotencyHit()
			h.writeJSON(w, http.StatusOK, map[string]string{"id": cached.NotificationID})
			return
		}
	}

	n, err := h.dispatcher.Dispatch(ctx, notify.DispatchInput{
		Recipient: recipient,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      req.Data,
		Category:  req.Category,
		Priority:  req.Priority,
		Channels:  req.Channels,
		ExpiresAt: req.ExpiresAt,
		GroupKey:  req.GroupKey,
		Source:    req.Source,
	})
	if err != nil {
		if idempotencyKey != "" && h.idempotency != nil {
			_ = h.idempotency.Release(ctx, recipient.UserID, idempotencyKey)
		}
		h.writeDomainError(w, err, "dispatch failed")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		if err := h.idempotency.Store(ctx, recipient.UserID, idempotencyKey, &redis.DispatchResult{NotificationID: n.ID}); err != nil {
			h.logger.Warn("failed to store idempotency result", zap.Error(err))
		}
	}

	h.writeJSON(w, http.StatusCreated, n)
}

// ListNotifications handles GET /v1/notifications with filter query params.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}

	f := store.NotificationFilter{UserID: recipient.UserID}
	q := r.URL.Query()

	if v := q.Get("is_read"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid is_read", "is_read must be a boolean")
			return
		}
		f.IsRead = &b
	}
	if v := q.Get("is_archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid is_archived", "is_archived must be a boolean")
			return
		}
		f.IsArchived = &b
	}
	f.Category = q.Get("category")
	f.Priority = q.Get("priority")
	f.Type = q.Get("type")
	f.SourceType = q.Get("source_type")
	f.SourceID = q.Get("source_id")

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid from", "from must be RFC3339")
			return
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid to", "to must be RFC3339")
			return
		}
		f.To = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", "limit must be between 1 and 200")
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid offset", "offset must be non-negative")
			return
		}
		f.Offset = n
	}

	page, err := h.notifications.List(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, err, "list failed")
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

// GetSummary handles GET /v1/notifications/summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	summary, err := h.notifications.Summary(r.Context(), recipient.UserID)
	if err != nil {
		h.writeDomainError(w, err, "summary failed")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// GetNotification handles GET /v1/notifications/{id}.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	n, err := h.notifications.Get(r.Context(), chi.URLParam(r, "id"), recipient.UserID)
	if err != nil {
		h.writeDomainError(w, err, "get failed")
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

// MarkRead handles POST /v1/notifications/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), chi.URLParam(r, "id"), recipient.UserID); err != nil {
		h.writeDomainError(w, err, "mark read failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /v1/notifications/read-all.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	count, err := h.notifications.MarkAllRead(r.Context(), recipient.UserID)
	if err != nil {
		h.writeDomainError(w, err, "mark all read failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"updated": count})
}

// ArchiveNotification handles POST /v1/notifications/{id}/archive.
func (h *Handler) ArchiveNotification(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.notifications.Archive(r.Context(), chi.URLParam(r, "id"), recipient.UserID); err != nil {
		h.writeDomainError(w, err, "archive failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotification handles DELETE /v1/notifications/{id}.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.notifications.Delete(r.Context(), chi.URLParam(r, "id"), recipient.UserID); err != nil {
		h.writeDomainError(w, err, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BulkDelete handles POST /v1/notifications/bulk-delete.
func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing ids", "ids must not be empty")
		return
	}

	count, err := h.notifications.DeleteMany(r.Context(), req.IDs, recipient.UserID)
	if err != nil {
		h.writeDomainError(w, err, "bulk delete failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"deleted": count})
}

// --- webhooks ---

// CreateWebhookRequest is the incoming endpoint registration body.
type CreateWebhookRequest struct {
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"`
	Events          []string          `json:"events"`
	Secret          string            `json:"secret,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	MaxRetries      *int              `json:"max_retries,omitempty"`
	BackoffStrategy string            `json:"backoff_strategy,omitempty"`
	TimeoutMs       *int              `json:"timeout_ms,omitempty"`
}

// CreateWebhook handles POST /v1/webhooks.
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	ep, err := h.webhooks.Create(r.Context(), recipient.UserID, store.CreateEndpointInput{
		URL:             req.URL,
		Method:          req.Method,
		Events:          req.Events,
		Secret:          req.Secret,
		Headers:         req.Headers,
		MaxRetries:      req.MaxRetries,
		BackoffStrategy: req.BackoffStrategy,
		TimeoutMs:       req.TimeoutMs,
	})
	if err != nil {
		h.writeDomainError(w, err, "create webhook failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, ep)
}

// ListWebhooks handles GET /v1/webhooks.
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	eps, err := h.webhooks.ListByUser(r.Context(), recipient.UserID)
	if err != nil {
		h.writeDomainError(w, err, "list webhooks failed")
		return
	}
	h.writeJSON(w, http.StatusOK, eps)
}

// GetWebhook handles GET /v1/webhooks/{id}.
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	ep, err := h.webhooks.Get(r.Context(), chi.URLParam(r, "id"), recipient.UserID)
	if err != nil {
		h.writeDomainError(w, err, "get webhook failed")
		return
	}
	h.writeJSON(w, http.StatusOK, ep)
}

// UpdateWebhookRequest is a partial endpoint patch.
type UpdateWebhookRequest struct {
	URL             *string           `json:"url,omitempty"`
	Method          *string           `json:"method,omitempty"`
	Events          []string          `json:"events,omitempty"`
	Secret          *string           `json:"secret,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	MaxRetries      *int              `json:"max_retries,omitempty"`
	BackoffStrategy *string           `json:"backoff_strategy,omitempty"`
	TimeoutMs       *int              `json:"timeout_ms,omitempty"`
}

// UpdateWebhook handles PATCH /v1/webhooks/{id}.
func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req UpdateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	ep, err := h.webhooks.Update(r.Context(), chi.URLParam(r, "id"), recipient.UserID, store.UpdateEndpointInput{
		URL:             req.URL,
		Method:          req.Method,
		Events:          req.Events,
		Secret:          req.Secret,
		Headers:         req.Headers,
		MaxRetries:      req.MaxRetries,
		BackoffStrategy: req.BackoffStrategy,
		TimeoutMs:       req.TimeoutMs,
	})
	if err != nil {
		h.writeDomainError(w, err, "update webhook failed")
		return
	}
	h.writeJSON(w, http.StatusOK, ep)
}

// ToggleWebhook handles POST /v1/webhooks/{id}/toggle.
func (h *Handler) ToggleWebhook(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.IsActive == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing is_active", "is_active is required")
		return
	}

	ep, err := h.webhooks.ToggleActive(r.Context(), chi.URLParam(r, "id"), recipient.UserID, *req.IsActive)
	if err != nil {
		h.writeDomainError(w, err, "toggle webhook failed")
		return
	}
	h.writeJSON(w, http.StatusOK, ep)
}

// TestWebhook handles POST /v1/webhooks/{id}/test: sends a probe event
// through the delivery engine and returns the outcome.
func (h *Handler) TestWebhook(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}

	ep, err := h.webhooks.Get(r.Context(), chi.URLParam(r, "id"), recipient.UserID)
	if err != nil {
		h.writeDomainError(w, err, "test webhook failed")
		return
	}

	attempt := h.deliverer.Deliver(r.Context(), ep, "WEBHOOK_TEST", webhook.NotificationPayload{
		Type:     "WEBHOOK_TEST",
		Category: "system",
		Priority: "low",
		Title:    "Test delivery",
		Message:  "This is a test delivery from RecruitFlow.",
	})
	h.writeJSON(w, http.StatusOK, attempt)
}

// DeleteWebhook handles DELETE /v1/webhooks/{id}.
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.webhooks.Delete(r.Context(), chi.URLParam(r, "id"), recipient.UserID); err != nil {
		h.writeDomainError(w, err, "delete webhook failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookStats handles GET /v1/webhooks/stats.
func (h *Handler) WebhookStats(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	stats, err := h.webhooks.Statistics(r.Context(), recipient.UserID)
	if err != nil {
		h.writeDomainError(w, err, "webhook stats failed")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// --- preferences ---

// GetPreferences handles GET /v1/preferences.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	prefs, err := h.preferences.Get(r.Context(), recipient.UserID)
	if err != nil {
		h.writeDomainError(w, err, "get preferences failed")
		return
	}
	h.writeJSON(w, http.StatusOK, prefs)
}

// UpdatePreferencesRequest is a shallow preferences patch.
type UpdatePreferencesRequest struct {
	Enabled  *bool                  `json:"enabled,omitempty"`
	Defaults *store.ChannelSettings `json:"defaults,omitempty"`
}

// UpdatePreferences handles PATCH /v1/preferences.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req UpdatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	prefs, err := h.preferences.Update(r.Context(), recipient.UserID, store.PreferencesPatch{
		Enabled:  req.Enabled,
		Defaults: req.Defaults,
	})
	if err != nil {
		h.writeDomainError(w, err, "update preferences failed")
		return
	}

	h.audit.Record(r.Context(), audit.Event{
		Type:     "preferences.update",
		Actor:    recipient.UserID,
		Resource: "preferences:" + recipient.UserID,
		Outcome:  audit.OutcomeSuccess,
	})
	h.writeJSON(w, http.StatusOK, prefs)
}

// UpdateCategoryPreferences handles PATCH /v1/preferences/categories/{category}.
func (h *Handler) UpdateCategoryPreferences(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}

	category := chi.URLParam(r, "category")

	var settings store.ChannelSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	prefs, err := h.preferences.SetCategory(r.Context(), recipient.UserID, category, settings)
	if err != nil {
		h.writeDomainError(w, err, "update category preferences failed")
		return
	}

	h.audit.Record(r.Context(), audit.Event{
		Type:     "preferences.category_update",
		Actor:    recipient.UserID,
		Resource: "preferences:" + recipient.UserID,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]interface{}{"category": category},
	})
	h.writeJSON(w, http.StatusOK, prefs)
}

// ResetPreferences handles POST /v1/preferences/reset.
func (h *Handler) ResetPreferences(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.identity(w, r)
	if !ok {
		return
	}
	prefs, err := h.preferences.Reset(r.Context(), recipient.UserID)
	if err != nil {
		h.writeDomainError(w, err, "reset preferences failed")
		return
	}

	h.audit.Record(r.Context(), audit.Event{
		Type:     "preferences.reset",
		Actor:    recipient.UserID,
		Resource: "preferences:" + recipient.UserID,
		Outcome:  audit.OutcomeSuccess,
	})
	h.writeJSON(w, http.StatusOK, prefs)
}

// --- helpers ---

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// writeDomainError maps store errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Resource not found", err.Error())
	case errors.Is(err, store.ErrValidation):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Validation failed", err.Error())
	default:
		h.logger.Error(logMsg, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
	}
}
