package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/recruitflow/relay/internal/audit"
	"github.com/recruitflow/relay/internal/store"
	"github.com/recruitflow/relay/internal/webhook"
)

type statusUpdate struct {
	channel    string
	status     string
	errMsg     string
	retryCount int
}

type fakeNotificationStore struct {
	mu        sync.Mutex
	created   []*store.Notification
	createErr error
	statuses  []statusUpdate
}

func (f *fakeNotificationStore) Create(ctx context.Context, n *store.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if n.ID == "" {
		n.ID = "notif-1"
	}
	f.created = append(f.created, n)
	return nil
}

func (f *fakeNotificationStore) SetChannelStatus(ctx context.Context, id, channel, status, errMsg string, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusUpdate{channel, status, errMsg, retryCount})
	return nil
}

func (f *fakeNotificationStore) statusFor(channel string) (statusUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.statuses {
		if s.channel == channel {
			return s, true
		}
	}
	return statusUpdate{}, false
}

type fakeEndpointSource struct {
	endpoints []*store.WebhookEndpoint
	err       error
}

func (f *fakeEndpointSource) GetActiveForEvent(ctx context.Context, userID, event string) ([]*store.WebhookEndpoint, error) {
	return f.endpoints, f.err
}

type fakeDeliverer struct {
	mu       sync.Mutex
	results  map[string]store.DeliveryAttempt
	panicFor string
	calls    []string
}

func (f *fakeDeliverer) Deliver(ctx context.Context, ep *store.WebhookEndpoint, event string, notif webhook.NotificationPayload) store.DeliveryAttempt {
	f.mu.Lock()
	f.calls = append(f.calls, ep.ID)
	f.mu.Unlock()
	if ep.ID == f.panicFor {
		panic("deliverer exploded")
	}
	if a, ok := f.results[ep.ID]; ok {
		return a
	}
	return store.DeliveryAttempt{Timestamp: time.Now(), Success: true, StatusCode: 200, Event: event}
}

type fakeSender struct {
	channel string
	err     error

	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, n *store.Notification, to Recipient) error {
	f.mu.Lock()
	f.sent = append(f.sent, n.ID)
	f.mu.Unlock()
	return f.err
}

func (f *fakeSender) SupportsChannel(channel string) bool { return channel == f.channel }

func newTestDispatcher(ns *fakeNotificationStore, eps *fakeEndpointSource, del *fakeDeliverer, senders ...ChannelSender) *Dispatcher {
	prefs := &fakePreferences{prefs: store.DefaultPreferences("user-1")}
	resolver := NewResolver(prefs, zap.NewNop())
	return NewDispatcher(ns, eps, resolver, del, audit.NewLogRecorder(zap.NewNop()), zap.NewNop(), senders...)
}

func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestDispatch_RequiresRecipientAndType(t *testing.T) {
	d := newTestDispatcher(&fakeNotificationStore{}, &fakeEndpointSource{}, &fakeDeliverer{})

	_, err := d.Dispatch(context.Background(), DispatchInput{Type: "MENTION"})
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("missing recipient: expected ErrValidation, got %v", err)
	}

	_, err = d.Dispatch(context.Background(), DispatchInput{Recipient: Recipient{UserID: "user-1"}})
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("missing type: expected ErrValidation, got %v", err)
	}
}

func TestDispatch_RejectsUnknownChannel(t *testing.T) {
	d := newTestDispatcher(&fakeNotificationStore{}, &fakeEndpointSource{}, &fakeDeliverer{})

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeMention,
		Title:     "hi",
		Channels:  []string{"fax"},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestDispatch_ClassifiesWhenCategoryAndPriorityOmitted(t *testing.T) {
	ns := &fakeNotificationStore{}
	d := newTestDispatcher(ns, &fakeEndpointSource{}, &fakeDeliverer{})

	n, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeOfferExtended,
		Title:     "Offer extended",
		Channels:  []string{store.ChannelInApp},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	if n.Category != CategoryCandidates {
		t.Errorf("expected derived category %s, got %s", CategoryCandidates, n.Category)
	}
	if n.Priority != PriorityUrgent {
		t.Errorf("expected derived priority %s, got %s", PriorityUrgent, n.Priority)
	}
}

func TestDispatch_ExplicitFieldsOverrideClassification(t *testing.T) {
	ns := &fakeNotificationStore{}
	d := newTestDispatcher(ns, &fakeEndpointSource{}, &fakeDeliverer{})

	n, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeOfferExtended,
		Title:     "Offer extended",
		Category:  CategoryGeneral,
		Priority:  PriorityLow,
		Channels:  []string{store.ChannelInApp},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	if n.Category != CategoryGeneral || n.Priority != PriorityLow {
		t.Errorf("explicit fields overridden: got %s/%s", n.Category, n.Priority)
	}
}

func TestDispatch_ResolvesChannelsFromPreferences(t *testing.T) {
	ns := &fakeNotificationStore{}
	d := newTestDispatcher(ns, &fakeEndpointSource{}, &fakeDeliverer{})

	n, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1", Email: "u@example.com"},
		Type:      TypeMention,
		Title:     "You were mentioned",
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	// Default preferences route to in_app and email.
	if len(n.Channels) != 2 || n.Channels[0] != store.ChannelInApp || n.Channels[1] != store.ChannelEmail {
		t.Errorf("expected default channels, got %v", n.Channels)
	}
	for _, ch := range n.Channels {
		if n.Delivery[ch].Status != store.DeliveryPending {
			t.Errorf("channel %s should start pending, got %s", ch, n.Delivery[ch].Status)
		}
	}
}

func TestDispatch_GlobalOptOutPersistsRecordWithoutDelivery(t *testing.T) {
	ns := &fakeNotificationStore{}
	del := &fakeDeliverer{}
	prefs := store.DefaultPreferences("user-1")
	prefs.Enabled = false
	resolver := NewResolver(&fakePreferences{prefs: prefs}, zap.NewNop())
	d := NewDispatcher(ns, &fakeEndpointSource{}, resolver, del, audit.NewLogRecorder(zap.NewNop()), zap.NewNop())

	n, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeMention,
		Title:     "You were mentioned",
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	// The record survives as history; nothing is delivered anywhere.
	if len(ns.created) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(ns.created))
	}
	if len(n.Channels) != 0 {
		t.Errorf("expected no channels for an opted-out user, got %v", n.Channels)
	}
	if len(ns.statuses) != 0 {
		t.Errorf("expected no channel status updates, got %v", ns.statuses)
	}
	if len(del.calls) != 0 {
		t.Errorf("expected no webhook deliveries, got %v", del.calls)
	}
}

func TestDispatch_InAppDeliveredImmediately(t *testing.T) {
	ns := &fakeNotificationStore{}
	d := newTestDispatcher(ns, &fakeEndpointSource{}, &fakeDeliverer{})

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeMention,
		Title:     "hi",
		Channels:  []string{store.ChannelInApp},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	s, ok := ns.statusFor(store.ChannelInApp)
	if !ok {
		t.Fatal("expected in_app status update")
	}
	if s.status != store.DeliveryDelivered {
		t.Errorf("expected delivered, got %s", s.status)
	}
}

func TestDispatch_CreateErrorPropagates(t *testing.T) {
	createErr := errors.New("insert failed")
	ns := &fakeNotificationStore{createErr: createErr}
	d := newTestDispatcher(ns, &fakeEndpointSource{}, &fakeDeliverer{})

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeMention,
		Title:     "hi",
		Channels:  []string{store.ChannelInApp},
	})
	if !errors.Is(err, createErr) {
		t.Errorf("expected create error, got %v", err)
	}
}

func TestDispatch_SenderChannelSuccess(t *testing.T) {
	ns := &fakeNotificationStore{}
	email := &fakeSender{channel: store.ChannelEmail}
	d := newTestDispatcher(ns, &fakeEndpointSource{}, &fakeDeliverer{}, email)

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1", Email: "u@example.com"},
		Type:      TypeMention,
		Title:     "hi",
		Channels:  []string{store.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	email.mu.Lock()
	sentCount := len(email.sent)
	email.mu.Unlock()
	if sentCount != 1 {
		t.Fatalf("expected one send, got %d", sentCount)
	}
	s, _ := ns.statusFor(store.ChannelEmail)
	if s.status != store.DeliverySent {
		t.Errorf("expected sent, got %s", s.status)
	}
}

func TestDispatch_SenderFailureMarksChannelFailed(t *testing.T) {
	ns := &fakeNotificationStore{}
	email := &fakeSender{channel: store.ChannelEmail, err: errors.New("ses throttled")}
	d := newTestDispatcher(ns, &fakeEndpointSource{}, &fakeDeliverer{}, email)

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeMention,
		Title:     "hi",
		Channels:  []string{store.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("dispatch should succeed even when the channel fails: %v", err)
	}
	drain(t, d)

	s, ok := ns.statusFor(store.ChannelEmail)
	if !ok {
		t.Fatal("expected email status update")
	}
	if s.status != store.DeliveryFailed || s.errMsg != "ses throttled" {
		t.Errorf("expected failed/ses throttled, got %s/%s", s.status, s.errMsg)
	}
}

func TestDispatch_NoSenderConfigured(t *testing.T) {
	ns := &fakeNotificationStore{}
	d := newTestDispatcher(ns, &fakeEndpointSource{}, &fakeDeliverer{})

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeMention,
		Title:     "hi",
		Channels:  []string{store.ChannelSMS},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	s, _ := ns.statusFor(store.ChannelSMS)
	if s.status != store.DeliveryFailed || s.errMsg != "no sender configured" {
		t.Errorf("expected failed/no sender configured, got %s/%s", s.status, s.errMsg)
	}
}

func TestDispatch_WebhookFanOutAnySuccessSettlesSent(t *testing.T) {
	ns := &fakeNotificationStore{}
	eps := &fakeEndpointSource{endpoints: []*store.WebhookEndpoint{
		{ID: "ep-ok", UserID: "user-1"},
		{ID: "ep-bad", UserID: "user-1"},
	}}
	del := &fakeDeliverer{results: map[string]store.DeliveryAttempt{
		"ep-ok":  {Success: true, StatusCode: 200, Retries: 1},
		"ep-bad": {Success: false, StatusCode: 500, Error: "HTTP 500", Retries: 3},
	}}
	d := newTestDispatcher(ns, eps, del)

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeCandidateAssigned,
		Title:     "hi",
		Channels:  []string{store.ChannelWebhook},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	del.mu.Lock()
	callCount := len(del.calls)
	del.mu.Unlock()
	if callCount != 2 {
		t.Errorf("expected both endpoints attempted, got %d", callCount)
	}

	s, ok := ns.statusFor(store.ChannelWebhook)
	if !ok {
		t.Fatal("expected webhook status update")
	}
	if s.status != store.DeliverySent {
		t.Errorf("one success should settle sent, got %s (%s)", s.status, s.errMsg)
	}
	if s.retryCount != 3 {
		t.Errorf("expected max retries across endpoints, got %d", s.retryCount)
	}
}

func TestDispatch_WebhookFanOutAllFail(t *testing.T) {
	ns := &fakeNotificationStore{}
	eps := &fakeEndpointSource{endpoints: []*store.WebhookEndpoint{
		{ID: "ep-1", UserID: "user-1"},
	}}
	del := &fakeDeliverer{results: map[string]store.DeliveryAttempt{
		"ep-1": {Success: false, StatusCode: 503, Error: "endpoint returned status 503"},
	}}
	d := newTestDispatcher(ns, eps, del)

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeCandidateAssigned,
		Title:     "hi",
		Channels:  []string{store.ChannelWebhook},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	s, _ := ns.statusFor(store.ChannelWebhook)
	if s.status != store.DeliveryFailed {
		t.Errorf("expected failed, got %s", s.status)
	}
	if s.errMsg != "endpoint returned status 503" {
		t.Errorf("expected last error surfaced, got %q", s.errMsg)
	}
}

func TestDispatch_WebhookNoSubscribedEndpoints(t *testing.T) {
	ns := &fakeNotificationStore{}
	d := newTestDispatcher(ns, &fakeEndpointSource{}, &fakeDeliverer{})

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeCandidateAssigned,
		Title:     "hi",
		Channels:  []string{store.ChannelWebhook},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	s, _ := ns.statusFor(store.ChannelWebhook)
	if s.status != store.DeliveryFailed || s.errMsg != "no active endpoints subscribed" {
		t.Errorf("expected failed/no active endpoints subscribed, got %s/%s", s.status, s.errMsg)
	}
}

func TestDispatch_WebhookPanicIsolated(t *testing.T) {
	ns := &fakeNotificationStore{}
	eps := &fakeEndpointSource{endpoints: []*store.WebhookEndpoint{
		{ID: "ep-panics", UserID: "user-1"},
		{ID: "ep-ok", UserID: "user-1"},
	}}
	del := &fakeDeliverer{panicFor: "ep-panics"}
	d := newTestDispatcher(ns, eps, del)

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeCandidateAssigned,
		Title:     "hi",
		Channels:  []string{store.ChannelWebhook},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	// The panicking endpoint counts as a failure; the healthy one still wins.
	s, ok := ns.statusFor(store.ChannelWebhook)
	if !ok {
		t.Fatal("expected webhook status update despite a panic")
	}
	if s.status != store.DeliverySent {
		t.Errorf("expected sent, got %s (%s)", s.status, s.errMsg)
	}
}

func TestDispatch_EndpointQueryErrorMarksChannelFailed(t *testing.T) {
	ns := &fakeNotificationStore{}
	eps := &fakeEndpointSource{err: errors.New("mongo down")}
	d := newTestDispatcher(ns, eps, &fakeDeliverer{})

	_, err := d.Dispatch(context.Background(), DispatchInput{
		Recipient: Recipient{UserID: "user-1"},
		Type:      TypeCandidateAssigned,
		Title:     "hi",
		Channels:  []string{store.ChannelWebhook},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	drain(t, d)

	s, _ := ns.statusFor(store.ChannelWebhook)
	if s.status != store.DeliveryFailed || s.errMsg != "mongo down" {
		t.Errorf("expected failed/mongo down, got %s/%s", s.status, s.errMsg)
	}
}
