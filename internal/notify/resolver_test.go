package notify

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/recruitflow/relay/internal/store"
)

type fakePreferences struct {
	prefs *store.NotificationPreferences
	err   error
}

func (f *fakePreferences) Get(ctx context.Context, userID string) (*store.NotificationPreferences, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prefs, nil
}

func TestResolve_GlobalDisableIsHardOptOut(t *testing.T) {
	prefs := store.DefaultPreferences("user-1")
	prefs.Enabled = false
	prefs.Categories = map[string]store.ChannelSettings{
		CategorySecurity: {InApp: true, Email: true, SMS: true},
	}
	r := NewResolver(&fakePreferences{prefs: prefs}, zap.NewNop())

	channels, err := r.Resolve(context.Background(), "user-1", CategorySecurity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("disabled user must resolve to no channels, got %v", channels)
	}
}

func TestResolve_CategoryOverrideWins(t *testing.T) {
	prefs := store.DefaultPreferences("user-1")
	prefs.Defaults = store.ChannelSettings{InApp: true, Email: true}
	prefs.Categories = map[string]store.ChannelSettings{
		CategoryCandidates: {Push: true, Webhook: true},
	}
	r := NewResolver(&fakePreferences{prefs: prefs}, zap.NewNop())

	channels, err := r.Resolve(context.Background(), "user-1", CategoryCandidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{store.ChannelPush, store.ChannelWebhook}
	if len(channels) != 2 || channels[0] != want[0] || channels[1] != want[1] {
		t.Errorf("expected %v, got %v", want, channels)
	}
}

func TestResolve_EmptyCategoryOverrideMutesCategory(t *testing.T) {
	prefs := store.DefaultPreferences("user-1")
	prefs.Categories = map[string]store.ChannelSettings{
		CategoryJobs: {},
	}
	r := NewResolver(&fakePreferences{prefs: prefs}, zap.NewNop())

	channels, err := r.Resolve(context.Background(), "user-1", CategoryJobs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("an all-off override mutes the category, got %v", channels)
	}
}

func TestResolve_FallsBackToUserDefaults(t *testing.T) {
	prefs := store.DefaultPreferences("user-1")
	prefs.Defaults = store.ChannelSettings{Email: true, Push: true}
	r := NewResolver(&fakePreferences{prefs: prefs}, zap.NewNop())

	channels, err := r.Resolve(context.Background(), "user-1", CategoryGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{store.ChannelEmail, store.ChannelPush}
	if len(channels) != 2 || channels[0] != want[0] || channels[1] != want[1] {
		t.Errorf("expected %v, got %v", want, channels)
	}
}

func TestResolve_SystemDefaultWhenDefaultsEmpty(t *testing.T) {
	prefs := store.DefaultPreferences("user-1")
	prefs.Defaults = store.ChannelSettings{}
	r := NewResolver(&fakePreferences{prefs: prefs}, zap.NewNop())

	channels, err := r.Resolve(context.Background(), "user-1", CategoryGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{store.ChannelInApp, store.ChannelEmail}
	if len(channels) != 2 || channels[0] != want[0] || channels[1] != want[1] {
		t.Errorf("expected system defaults %v, got %v", want, channels)
	}
}

func TestResolve_PropagatesStoreError(t *testing.T) {
	storeErr := errors.New("mongo down")
	r := NewResolver(&fakePreferences{err: storeErr}, zap.NewNop())

	if _, err := r.Resolve(context.Background(), "user-1", CategoryGeneral); !errors.Is(err, storeErr) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}

func TestValidateChannels(t *testing.T) {
	if err := ValidateChannels([]string{store.ChannelInApp, store.ChannelWebhook}); err != nil {
		t.Errorf("valid channels rejected: %v", err)
	}
	err := ValidateChannels([]string{store.ChannelEmail, "carrier_pigeon"})
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
