package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/recruitflow/relay/internal/store"
)

// PreferenceStore is the slice of the preference store the resolver needs.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*store.NotificationPreferences, error)
}

// Resolver maps (user, category) to the effective set of delivery channels.
type Resolver struct {
	prefs  PreferenceStore
	logger *zap.Logger
}

// NewResolver creates a preference resolver.
func NewResolver(prefs PreferenceStore, logger *zap.Logger) *Resolver {
	return &Resolver{prefs: prefs, logger: logger}
}

// Resolve returns the channels a notification in the given category should be
// routed to. Precedence: the global enabled flag is a hard opt-out; then the
// category override; then the user's defaults; then the system default set.
func (r *Resolver) Resolve(ctx context.Context, userID, category string) ([]string, error) {
	prefs, err := r.prefs.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	if !prefs.Enabled {
		r.logger.Debug("notifications globally disabled for user",
			zap.String("user_id", userID),
		)
		return []string{}, nil
	}

	if override, ok := prefs.Categories[category]; ok {
		return override.Channels(), nil
	}

	if channels := prefs.Defaults.Channels(); len(channels) > 0 {
		return channels, nil
	}

	return store.ChannelSettings{InApp: true, Email: true}.Channels(), nil
}

// ValidateChannels rejects channel names outside the known enumeration.
func ValidateChannels(channels []string) error {
	for _, ch := range channels {
		if !store.ValidChannels[ch] {
			return fmt.Errorf("%w: unknown channel %q", store.ErrValidation, ch)
		}
	}
	return nil
}
