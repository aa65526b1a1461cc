package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// PreferencesPatch is a shallow-merge update: nil fields stay as they are.
type PreferencesPatch struct {
	Enabled  *bool
	Defaults *ChannelSettings
}

// Preferences persists per-user notification preferences. A user's document
// is created lazily with system defaults on first access and never
// hard-deleted.
type Preferences struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewPreferences creates the preferences store.
func NewPreferences(db *DB, logger *zap.Logger) *Preferences {
	return &Preferences{coll: db.preferences, logger: logger}
}

// Get returns the user's preferences, creating them with system defaults if
// this is the first access.
func (s *Preferences) Get(ctx context.Context, userID string) (*NotificationPreferences, error) {
	var prefs NotificationPreferences
	err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&prefs)
	if err == nil {
		return &prefs, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("query preferences: %w", err)
	}

	defaults := DefaultPreferences(userID)
	if _, err := s.coll.InsertOne(ctx, defaults); err != nil {
		// A concurrent first access may have inserted already.
		if mongo.IsDuplicateKeyError(err) {
			return s.Get(ctx, userID)
		}
		return nil, fmt.Errorf("insert default preferences: %w", err)
	}
	return defaults, nil
}

// Update shallow-merges the patch into the user's preferences.
func (s *Preferences) Update(ctx context.Context, userID string, patch PreferencesPatch) (*NotificationPreferences, error) {
	// Ensure the document exists so the merge has a base.
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if patch.Enabled != nil {
		set["enabled"] = *patch.Enabled
	}
	if patch.Defaults != nil {
		set["defaults"] = *patch.Defaults
	}

	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set}); err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}

	s.logger.Info("notification preferences updated", zap.String("user_id", userID))
	return s.Get(ctx, userID)
}

// SetCategory sets the channel override for one category.
func (s *Preferences) SetCategory(ctx context.Context, userID, category string, settings ChannelSettings) (*NotificationPreferences, error) {
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}

	update := bson.M{"$set": bson.M{
		"categories." + category: settings,
		"updatedAt":              time.Now().UTC(),
	}}
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": userID}, update); err != nil {
		return nil, fmt.Errorf("update category preferences: %w", err)
	}

	s.logger.Info("category preferences updated",
		zap.String("user_id", userID),
		zap.String("category", category),
	)
	return s.Get(ctx, userID)
}

// Reset restores the user's preferences to system defaults.
func (s *Preferences) Reset(ctx context.Context, userID string) (*NotificationPreferences, error) {
	defaults := DefaultPreferences(userID)
	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": userID}, defaults, opts); err != nil {
		return nil, fmt.Errorf("reset preferences: %w", err)
	}
	return defaults, nil
}
