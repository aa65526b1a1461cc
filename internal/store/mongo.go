// Package store provides the MongoDB persistence layer for notifications,
// webhook endpoints and notification preferences.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a document does not exist or is not owned by
// the requesting user.
var ErrNotFound = errors.New("document not found")

// Config holds MongoDB connection settings.
type Config struct {
	URI      string
	Database string
}

// DB wraps the mongo client and collection handles.
type DB struct {
	client        *mongo.Client
	notifications *mongo.Collection
	webhooks      *mongo.Collection
	preferences   *mongo.Collection
	logger        *zap.Logger
}

// Connect establishes the MongoDB connection, verifies it with a ping and
// ensures the indexes the query surface relies on.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	database := client.Database(cfg.Database)
	db := &DB{
		client:        client,
		notifications: database.Collection("notifications"),
		webhooks:      database.Collection("webhook_endpoints"),
		preferences:   database.Collection("notification_preferences"),
		logger:        logger,
	}

	if err := db.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}

	logger.Info("mongodb connection established",
		zap.String("database", cfg.Database),
	)

	return db, nil
}

func (db *DB) ensureIndexes(ctx context.Context) error {
	notifIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isRead", Value: 1}}},
	}
	if _, err := db.notifications.Indexes().CreateMany(ctx, notifIndexes); err != nil {
		return fmt.Errorf("notifications: %w", err)
	}

	webhookIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isActive", Value: 1}}},
	}
	if _, err := db.webhooks.Indexes().CreateMany(ctx, webhookIndexes); err != nil {
		return fmt.Errorf("webhook_endpoints: %w", err)
	}

	// Preferences are keyed by user id through _id, which is unique on its
	// own; no secondary index needed.
	return nil
}

// Close disconnects from MongoDB.
func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

// Ping checks if MongoDB is responsive.
func (db *DB) Ping(ctx context.Context) error {
	return db.client.Ping(ctx, nil)
}
