package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// NotificationFilter narrows a notification listing. UserID is mandatory;
// everything else is optional.
type NotificationFilter struct {
	UserID     string
	IsRead     *bool
	IsArchived *bool
	Category   string
	Priority   string
	Type       string
	From       *time.Time
	To         *time.Time
	SourceType string
	SourceID   string
	Limit      int
	Offset     int
}

// NotificationPage is one page of a filtered listing.
type NotificationPage struct {
	Items      []*Notification `json:"items"`
	TotalCount int64           `json:"total_count"`
	HasMore    bool            `json:"has_more"`
}

// NotificationSummary backs the dashboard badge counts.
type NotificationSummary struct {
	Total      int64            `json:"total"`
	Unread     int64            `json:"unread"`
	ByCategory map[string]int64 `json:"by_category"`
	ByPriority map[string]int64 `json:"by_priority"`
}

// Notifications is the persistence surface for Notification documents.
type Notifications struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewNotifications creates the notification store.
func NewNotifications(db *DB, logger *zap.Logger) *Notifications {
	return &Notifications{coll: db.notifications, logger: logger}
}

// Create inserts a new notification document.
func (s *Notifications) Create(ctx context.Context, n *Notification) error {
	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = now
	n.UpdatedAt = now

	if _, err := s.coll.InsertOne(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	s.logger.Info("notification created",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("type", n.Type),
		zap.Strings("channels", n.Channels),
	)
	return nil
}

// Get fetches one notification scoped to its owner.
func (s *Notifications) Get(ctx context.Context, id, userID string) (*Notification, error) {
	var n Notification
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "userId": userID}).Decode(&n)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return &n, nil
}

// buildFilter translates a NotificationFilter into a mongo filter document.
// List and Summary both go through here so badge counts can never drift from
// the listing they summarize. Expired documents are filtered out at query
// time rather than deleted.
func buildFilter(f NotificationFilter, now time.Time) bson.M {
	filter := bson.M{
		"userId": f.UserID,
		"$or": []bson.M{
			{"expiresAt": bson.M{"$exists": false}},
			{"expiresAt": nil},
			{"expiresAt": bson.M{"$gt": now}},
		},
	}

	if f.IsRead != nil {
		filter["isRead"] = *f.IsRead
	}
	if f.IsArchived != nil {
		filter["isArchived"] = *f.IsArchived
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Priority != "" {
		filter["priority"] = f.Priority
	}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.From != nil || f.To != nil {
		rng := bson.M{}
		if f.From != nil {
			rng["$gte"] = *f.From
		}
		if f.To != nil {
			rng["$lte"] = *f.To
		}
		filter["createdAt"] = rng
	}
	if f.SourceType != "" {
		filter["source.type"] = f.SourceType
	}
	if f.SourceID != "" {
		filter["source.id"] = f.SourceID
	}

	return filter
}

// List returns a page of notifications matching the filter, newest first.
func (s *Notifications) List(ctx context.Context, f NotificationFilter) (*NotificationPage, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	filter := buildFilter(f, time.Now().UTC())

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer cursor.Close(ctx)

	items := []*Notification{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}

	return &NotificationPage{
		Items:      items,
		TotalCount: total,
		HasMore:    int64(f.Offset+len(items)) < total,
	}, nil
}

// Summary aggregates unread/total counts and per-category/per-priority
// buckets over the same predicate List uses.
func (s *Notifications) Summary(ctx context.Context, userID string) (*NotificationSummary, error) {
	now := time.Now().UTC()
	base := buildFilter(NotificationFilter{UserID: userID}, now)

	total, err := s.coll.CountDocuments(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	unreadFilter := buildFilter(NotificationFilter{UserID: userID}, now)
	unreadFilter["isRead"] = false
	unread, err := s.coll.CountDocuments(ctx, unreadFilter)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}

	summary := &NotificationSummary{
		Total:      total,
		Unread:     unread,
		ByCategory: map[string]int64{},
		ByPriority: map[string]int64{},
	}

	for _, group := range []string{"category", "priority"} {
		pipeline := mongo.Pipeline{
			{{Key: "$match", Value: base}},
			{{Key: "$group", Value: bson.M{"_id": "$" + group, "count": bson.M{"$sum": 1}}}},
		}
		cursor, err := s.coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, fmt.Errorf("aggregate by %s: %w", group, err)
		}

		var buckets []struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cursor.All(ctx, &buckets); err != nil {
			return nil, fmt.Errorf("decode %s buckets: %w", group, err)
		}
		for _, b := range buckets {
			if group == "category" {
				summary.ByCategory[b.ID] = b.Count
			} else {
				summary.ByPriority[b.ID] = b.Count
			}
		}
	}

	return summary, nil
}

// MarkRead marks one notification read. The isRead guard in the filter makes
// a repeat call a no-op: readAt is only written the first time.
func (s *Notifications) MarkRead(ctx context.Context, id, userID string) error {
	now := time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "userId": userID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true, "readAt": now, "updatedAt": now}},
	)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if res.MatchedCount == 0 {
		// Either already read (fine) or not found / not owned.
		if _, err := s.Get(ctx, id, userID); err != nil {
			return err
		}
	}
	return nil
}

// MarkAllRead marks every unread notification for the user as read.
func (s *Notifications) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"userId": userID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true, "readAt": now, "updatedAt": now}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return res.ModifiedCount, nil
}

// Archive flags a notification archived.
func (s *Notifications) Archive(ctx context.Context, id, userID string) error {
	now := time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "userId": userID, "isArchived": false},
		bson.M{"$set": bson.M{"isArchived": true, "archivedAt": now, "updatedAt": now}},
	)
	if err != nil {
		return fmt.Errorf("archive notification: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, id, userID); err != nil {
			return err
		}
	}
	return nil
}

// SetChannelStatus updates one channel's delivery state on a notification.
// Called by the dispatcher and the delivery engine as channels progress.
func (s *Notifications) SetChannelStatus(ctx context.Context, id, channel, status, errMsg string, retryCount int) error {
	now := time.Now().UTC()
	set := bson.M{
		"delivery." + channel + ".status": status,
		"updatedAt":                       now,
	}
	switch status {
	case DeliverySent:
		set["delivery."+channel+".sentAt"] = now
	case DeliveryDelivered:
		set["delivery."+channel+".deliveredAt"] = now
	case DeliveryRead:
		set["delivery."+channel+".readAt"] = now
	}
	if errMsg != "" {
		set["delivery."+channel+".error"] = errMsg
	}
	if retryCount > 0 {
		set["delivery."+channel+".retryCount"] = retryCount
	}

	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("set channel status: %w", err)
	}
	return nil
}

// Delete hard-removes one notification, scoped to its owner.
func (s *Notifications) Delete(ctx context.Context, id, userID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id, "userId": userID})
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMany removes a batch of notifications after verifying every target
// belongs to the requesting user. Partial ownership rejects the whole batch.
func (s *Notifications) DeleteMany(ctx context.Context, ids []string, userID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	owned, err := s.coll.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}, "userId": userID})
	if err != nil {
		return 0, fmt.Errorf("verify ownership: %w", err)
	}
	if owned != int64(len(ids)) {
		return 0, fmt.Errorf("%w: %d of %d notifications not owned by user", ErrNotFound, int64(len(ids))-owned, len(ids))
	}

	res, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}, "userId": userID})
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return res.DeletedCount, nil
}
