package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSConfig holds the audit queue settings.
type SQSConfig struct {
	Region   string
	QueueURL string
}

// SQSRecorder publishes audit events to an SQS queue for downstream
// compliance consumers. Publish failures are logged and dropped.
type SQSRecorder struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewSQSRecorder creates an SQS-backed audit recorder.
func NewSQSRecorder(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*SQSRecorder, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("audit queue recorder initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &SQSRecorder{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Record publishes one audit event. Never returns an error to the caller.
func (r *SQSRecorder) Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("failed to marshal audit event", zap.Error(err))
		return
	}

	_, err = r.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(r.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		r.logger.Warn("failed to publish audit event",
			zap.Error(err),
			zap.String("event_type", ev.Type),
			zap.String("resource", ev.Resource),
		)
	}
}

// LogRecorder writes audit events through the structured logger. Used when
// no audit queue is configured.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a logger-backed audit recorder.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record logs one audit event.
func (r *LogRecorder) Record(_ context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	r.logger.Info("audit event",
		zap.String("event_type", ev.Type),
		zap.String("actor", ev.Actor),
		zap.String("resource", ev.Resource),
		zap.String("outcome", ev.Outcome),
		zap.Any("metadata", ev.Metadata),
	)
}
