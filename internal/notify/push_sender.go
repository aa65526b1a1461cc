package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/recruitflow/relay/internal/store"
)

// PushSender delivers the push and sms channels via AWS SNS. Push goes to a
// platform topic tagged with the recipient user id; SMS publishes straight to
// the recipient's phone number.
type PushSender struct {
	client   *sns.Client
	topicARN string
	logger   *zap.Logger
}

type PushConfig struct {
	Region   string
	TopicARN string
}

// NewPushSender creates an SNS-backed push/SMS sender.
func NewPushSender(ctx context.Context, cfg PushConfig, logger *zap.Logger) (*PushSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return &PushSender{
		client:   sns.NewFromConfig(awsCfg),
		topicARN: cfg.TopicARN,
		logger:   logger,
	}, nil
}

func (s *PushSender) Send(ctx context.Context, n *store.Notification, to Recipient) error {
	body, err := json.Marshal(map[string]interface{}{
		"notification_id": n.ID,
		"type":            n.Type,
		"title":           n.Title,
		"message":         n.Message,
		"priority":        n.Priority,
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	var input *sns.PublishInput
	if to.Phone != "" {
		input = &sns.PublishInput{
			PhoneNumber: aws.String(to.Phone),
			Message:     aws.String(n.Message),
		}
	} else {
		if s.topicARN == "" {
			return fmt.Errorf("no push topic configured and recipient has no phone number")
		}
		input = &sns.PublishInput{
			TopicArn: aws.String(s.topicARN),
			Message:  aws.String(string(body)),
			MessageAttributes: map[string]snstypes.MessageAttributeValue{
				"user_id": {
					DataType:    aws.String("String"),
					StringValue: aws.String(to.UserID),
				},
			},
		}
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("push sent via SNS",
		zap.String("id", n.ID),
		zap.String("user_id", to.UserID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// SupportsChannel reports whether this sender handles the channel.
func (s *PushSender) SupportsChannel(channel string) bool {
	return channel == store.ChannelPush || channel == store.ChannelSMS
}
