package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ResourceType is a Pub/Sub resource kind in a fully qualified name.
type ResourceType string

const (
	// Sub identifies a subscription resource.
	Sub ResourceType = "subscriptions"
	// Pub identifies a topic resource.
	Pub ResourceType = "topics"
)

// ResourceName formats a short ID into a full GCP resource name.
func ResourceName(project, id string, rt ResourceType) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, rt, id)
}

// EnsureTopic creates the topic if it doesn't already exist.
func EnsureTopic(ctx context.Context, client *pubsub.Client, topicName string, logger *slog.Logger) error {
	logger.Debug("Ensuring topic exists", "topic", topicName)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Topic already exists, skipping creation", "topic", topicName)
			return nil
		}
		return fmt.Errorf("could not create topic %s: %w", topicName, err)
	}
	return nil
}

// SubscriptionSpec describes an ingestion subscription.
type SubscriptionSpec struct {
	Name            string
	Topic           string
	DeadLetterTopic string
	Ordered         bool
}

// EnsureSubscription creates the subscription if it doesn't already exist.
func EnsureSubscription(ctx context.Context, client *pubsub.Client, spec SubscriptionSpec, logger *slog.Logger) error {
	subConfig := &pubsubpb.Subscription{
		Name:                  spec.Name,
		Topic:                 spec.Topic,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: spec.Ordered,
	}
	if spec.DeadLetterTopic != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     spec.DeadLetterTopic,
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", spec.Name, "topic", spec.Topic)
	_, err := client.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", spec.Name)
			return nil
		}
		return fmt.Errorf("could not create subscription %s: %w", spec.Name, err)
	}
	return nil
}
