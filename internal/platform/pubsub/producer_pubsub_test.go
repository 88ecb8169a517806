package pubsub_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	ps "github.com/tinywideclouds/go-realtime-service/internal/platform/pubsub"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

const (
	projectID = "test-project"
	topicID   = "test-topic"
	subID     = "test-sub"
)

type pubsubFixture struct {
	client *pubsub.Client
	logger *slog.Logger
}

// setupPubsub starts an in-memory server with one ordered subscription.
func setupPubsub(t *testing.T, ctx context.Context) *pubsubFixture {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	topicName := ps.ResourceName(projectID, topicID, ps.Pub)
	require.NoError(t, ps.EnsureTopic(ctx, client, topicName, logger))
	require.NoError(t, ps.EnsureSubscription(ctx, client, ps.SubscriptionSpec{
		Name:    ps.ResourceName(projectID, subID, ps.Sub),
		Topic:   topicName,
		Ordered: true,
	}, logger))

	return &pubsubFixture{client: client, logger: logger}
}

func TestEnsure_Idempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	fx := setupPubsub(t, ctx)

	topicName := ps.ResourceName(projectID, topicID, ps.Pub)
	assert.NoError(t, ps.EnsureTopic(ctx, fx.client, topicName, fx.logger))
	assert.NoError(t, ps.EnsureSubscription(ctx, fx.client, ps.SubscriptionSpec{
		Name:  ps.ResourceName(projectID, subID, ps.Sub),
		Topic: topicName,
	}, fx.logger))
}

func TestResourceName(t *testing.T) {
	assert.Equal(t, "projects/p/topics/t", ps.ResourceName("p", "t", ps.Pub))
	assert.Equal(t, "projects/p/subscriptions/s", ps.ResourceName("p", "s", ps.Sub))
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	fx := setupPubsub(t, ctx)

	publisher := fx.client.Publisher(topicID)
	publisher.EnableMessageOrdering = true
	t.Cleanup(publisher.Stop)

	producer, err := ps.NewProducer(publisher, true, fx.logger)
	require.NoError(t, err)
	consumer, err := ps.NewConsumer(fx.client.Subscriber(subID), fx.logger)
	require.NoError(t, err)

	events := []*realtime.DomainEvent{
		{ID: "e1", Kind: realtime.KindTaskUpdated, TaskID: "42", Text: "first"},
		{ID: "e2", Kind: realtime.KindCommentAdded, TaskID: "42", Text: "second"},
		{ID: "e3", Kind: realtime.KindTaskUpdated, TaskID: "42", Text: "third"},
	}

	// Act
	for _, e := range events {
		require.NoError(t, producer.Submit(ctx, e))
	}

	received := make(chan *realtime.DomainEvent, len(events))
	receiveCtx, cancelReceive := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(receiveCtx, func(_ context.Context, e *realtime.DomainEvent) {
			received <- e
			if len(received) == len(events) {
				cancelReceive()
			}
		})
	}()

	// Assert
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		cancelReceive()
		t.Fatal("timed out waiting for events")
	}
	close(received)

	var ids []string
	for e := range received {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids)
}

func TestProducer_Submit_RejectsInvalid(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	fx := setupPubsub(t, ctx)

	producer, err := ps.NewProducer(fx.client.Publisher(topicID), false, fx.logger)
	require.NoError(t, err)

	err = producer.Submit(ctx, &realtime.DomainEvent{Kind: realtime.KindMessageCreated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid event")
}

func TestProducer_PublishRaw(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	fx := setupPubsub(t, ctx)

	producer, err := ps.NewProducer(fx.client.Publisher(topicID), false, fx.logger)
	require.NoError(t, err)

	// Act
	serverID, err := producer.Publish(ctx, "relay-1", []byte(`{"token":"t"}`))

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, serverID)

	var got *pubsub.Message
	receiveCtx, cancelReceive := context.WithCancel(ctx)
	defer cancelReceive()
	err = fx.client.Subscriber(subID).Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
		msg.Ack()
		got = msg
		cancelReceive()
	})
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
	require.NotNil(t, got)
	assert.Equal(t, "relay-1", got.Attributes["id"])

	var body map[string]string
	require.NoError(t, json.Unmarshal(got.Data, &body))
	assert.Equal(t, "t", body["token"])
}
