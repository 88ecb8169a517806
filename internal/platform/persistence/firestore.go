package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

const deviceTokensCollection = "device-tokens"

// FirestoreProfileStore keeps each user's device tokens in one document,
// `device-tokens/{userID}`.
type FirestoreProfileStore struct {
	client *firestore.Client
	logger *slog.Logger
}

// NewFirestoreProfileStore is the constructor for the FirestoreProfileStore.
func NewFirestoreProfileStore(client *firestore.Client, logger *slog.Logger) (*FirestoreProfileStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestoreProfileStore{
		client: client,
		logger: logger.With("component", "FirestoreProfileStore"),
	}, nil
}

func (s *FirestoreProfileStore) doc(userID string) *firestore.DocumentRef {
	return s.client.Collection(deviceTokensCollection).Doc(userID)
}

// DeviceTokens returns the user's tokens. A user without a document has none.
func (s *FirestoreProfileStore) DeviceTokens(ctx context.Context, userID string) ([]realtime.DeviceToken, error) {
	snap, err := s.doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device tokens: %w", err)
	}
	var doc DeviceTokenDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode device tokens: %w", err)
	}
	return doc.Tokens, nil
}

// InvalidateToken removes token from the user's document.
func (s *FirestoreProfileStore) InvalidateToken(ctx context.Context, userID, token string) error {
	ref := s.doc(userID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := getTokenDoc(tx, ref)
		if err != nil {
			return err
		}
		remaining, removed := withoutToken(doc.Tokens, token)
		if !removed {
			return nil
		}
		s.logger.Info("Invalidating device token", "user", userID)
		return tx.Set(ref, DeviceTokenDoc{Tokens: remaining})
	})
}

// RegisterToken adds or updates a token on the user's document.
func (s *FirestoreProfileStore) RegisterToken(ctx context.Context, userID string, token realtime.DeviceToken) error {
	ref := s.doc(userID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := getTokenDoc(tx, ref)
		if err != nil {
			return err
		}
		return tx.Set(ref, DeviceTokenDoc{Tokens: withToken(doc.Tokens, token)})
	})
}

func getTokenDoc(tx *firestore.Transaction, ref *firestore.DocumentRef) (DeviceTokenDoc, error) {
	var doc DeviceTokenDoc
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read device tokens: %w", err)
	}
	if err := snap.DataTo(&doc); err != nil {
		return doc, fmt.Errorf("failed to decode device tokens: %w", err)
	}
	return doc, nil
}
