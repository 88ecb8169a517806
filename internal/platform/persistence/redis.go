package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
}

// RedisProfileStore keeps each user's tokens in a hash,
// `device-tokens:{userID}`, mapping token to platform.
type RedisProfileStore struct {
	client redisClient
	logger *slog.Logger
}

// NewRedisProfileStore is the constructor for the RedisProfileStore.
func NewRedisProfileStore(client redisClient, logger *slog.Logger) (*RedisProfileStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisProfileStore{
		client: client,
		logger: logger.With("component", "RedisProfileStore"),
	}, nil
}

// DeviceTokens returns the user's tokens sorted by token.
func (s *RedisProfileStore) DeviceTokens(ctx context.Context, userID string) ([]realtime.DeviceToken, error) {
	fields, err := s.client.HGetAll(ctx, tokenKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to hgetall device tokens: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	tokens := make([]realtime.DeviceToken, 0, len(fields))
	for token, platform := range fields {
		tokens = append(tokens, realtime.DeviceToken{Token: token, Platform: platform})
	}
	sortTokens(tokens)
	return tokens, nil
}

// InvalidateToken deletes the token. Unknown tokens are ignored.
func (s *RedisProfileStore) InvalidateToken(ctx context.Context, userID, token string) error {
	removed, err := s.client.HDel(ctx, tokenKey(userID), token).Result()
	if err != nil {
		return fmt.Errorf("failed to hdel device token: %w", err)
	}
	if removed > 0 {
		s.logger.Info("Invalidated device token", "user", userID)
	}
	return nil
}

// RegisterToken adds or updates a token.
func (s *RedisProfileStore) RegisterToken(ctx context.Context, userID string, token realtime.DeviceToken) error {
	if err := s.client.HSet(ctx, tokenKey(userID), token.Token, token.Platform).Err(); err != nil {
		return fmt.Errorf("failed to hset device token: %w", err)
	}
	return nil
}

func tokenKey(userID string) string {
	return "device-tokens:" + userID
}
