package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis wraps the shared client with the two key families the gateway
// owns: provider access tokens and processed webhook events.
type Redis struct {
	Client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

func tokenKey(key string) string {
	return "momo_token:" + key
}

func eventKey(provider, eventID string) string {
	return fmt.Sprintf("webhook_processed:%s:%s", provider, eventID)
}

// GetToken implements tokencache.Backend.
func (r *Redis) GetToken(ctx context.Context, key string) (string, bool, error) {
	val, err := r.Client.Get(ctx, tokenKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetToken implements tokencache.Backend.
func (r *Redis) SetToken(ctx context.Context, key, token string, ttl time.Duration) error {
	return r.Client.Set(ctx, tokenKey(key), token, ttl).Err()
}

// DeleteToken implements tokencache.Backend.
func (r *Redis) DeleteToken(ctx context.Context, key string) error {
	return r.Client.Del(ctx, tokenKey(key)).Err()
}

// IsProcessed reports whether a webhook event has already been applied.
func (r *Redis) IsProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	_, err := r.Client.Get(ctx, eventKey(provider, eventID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkProcessed records a webhook event after its transition committed.
// The TTL must exceed the provider's redelivery window.
func (r *Redis) MarkProcessed(ctx context.Context, provider, eventID string, ttl time.Duration) error {
	return r.Client.Set(ctx, eventKey(provider, eventID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}
