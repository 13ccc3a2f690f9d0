package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// M2MTokenKey prefixes the cached token; the client id is appended.
	M2MTokenKey = "m2m_token"
	// TokenExpiryBuffer is how long before expiry a cached token stops being handed out.
	TokenExpiryBuffer = 60 * time.Second
)

// TokenCache represents a cached token with its expiry time
type TokenCache struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsValid reports whether the token is still usable at now.
func (tc *TokenCache) IsValid(now time.Time) bool {
	if tc == nil || tc.Token == "" {
		return false
	}
	return now.Add(TokenExpiryBuffer).Before(tc.ExpiresAt)
}

type RedisTokenCache struct {
	Client *redis.Client
	Key    string
	Now    func() time.Time
}

func NewRedisTokenCache(client *redis.Client, clientID string) *RedisTokenCache {
	return &RedisTokenCache{
		Client: client,
		Key:    M2MTokenKey + ":" + clientID,
		Now:    time.Now,
	}
}

// GetToken returns nil, nil when nothing usable is cached.
func (c *RedisTokenCache) GetToken(ctx context.Context) (*TokenCache, error) {
	if c.Client == nil {
		return nil, errors.New("redis client not initialized")
	}

	tokenJSON, err := c.Client.Get(ctx, c.Key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token from Redis: %w", err)
	}

	var tokenCache TokenCache
	if err := json.Unmarshal([]byte(tokenJSON), &tokenCache); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token cache: %w", err)
	}
	if !tokenCache.IsValid(c.Now()) {
		return nil, nil
	}
	return &tokenCache, nil
}

// SetToken stores a token that expires in expiresIn seconds.
func (c *RedisTokenCache) SetToken(ctx context.Context, token string, expiresIn int) error {
	if c.Client == nil {
		return errors.New("redis client not initialized")
	}

	lifetime := time.Duration(expiresIn) * time.Second
	tokenJSON, err := json.Marshal(&TokenCache{Token: token, ExpiresAt: c.Now().Add(lifetime)})
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}

	// Key outlives the token slightly so clock skew between replicas cannot serve a stale one.
	if err := c.Client.Set(ctx, c.Key, tokenJSON, lifetime+TokenExpiryBuffer).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}
	return nil
}
