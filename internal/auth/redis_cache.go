package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-scheduling/internal/logger"
)

// InitializeTokenCache checks the Redis connection is writable and returns a cache on it.
func InitializeTokenCache(ctx context.Context, client *redis.Client, clientID string, log *logger.Logger) (*RedisTokenCache, error) {
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error("AUTH", fmt.Sprintf("Failed to connect to Redis at %s: %v", client.Options().Addr, err))
		return nil, err
	}

	cache := NewRedisTokenCache(client, clientID)
	testKey := cache.Key + ":test"
	if err := client.Set(ctx, testKey, "test", 5*time.Second).Err(); err != nil {
		log.Error("AUTH", fmt.Sprintf("Failed to write test value to Redis: %v", err))
		return nil, err
	}

	log.Info("AUTH", "Redis token cache is ready for use")
	return cache, nil
}
