package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
)

const keyPrefix = "entitlement:"

// Fetcher is the uncached source of entitlement answers.
type Fetcher interface {
	Fetch(ctx context.Context, memberID string) (*models.EntitlementResponse, error)
}

// CachedGate keeps billing answers in Redis for TTL. Redis failures fall through to the fetcher.
type CachedGate struct {
	source Fetcher
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

func NewCachedGate(source Fetcher, client *redis.Client, ttl time.Duration, log *logger.Logger) *CachedGate {
	if log == nil {
		log = logger.NewNop()
	}
	return &CachedGate{source: source, client: client, ttl: ttl, logger: log}
}

func cacheKey(memberID string) string {
	return keyPrefix + memberID
}

func (c *CachedGate) HasEntitlement(ctx context.Context, memberID string) (bool, error) {
	if resp, ok := c.lookup(ctx, memberID); ok {
		return decide(resp)
	}

	resp, err := c.source.Fetch(ctx, memberID)
	if err != nil {
		return false, err
	}
	c.store(ctx, resp)
	return decide(resp)
}

func (c *CachedGate) lookup(ctx context.Context, memberID string) (*models.EntitlementResponse, bool) {
	raw, err := c.client.Get(ctx, cacheKey(memberID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("ENTITLEMENT", fmt.Sprintf("Cache read failed for %s: %v", memberID, err))
		return nil, false
	}

	var resp models.EntitlementResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("ENTITLEMENT", fmt.Sprintf("Dropping unreadable cache entry for %s: %v", memberID, err))
		return nil, false
	}
	return &resp, true
}

func (c *CachedGate) store(ctx context.Context, resp *models.EntitlementResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(resp.MemberID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("ENTITLEMENT", fmt.Sprintf("Cache write failed for %s: %v", resp.MemberID, err))
	}
}

// Invalidate forgets the cached answer for a member.
func (c *CachedGate) Invalidate(ctx context.Context, memberID string) error {
	if err := c.client.Del(ctx, cacheKey(memberID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate entitlement for %s: %w", memberID, err)
	}
	c.logger.Debug("ENTITLEMENT", fmt.Sprintf("Invalidated cached entitlement for %s", memberID))
	return nil
}
