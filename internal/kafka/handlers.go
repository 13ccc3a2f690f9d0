package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-scheduling/internal/models"
)

// ClassSyncer stores an updated class policy.
type ClassSyncer interface {
	SyncClass(ctx context.Context, class *models.Class) error
}

// EntitlementInvalidator drops whatever is cached about a member's entitlement.
type EntitlementInvalidator interface {
	Invalidate(ctx context.Context, memberID string) error
}

// ClassUpdatedHandler applies class policy changes published by the class owner.
func ClassUpdatedHandler(syncer ClassSyncer) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var class models.Class
		if err := json.Unmarshal(msg.Value, &class); err != nil {
			return fmt.Errorf("decode class: %w", err)
		}
		if class.ID == "" {
			class.ID = string(msg.Key)
		}
		if class.ID == "" {
			return errors.New("class update without id")
		}
		return syncer.SyncClass(ctx, &class)
	}
}

// EntitlementChangedHandler evicts cached entitlement answers when billing reports a change.
func EntitlementChangedHandler(cache EntitlementInvalidator) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var event models.EntitlementChangedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("decode entitlement change: %w", err)
		}
		if event.MemberID == "" {
			event.MemberID = string(msg.Key)
		}
		if event.MemberID == "" {
			return errors.New("entitlement change without member id")
		}
		return cache.Invalidate(ctx, event.MemberID)
	}
}
