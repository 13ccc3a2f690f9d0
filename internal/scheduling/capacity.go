package scheduling

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"ms-scheduling/internal/models"
)

// EffectiveCapacity is the session override when set, else the class capacity.
func EffectiveCapacity(session *models.Session, class *models.Class) int {
	if session.CapacityOverride != nil {
		return *session.CapacityOverride
	}
	return class.Capacity
}

// capacityOf must run inside the same unit of work that acts on the result.
func (s *Service) capacityOf(ctx context.Context, tx Tx, session *models.Session, class *models.Class) (models.Capacity, error) {
	booked, err := tx.CountConfirmed(ctx, session.ID)
	if err != nil {
		return models.Capacity{}, fmt.Errorf("failed to count bookings for session %s: %w", session.ID, err)
	}
	waiting, err := tx.CountWaitlist(ctx, session.ID)
	if err != nil {
		return models.Capacity{}, fmt.Errorf("failed to count waitlist for session %s: %w", session.ID, err)
	}
	return models.NewCapacity(session.ID, EffectiveCapacity(session, class), booked, waiting), nil
}

// GetCapacity reports the live occupancy of a session.
func (s *Service) GetCapacity(ctx context.Context, sessionID string) (capacity models.Capacity, err error) {
	ctx, end := s.span(ctx, "GetCapacity", attribute.String("session.id", sessionID))
	defer func() { end(err) }()

	err = s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		session, err := s.getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		class, err := s.loadClass(ctx, tx, session.ClassID)
		if err != nil {
			return err
		}
		capacity, err = s.capacityOf(ctx, tx, session, class)
		return err
	})
	return capacity, err
}

// GetSession returns a session together with its live occupancy.
func (s *Service) GetSession(ctx context.Context, sessionID string) (result *models.SessionWithCapacity, err error) {
	ctx, end := s.span(ctx, "GetSession", attribute.String("session.id", sessionID))
	defer func() { end(err) }()

	err = s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		session, err := s.getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		class, err := s.loadClass(ctx, tx, session.ClassID)
		if err != nil {
			return err
		}
		capacity, err := s.capacityOf(ctx, tx, session, class)
		if err != nil {
			return err
		}
		result = &models.SessionWithCapacity{Session: *session, Capacity: capacity}
		return nil
	})
	return result, err
}
