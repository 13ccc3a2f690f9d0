package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"ms-scheduling/internal/models"
	"ms-scheduling/internal/recurrence"
)

// SyncClass stores the latest class policy published by the class owner. A capacity
// increase offers the new places to the waitlists of upcoming sessions that follow
// the class capacity.
func (s *Service) SyncClass(ctx context.Context, class *models.Class) (err error) {
	ctx, end := s.span(ctx, "SyncClass", attribute.String("class.id", class.ID))
	defer func() { end(err) }()

	if class.ID == "" || class.Capacity < 0 || class.DurationMinutes <= 0 || class.WaitlistMax < 0 ||
		class.BookingOpensHours < 0 || class.BookingClosesMinutes < 0 || class.CancellationMinutes < 0 {
		return &Error{Kind: KindInvalidState, Message: fmt.Sprintf("class %q has an invalid policy", class.ID)}
	}
	if class.UpdatedAt.IsZero() {
		class.UpdatedAt = s.now()
	}
	class.UpdatedAt = class.UpdatedAt.UTC()

	var grown []string
	err = s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		grown = nil

		prev, err := tx.GetClass(ctx, class.ID)
		if err != nil && !errors.Is(err, ErrNoRows) {
			return fmt.Errorf("failed to load class %s: %w", class.ID, err)
		}
		if err := tx.UpsertClass(ctx, class); err != nil {
			return fmt.Errorf("failed to upsert class %s: %w", class.ID, err)
		}
		if prev == nil || class.Capacity <= prev.Capacity {
			return nil
		}

		upcoming, err := tx.ListUpcomingSessions(ctx, class.ID, s.now())
		if err != nil {
			return fmt.Errorf("failed to list sessions of class %s: %w", class.ID, err)
		}
		for _, sess := range upcoming {
			if sess.CapacityOverride == nil {
				grown = append(grown, sess.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Logger.Info("CLASS", fmt.Sprintf("Class %s synced (capacity %d, waitlist %t/%d)", class.ID, class.Capacity, class.WaitlistEnabled, class.WaitlistMax))

	for _, sessionID := range grown {
		n, perr := s.promoteAll(ctx, sessionID)
		if perr != nil {
			s.Logger.Error("WAITLIST", fmt.Sprintf("Promotion after capacity increase on %s failed: %v", sessionID, perr))
			continue
		}
		if n > 0 {
			s.Logger.LogWaitlist("PROMOTE", sessionID, fmt.Sprintf("%d promoted after class capacity rose to %d", n, class.Capacity))
		}
	}
	return nil
}

// CreateSession adds a one-off session for a class.
func (s *Service) CreateSession(ctx context.Context, classID string, start time.Time) (session *models.Session, err error) {
	ctx, end := s.span(ctx, "CreateSession", attribute.String("class.id", classID))
	defer func() { end(err) }()

	if start.IsZero() {
		return nil, &Error{Kind: KindInvalidState, Message: "start time is required"}
	}

	err = s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		session = nil
		class, err := s.loadClass(ctx, tx, classID)
		if err != nil {
			return err
		}
		now := s.now()
		sess := &models.Session{
			ID:        uuid.NewString(),
			ClassID:   classID,
			StartTime: start.UTC(),
			EndTime:   start.Add(class.Duration()).UTC(),
			Status:    models.SessionScheduled,
			CreatedAt: now,
		}
		if err := tx.InsertSession(ctx, sess); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return &Error{Kind: KindAlreadyExists, Message: fmt.Sprintf("class %s already has a session at %s", classID, sess.StartTime.Format(time.RFC3339))}
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}
		session = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.LogSession("CREATE", session.ID, fmt.Sprintf("class %s at %s", classID, session.StartTime.Format(time.RFC3339)))
	return session, nil
}

func invalidRule(err error) error {
	if errors.Is(err, recurrence.ErrInvalidRule) {
		return &Error{Kind: KindInvalidRule, Message: err.Error(), Err: err}
	}
	return err
}

// CreateRecurrenceRule validates and stores a rule, then materialises its sessions up to the horizon.
func (s *Service) CreateRecurrenceRule(ctx context.Context, rule *models.RecurrenceRule) (stored *models.RecurrenceRule, result *models.ExpansionResult, err error) {
	ctx, end := s.span(ctx, "CreateRecurrenceRule", attribute.String("class.id", rule.ClassID))
	defer func() { end(err) }()

	if rule.Timezone == "" && s.Expander.DefaultLocation != nil {
		rule.Timezone = s.Expander.DefaultLocation.String()
	}
	if err := s.Expander.Validate(rule); err != nil {
		return nil, nil, invalidRule(err)
	}

	err = s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		stored, result = nil, nil
		class, err := s.loadClass(ctx, tx, rule.ClassID)
		if err != nil {
			return err
		}

		r := *rule
		r.ID = uuid.NewString()
		r.CreatedAt = s.now()
		if err := tx.InsertRecurrenceRule(ctx, &r); err != nil {
			return fmt.Errorf("failed to insert recurrence rule: %w", err)
		}
		res, err := s.expandInTx(ctx, tx, &r, class, s.Horizon)
		if err != nil {
			return err
		}
		stored, result = &r, res
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.Logger.Info("RECURRENCE", fmt.Sprintf("Rule %s for class %s created, %d sessions generated", stored.ID, stored.ClassID, result.Inserted))
	return stored, result, nil
}

// ExpandRule materialises a stored rule's sessions. Re-running it never duplicates a session.
func (s *Service) ExpandRule(ctx context.Context, ruleID string, horizon time.Duration) (result *models.ExpansionResult, err error) {
	ctx, end := s.span(ctx, "ExpandRule", attribute.String("rule.id", ruleID))
	defer func() { end(err) }()

	if horizon <= 0 {
		horizon = s.Horizon
	}
	err = s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		result = nil
		rule, err := tx.GetRecurrenceRule(ctx, ruleID)
		if errors.Is(err, ErrNoRows) {
			return notFound("recurrence rule", ruleID)
		}
		if err != nil {
			return fmt.Errorf("failed to load recurrence rule %s: %w", ruleID, err)
		}
		class, err := s.loadClass(ctx, tx, rule.ClassID)
		if err != nil {
			return err
		}
		result, err = s.expandInTx(ctx, tx, rule, class, horizon)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("RECURRENCE", fmt.Sprintf("Rule %s expanded: %d generated, %d new", ruleID, result.Generated, result.Inserted))
	return result, nil
}

// ExpandAll expands every rule that can still produce sessions. One failing rule does not stop the others.
func (s *Service) ExpandAll(ctx context.Context) (results []models.ExpansionResult, err error) {
	ctx, end := s.span(ctx, "ExpandAll")
	defer func() { end(err) }()

	var rules []*models.RecurrenceRule
	err = s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		list, err := tx.ListActiveRecurrenceRules(ctx, s.now())
		if err != nil {
			return fmt.Errorf("failed to list recurrence rules: %w", err)
		}
		rules = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, rule := range rules {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := s.ExpandRule(ctx, rule.ID, 0)
		if err != nil {
			s.Logger.Error("RECURRENCE", fmt.Sprintf("Failed to expand rule %s: %v", rule.ID, err))
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		results = append(results, *res)
	}
	return results, errors.Join(errs...)
}

func (s *Service) expandInTx(ctx context.Context, tx Tx, rule *models.RecurrenceRule, class *models.Class, horizon time.Duration) (*models.ExpansionResult, error) {
	now := s.now()
	occurrences, err := s.Expander.Expand(rule, class.Duration(), now, now.Add(horizon))
	if err != nil {
		return nil, invalidRule(err)
	}

	sessions := make([]*models.Session, 0, len(occurrences))
	for _, o := range occurrences {
		sessions = append(sessions, &models.Session{
			ID:        uuid.NewString(),
			ClassID:   class.ID,
			RuleID:    rule.ID,
			StartTime: o.Start,
			EndTime:   o.End,
			Status:    models.SessionScheduled,
			CreatedAt: now,
		})
	}
	inserted, err := tx.InsertSessions(ctx, sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to insert sessions for rule %s: %w", rule.ID, err)
	}
	return &models.ExpansionResult{
		RuleID:    rule.ID,
		ClassID:   class.ID,
		Generated: len(occurrences),
		Inserted:  inserted,
	}, nil
}

// CancelSession cancels the session, every confirmed booking on it and its waitlist as one unit.
// Cancellation deadlines do not apply.
func (s *Service) CancelSession(ctx context.Context, sessionID, reason string) (session *models.Session, err error) {
	ctx, end := s.span(ctx, "CancelSession", attribute.String("session.id", sessionID))
	defer func() { end(err) }()

	var events []models.SchedulingEvent
	var cancelled, cleared int
	err = s.withSessionLock(ctx, sessionID, func() error {
		return s.inTx(ctx, func(ctx context.Context, tx Tx) error {
			session, events, cancelled, cleared = nil, nil, 0, 0

			sess, err := s.lockSession(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if !sess.IsScheduled() {
				return &Error{Kind: KindInvalidState, SessionID: sessionID, Message: "session is already cancelled"}
			}

			now := s.now()
			sess.Status = models.SessionCancelled
			sess.CancellationReason = reason
			sess.CancelledAt = &now
			if err := tx.UpdateSession(ctx, sess); err != nil {
				return fmt.Errorf("failed to cancel session %s: %w", sessionID, err)
			}
			events = append(events, models.SchedulingEvent{
				Type:       models.EventSessionCancelled,
				SessionID:  sessionID,
				ClassID:    sess.ClassID,
				Reason:     reason,
				OccurredAt: now,
			})

			bookings, err := tx.ListConfirmedBookings(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("failed to list bookings for session %s: %w", sessionID, err)
			}
			for _, b := range bookings {
				b.Status = models.BookingCancelled
				b.CancelledAt = &now
				b.CancelledBy = models.CancelledBySession
				err := tx.UpdateBooking(ctx, b)
				if errors.Is(err, ErrNoRows) {
					// Checked in or cancelled since the list was read.
					continue
				}
				if err != nil {
					return fmt.Errorf("failed to cancel booking %s: %w", b.ID, err)
				}
				events = append(events, models.SchedulingEvent{
					Type:       models.EventBookingCancelled,
					SessionID:  sessionID,
					ClassID:    sess.ClassID,
					MemberID:   b.MemberID,
					BookingID:  b.ID,
					Status:     b.Status,
					Reason:     string(models.CancelledBySession),
					OccurredAt: now,
				})
			}

			n, err := tx.ClearWaitlist(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("failed to clear waitlist for session %s: %w", sessionID, err)
			}
			session, cancelled, cleared = sess, len(bookings), n
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogSession("CANCEL", sessionID, fmt.Sprintf("%d bookings cancelled, %d waitlist entries removed", cancelled, cleared))
	s.publish(ctx, events...)
	return session, nil
}

// SetCapacityOverride replaces the session's capacity; nil falls back to the class capacity.
// Any slots it frees are offered to the waitlist.
func (s *Service) SetCapacityOverride(ctx context.Context, sessionID string, override *int) (capacity models.Capacity, err error) {
	ctx, end := s.span(ctx, "SetCapacityOverride", attribute.String("session.id", sessionID))
	defer func() { end(err) }()

	if override != nil && *override < 0 {
		return models.Capacity{}, &Error{Kind: KindInvalidState, SessionID: sessionID, Message: "capacity cannot be negative"}
	}

	var classID string
	err = s.withSessionLock(ctx, sessionID, func() error {
		return s.inTx(ctx, func(ctx context.Context, tx Tx) error {
			sess, err := s.lockSession(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if !sess.IsScheduled() {
				return &Error{Kind: KindInvalidState, SessionID: sessionID, Message: "session is cancelled"}
			}
			class, err := s.loadClass(ctx, tx, sess.ClassID)
			if err != nil {
				return err
			}
			booked, err := tx.CountConfirmed(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("failed to count bookings for session %s: %w", sessionID, err)
			}
			sess.CapacityOverride = override
			if c := EffectiveCapacity(sess, class); c < booked {
				return &Error{Kind: KindInvalidState, SessionID: sessionID, Message: fmt.Sprintf("%d members are already booked, capacity cannot drop to %d", booked, c)}
			}
			if err := tx.UpdateSession(ctx, sess); err != nil {
				return fmt.Errorf("failed to update session %s: %w", sessionID, err)
			}
			classID = sess.ClassID
			return nil
		})
	})
	if err != nil {
		return models.Capacity{}, err
	}

	promoted, perr := s.promoteAll(ctx, sessionID)
	if perr != nil {
		s.Logger.Error("WAITLIST", fmt.Sprintf("Promotion after capacity change on %s failed: %v", sessionID, perr))
	}

	capacity, err = s.GetCapacity(ctx, sessionID)
	if err != nil {
		return models.Capacity{}, err
	}
	s.Logger.LogSession("CAPACITY", sessionID, fmt.Sprintf("capacity now %d, %d promoted from waitlist", capacity.Capacity, promoted))
	s.publish(ctx, models.SchedulingEvent{
		Type:       models.EventSessionUpdated,
		SessionID:  sessionID,
		ClassID:    classID,
		Capacity:   &capacity,
		OccurredAt: s.now(),
	})
	return capacity, nil
}
