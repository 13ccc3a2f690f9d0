package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"ms-scheduling/internal/models"
)

// Join appends the member to the session's waitlist.
func (s *Service) Join(ctx context.Context, memberID, sessionID string) (entry *models.WaitlistEntry, err error) {
	ctx, end := s.span(ctx, "Join",
		attribute.String("session.id", sessionID),
		attribute.String("member.id", memberID))
	defer func() { end(err) }()

	var event models.SchedulingEvent
	err = s.withSessionLock(ctx, sessionID, func() error {
		return s.inTx(ctx, func(ctx context.Context, tx Tx) error {
			entry = nil

			session, err := s.lockSession(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			class, err := s.loadClass(ctx, tx, session.ClassID)
			if err != nil {
				return err
			}
			if !class.WaitlistEnabled {
				return &Error{Kind: KindFeatureDisabled, SessionID: sessionID, MemberID: memberID, Message: "waitlist is not enabled for this class"}
			}
			if !session.IsScheduled() {
				return &Error{Kind: KindInvalidState, SessionID: sessionID, MemberID: memberID, Message: "session is cancelled"}
			}

			existing, err := tx.GetWaitlistEntry(ctx, memberID, sessionID)
			if err != nil && !errors.Is(err, ErrNoRows) {
				return fmt.Errorf("failed to look up waitlist entry: %w", err)
			}
			if existing != nil {
				return &Error{Kind: KindAlreadyExists, SessionID: sessionID, MemberID: memberID, Message: fmt.Sprintf("already waitlisted at position %d", existing.Position)}
			}
			booking, err := tx.FindActiveBooking(ctx, memberID, sessionID)
			if err != nil && !errors.Is(err, ErrNoRows) {
				return fmt.Errorf("failed to look up existing booking: %w", err)
			}
			if booking != nil && booking.Status == models.BookingConfirmed {
				return &Error{Kind: KindAlreadyExists, SessionID: sessionID, MemberID: memberID, BookingID: booking.ID, Message: "member already holds a booking"}
			}

			count, err := tx.CountWaitlist(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("failed to count waitlist: %w", err)
			}
			if count >= class.WaitlistMax {
				return &Error{Kind: KindWaitlistFull, SessionID: sessionID, MemberID: memberID, Message: fmt.Sprintf("waitlist holds at most %d members", class.WaitlistMax)}
			}

			now := s.now()
			e := &models.WaitlistEntry{
				ID:        uuid.NewString(),
				MemberID:  memberID,
				SessionID: sessionID,
				Position:  count + 1,
				JoinedAt:  now,
			}
			if err := tx.InsertWaitlistEntry(ctx, e); err != nil {
				if errors.Is(err, ErrDuplicate) {
					return &Error{Kind: KindAlreadyExists, SessionID: sessionID, MemberID: memberID, Message: "already waitlisted"}
				}
				return fmt.Errorf("failed to insert waitlist entry: %w", err)
			}

			event = models.SchedulingEvent{
				Type:       models.EventWaitlistJoined,
				SessionID:  sessionID,
				ClassID:    class.ID,
				MemberID:   memberID,
				Position:   e.Position,
				OccurredAt: now,
			}
			entry = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogWaitlist("JOIN", sessionID, fmt.Sprintf("member %s at position %d", memberID, entry.Position))
	s.publish(ctx, event)
	return entry, nil
}

// Leave removes the member from the waitlist and closes the gap behind them.
func (s *Service) Leave(ctx context.Context, memberID, sessionID string) (err error) {
	ctx, end := s.span(ctx, "Leave",
		attribute.String("session.id", sessionID),
		attribute.String("member.id", memberID))
	defer func() { end(err) }()

	var event models.SchedulingEvent
	err = s.withSessionLock(ctx, sessionID, func() error {
		return s.inTx(ctx, func(ctx context.Context, tx Tx) error {
			session, err := s.lockSession(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			entry, err := tx.GetWaitlistEntry(ctx, memberID, sessionID)
			if errors.Is(err, ErrNoRows) {
				return &Error{Kind: KindNotFound, SessionID: sessionID, MemberID: memberID, Message: "member is not on the waitlist"}
			}
			if err != nil {
				return fmt.Errorf("failed to look up waitlist entry: %w", err)
			}
			if err := s.dropEntry(ctx, tx, entry); err != nil {
				return err
			}
			event = models.SchedulingEvent{
				Type:       models.EventWaitlistLeft,
				SessionID:  sessionID,
				ClassID:    session.ClassID,
				MemberID:   memberID,
				Position:   entry.Position,
				OccurredAt: s.now(),
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.Logger.LogWaitlist("LEAVE", sessionID, fmt.Sprintf("member %s", memberID))
	s.publish(ctx, event)
	return nil
}

// ListWaitlist returns the queue in promotion order.
func (s *Service) ListWaitlist(ctx context.Context, sessionID string) (entries []*models.WaitlistEntry, err error) {
	ctx, end := s.span(ctx, "ListWaitlist", attribute.String("session.id", sessionID))
	defer func() { end(err) }()

	err = s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := s.getSession(ctx, tx, sessionID); err != nil {
			return err
		}
		list, err := tx.ListWaitlist(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to list waitlist: %w", err)
		}
		entries = list
		return nil
	})
	return entries, err
}

// Promote turns the head of the waitlist into a confirmed booking if a slot is free.
// It returns a nil booking when nothing was promoted.
func (s *Service) Promote(ctx context.Context, sessionID string) (promoted *models.Booking, err error) {
	ctx, end := s.span(ctx, "Promote", attribute.String("session.id", sessionID))
	defer func() { end(err) }()

	var events []models.SchedulingEvent
	err = s.withSessionLock(ctx, sessionID, func() error {
		return s.inTx(ctx, func(ctx context.Context, tx Tx) error {
			promoted = nil
			events = nil

			session, err := s.lockSession(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if !session.IsScheduled() {
				return nil
			}
			class, err := s.loadClass(ctx, tx, session.ClassID)
			if err != nil {
				return err
			}
			now := s.now()
			if s.Policy.RespectBookingWindow {
				if _, closes := class.BookingWindow(session.StartTime); now.After(closes) {
					return nil
				}
			}

			for {
				head, err := tx.FirstWaitlistEntry(ctx, sessionID)
				if errors.Is(err, ErrNoRows) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to read waitlist head: %w", err)
				}

				capacity, err := s.capacityOf(ctx, tx, session, class)
				if err != nil {
					return err
				}
				if capacity.IsFull() {
					return nil
				}

				skip, err := s.ineligibleForPromotion(ctx, tx, head)
				if err != nil {
					return err
				}
				if skip != "" {
					if err := s.dropEntry(ctx, tx, head); err != nil {
						return err
					}
					events = append(events, models.SchedulingEvent{
						Type:       models.EventWaitlistLeft,
						SessionID:  sessionID,
						ClassID:    class.ID,
						MemberID:   head.MemberID,
						Position:   head.Position,
						Reason:     skip,
						OccurredAt: now,
					})
					continue
				}

				b := &models.Booking{
					ID:        uuid.NewString(),
					MemberID:  head.MemberID,
					SessionID: sessionID,
					Status:    models.BookingConfirmed,
					Source:    models.SourceWaitlist,
					CreatedAt: now,
				}
				if err := tx.InsertBooking(ctx, b); err != nil {
					return fmt.Errorf("failed to insert promoted booking: %w", err)
				}
				if err := s.dropEntry(ctx, tx, head); err != nil {
					return err
				}

				after := models.NewCapacity(sessionID, capacity.Capacity, capacity.Booked+1, capacity.WaitlistCount-1)
				events = append(events, models.SchedulingEvent{
					Type:       models.EventWaitlistPromoted,
					SessionID:  sessionID,
					ClassID:    class.ID,
					MemberID:   b.MemberID,
					BookingID:  b.ID,
					Status:     b.Status,
					Capacity:   &after,
					OccurredAt: now,
				})
				promoted = b
				return nil
			}
		})
	})
	if err != nil {
		return nil, err
	}

	if promoted != nil {
		s.Logger.LogWaitlist("PROMOTE", sessionID, fmt.Sprintf("member %s confirmed as %s", promoted.MemberID, promoted.ID))
	}
	s.publish(ctx, events...)
	return promoted, nil
}

// promoteAll fills every free slot from the waitlist.
func (s *Service) promoteAll(ctx context.Context, sessionID string) (int, error) {
	n := 0
	for {
		b, err := s.Promote(ctx, sessionID)
		if err != nil {
			return n, err
		}
		if b == nil {
			return n, nil
		}
		n++
	}
}

// ineligibleForPromotion returns a reason to drop the head entry, or "" to promote it.
func (s *Service) ineligibleForPromotion(ctx context.Context, tx Tx, head *models.WaitlistEntry) (string, error) {
	booking, err := tx.FindActiveBooking(ctx, head.MemberID, head.SessionID)
	if err != nil && !errors.Is(err, ErrNoRows) {
		return "", fmt.Errorf("failed to look up existing booking: %w", err)
	}
	if booking != nil {
		return "already booked", nil
	}
	if !s.Policy.RecheckEntitlement {
		return "", nil
	}
	err = s.checkEntitlement(ctx, head.MemberID, head.SessionID)
	switch KindOf(err) {
	case "":
		if err != nil {
			return "", err
		}
		return "", nil
	case KindMemberInactive:
		return "member inactive", nil
	default:
		return "entitlement required", nil
	}
}

// dropEntry deletes an entry and renumbers the ones behind it in the same unit of work.
func (s *Service) dropEntry(ctx context.Context, tx Tx, entry *models.WaitlistEntry) error {
	if err := tx.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
		return fmt.Errorf("failed to delete waitlist entry %s: %w", entry.ID, err)
	}
	if err := tx.ShiftWaitlistAfter(ctx, entry.SessionID, entry.Position); err != nil {
		return fmt.Errorf("failed to renumber waitlist for session %s: %w", entry.SessionID, err)
	}
	return nil
}

func (s *Service) removeWaitlistEntry(ctx context.Context, tx Tx, memberID, sessionID string) (bool, error) {
	entry, err := tx.GetWaitlistEntry(ctx, memberID, sessionID)
	if errors.Is(err, ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up waitlist entry: %w", err)
	}
	return true, s.dropEntry(ctx, tx, entry)
}
