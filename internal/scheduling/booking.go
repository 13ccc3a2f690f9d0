package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"ms-scheduling/internal/models"
)

// checkBookingWindow allows booking from the open instant through the close instant inclusive.
func checkBookingWindow(class *models.Class, session *models.Session, memberID string, now time.Time) error {
	opens, closes := class.BookingWindow(session.StartTime)
	if now.Before(opens) {
		return &Error{
			Kind:      KindBookingNotYetOpen,
			SessionID: session.ID,
			MemberID:  memberID,
			Deadline:  opens,
			Message:   fmt.Sprintf("booking opens in %s", roundUp(opens.Sub(now))),
		}
	}
	if now.After(closes) {
		return &Error{
			Kind:      KindBookingClosed,
			SessionID: session.ID,
			MemberID:  memberID,
			Deadline:  closes,
			Message:   fmt.Sprintf("booking closed %s ago", roundUp(now.Sub(closes))),
		}
	}
	return nil
}

func roundUp(d time.Duration) time.Duration {
	return d.Round(time.Minute)
}

// Book confirms a slot for the member. The capacity check and the insert happen under the
// session row lock, so confirmed bookings never exceed capacity. The entitlement call is
// made before the lock is taken.
func (s *Service) Book(ctx context.Context, memberID, sessionID string) (booking *models.Booking, err error) {
	ctx, end := s.span(ctx, "Book",
		attribute.String("session.id", sessionID),
		attribute.String("member.id", memberID))
	defer func() { end(err) }()

	err = s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		session, err := s.getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		_, err = s.checkBookable(ctx, tx, session, memberID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if err = s.checkEntitlement(ctx, memberID, sessionID); err != nil {
		return nil, err
	}

	var event models.SchedulingEvent
	err = s.withSessionLock(ctx, sessionID, func() error {
		return s.inTx(ctx, func(ctx context.Context, tx Tx) error {
			booking = nil

			session, err := s.lockSession(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			now := s.now()
			class, err := s.checkBookable(ctx, tx, session, memberID, now)
			if err != nil {
				return err
			}

			capacity, err := s.capacityOf(ctx, tx, session, class)
			if err != nil {
				return err
			}
			if capacity.IsFull() {
				return &Error{
					Kind:      KindSessionFull,
					SessionID: sessionID,
					MemberID:  memberID,
					Message:   fmt.Sprintf("all %d places are taken, %d waiting", capacity.Capacity, capacity.WaitlistCount),
				}
			}

			b := &models.Booking{
				ID:        uuid.NewString(),
				MemberID:  memberID,
				SessionID: sessionID,
				Status:    models.BookingConfirmed,
				Source:    models.SourceDirect,
				CreatedAt: now,
			}
			if err := tx.InsertBooking(ctx, b); err != nil {
				if errors.Is(err, ErrDuplicate) {
					return &Error{Kind: KindAlreadyExists, SessionID: sessionID, MemberID: memberID, Message: "member already holds a booking"}
				}
				return fmt.Errorf("failed to insert booking: %w", err)
			}

			// A member who books directly gives up their waitlist place.
			waiting := capacity.WaitlistCount
			removed, err := s.removeWaitlistEntry(ctx, tx, memberID, sessionID)
			if err != nil {
				return err
			}
			if removed {
				waiting--
			}

			after := models.NewCapacity(sessionID, capacity.Capacity, capacity.Booked+1, waiting)
			event = models.SchedulingEvent{
				Type:       models.EventBookingConfirmed,
				SessionID:  sessionID,
				ClassID:    class.ID,
				MemberID:   memberID,
				BookingID:  b.ID,
				Status:     b.Status,
				Capacity:   &after,
				OccurredAt: now,
			}
			booking = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogBooking("BOOK", booking.ID, fmt.Sprintf("member %s confirmed for session %s", memberID, sessionID))
	s.publish(ctx, event)
	return booking, nil
}

// checkBookable runs the checks that precede entitlement: session state, booking
// window and an existing booking for the member.
func (s *Service) checkBookable(ctx context.Context, tx Tx, session *models.Session, memberID string, now time.Time) (*models.Class, error) {
	if !session.IsScheduled() {
		return nil, &Error{Kind: KindInvalidState, SessionID: session.ID, MemberID: memberID, Message: "session is cancelled"}
	}
	class, err := s.loadClass(ctx, tx, session.ClassID)
	if err != nil {
		return nil, err
	}
	if err := checkBookingWindow(class, session, memberID, now); err != nil {
		return nil, err
	}
	existing, err := tx.FindActiveBooking(ctx, memberID, session.ID)
	if err != nil && !errors.Is(err, ErrNoRows) {
		return nil, fmt.Errorf("failed to look up existing booking: %w", err)
	}
	if existing != nil {
		return nil, &Error{Kind: KindAlreadyExists, SessionID: session.ID, MemberID: memberID, BookingID: existing.ID, Message: "member already holds a booking"}
	}
	return class, nil
}

// Cancel cancels a confirmed booking. A non-empty actingMemberID marks a self-service
// cancellation and must own the booking; staff pass "". A freed slot is offered to the
// waitlist after the cancellation has committed.
func (s *Service) Cancel(ctx context.Context, bookingID, actingMemberID string) (booking *models.Booking, err error) {
	ctx, end := s.span(ctx, "Cancel", attribute.String("booking.id", bookingID))
	defer func() { end(err) }()

	var event models.SchedulingEvent
	err = s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		booking = nil

		b, err := s.getBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if actingMemberID != "" && b.MemberID != actingMemberID {
			return &Error{Kind: KindForbidden, BookingID: bookingID, SessionID: b.SessionID, MemberID: actingMemberID, Message: "booking belongs to another member"}
		}
		if b.Status != models.BookingConfirmed {
			return &Error{Kind: KindInvalidState, BookingID: bookingID, SessionID: b.SessionID, MemberID: b.MemberID, Message: fmt.Sprintf("booking is %s", b.Status)}
		}

		session, err := s.getSession(ctx, tx, b.SessionID)
		if err != nil {
			return err
		}
		class, err := s.loadClass(ctx, tx, session.ClassID)
		if err != nil {
			return err
		}

		now := s.now()
		cutoff := time.Duration(class.CancellationMinutes) * time.Minute
		if session.StartTime.Sub(now) < cutoff {
			return &Error{
				Kind:      KindCancellationDeadlinePassed,
				BookingID: bookingID,
				SessionID: session.ID,
				MemberID:  b.MemberID,
				Deadline:  class.CancellationDeadline(session.StartTime),
				Message:   fmt.Sprintf("cancellations close %d minutes before start", class.CancellationMinutes),
			}
		}

		b.Status = models.BookingCancelled
		b.CancelledAt = &now
		b.CancelledBy = models.CancelledByStaff
		if actingMemberID != "" {
			b.CancelledBy = models.CancelledByMember
		}
		if err := s.settleBooking(ctx, tx, b); err != nil {
			return err
		}

		event = models.SchedulingEvent{
			Type:       models.EventBookingCancelled,
			SessionID:  session.ID,
			ClassID:    class.ID,
			MemberID:   b.MemberID,
			BookingID:  b.ID,
			Status:     b.Status,
			Reason:     string(b.CancelledBy),
			OccurredAt: now,
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogBooking("CANCEL", booking.ID, fmt.Sprintf("cancelled by %s", booking.CancelledBy))
	s.publish(ctx, event)

	if _, perr := s.Promote(ctx, booking.SessionID); perr != nil {
		s.Logger.Error("WAITLIST", fmt.Sprintf("Promotion after cancelling %s failed: %v", booking.ID, perr))
	}
	return booking, nil
}

// MarkAttended closes a confirmed booking as attended and records the attendance.
func (s *Service) MarkAttended(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.complete(ctx, bookingID, models.BookingAttended)
}

// MarkNoShow closes a confirmed booking as a no-show.
func (s *Service) MarkNoShow(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.complete(ctx, bookingID, models.BookingNoShow)
}

func (s *Service) complete(ctx context.Context, bookingID string, status models.BookingStatus) (booking *models.Booking, err error) {
	ctx, end := s.span(ctx, "Complete",
		attribute.String("booking.id", bookingID),
		attribute.String("booking.status", string(status)))
	defer func() { end(err) }()

	var session *models.Session
	var now time.Time
	err = s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		booking = nil

		b, err := s.getBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != models.BookingConfirmed {
			return &Error{Kind: KindInvalidState, BookingID: bookingID, SessionID: b.SessionID, MemberID: b.MemberID, Message: fmt.Sprintf("booking is already %s", b.Status)}
		}
		session, err = s.getSession(ctx, tx, b.SessionID)
		if err != nil {
			return err
		}

		now = s.now()
		b.Status = status
		b.CheckedAt = &now
		if err := s.settleBooking(ctx, tx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogBooking(string(status), booking.ID, fmt.Sprintf("session %s", booking.SessionID))
	s.publish(ctx, models.SchedulingEvent{
		Type:       models.EventBookingCompleted,
		SessionID:  booking.SessionID,
		ClassID:    session.ClassID,
		MemberID:   booking.MemberID,
		BookingID:  booking.ID,
		Status:     booking.Status,
		OccurredAt: now,
	})

	if status == models.BookingAttended && s.Attendance != nil {
		rec := models.AttendanceEvent{
			BookingID:  booking.ID,
			MemberID:   booking.MemberID,
			SessionID:  booking.SessionID,
			ClassID:    session.ClassID,
			StartTime:  session.StartTime,
			AttendedAt: now,
		}
		if err := s.Attendance.RecordAttendance(ctx, rec); err != nil {
			s.Logger.Error("ATTENDANCE", fmt.Sprintf("Failed to record attendance for %s: %v", booking.ID, err))
		}
	}
	return booking, nil
}

// settleBooking writes a booking read as CONFIRMED in this unit. A concurrent unit that
// already moved it on wins, and this one fails with InvalidState.
func (s *Service) settleBooking(ctx context.Context, tx Tx, b *models.Booking) error {
	err := tx.UpdateBooking(ctx, b)
	if errors.Is(err, ErrNoRows) {
		return &Error{Kind: KindInvalidState, BookingID: b.ID, SessionID: b.SessionID, MemberID: b.MemberID, Message: "booking is no longer confirmed"}
	}
	if err != nil {
		return fmt.Errorf("failed to update booking %s: %w", b.ID, err)
	}
	return nil
}

// GetBooking loads a booking by id.
func (s *Service) GetBooking(ctx context.Context, bookingID string) (booking *models.Booking, err error) {
	err = s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		booking, err = s.getBooking(ctx, tx, bookingID)
		return err
	})
	return booking, err
}
