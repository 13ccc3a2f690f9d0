package checkin

import (
	"context"
	"fmt"
	"time"

	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
	"ms-scheduling/internal/scheduling"
)

// Bookings is the part of the scheduling service check-in relies on.
type Bookings interface {
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	MarkAttended(ctx context.Context, bookingID string) (*models.Booking, error)
}

type Service struct {
	Codec    *PassCodec
	Bookings Bookings
	Logger   *logger.Logger
	Now      func() time.Time
}

func NewService(codec *PassCodec, bookings Bookings, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{Codec: codec, Bookings: bookings, Logger: log, Now: time.Now}
}

// IssuePass renders the QR pass for a confirmed booking. requesterID "" skips the ownership check.
func (s *Service) IssuePass(ctx context.Context, bookingID, requesterID string) ([]byte, error) {
	booking, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if requesterID != "" && booking.MemberID != requesterID {
		return nil, &scheduling.Error{Kind: scheduling.KindForbidden, BookingID: bookingID, Message: "booking belongs to another member"}
	}
	if booking.Status != models.BookingConfirmed {
		return nil, &scheduling.Error{Kind: scheduling.KindInvalidState, BookingID: bookingID, Message: fmt.Sprintf("booking is %s", booking.Status)}
	}

	png, err := s.Codec.QR(Pass{
		BookingID: booking.ID,
		MemberID:  booking.MemberID,
		SessionID: booking.SessionID,
		IssuedAt:  s.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render pass for booking %s: %w", bookingID, err)
	}
	s.Logger.LogBooking("PASS_ISSUED", bookingID, fmt.Sprintf("member %s", booking.MemberID))
	return png, nil
}

// CheckIn validates a scanned pass and marks its booking attended.
func (s *Service) CheckIn(ctx context.Context, token string) (*models.Booking, error) {
	pass, err := s.Codec.Decode(token)
	if err != nil {
		s.Logger.LogSecurity("CHECKIN_REJECTED", "undecodable pass")
		return nil, err
	}

	booking, err := s.Bookings.GetBooking(ctx, pass.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.MemberID != pass.MemberID || booking.SessionID != pass.SessionID {
		s.Logger.LogSecurity("CHECKIN_REJECTED", fmt.Sprintf("pass does not match booking %s", booking.ID))
		return nil, ErrInvalidPass
	}

	return s.Bookings.MarkAttended(ctx, booking.ID)
}
