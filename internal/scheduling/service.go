package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
	"ms-scheduling/internal/recurrence"
)

// ErrLockBusy is returned by a SessionLocker that could not take the lock in time.
var ErrLockBusy = errors.New("scheduling: session lock busy")

// EntitlementGate answers whether a member may consume a session slot.
// Implementations return ErrMemberInactive for a suspended or closed membership.
type EntitlementGate interface {
	HasEntitlement(ctx context.Context, memberID string) (bool, error)
}

// EntitlementFunc adapts a plain function to EntitlementGate.
type EntitlementFunc func(ctx context.Context, memberID string) (bool, error)

func (f EntitlementFunc) HasEntitlement(ctx context.Context, memberID string) (bool, error) {
	return f(ctx, memberID)
}

// EventPublisher receives domain events after their unit of work committed.
type EventPublisher interface {
	Publish(ctx context.Context, event models.SchedulingEvent) error
}

// AttendanceRecorder is told about every completed attendance.
type AttendanceRecorder interface {
	RecordAttendance(ctx context.Context, event models.AttendanceEvent) error
}

// SessionLocker serialises writers of one session in front of the database row lock.
type SessionLocker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

// MultiPublisher fans an event out to every publisher, returning the first error.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event models.SchedulingEvent) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.SchedulingEvent) error { return nil }

type nopRecorder struct{}

func (nopRecorder) RecordAttendance(context.Context, models.AttendanceEvent) error { return nil }

// PromotionPolicy decides what a waitlisted member must satisfy at promotion time.
// The zero value promotes strictly by queue position.
type PromotionPolicy struct {
	// RecheckEntitlement drops a head member who no longer holds an entitlement.
	RecheckEntitlement bool
	// RespectBookingWindow makes promotion a no-op once booking has closed.
	RespectBookingWindow bool
}

type Service struct {
	Store        Store
	Entitlements EntitlementGate
	Events       EventPublisher
	Attendance   AttendanceRecorder
	Locker       SessionLocker
	Expander     *recurrence.Expander
	Logger       *logger.Logger
	Policy       PromotionPolicy
	Horizon      time.Duration
	Now          func() time.Time

	tracer trace.Tracer
}

func NewService(store Store, gate EntitlementGate, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		Store:        store,
		Entitlements: gate,
		Events:       nopPublisher{},
		Attendance:   nopRecorder{},
		Expander:     &recurrence.Expander{DefaultLocation: time.UTC},
		Logger:       log,
		Horizon:      recurrence.DefaultHorizon,
		Now:          time.Now,
		tracer:       otel.Tracer("ms-scheduling/scheduling"),
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// inTx runs fn as one unit of work, retrying once on a serialization conflict.
// fn must rebuild all of its results on every call.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := s.Store.RunInTx(ctx, fn)
	if !errors.Is(err, ErrTxConflict) {
		return err
	}
	s.Logger.Warn("SCHEDULING", fmt.Sprintf("Transaction conflict, retrying once: %v", err))
	err = s.Store.RunInTx(ctx, fn)
	if errors.Is(err, ErrTxConflict) {
		return &Error{Kind: KindConflict, Message: "concurrent update, please retry", Err: err}
	}
	return err
}

// withSessionLock takes the advisory session lock if one is configured.
// A broken lock backend is logged and ignored since the row lock still protects the unit.
func (s *Service) withSessionLock(ctx context.Context, sessionID string, fn func() error) error {
	if s.Locker == nil {
		return fn()
	}
	unlock, err := s.Locker.Lock(ctx, sessionID)
	switch {
	case errors.Is(err, ErrLockBusy):
		return &Error{Kind: KindConflict, SessionID: sessionID, Message: "session is busy, please retry", Err: err}
	case err != nil:
		s.Logger.Warn("LOCK", fmt.Sprintf("Session lock unavailable for %s, continuing without it: %v", sessionID, err))
		return fn()
	}
	defer unlock()
	return fn()
}

func (s *Service) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	tracer := s.tracer
	if tracer == nil {
		tracer = otel.Tracer("ms-scheduling/scheduling")
	}
	ctx, span := tracer.Start(ctx, "scheduling."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if k := KindOf(err); k != "" {
				span.SetAttributes(attribute.String("scheduling.error_kind", string(k)))
			}
		}
		span.End()
	}
}

// publish never fails the caller; the unit of work has already committed.
func (s *Service) publish(ctx context.Context, events ...models.SchedulingEvent) {
	if s.Events == nil {
		return
	}
	for _, ev := range events {
		if err := s.Events.Publish(ctx, ev); err != nil {
			s.Logger.Error("EVENTS", fmt.Sprintf("Failed to publish %s for session %s: %v", ev.Type, ev.SessionID, err))
		}
	}
}

func (s *Service) checkEntitlement(ctx context.Context, memberID, sessionID string) error {
	if s.Entitlements == nil {
		return nil
	}
	ok, err := s.Entitlements.HasEntitlement(ctx, memberID)
	if errors.Is(err, ErrMemberInactive) {
		return &Error{Kind: KindMemberInactive, MemberID: memberID, SessionID: sessionID, Message: "membership is not active"}
	}
	if err != nil {
		return fmt.Errorf("failed to check entitlement for member %s: %w", memberID, err)
	}
	if !ok {
		return &Error{Kind: KindEntitlementRequired, MemberID: memberID, SessionID: sessionID, Message: "an active plan or pass is required"}
	}
	return nil
}

func (s *Service) loadClass(ctx context.Context, tx Tx, classID string) (*models.Class, error) {
	class, err := tx.GetClass(ctx, classID)
	if errors.Is(err, ErrNoRows) {
		return nil, notFound("class", classID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load class %s: %w", classID, err)
	}
	return class, nil
}

func (s *Service) lockSession(ctx context.Context, tx Tx, sessionID string) (*models.Session, error) {
	session, err := tx.LockSession(ctx, sessionID)
	if errors.Is(err, ErrNoRows) {
		e := notFound("session", sessionID)
		e.SessionID = sessionID
		return nil, e
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", sessionID, err)
	}
	return session, nil
}

func (s *Service) getSession(ctx context.Context, tx Tx, sessionID string) (*models.Session, error) {
	session, err := tx.GetSession(ctx, sessionID)
	if errors.Is(err, ErrNoRows) {
		e := notFound("session", sessionID)
		e.SessionID = sessionID
		return nil, e
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return session, nil
}

func (s *Service) getBooking(ctx context.Context, tx Tx, bookingID string) (*models.Booking, error) {
	booking, err := tx.GetBooking(ctx, bookingID)
	if errors.Is(err, ErrNoRows) {
		e := notFound("booking", bookingID)
		e.BookingID = bookingID
		return nil, e
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking %s: %w", bookingID, err)
	}
	return booking, nil
}
