package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a scheduling failure. Callers branch on the kind, never on the message.
type Kind string

const (
	KindNotFound                   Kind = "NOT_FOUND"
	KindInvalidState               Kind = "INVALID_STATE"
	KindBookingNotYetOpen          Kind = "BOOKING_NOT_YET_OPEN"
	KindBookingClosed              Kind = "BOOKING_CLOSED"
	KindCancellationDeadlinePassed Kind = "CANCELLATION_DEADLINE_PASSED"
	KindAlreadyExists              Kind = "ALREADY_EXISTS"
	KindEntitlementRequired        Kind = "ENTITLEMENT_REQUIRED"
	KindMemberInactive             Kind = "MEMBER_INACTIVE"
	KindSessionFull                Kind = "SESSION_FULL"
	KindWaitlistFull               Kind = "WAITLIST_FULL"
	KindForbidden                  Kind = "FORBIDDEN"
	KindInvalidRule                Kind = "INVALID_RULE"
	KindFeatureDisabled            Kind = "FEATURE_DISABLED"
	KindConflict                   Kind = "CONFLICT"
)

// Error carries the kind plus enough context for a caller to render an actionable message.
type Error struct {
	Kind      Kind
	SessionID string
	MemberID  string
	BookingID string
	// Deadline is the relevant window edge for time-based failures.
	Deadline time.Time
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(e.Kind)))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.SessionID != "" {
		fmt.Fprintf(&b, " (session %s)", e.SessionID)
	}
	if e.BookingID != "" {
		fmt.Fprintf(&b, " (booking %s)", e.BookingID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrSessionFull) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound                   = &Error{Kind: KindNotFound}
	ErrInvalidState               = &Error{Kind: KindInvalidState}
	ErrBookingNotYetOpen          = &Error{Kind: KindBookingNotYetOpen}
	ErrBookingClosed              = &Error{Kind: KindBookingClosed}
	ErrCancellationDeadlinePassed = &Error{Kind: KindCancellationDeadlinePassed}
	ErrAlreadyExists              = &Error{Kind: KindAlreadyExists}
	ErrEntitlementRequired        = &Error{Kind: KindEntitlementRequired}
	ErrMemberInactive             = &Error{Kind: KindMemberInactive}
	ErrSessionFull                = &Error{Kind: KindSessionFull}
	ErrWaitlistFull               = &Error{Kind: KindWaitlistFull}
	ErrForbidden                  = &Error{Kind: KindForbidden}
	ErrInvalidRule                = &Error{Kind: KindInvalidRule}
	ErrFeatureDisabled            = &Error{Kind: KindFeatureDisabled}
	ErrConflict                   = &Error{Kind: KindConflict}
)

// KindOf returns the kind of a scheduling error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func notFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}
