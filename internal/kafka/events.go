package kafka

import (
	"context"

	"ms-scheduling/internal/models"
	"ms-scheduling/internal/scheduling"
)

// Inbound topics, without the prefix.
const (
	TopicAttendanceRecorded = "attendance.recorded"
	TopicEntitlementChanged = "entitlements.changed"
	TopicClassUpdated       = "classes.updated"
)

var outboundEvents = []models.EventType{
	models.EventBookingConfirmed,
	models.EventBookingCancelled,
	models.EventBookingCompleted,
	models.EventWaitlistJoined,
	models.EventWaitlistLeft,
	models.EventWaitlistPromoted,
	models.EventSessionCancelled,
	models.EventSessionUpdated,
}

// EventPublisher routes scheduling events to one topic per event type, keyed by session.
type EventPublisher struct {
	Producer *Producer
	Prefix   string
}

func NewEventPublisher(producer *Producer, prefix string) *EventPublisher {
	return &EventPublisher{Producer: producer, Prefix: prefix}
}

func (e *EventPublisher) Topic(eventType models.EventType) string {
	return e.Prefix + string(eventType)
}

func (e *EventPublisher) Publish(ctx context.Context, event models.SchedulingEvent) error {
	return e.Producer.PublishJSON(ctx, e.Topic(event.Type), event.SessionID, event)
}

// RecordAttendance hands the attendance to downstream consumers, keyed by member.
func (e *EventPublisher) RecordAttendance(ctx context.Context, event models.AttendanceEvent) error {
	return e.Producer.PublishJSON(ctx, e.Prefix+TopicAttendanceRecorded, event.MemberID, event)
}

// Topics lists every topic this service writes to.
func (e *EventPublisher) Topics() []string {
	topics := make([]string, 0, len(outboundEvents)+1)
	for _, t := range outboundEvents {
		topics = append(topics, e.Topic(t))
	}
	return append(topics, e.Prefix+TopicAttendanceRecorded)
}

var (
	_ scheduling.EventPublisher     = (*EventPublisher)(nil)
	_ scheduling.AttendanceRecorder = (*EventPublisher)(nil)
)
