package testfixtures

import (
	"context"
	"sync"

	"ms-scheduling/internal/models"
)

// EventRecorder captures published events and attendance records.
type EventRecorder struct {
	mu         sync.Mutex
	events     []models.SchedulingEvent
	attendance []models.AttendanceEvent
}

func (r *EventRecorder) Publish(_ context.Context, event models.SchedulingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *EventRecorder) RecordAttendance(_ context.Context, event models.AttendanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attendance = append(r.attendance, event)
	return nil
}

func (r *EventRecorder) Events() []models.SchedulingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SchedulingEvent(nil), r.events...)
}

// Types lists the recorded event types in publish order.
func (r *EventRecorder) Types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *EventRecorder) Attendance() []models.AttendanceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AttendanceEvent(nil), r.attendance...)
}
