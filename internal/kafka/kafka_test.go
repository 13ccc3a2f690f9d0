package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

func TestEventPublisherRoutesByType(t *testing.T) {
	w := new(mockWriter)
	pub := NewEventPublisher(&Producer{Writer: w, Logger: logger.NewNop()}, "gym.")

	event := models.SchedulingEvent{
		Type:       models.EventWaitlistPromoted,
		SessionID:  "session-1",
		MemberID:   "member-1",
		BookingID:  "booking-1",
		OccurredAt: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
	}

	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 {
			return false
		}
		var got models.SchedulingEvent
		if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
			return false
		}
		return msgs[0].Topic == "gym.waitlist.promoted" &&
			string(msgs[0].Key) == "session-1" &&
			got.BookingID == "booking-1"
	})).Return(nil).Once()

	require.NoError(t, pub.Publish(context.Background(), event))
	w.AssertExpectations(t)
}

func TestRecordAttendanceKeysByMember(t *testing.T) {
	w := new(mockWriter)
	pub := NewEventPublisher(&Producer{Writer: w, Logger: logger.NewNop()}, "gym.")

	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 && msgs[0].Topic == "gym.attendance.recorded" && string(msgs[0].Key) == "member-9"
	})).Return(nil).Once()

	err := pub.RecordAttendance(context.Background(), models.AttendanceEvent{BookingID: "b", MemberID: "member-9"})
	require.NoError(t, err)
	w.AssertExpectations(t)
}

func TestPublishWrapsWriterError(t *testing.T) {
	w := new(mockWriter)
	p := &Producer{Writer: w, Logger: logger.NewNop()}
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := p.Publish(context.Background(), "gym.booking.confirmed", "s1", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gym.booking.confirmed")
	assert.Contains(t, err.Error(), "broker down")
}

func TestTopicsCoversEveryEvent(t *testing.T) {
	pub := NewEventPublisher(nil, "gym.")
	topics := pub.Topics()
	assert.Contains(t, topics, "gym.booking.confirmed")
	assert.Contains(t, topics, "gym.session.updated")
	assert.Contains(t, topics, "gym.attendance.recorded")
	assert.Len(t, topics, 9)
}

type fakeReader struct {
	msgs []kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) Close() error { return nil }

type classSyncerMock struct {
	mock.Mock
}

func (m *classSyncerMock) SyncClass(ctx context.Context, class *models.Class) error {
	return m.Called(ctx, class).Error(0)
}

type invalidatorMock struct {
	mock.Mock
}

func (m *invalidatorMock) Invalidate(ctx context.Context, memberID string) error {
	return m.Called(ctx, memberID).Error(0)
}

func TestConsumerDispatchesClassUpdates(t *testing.T) {
	syncer := new(classSyncerMock)
	syncer.On("SyncClass", mock.Anything, mock.MatchedBy(func(c *models.Class) bool {
		return c.ID == "class-7" && c.Capacity == 12
	})).Return(nil).Once()

	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: "gym.classes.updated", Value: []byte("not json")},
		{Topic: "gym.classes.updated", Key: []byte("class-7"), Value: []byte(`{"name":"Boxing","capacity":12,"duration_minutes":50}`)},
	}}
	c := NewConsumerFromReader(reader, "gym.classes.updated", logger.NewNop())
	c.Start(context.Background(), ClassUpdatedHandler(syncer))

	syncer.AssertExpectations(t)
}

func TestEntitlementChangedHandler(t *testing.T) {
	inv := new(invalidatorMock)
	inv.On("Invalidate", mock.Anything, "member-3").Return(nil).Once()
	h := EntitlementChangedHandler(inv)

	require.NoError(t, h(context.Background(), kafka.Message{Value: []byte(`{"member_id":"member-3"}`)}))
	require.Error(t, h(context.Background(), kafka.Message{Value: []byte(`{}`)}))
	inv.AssertExpectations(t)
}
