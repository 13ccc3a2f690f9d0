package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-scheduling/internal/auth"
	"ms-scheduling/internal/checkin"
	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
	"ms-scheduling/internal/scheduling"
	"ms-scheduling/internal/scheduling/api"
	"ms-scheduling/internal/sse"
	"ms-scheduling/internal/testfixtures"
)

var t0 = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
}

type apiFixture struct {
	server *httptest.Server
	store  *testfixtures.MemStore
	clock  *testfixtures.Clock
	events *testfixtures.EventRecorder
	codec  *checkin.PassCodec
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := testfixtures.NewMemStore()
	store.PutClass(models.Class{
		ID: "class-1", Name: "Spin", Capacity: 1, DurationMinutes: 45,
		BookingOpensHours: 24, CancellationMinutes: 30, WaitlistEnabled: true, WaitlistMax: 5, UpdatedAt: t0,
	})
	store.PutSession(models.Session{
		ID: "session-1", ClassID: "class-1", StartTime: t0.Add(3 * time.Hour), EndTime: t0.Add(3*time.Hour + 45*time.Minute),
		Status: models.SessionScheduled, CreatedAt: t0,
	})

	clock := testfixtures.NewClock(t0)
	events := &testfixtures.EventRecorder{}
	svc := scheduling.NewService(store, nil, logger.NewNop())
	svc.Now = clock.Now
	svc.Events = events
	svc.Attendance = events

	codec, err := checkin.NewPassCodec([]byte("0123456789abcdef"))
	require.NoError(t, err)
	checkIn := checkin.NewService(codec, svc, nil)

	h := api.NewHandler(svc, checkIn, sse.NewStreamer(sse.NewAvailabilityEmitter(), nil), nil)
	authn := auth.NewAuthenticator(auth.TrustedVerifier(), "gym-staff", nil)

	r := chi.NewRouter()
	r.Use(api.RequestLogger(logger.NewNop()))
	r.Mount("/api/scheduling", h.Routes(authn.Middleware))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &apiFixture{server: srv, store: store, clock: clock, events: events, codec: codec}
}

func token(t *testing.T, sub string, staff bool) string {
	t.Helper()
	roles := []string{}
	if staff {
		roles = append(roles, "gym-staff")
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          sub,
		"realm_access": map[string]interface{}{"roles": roles},
	}).SignedString([]byte("test"))
	require.NoError(t, err)
	return s
}

func (f *apiFixture) do(t *testing.T, method, path, who string, staff bool, body interface{}) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+"/api/scheduling"+path, &buf)
	require.NoError(t, err)
	if who != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, who, staff))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

func TestUnauthenticatedRequestIsRejected(t *testing.T) {
	f := newAPIFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/sessions/session-1", "", false, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBookWaitlistAndPromoteOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	resp, env := f.do(t, http.MethodPost, "/sessions/session-1/bookings", "alice", false, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Error)
	var booking models.Booking
	require.NoError(t, json.Unmarshal(env.Data, &booking))
	assert.Equal(t, "alice", booking.MemberID)

	resp, env = f.do(t, http.MethodPost, "/sessions/session-1/bookings", "bob", false, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(scheduling.KindSessionFull), env.Kind)

	resp, _ = f.do(t, http.MethodPost, "/sessions/session-1/waitlist", "bob", false, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, env = f.do(t, http.MethodGet, "/sessions/session-1/capacity", "bob", false, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var capacity models.Capacity
	require.NoError(t, json.Unmarshal(env.Data, &capacity))
	assert.Equal(t, models.NewCapacity("session-1", 1, 1, 1), capacity)

	// Bob cannot cancel Alice's booking.
	resp, _ = f.do(t, http.MethodDelete, "/bookings/"+booking.ID, "bob", false, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/bookings/"+booking.ID, "alice", false, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	bookings := f.store.Bookings("session-1")
	var bobConfirmed bool
	for _, b := range bookings {
		if b.MemberID == "bob" && b.Status == models.BookingConfirmed {
			bobConfirmed = true
			assert.Equal(t, models.SourceWaitlist, b.Source)
		}
	}
	assert.True(t, bobConfirmed, "bob should have been promoted")
	assert.Empty(t, f.store.Waitlist("session-1"))
}

func TestStaffOnlyRoutes(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/sessions/session-1/waitlist", "alice", false, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, env := f.do(t, http.MethodGet, "/sessions/session-1/waitlist", "coach", true, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(env.Data))

	resp, _ = f.do(t, http.MethodPut, "/classes/class-2", "alice", false, map[string]interface{}{"name": "Yoga"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStaffBooksOnBehalfOfMember(t *testing.T) {
	f := newAPIFixture(t)

	resp, env := f.do(t, http.MethodPost, "/sessions/session-1/bookings", "coach", true, models.BookRequest{MemberID: "carol"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var booking models.Booking
	require.NoError(t, json.Unmarshal(env.Data, &booking))
	assert.Equal(t, "carol", booking.MemberID)

	// A member naming someone else still books for themselves.
	resp, env = f.do(t, http.MethodPost, "/sessions/session-1/waitlist", "dave", false, models.BookRequest{MemberID: "carol"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var entry models.WaitlistEntry
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, "dave", entry.MemberID)
}

func TestClassRuleAndSessionAdministration(t *testing.T) {
	f := newAPIFixture(t)

	resp, env := f.do(t, http.MethodPut, "/classes/class-2", "coach", true, models.UpsertClassRequest{
		Name: "Yoga", Capacity: 12, DurationMinutes: 60, BookingOpensHours: 72, CancellationMinutes: 60,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)

	resp, env = f.do(t, http.MethodPut, "/classes/class-3", "coach", true, map[string]interface{}{"capacity": 3})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "name is required")

	resp, env = f.do(t, http.MethodPost, "/classes/class-2/recurrence-rules", "coach", true, models.CreateRecurrenceRuleRequest{
		Weekdays:  []int{1, 3},
		TimeOfDay: "07:00",
		Timezone:  "Europe/Berlin",
		StartDate: "2025-03-10",
		EndDate:   "2025-03-23",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Error)
	var created struct {
		Rule      models.RecurrenceRule  `json:"rule"`
		Expansion models.ExpansionResult `json:"expansion"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	// Mon 10th 07:00 CET is before t0 (08:00 UTC = 09:00 CET); Wed 12th, Mon 17th, Wed 19th remain.
	assert.Equal(t, 3, created.Expansion.Inserted)

	resp, env = f.do(t, http.MethodPost, "/recurrence-rules/"+created.Rule.ID+"/expand", "coach", true, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)
	var again models.ExpansionResult
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, 0, again.Inserted)

	resp, env = f.do(t, http.MethodPost, "/classes/class-2/recurrence-rules", "coach", true, models.CreateRecurrenceRuleRequest{
		Weekdays: []int{}, TimeOfDay: "07:00", StartDate: "2025-03-10",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(scheduling.KindInvalidRule), env.Kind)

	start := t0.Add(48 * time.Hour)
	resp, _ = f.do(t, http.MethodPost, "/classes/class-2/sessions", "coach", true, models.CreateSessionRequest{StartTime: start})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, env = f.do(t, http.MethodPost, "/classes/class-2/sessions", "coach", true, models.CreateSessionRequest{StartTime: start})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(scheduling.KindAlreadyExists), env.Kind)

	resp, env = f.do(t, http.MethodPost, "/classes/missing/sessions", "coach", true, models.CreateSessionRequest{StartTime: start})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, env.Error)
}

func TestCancelSessionAndCapacityOverride(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/sessions/session-1/bookings", "alice", false, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/sessions/session-1/waitlist", "bob", false, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	two := 2
	resp, env := f.do(t, http.MethodPut, "/sessions/session-1/capacity", "coach", true, models.CapacityOverrideRequest{Capacity: &two})
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)
	var capacity models.Capacity
	require.NoError(t, json.Unmarshal(env.Data, &capacity))
	assert.Equal(t, 2, capacity.Booked, "raising capacity promotes the waitlist")
	assert.Equal(t, 0, capacity.WaitlistCount)

	zero := 0
	resp, env = f.do(t, http.MethodPut, "/sessions/session-1/capacity", "coach", true, models.CapacityOverrideRequest{Capacity: &zero})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(scheduling.KindInvalidState), env.Kind)

	resp, _ = f.do(t, http.MethodPost, "/sessions/session-1/cancel", "coach", true, models.CancelSessionRequest{Reason: "instructor ill"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, env = f.do(t, http.MethodPost, "/sessions/session-1/cancel", "coach", true, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(scheduling.KindInvalidState), env.Kind)

	for _, b := range f.store.Bookings("session-1") {
		assert.Equal(t, models.BookingCancelled, b.Status)
		assert.Equal(t, models.CancelledBySession, b.CancelledBy)
	}
}

func TestBookingWindowErrors(t *testing.T) {
	f := newAPIFixture(t)
	f.clock.Set(t0.Add(-48 * time.Hour))

	resp, env := f.do(t, http.MethodPost, "/sessions/session-1/bookings", "alice", false, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(scheduling.KindBookingNotYetOpen), env.Kind)

	resp, env = f.do(t, http.MethodGet, "/sessions/nope", "alice", false, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(scheduling.KindNotFound), env.Kind)
}

func TestPassAndCheckIn(t *testing.T) {
	f := newAPIFixture(t)

	_, env := f.do(t, http.MethodPost, "/sessions/session-1/bookings", "alice", false, nil)
	var booking models.Booking
	require.NoError(t, json.Unmarshal(env.Data, &booking))

	resp, _ := f.do(t, http.MethodGet, "/bookings/"+booking.ID+"/pass", "alice", false, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp, _ = f.do(t, http.MethodGet, "/bookings/"+booking.ID+"/pass", "bob", false, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	pass, err := f.codec.Encode(checkin.Pass{BookingID: booking.ID, MemberID: "alice", SessionID: "session-1", IssuedAt: t0})
	require.NoError(t, err)

	resp, _ = f.do(t, http.MethodPost, "/checkin", "alice", false, models.CheckInRequest{Pass: pass})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "members cannot check themselves in")

	resp, env = f.do(t, http.MethodPost, "/checkin", "desk", true, models.CheckInRequest{Pass: "forged"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, env = f.do(t, http.MethodPost, "/checkin", "desk", true, models.CheckInRequest{Pass: pass})
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)
	var checked models.Booking
	require.NoError(t, json.Unmarshal(env.Data, &checked))
	assert.Equal(t, models.BookingAttended, checked.Status)
	require.Len(t, f.events.Attendance(), 1)
	assert.Equal(t, "alice", f.events.Attendance()[0].MemberID)
}

func TestMarkNoShowAndGetBooking(t *testing.T) {
	f := newAPIFixture(t)

	_, env := f.do(t, http.MethodPost, "/sessions/session-1/bookings", "alice", false, nil)
	var booking models.Booking
	require.NoError(t, json.Unmarshal(env.Data, &booking))

	resp, _ := f.do(t, http.MethodGet, "/bookings/"+booking.ID, "bob", false, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/bookings/"+booking.ID+"/no-show", "coach", true, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = f.do(t, http.MethodGet, "/bookings/"+booking.ID, "alice", false, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Booking
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, models.BookingNoShow, got.Status)

	resp, env = f.do(t, http.MethodPost, "/bookings/"+booking.ID+"/attended", "coach", true, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(scheduling.KindInvalidState), env.Kind)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusPaymentRequired, api.StatusFor(scheduling.ErrMemberInactive))
	assert.Equal(t, http.StatusPaymentRequired, api.StatusFor(&scheduling.Error{Kind: scheduling.KindEntitlementRequired}))
	assert.Equal(t, http.StatusConflict, api.StatusFor(&scheduling.Error{Kind: scheduling.KindConflict}))
	assert.Equal(t, http.StatusUnprocessableEntity, api.StatusFor(&scheduling.Error{Kind: scheduling.KindCancellationDeadlinePassed}))
	assert.Equal(t, http.StatusBadRequest, api.StatusFor(checkin.ErrInvalidPass))
	assert.Equal(t, http.StatusInternalServerError, api.StatusFor(assert.AnError))
}

func TestHealth(t *testing.T) {
	h := api.Health(map[string]api.Check{
		"db":    func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	ok := api.Health(map[string]api.Check{"db": func(context.Context) error { return nil }})
	rec = httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
