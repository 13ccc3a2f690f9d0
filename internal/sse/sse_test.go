package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-scheduling/internal/models"
)

func TestEmitterDeliversPerSession(t *testing.T) {
	e := NewAvailabilityEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := e.Subscribe(ctx, "s1")
	b := e.Subscribe(ctx, "s2")
	assert.Equal(t, 1, e.ClientCount("s1"))

	require.NoError(t, e.Publish(ctx, models.SchedulingEvent{Type: models.EventBookingConfirmed, SessionID: "s1"}))

	select {
	case got := <-a:
		assert.Equal(t, models.EventBookingConfirmed, got.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber of s1 got nothing")
	}
	select {
	case <-b:
		t.Fatal("subscriber of s2 must not see s1 events")
	default:
	}
}

func TestEmitterDropsWhenBufferFull(t *testing.T) {
	e := NewAvailabilityEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := e.Subscribe(ctx, "s1")
	for i := 0; i < clientBuffer+5; i++ {
		require.NoError(t, e.Publish(ctx, models.SchedulingEvent{Type: models.EventSessionUpdated, SessionID: "s1"}))
	}
	assert.Len(t, ch, clientBuffer)
}

func TestEmitterRemovesClientOnCancel(t *testing.T) {
	e := NewAvailabilityEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	ch := e.Subscribe(ctx, "s1")
	cancel()

	assert.Eventually(t, func() bool { return e.ClientCount("s1") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)
	// Publishing after removal is harmless.
	require.NoError(t, e.Publish(context.Background(), models.SchedulingEvent{SessionID: "s1"}))
}

func TestStreamWritesInitialCapacityAndEvents(t *testing.T) {
	e := NewAvailabilityEmitter()
	s := NewStreamer(e, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		initial := models.NewCapacity("s1", 10, 9, 0)
		s.Stream(w, r, "s1", &initial)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, data := readEvent()
	assert.Equal(t, "capacity", name)
	assert.Contains(t, data, `"available":1`)

	require.Eventually(t, func() bool { return e.ClientCount("s1") == 1 }, time.Second, 5*time.Millisecond)
	full := models.NewCapacity("s1", 10, 10, 2)
	require.NoError(t, e.Publish(ctx, models.SchedulingEvent{Type: models.EventBookingConfirmed, SessionID: "s1", Capacity: &full}))

	name, data = readEvent()
	assert.Equal(t, string(models.EventBookingConfirmed), name)
	assert.Contains(t, data, `"waitlist_count":2`)
}
