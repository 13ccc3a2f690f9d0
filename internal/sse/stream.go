package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
)

// DefaultHeartbeat keeps idle connections open through proxies.
const DefaultHeartbeat = 25 * time.Second

type Streamer struct {
	Emitter   *AvailabilityEmitter
	Logger    *logger.Logger
	Heartbeat time.Duration
}

func NewStreamer(emitter *AvailabilityEmitter, log *logger.Logger) *Streamer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Streamer{Emitter: emitter, Logger: log, Heartbeat: DefaultHeartbeat}
}

// Stream writes the current capacity, then every event for the session, until the client goes away.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, sessionID string, initial *models.Capacity) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Streams outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.Logger.Debug("SSE", fmt.Sprintf("Cannot clear write deadline: %v", err))
	}

	ctx := r.Context()
	events := s.Emitter.Subscribe(ctx, sessionID)

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if initial != nil {
		if err := writeEvent(w, "capacity", initial); err != nil {
			return
		}
	}
	flusher.Flush()
	s.Logger.Debug("SSE", fmt.Sprintf("Client subscribed to session %s", sessionID))

	heartbeat := s.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, string(event.Type), event); err != nil {
				s.Logger.Error("SSE", fmt.Sprintf("Failed to write event for session %s: %v", sessionID, err))
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			s.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from session %s", sessionID))
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
