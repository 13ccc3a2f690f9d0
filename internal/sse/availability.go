package sse

import (
	"context"
	"sync"

	"ms-scheduling/internal/models"
)

const clientBuffer = 16

// AvailabilityEmitter fans scheduling events out to the clients watching each session.
type AvailabilityEmitter struct {
	// key: sessionID, value: client channels
	clients map[string][]chan models.SchedulingEvent
	mu      sync.RWMutex
}

func NewAvailabilityEmitter() *AvailabilityEmitter {
	return &AvailabilityEmitter{
		clients: make(map[string][]chan models.SchedulingEvent),
	}
}

// Subscribe registers a client for one session. The channel is closed once ctx is done.
func (e *AvailabilityEmitter) Subscribe(ctx context.Context, sessionID string) <-chan models.SchedulingEvent {
	clientChan := make(chan models.SchedulingEvent, clientBuffer)

	e.mu.Lock()
	e.clients[sessionID] = append(e.clients[sessionID], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(sessionID, clientChan)
	}()

	return clientChan
}

// Publish never blocks: a client whose buffer is full misses the event.
func (e *AvailabilityEmitter) Publish(_ context.Context, event models.SchedulingEvent) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients[event.SessionID] {
		select {
		case clientChan <- event:
		default:
		}
	}
	return nil
}

func (e *AvailabilityEmitter) remove(sessionID string, clientChan chan models.SchedulingEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[sessionID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[sessionID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.clients[sessionID]) == 0 {
		delete(e.clients, sessionID)
	}
}

// ClientCount returns the number of clients currently watching a session.
func (e *AvailabilityEmitter) ClientCount(sessionID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[sessionID])
}
