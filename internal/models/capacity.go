package models

// Capacity is the live occupancy of a session.
type Capacity struct {
	SessionID     string `json:"session_id"`
	Capacity      int    `json:"capacity"`
	Booked        int    `json:"booked"`
	Available     int    `json:"available"`
	WaitlistCount int    `json:"waitlist_count"`
}

// NewCapacity derives the available slots; it never goes below zero.
func NewCapacity(sessionID string, capacity, booked, waitlist int) Capacity {
	available := capacity - booked
	if available < 0 {
		available = 0
	}
	return Capacity{
		SessionID:     sessionID,
		Capacity:      capacity,
		Booked:        booked,
		Available:     available,
		WaitlistCount: waitlist,
	}
}

func (c Capacity) IsFull() bool {
	return c.Available <= 0
}
