package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of play event.
type EventType string

const (
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
)

// Event is one play-session boundary exported to external systems. A started
// and its matching stopped event share SessionID; Duration is set on stopped.
type Event struct {
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	SessionID  string        `json:"session_id"`
	PID        int           `json:"pid"`
	AppID      string        `json:"app_id,omitempty"`
	Source     string        `json:"source,omitempty"`
	Name       string        `json:"name,omitempty"`
	Executable string        `json:"executable,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Sessions turns tracked-game transitions into paired history events.
type Sessions struct {
	mu   sync.Mutex
	open *Event
	now  func() time.Time
}

func NewSessions() *Sessions { return &Sessions{now: time.Now} }

// Transition closes the open session, if any, and opens one for next when it
// is non-nil. The returned events are in emission order. Only PID, AppID,
// Source, Name and Executable are read from next.
func (s *Sessions) Transition(next *Event) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	var out []Event
	if s.open != nil {
		stop := *s.open
		stop.Type = EventStopped
		stop.Duration = now.Sub(s.open.OccurredAt)
		stop.OccurredAt = now
		out = append(out, stop)
		s.open = nil
	}
	if next != nil {
		start := Event{
			Type:       EventStarted,
			OccurredAt: now,
			SessionID:  uuid.NewString(),
			PID:        next.PID,
			AppID:      next.AppID,
			Source:     next.Source,
			Name:       next.Name,
			Executable: next.Executable,
		}
		s.open = &start
		out = append(out, start)
	}
	return out
}

// Open returns the running session, if any.
func (s *Sessions) Open() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return Event{}, false
	}
	return *s.open, true
}
