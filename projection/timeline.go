// Package projection builds a local in-memory view of the live sessions
// from observed events. It feeds the debug dashboard; the transcript on
// disk stays the system of record.
package projection

import (
	"context"
	"sync"
	"time"

	"haggle-lab/domain"
	"haggle-lab/domain/event"
)

// Line is one relayed message as the projection saw it.
type Line struct {
	Sender     string
	SenderRole domain.Role
	Text       string
	At         time.Time
}

// Session is the live view of one pairing.
type Session struct {
	ID           string
	Requester    string
	Counterparty string
	StartedAt    time.Time
	Lines        []Line
}

// Timeline projects pairing and relay events into per-session views.
// Ended sessions are dropped; only what is currently live is held.
type Timeline struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	totalSessions uint64
	maxLines      int
}

func NewTimeline(maxLines int) *Timeline {
	return &Timeline{sessions: make(map[string]*Session), maxLines: maxLines}
}

func (t *Timeline) Consume(_ context.Context, e event.DomainEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch evt := e.(type) {
	case event.GamePaired:
		t.sessions[evt.Session] = &Session{
			ID:           evt.Session,
			Requester:    evt.Requester,
			Counterparty: evt.Counterparty,
			StartedAt:    evt.At,
		}
		t.totalSessions++
	case event.MessageRelayed:
		s, ok := t.sessions[evt.Session]
		if !ok {
			// Paired before the projection started; track from here on.
			s = &Session{ID: evt.Session, StartedAt: evt.At}
			t.sessions[evt.Session] = s
		}
		s.Lines = append(s.Lines, Line{
			Sender:     evt.Sender,
			SenderRole: evt.SenderRole,
			Text:       evt.Text,
			At:         evt.At,
		})
		if t.maxLines > 0 && len(s.Lines) > t.maxLines {
			s.Lines = s.Lines[len(s.Lines)-t.maxLines:]
		}
	case event.SessionEnded:
		delete(t.sessions, evt.Session)
	}
	return nil
}

// Live returns a copy of the currently open sessions.
func (t *Timeline) Live() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		copied := *s
		copied.Lines = append([]Line(nil), s.Lines...)
		out = append(out, copied)
	}
	return out
}

// Stats summarizes the projection for the dashboard.
func (t *Timeline) Stats() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lines := 0
	for _, s := range t.sessions {
		lines += len(s.Lines)
	}
	return map[string]any{
		"live_sessions":  len(t.sessions),
		"total_sessions": t.totalSessions,
		"live_lines":     lines,
	}
}
