// Package transport contains implementations of the delivery boundary.
// The real chat front door (webhook or polling) lives outside this
// repository; the core only ever sees contract.IDeliverer.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Delivery is one outbound message as the transport saw it.
type Delivery struct {
	ParticipantID    string
	Text             string
	SuggestedReplies []string
}

// Recorder is an in-memory deliverer for tests and the demo binary. It
// records every delivery in order and can be told to fail for specific
// participants to exercise the delivery-fault paths.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	failing    map[string]error
}

func NewRecorder() *Recorder {
	return &Recorder{failing: make(map[string]error)}
}

func (r *Recorder) Deliver(_ context.Context, participantID, text string, suggestedReplies []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failing[participantID]; ok {
		return "", err
	}
	r.deliveries = append(r.deliveries, Delivery{
		ParticipantID:    participantID,
		Text:             text,
		SuggestedReplies: suggestedReplies,
	})
	return uuid.NewString(), nil
}

// FailFor makes subsequent deliveries to the participant return an error.
func (r *Recorder) FailFor(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[participantID] = fmt.Errorf("participant %s unreachable", participantID)
}

// Restore clears a failure injected with FailFor.
func (r *Recorder) Restore(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failing, participantID)
}

// Deliveries returns a copy of everything delivered so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// DeliveriesTo filters deliveries for one participant.
func (r *Recorder) DeliveriesTo(participantID string) []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Delivery
	for _, d := range r.deliveries {
		if d.ParticipantID == participantID {
			out = append(out, d)
		}
	}
	return out
}

// Reset drops all recorded deliveries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}
