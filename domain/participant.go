// Package domain contains the core concepts of the negotiation game:
// participants, their state machine, roles and the actions they can take.
// No runtime, storage or transport logic should be added here.
package domain

import "time"

// State is the single lifecycle position of a participant.
// A participant is in exactly one state at any instant.
type State string

const (
	StateIdle           State = "idle"
	StateSeeking        State = "seeking"
	StatePaired         State = "paired"
	StateFeedbackTerms  State = "feedback_terms"
	StateFeedbackWhyNot State = "feedback_why_not"
)

// Role is only meaningful while the participant is paired or in feedback.
type Role string

const (
	RoleNone   Role = ""
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// InSession reports whether the state belongs to a live or just-ended pairing,
// i.e. whether role/counterparty/session fields are expected to be set.
func (s State) InSession() bool {
	switch s {
	case StatePaired, StateFeedbackTerms, StateFeedbackWhyNot:
		return true
	case StateIdle, StateSeeking:
		return false
	}
	return false
}

// Feedback reports whether the state is one of the two funnel questions.
func (s State) Feedback() bool {
	return s == StateFeedbackTerms || s == StateFeedbackWhyNot
}

type Participant struct {
	ID                   string
	DisplayName          string
	NotificationsEnabled bool
	State                State
	Role                 Role
	CounterpartyID       string
	SessionID            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewParticipant initializes a record for a first-ever inbound identity.
func NewParticipant(id, displayName string, at time.Time) Participant {
	return Participant{
		ID:          id,
		DisplayName: displayName,
		State:       StateIdle,
		Role:        RoleNone,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// ResetSession clears the pairing fields and returns the participant to idle.
// Called when the feedback funnel completes, or on the counterparty of a
// declined/ended session.
func (p *Participant) ResetSession(at time.Time) {
	p.State = StateIdle
	p.Role = RoleNone
	p.CounterpartyID = ""
	p.SessionID = ""
	p.UpdatedAt = at
}

// EnterSession moves the participant into a live pairing.
func (p *Participant) EnterSession(role Role, counterpartyID, sessionID string, at time.Time) {
	p.State = StatePaired
	p.Role = role
	p.CounterpartyID = counterpartyID
	p.SessionID = sessionID
	p.UpdatedAt = at
}

// Opposite returns the counterparty role of a game role.
func (r Role) Opposite() Role {
	switch r {
	case RoleBuyer:
		return RoleSeller
	case RoleSeller:
		return RoleBuyer
	}
	return RoleNone
}
