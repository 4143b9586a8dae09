// Package event defines the domain events fanned out to sinks after the
// dispatcher has committed a transition. Sinks are best-effort consumers
// (telemetry, search indexing); core state never depends on them.
package event

import (
	"time"

	"haggle-lab/domain"
)

type DomainEvent interface {
	SessionID() string
}

type GamePaired struct {
	Session   string
	Requester string
	// Role assigned to the requester; the counterparty holds the opposite.
	RequesterRole domain.Role
	Counterparty  string
	At            time.Time
}

func (e GamePaired) SessionID() string { return e.Session }

type MessageRelayed struct {
	Session    string
	Sender     string
	Receiver   string
	SenderRole domain.Role
	Text       string
	At         time.Time
}

func (e MessageRelayed) SessionID() string { return e.Session }

// SessionEnded covers the three paired exits: deal accepted, deal declined
// by the buyer, ended without a deal by the seller.
type SessionEnded struct {
	Session string
	EndedBy string
	Reason  EndReason
	At      time.Time
}

func (e SessionEnded) SessionID() string { return e.Session }

type EndReason string

const (
	EndDealAccepted EndReason = "deal_accepted"
	EndDealDeclined EndReason = "deal_declined"
	EndedBySeller   EndReason = "ended_by_seller"
)

type FeedbackCollected struct {
	Session     string
	Participant string
	// Kind is "terms" after an accepted deal, "why_not" otherwise.
	Kind string
	Text string
	At   time.Time
}

func (e FeedbackCollected) SessionID() string { return e.Session }

type AvailabilityPinged struct {
	Excluding string
	Notified  int
	At        time.Time
}

func (e AvailabilityPinged) SessionID() string { return "" }
