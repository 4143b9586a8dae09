package services

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"haggle-lab/domain"
	apperrors "haggle-lab/errors"
	"haggle-lab/repositories"
)

// PairingResult is the outcome of one pairing attempt: either a committed
// pairing with the role drawn for the requester, or Queued with the
// requester parked in the seeking state.
type PairingResult struct {
	Paired         bool
	CounterpartyID string
	SessionID      string
	RequesterRole  domain.Role
}

// Matchmaker finds or registers a waiting counterparty.
//
// The claim on a candidate is a single conditional write on the candidate
// document: "leave seeking only if still seeking". The requester is written
// strictly after that claim commits. A lost claim means the candidate was
// taken by a concurrent attempt; the pool is rescanned rather than trusting
// the stale read, so no participant can ever be booked into two sessions.
type Matchmaker struct {
	participants repositories.IParticipantRepository
	log          *slog.Logger
	// coin reports whether the requester plays the buyer. Uniform and
	// independent of both identities; swappable in tests.
	coin func() bool
}

func NewMatchmaker(participants repositories.IParticipantRepository, log *slog.Logger) *Matchmaker {
	return &Matchmaker{
		participants: participants,
		log:          log,
		coin:         func() bool { return rand.IntN(2) == 0 },
	}
}

// TryPair pairs the requester with a seeking counterparty, or queues the
// requester. The requester record passed in is mutated and persisted with
// its new state before returning.
func (m *Matchmaker) TryPair(requester *domain.Participant, at time.Time) (PairingResult, error) {
	for {
		pool, err := m.participants.FindSeeking()
		if err != nil {
			return PairingResult{}, err
		}
		candidates := lo.Filter(pool, func(p domain.Participant, _ int) bool {
			return p.ID != requester.ID
		})
		if len(candidates) == 0 {
			return m.queue(requester, at)
		}
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})

		for _, candidate := range candidates {
			result, err := m.claim(requester, candidate.ID, at)
			if errors.Is(err, apperrors.ErrClaimLost) {
				// Taken by a concurrent attempt since the scan.
				m.log.Debug("Candidate already claimed, trying next", "candidate", candidate.ID)
				continue
			}
			if err != nil {
				return PairingResult{}, err
			}
			return result, nil
		}
		// Every scanned candidate was claimed from under us; the pool has
		// changed, so scan again.
	}
}

func (m *Matchmaker) claim(requester *domain.Participant, candidateID string, at time.Time) (PairingResult, error) {
	sessionID := uuid.NewString()

	// The coin is flipped inside the claim, after the conditional check has
	// passed, never before.
	var requesterRole domain.Role
	err := m.participants.ClaimSeeking(candidateID, func(p *domain.Participant) {
		requesterRole = domain.RoleSeller
		if m.coin() {
			requesterRole = domain.RoleBuyer
		}
		p.EnterSession(requesterRole.Opposite(), requester.ID, sessionID, at)
	})
	if err != nil {
		return PairingResult{}, err
	}

	requester.EnterSession(requesterRole, candidateID, sessionID, at)
	if err := m.participants.Update(*requester); err != nil {
		// The counterparty claim is already committed. Release it so the
		// symmetry invariant holds rather than leaving a half-pairing.
		m.release(candidateID, at)
		return PairingResult{}, err
	}
	return PairingResult{
		Paired:         true,
		CounterpartyID: candidateID,
		SessionID:      sessionID,
		RequesterRole:  requesterRole,
	}, nil
}

func (m *Matchmaker) release(candidateID string, at time.Time) {
	candidate, found, err := m.participants.FindOne(candidateID)
	if err != nil || !found {
		m.log.Error("Failed to release claimed counterparty", "candidate", candidateID, "err", err)
		return
	}
	candidate.State = domain.StateSeeking
	candidate.Role = domain.RoleNone
	candidate.CounterpartyID = ""
	candidate.SessionID = ""
	candidate.UpdatedAt = at
	if err := m.participants.Update(candidate); err != nil {
		m.log.Error("Failed to release claimed counterparty", "candidate", candidateID, "err", err)
	}
}

func (m *Matchmaker) queue(requester *domain.Participant, at time.Time) (PairingResult, error) {
	requester.State = domain.StateSeeking
	requester.UpdatedAt = at
	if err := m.participants.Update(*requester); err != nil {
		return PairingResult{}, err
	}
	return PairingResult{Paired: false}, nil
}
