package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"haggle-lab/domain"
	apperrors "haggle-lab/errors"
	"haggle-lab/repositories"
)

// Relay forwards in-session messages between the two paired participants.
// Payloads are opaque: no transformation, filtering or moderation.
type Relay struct {
	participants repositories.IParticipantRepository
	transcripts  repositories.ITranscriptRepository
	messenger    *Messenger
	log          *slog.Logger
}

func NewRelay(
	participants repositories.IParticipantRepository,
	transcripts repositories.ITranscriptRepository,
	messenger *Messenger,
	log *slog.Logger,
) *Relay {
	return &Relay{participants: participants, transcripts: transcripts, messenger: messenger, log: log}
}

// Forward appends a transcript entry tagged with the sender's current role
// and delivers the payload verbatim to the counterparty. A non-nil return
// means the message never reached the transcript; a delivery fault is only
// logged, because the transcript entry stands and the session goes on.
func (r *Relay) Forward(ctx context.Context, sender domain.Participant, text string, at time.Time) error {
	if sender.State != domain.StatePaired {
		return apperrors.ErrNotPaired
	}
	err := r.transcripts.Append(repositories.TranscriptEntry{
		ID:         uuid.New(),
		Event:      repositories.EntryText,
		Sender:     sender.ID,
		Receiver:   sender.CounterpartyID,
		Text:       text,
		SenderRole: sender.Role,
		SessionID:  sender.SessionID,
		At:         at,
	})
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}

	counterparty, found, err := r.participants.FindOne(sender.CounterpartyID)
	if err != nil {
		r.log.Error("Paired counterparty unreadable", "counterparty", sender.CounterpartyID, "err", err)
		return nil
	}
	if !found {
		r.log.Error("Paired counterparty missing", "counterparty", sender.CounterpartyID)
		return nil
	}
	if err := r.messenger.SendTo(ctx, counterparty, text, at); err != nil {
		r.log.Warn("Relay delivery failed", "session", sender.SessionID, "receiver", counterparty.ID, "err", err)
	}
	return nil
}
