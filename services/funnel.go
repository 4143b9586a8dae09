package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"haggle-lab/domain"
	"haggle-lab/replies"
	"haggle-lab/repositories"
)

// Funnel owns the post-session feedback states: one free-text question per
// state, exactly one message consumed, then back to idle with the pairing
// fields cleared. Feedback content is never validated.
type Funnel struct {
	participants repositories.IParticipantRepository
	transcripts  repositories.ITranscriptRepository
	messenger    *Messenger
	log          *slog.Logger
}

func NewFunnel(
	participants repositories.IParticipantRepository,
	transcripts repositories.ITranscriptRepository,
	messenger *Messenger,
	log *slog.Logger,
) *Funnel {
	return &Funnel{participants: participants, transcripts: transcripts, messenger: messenger, log: log}
}

// FeedbackKind maps the feedback state to its transcript event.
func FeedbackKind(state domain.State) string {
	if state == domain.StateFeedbackTerms {
		return repositories.EntryTerms
	}
	return repositories.EntryWhyNot
}

// Collect consumes one non-empty feedback answer and returns the
// participant to idle. The caller guards the state and the non-empty
// payload; any text terminates the funnel regardless of content.
func (f *Funnel) Collect(ctx context.Context, p *domain.Participant, text string, at time.Time) error {
	kind := FeedbackKind(p.State)
	err := f.transcripts.Append(repositories.TranscriptEntry{
		ID:         uuid.New(),
		Event:      kind,
		Sender:     p.ID,
		Receiver:   p.CounterpartyID,
		Text:       text,
		SenderRole: p.Role,
		SessionID:  p.SessionID,
		At:         at,
	})
	if err != nil {
		return err
	}

	p.ResetSession(at)
	if err := f.participants.Update(*p); err != nil {
		return err
	}

	if err := f.messenger.SendTo(ctx, *p, replies.FeedbackThanks, at); err != nil {
		f.log.Warn("Feedback acknowledgement not delivered", "participant", p.ID, "err", err)
	}
	return nil
}
