package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"haggle-lab/contract"
	"haggle-lab/domain"
	"haggle-lab/observability"
	"haggle-lab/replies"
	"haggle-lab/repositories"
)

// Messenger wraps the transport with the outbound message log: every text
// we send is recorded before delivery is attempted. Delivery is
// fire-and-forget from the state machine's perspective; a failed send is
// logged and surfaced, never retried here.
type Messenger struct {
	deliverer  contract.IDeliverer
	messages   repositories.IMessageRepository
	monitoring *observability.MonitoringManager
	log        *slog.Logger
}

func NewMessenger(
	deliverer contract.IDeliverer,
	messages repositories.IMessageRepository,
	monitoring *observability.MonitoringManager,
	log *slog.Logger,
) *Messenger {
	return &Messenger{deliverer: deliverer, messages: messages, monitoring: monitoring, log: log}
}

// Send records and delivers one outbound text with the given keyboard.
func (m *Messenger) Send(ctx context.Context, participantID, text string, suggests []string, at time.Time) error {
	err := m.messages.Store(repositories.DiskMessage{
		ID:            uuid.New(),
		ParticipantID: participantID,
		FromUser:      false,
		Text:          text,
		At:            at,
	})
	if err != nil {
		return err
	}
	deliveryID, err := m.deliverer.Deliver(ctx, participantID, text, suggests)
	if err != nil {
		m.monitoring.IncDeliveryFailure()
		m.log.Warn("Delivery failed", "participant", participantID, "err", err)
		return err
	}
	m.log.Debug("Delivered", "participant", participantID, "delivery", deliveryID)
	return nil
}

// SendTo is Send with the keyboard derived from the participant's state.
func (m *Messenger) SendTo(ctx context.Context, p domain.Participant, text string, at time.Time) error {
	return m.Send(ctx, p.ID, text, replies.SuggestsFor(p), at)
}
