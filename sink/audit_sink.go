package sink

import (
	"context"
	"log/slog"

	"haggle-lab/domain/event"
)

// AuditSink writes one structured log line per domain event. Useful in
// development and as a cheap operational trail in production.
type AuditSink struct {
	log *slog.Logger
}

func NewAuditSink(log *slog.Logger) *AuditSink {
	return &AuditSink{log: log}
}

func (s *AuditSink) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.GamePaired:
		s.log.Info("Game paired",
			"session", evt.Session,
			"requester", evt.Requester,
			"requester_role", evt.RequesterRole,
			"counterparty", evt.Counterparty)
	case event.MessageRelayed:
		s.log.Debug("Message relayed",
			"session", evt.Session,
			"sender", evt.Sender,
			"sender_role", evt.SenderRole)
	case event.SessionEnded:
		s.log.Info("Session ended",
			"session", evt.Session,
			"ended_by", evt.EndedBy,
			"reason", evt.Reason)
	case event.FeedbackCollected:
		s.log.Info("Feedback collected",
			"session", evt.Session,
			"participant", evt.Participant,
			"kind", evt.Kind)
	case event.AvailabilityPinged:
		s.log.Info("Availability broadcast",
			"excluding", evt.Excluding,
			"notified", evt.Notified)
	}
	return nil
}
