package workers

import (
	"context"
	"log/slog"

	"haggle-lab/contract"
	"haggle-lab/domain"
)

// Ensure *DispatchWorker implements the contract.Worker interface at
// compile time.
var _ contract.Worker = (*DispatchWorker)(nil)

// DispatchWorker drains one shard of the inbound stream. The orchestrator
// routes every message of a given participant to the same shard, so a
// participant's events are always handled one at a time, in arrival order.
type DispatchWorker struct {
	inbound    chan domain.InboundMessage
	dispatcher contract.IDispatcher
	log        *slog.Logger
}

func NewDispatchWorker(inbound chan domain.InboundMessage, dispatcher contract.IDispatcher, log *slog.Logger) *DispatchWorker {
	return &DispatchWorker{inbound: inbound, dispatcher: dispatcher, log: log}
}

func (w *DispatchWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return ctx.Err()
		case msg, ok := <-w.inbound:
			if !ok {
				w.log.Debug("Channel is closed")
				return nil
			}
			if err := w.dispatcher.Handle(ctx, msg); err != nil {
				// The event is dropped; the participant keeps whatever
				// state it had before.
				w.log.Error("Inbound event dropped",
					"participant", msg.ParticipantID,
					"message", msg.MessageID,
					"err", err)
			}
		}
	}
}
