// Package runtime handles event intake, sharding, fan-out and supervision.
// It orchestrates the system without containing business logic or domain
// rules.
package runtime

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"

	"haggle-lab/contract"
	"haggle-lab/domain"
	"haggle-lab/domain/event"
	"haggle-lab/observability"
	"haggle-lab/replies"
	"haggle-lab/runtime/workers"
)

type Orchestrator struct {
	log               *slog.Logger
	supervisor        contract.ISupervisor
	dispatcher        contract.IDispatcher
	deliverer         contract.IDeliverer
	monitoring        *observability.MonitoringManager
	shards            []chan domain.InboundMessage
	events            chan event.DomainEvent
	sinks             []contract.EventSink
	heartbeatInterval time.Duration
}

// NewOrchestrator wires the inbound shards and the event pipeline. The
// events channel is shared with the dispatcher, which produces into it.
func NewOrchestrator(
	log *slog.Logger,
	supervisor contract.ISupervisor,
	dispatcher contract.IDispatcher,
	deliverer contract.IDeliverer,
	monitoring *observability.MonitoringManager,
	events chan event.DomainEvent,
	numWorkers, bufferSize int,
	heartbeatInterval time.Duration,
) *Orchestrator {
	shards := make([]chan domain.InboundMessage, numWorkers)
	for i := range shards {
		shards[i] = make(chan domain.InboundMessage, bufferSize)
	}
	return &Orchestrator{
		log:               log,
		supervisor:        supervisor,
		dispatcher:        dispatcher,
		deliverer:         deliverer,
		monitoring:        monitoring,
		shards:            shards,
		events:            events,
		heartbeatInterval: heartbeatInterval,
	}
}

// Add registers permanent event sinks fed by the fan-out worker.
func (o *Orchestrator) Add(sinks ...contract.EventSink) {
	o.sinks = append(o.sinks, sinks...)
}

// Submit enqueues one inbound message. Messages from the same participant
// always land on the same shard, which keeps per-participant handling
// strictly ordered while different participants proceed concurrently.
//
// An overflowed shard never blocks the front door. The message is dropped,
// but the participant is told so: only duplicates and store outages may
// stay silent.
func (o *Orchestrator) Submit(msg domain.InboundMessage) {
	shard := o.shards[shardIndex(msg.ParticipantID, len(o.shards))]
	select {
	case shard <- msg:
	default:
		o.log.Warn("Inbound shard full, dropping message",
			"participant", msg.ParticipantID, "message", msg.MessageID)
		if o.deliverer == nil {
			return
		}
		go func() {
			_, err := o.deliverer.Deliver(context.Background(), msg.ParticipantID, replies.Busy, nil)
			if err != nil {
				o.log.Warn("Busy notice not delivered", "participant", msg.ParticipantID, "err", err)
			}
		}()
	}
}

func shardIndex(participantID string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(participantID))
	return int(h.Sum32() % uint32(shards))
}

// Start assembles the worker set and hands it to the supervisor. It
// returns immediately; the supervisor keeps the workers alive until the
// context is canceled.
func (o *Orchestrator) Start(ctx context.Context) error {
	for _, shard := range o.shards {
		o.supervisor.Add(workers.NewDispatchWorker(shard, o.dispatcher, o.log))
	}
	fanout := workers.NewEventFanout(o.log, o.events).Add(o.sinks...)
	o.supervisor.Add(fanout)
	if o.heartbeatInterval > 0 {
		o.supervisor.Add(workers.NewHeartbeatWorker(o.log, o.monitoring, o.heartbeatInterval))
	}

	go o.supervisor.Run(ctx)
	o.log.Info("Orchestrator started", "shards", len(o.shards), "sinks", len(o.sinks))
	return nil
}
