//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"haggle-lab/domain"
	"haggle-lab/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
}

type WorkerName string

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// initialization or lifecycle events, avoiding the need for manual naming
// in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IDeliverer is everything the core needs from the chat transport.
// SuggestedReplies is a UI affordance only; the transport may ignore it.
// Delivery failure is a transient external fault: callers log it and move
// on, they never roll back a committed state transition because of it.
type IDeliverer interface {
	Deliver(ctx context.Context, participantID, text string, suggestedReplies []string) (deliveryID string, err error)
}

// IDispatcher receives one inbound event at a time per participant.
type IDispatcher interface {
	Handle(ctx context.Context, msg domain.InboundMessage) error
}
