package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"haggle-lab/domain"
	"haggle-lab/domain/event"
	apperrors "haggle-lab/errors"
	"haggle-lab/observability"
	"haggle-lab/replies"
	"haggle-lab/repositories"
)

// Dispatcher receives one inbound event at a time per participant, loads
// the current state, routes to the component owning that state, persists
// the result and triggers outbound deliveries.
//
// Error posture (per event): a duplicate message id is suppressed silently;
// a store failure drops the event without mutation; a delivery failure is
// logged and never rolls back a committed transition. Every rejected or
// no-op action yields an informative reply.
type Dispatcher struct {
	participants repositories.IParticipantRepository
	transcripts  repositories.ITranscriptRepository
	messages     repositories.IMessageRepository
	dedup        repositories.IDedupRepository
	matchmaker   *Matchmaker
	relay        *Relay
	funnel       *Funnel
	notifier     *Notifier
	messenger    *Messenger
	monitoring   *observability.MonitoringManager
	events       chan<- event.DomainEvent
	log          *slog.Logger
}

func NewDispatcher(
	participants repositories.IParticipantRepository,
	transcripts repositories.ITranscriptRepository,
	messages repositories.IMessageRepository,
	dedup repositories.IDedupRepository,
	matchmaker *Matchmaker,
	relay *Relay,
	funnel *Funnel,
	notifier *Notifier,
	messenger *Messenger,
	monitoring *observability.MonitoringManager,
	events chan<- event.DomainEvent,
	log *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		participants: participants,
		transcripts:  transcripts,
		messages:     messages,
		dedup:        dedup,
		matchmaker:   matchmaker,
		relay:        relay,
		funnel:       funnel,
		notifier:     notifier,
		messenger:    messenger,
		monitoring:   monitoring,
		events:       events,
		log:          log,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, msg domain.InboundMessage) error {
	seen, err := d.dedup.Seen(msg.MessageID)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		d.monitoring.IncDuplicate()
		d.log.Debug("Duplicate message suppressed", "message", msg.MessageID)
		return nil
	}
	d.monitoring.IncHandled()

	err = d.messages.Store(repositories.DiskMessage{
		ID:            uuid.New(),
		ParticipantID: msg.ParticipantID,
		FromUser:      true,
		Text:          msg.Text,
		TransportID:   msg.MessageID,
		At:            msg.At,
	})
	if err != nil {
		return fmt.Errorf("record inbound: %w", err)
	}

	p, found, err := d.participants.FindOne(msg.ParticipantID)
	if err != nil {
		return fmt.Errorf("load participant: %w", err)
	}
	if !found {
		return d.welcome(ctx, msg)
	}

	action := domain.Classify(msg.Text)
	at := msg.At

	// Empty payloads are a valid input class with a fixed reply; in a
	// feedback state the pending question is asked again, unchanged.
	if action.Kind == domain.ActionEmpty {
		if p.State.Feedback() {
			return d.messenger.SendTo(ctx, p, replies.Reprompt(p.State), at)
		}
		return d.messenger.SendTo(ctx, p, replies.EmptyPayload, at)
	}

	// The funnel consumes any non-empty message, including text that looks
	// like a button label. Classification does not apply here.
	if p.State.Feedback() {
		return d.collectFeedback(ctx, p, msg.Text, at)
	}

	switch action.Kind {
	case domain.ActionSubscribe:
		return d.toggleNotifications(ctx, p, true, at)
	case domain.ActionUnsubscribe:
		return d.toggleNotifications(ctx, p, false, at)
	}

	switch p.State {
	case domain.StateIdle:
		if action.Kind == domain.ActionStartGame {
			return d.startGame(ctx, p, at)
		}
	case domain.StateSeeking:
		switch action.Kind {
		case domain.ActionStartGame:
			return d.messenger.SendTo(ctx, p, replies.AlreadySeeking, at)
		case domain.ActionStopSeeking:
			return d.stopSeeking(ctx, p, at)
		}
	case domain.StatePaired:
		switch action.Kind {
		case domain.ActionFreeText:
			return d.relayText(ctx, p, action.Text, at)
		case domain.ActionAcceptDeal:
			if p.Role == domain.RoleBuyer {
				return d.endSession(ctx, p, event.EndDealAccepted, at)
			}
		case domain.ActionDeclineDeal:
			if p.Role == domain.RoleBuyer {
				return d.endSession(ctx, p, event.EndDealDeclined, at)
			}
		case domain.ActionEndGame:
			if p.Role == domain.RoleSeller {
				return d.endSession(ctx, p, event.EndedBySeller, at)
			}
		case domain.ActionStartGame:
			return d.messenger.SendTo(ctx, p, replies.AlreadyInGame(p.Role), at)
		}
	}

	// Not legal in the current state: no mutation, explanatory reply.
	d.log.Debug("Invalid action for state", "participant", p.ID, "state", p.State, "kind", action.Kind)
	return d.messenger.SendTo(ctx, p, replies.Invalid(p), at)
}

// welcome initializes a record for a first-ever inbound identity and greets
// it. Whatever the first message said, the participant starts idle.
func (d *Dispatcher) welcome(ctx context.Context, msg domain.InboundMessage) error {
	p := domain.NewParticipant(msg.ParticipantID, msg.DisplayName, msg.At)
	if err := d.participants.Insert(p); err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	d.log.Info("New participant initialized", "participant", p.ID)
	return d.messenger.SendTo(ctx, p, replies.Welcome, msg.At)
}

func (d *Dispatcher) toggleNotifications(ctx context.Context, p domain.Participant, enable bool, at time.Time) error {
	if p.NotificationsEnabled == enable {
		text := replies.AlreadyUnsubscribed
		if enable {
			text = replies.AlreadySubscribed
		}
		return d.messenger.SendTo(ctx, p, text, at)
	}

	// The snapshot was read outside any transaction; a blind Update here
	// could overwrite a pairing claim committed from another shard in the
	// meantime. The conditional write detects that, and the toggle is
	// re-applied to the fresh document.
	for {
		err := d.participants.MutateIf(p.ID, p.State, func(cur *domain.Participant) {
			cur.NotificationsEnabled = enable
			cur.UpdatedAt = at
		})
		if err == nil {
			break
		}
		if !errors.Is(err, apperrors.ErrClaimLost) {
			return fmt.Errorf("toggle notifications: %w", err)
		}
		fresh, found, ferr := d.participants.FindOne(p.ID)
		if ferr != nil || !found {
			return fmt.Errorf("toggle notifications: %w", err)
		}
		p = fresh
		if p.NotificationsEnabled == enable {
			break
		}
	}

	p.NotificationsEnabled = enable
	text := replies.UnsubscribedNow
	if enable {
		text = replies.SubscribedNow
	}
	return d.messenger.SendTo(ctx, p, text, at)
}

func (d *Dispatcher) startGame(ctx context.Context, p domain.Participant, at time.Time) error {
	result, err := d.matchmaker.TryPair(&p, at)
	if err != nil {
		return fmt.Errorf("pairing attempt: %w", err)
	}

	if !result.Paired {
		// Queued with an empty pool: let subscribed players know someone
		// is waiting, then tell the requester to hang on.
		notified, err := d.notifier.BroadcastAvailability(ctx, p.ID, at)
		if err != nil {
			d.log.Warn("Availability broadcast failed", "err", err)
		} else {
			d.monitoring.AddPingsSent(uint64(notified))
			d.emit(event.AvailabilityPinged{Excluding: p.ID, Notified: notified, At: at})
		}
		return d.messenger.SendTo(ctx, p, replies.NoOneAvailable, at)
	}

	err = d.transcripts.Append(repositories.TranscriptEntry{
		ID:         uuid.New(),
		Event:      repositories.EntryGameStart,
		Sender:     p.ID,
		Receiver:   result.CounterpartyID,
		SenderRole: result.RequesterRole,
		SessionID:  result.SessionID,
		At:         at,
	})
	if err != nil {
		d.log.Error("Failed to log game start", "session", result.SessionID, "err", err)
	}
	d.monitoring.IncPairing()
	d.emit(event.GamePaired{
		Session:       result.SessionID,
		Requester:     p.ID,
		RequesterRole: result.RequesterRole,
		Counterparty:  result.CounterpartyID,
		At:            at,
	})

	if err := d.messenger.SendTo(ctx, p, replies.IntroFor(result.RequesterRole), at); err != nil {
		d.log.Warn("Intro not delivered", "participant", p.ID, "err", err)
	}
	counterparty, found, err := d.participants.FindOne(result.CounterpartyID)
	if err != nil || !found {
		d.log.Error("Paired counterparty unreadable", "counterparty", result.CounterpartyID, "err", err)
		return nil
	}
	if err := d.messenger.SendTo(ctx, counterparty, replies.IntroFor(counterparty.Role), at); err != nil {
		d.log.Warn("Intro not delivered", "participant", counterparty.ID, "err", err)
	}
	return nil
}

func (d *Dispatcher) stopSeeking(ctx context.Context, p domain.Participant, at time.Time) error {
	for {
		err := d.participants.MutateIf(p.ID, domain.StateSeeking, func(cur *domain.Participant) {
			cur.State = domain.StateIdle
			cur.UpdatedAt = at
		})
		if err == nil {
			p.State = domain.StateIdle
			p.UpdatedAt = at
			return d.messenger.SendTo(ctx, p, replies.SeekingStopped, at)
		}
		if !errors.Is(err, apperrors.ErrClaimLost) {
			return fmt.Errorf("leave pool: %w", err)
		}
		fresh, found, ferr := d.participants.FindOne(p.ID)
		if ferr != nil || !found {
			return fmt.Errorf("leave pool: %w", err)
		}
		if fresh.State != domain.StateSeeking {
			// A pairing claimed this participant between the load and the
			// write. The claim stands and the intro is already on its way;
			// answer for the state the participant is actually in.
			return d.messenger.SendTo(ctx, fresh, replies.Invalid(fresh), at)
		}
		p = fresh
	}
}

func (d *Dispatcher) relayText(ctx context.Context, p domain.Participant, text string, at time.Time) error {
	if err := d.relay.Forward(ctx, p, text, at); err != nil {
		// The line never made it into the transcript, so nothing may be
		// announced downstream either: index and timeline mirror the
		// transcript, never lead it. The session itself is untouched.
		d.log.Warn("Relay failed", "session", p.SessionID, "err", err)
		return nil
	}
	d.emit(event.MessageRelayed{
		Session:    p.SessionID,
		Sender:     p.ID,
		Receiver:   p.CounterpartyID,
		SenderRole: p.Role,
		Text:       text,
		At:         at,
	})
	return nil
}

// endSession handles the three paired exits. The actor moves into its
// feedback state; on an accepted deal the counterparty does too, otherwise
// the counterparty returns straight to idle.
func (d *Dispatcher) endSession(ctx context.Context, p domain.Participant, reason event.EndReason, at time.Time) error {
	entry := repositories.TranscriptEntry{
		ID:         uuid.New(),
		Sender:     p.ID,
		Receiver:   p.CounterpartyID,
		SenderRole: p.Role,
		SessionID:  p.SessionID,
		At:         at,
	}
	var selfState domain.State
	var selfPrompt, counterpartyText string
	counterpartyToFeedback := false

	switch reason {
	case event.EndDealAccepted:
		entry.Event = repositories.EntryDealAccepted
		selfState = domain.StateFeedbackTerms
		selfPrompt = replies.PromptTerms
		counterpartyText = replies.CounterpartyAccepted
		counterpartyToFeedback = true
	case event.EndDealDeclined:
		entry.Event = repositories.EntryDealDeclined
		selfState = domain.StateFeedbackWhyNot
		selfPrompt = replies.PromptWhyNot
		counterpartyText = replies.CounterpartyDeclined
	case event.EndedBySeller:
		entry.Event = repositories.EntryEndedBySeller
		selfState = domain.StateFeedbackWhyNot
		selfPrompt = replies.PromptWhyNot
		counterpartyText = replies.CounterpartyEnded
	}

	if err := d.transcripts.Append(entry); err != nil {
		return fmt.Errorf("log session end: %w", err)
	}

	counterpartyID := p.CounterpartyID
	sessionID := p.SessionID

	p.State = selfState
	p.UpdatedAt = at
	if err := d.participants.Update(p); err != nil {
		return fmt.Errorf("move to feedback: %w", err)
	}

	counterparty, found, err := d.participants.FindOne(counterpartyID)
	if err != nil || !found {
		d.log.Error("Session counterparty unreadable", "counterparty", counterpartyID, "err", err)
	} else {
		if counterpartyToFeedback {
			counterparty.State = domain.StateFeedbackTerms
			counterparty.UpdatedAt = at
		} else {
			counterparty.ResetSession(at)
		}
		if err := d.participants.Update(counterparty); err != nil {
			d.log.Error("Counterparty transition failed", "counterparty", counterpartyID, "err", err)
		} else if err := d.messenger.SendTo(ctx, counterparty, counterpartyText, at); err != nil {
			d.log.Warn("Counterparty notice not delivered", "participant", counterparty.ID, "err", err)
		}
	}

	d.monitoring.IncSessionEnded()
	d.emit(event.SessionEnded{Session: sessionID, EndedBy: p.ID, Reason: reason, At: at})
	return d.messenger.SendTo(ctx, p, selfPrompt, at)
}

func (d *Dispatcher) collectFeedback(ctx context.Context, p domain.Participant, text string, at time.Time) error {
	session := p.SessionID
	kind := FeedbackKind(p.State)
	if err := d.funnel.Collect(ctx, &p, text, at); err != nil {
		return fmt.Errorf("collect feedback: %w", err)
	}
	d.emit(event.FeedbackCollected{
		Session:     session,
		Participant: p.ID,
		Kind:        kind,
		Text:        text,
		At:          at,
	})
	return nil
}

// emit hands a domain event to the fan-out pipeline. Sinks are best-effort
// consumers; when the channel is saturated the event is dropped, never the
// handler blocked.
func (d *Dispatcher) emit(e event.DomainEvent) {
	if d.events == nil {
		return
	}
	select {
	case d.events <- e:
	default:
		d.log.Warn("Event channel full, dropping domain event")
	}
}
