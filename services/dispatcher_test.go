package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"haggle-lab/domain"
	"haggle-lab/domain/event"
	"haggle-lab/observability"
	"haggle-lab/replies"
	"haggle-lab/repositories"
	"haggle-lab/transport"
)

type testEnv struct {
	dispatcher   *Dispatcher
	matchmaker   *Matchmaker
	participants repositories.ParticipantRepository
	transcripts  repositories.TranscriptRepository
	messages     repositories.MessageRepository
	recorder     *transport.Recorder
	monitoring   *observability.MonitoringManager
	events       chan event.DomainEvent
	now          time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.Default()
	db := openTestDB(t)

	participants := repositories.NewParticipantRepository(db, log)
	transcripts := repositories.NewTranscriptRepository(db, log, nil)
	messages := repositories.NewMessageRepository(db, log, nil)
	dedup := repositories.NewDedupRepository(db, log, time.Hour)

	recorder := transport.NewRecorder()
	monitoring := observability.NewMonitoringManager(log)
	messenger := NewMessenger(recorder, messages, monitoring, log)
	matchmaker := NewMatchmaker(participants, log)

	events := make(chan event.DomainEvent, 64)
	dispatcher := NewDispatcher(
		participants,
		transcripts,
		messages,
		dedup,
		matchmaker,
		NewRelay(participants, transcripts, messenger, log),
		NewFunnel(participants, transcripts, messenger, log),
		NewNotifier(participants, messenger, log),
		messenger,
		monitoring,
		events,
		log,
	)
	return &testEnv{
		dispatcher:   dispatcher,
		matchmaker:   matchmaker,
		participants: participants,
		transcripts:  transcripts,
		messages:     messages,
		recorder:     recorder,
		monitoring:   monitoring,
		events:       events,
		now:          time.Now().UTC(),
	}
}

func (env *testEnv) handle(t *testing.T, participantID, text string) {
	t.Helper()
	require.NoError(t, env.dispatcher.Handle(context.Background(), domain.InboundMessage{
		MessageID:     uuid.NewString(),
		ParticipantID: participantID,
		DisplayName:   participantID,
		Text:          text,
		At:            env.now,
	}))
}

func (env *testEnv) load(t *testing.T, participantID string) domain.Participant {
	t.Helper()
	p, found, err := env.participants.FindOne(participantID)
	require.NoError(t, err)
	require.True(t, found)
	return p
}

func (env *testEnv) lastTextTo(t *testing.T, participantID string) string {
	t.Helper()
	deliveries := env.recorder.DeliveriesTo(participantID)
	require.NotEmpty(t, deliveries, "no deliveries to %s", participantID)
	return deliveries[len(deliveries)-1].Text
}

func (env *testEnv) drainEvents() []event.DomainEvent {
	var out []event.DomainEvent
	for {
		select {
		case e := <-env.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

// pairUp walks two fresh participants into one session with a fixed coin:
// the second requester plays the buyer.
func (env *testEnv) pairUp(t *testing.T, sellerID, buyerID string) {
	t.Helper()
	env.handle(t, sellerID, "hi")
	env.handle(t, buyerID, "hi")
	env.handle(t, sellerID, domain.LabelStartGame)
	env.matchmaker.coin = func() bool { return true }
	env.handle(t, buyerID, domain.LabelStartGame)

	buyer := env.load(t, buyerID)
	require.Equal(t, domain.RoleBuyer, buyer.Role)
	env.recorder.Reset()
	env.drainEvents()
}

func TestDispatcher_WelcomesUnknownParticipant(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	env.handle(t, "newcomer", "hello there")

	p := env.load(t, "newcomer")
	req.Equal(domain.StateIdle, p.State)

	deliveries := env.recorder.DeliveriesTo("newcomer")
	req.Len(deliveries, 1)
	req.Equal(replies.Welcome, deliveries[0].Text)
	req.Equal([]string{domain.LabelSubscribe, domain.LabelStartGame}, deliveries[0].SuggestedReplies)
}

func TestDispatcher_EmptyPayloadGetsFixedReply(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "alice", "hi")
	env.recorder.Reset()

	env.handle(t, "alice", "   ")

	req.Equal(replies.EmptyPayload, env.lastTextTo(t, "alice"))
	req.Equal(domain.StateIdle, env.load(t, "alice").State)
}

func TestDispatcher_StartWithEmptyPoolQueues(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "alice", "hi")
	env.recorder.Reset()

	env.handle(t, "alice", domain.LabelStartGame)

	req.Equal(domain.StateSeeking, env.load(t, "alice").State)
	req.Equal(replies.NoOneAvailable, env.lastTextTo(t, "alice"))

	events := env.drainEvents()
	req.Len(events, 1)
	ping, ok := events[0].(event.AvailabilityPinged)
	req.True(ok)
	req.Zero(ping.Notified)
}

func TestDispatcher_QueueingPingsSubscribers(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "fan", "hi")
	env.handle(t, "fan", domain.LabelSubscribe)
	env.handle(t, "alice", "hi")
	env.recorder.Reset()

	env.handle(t, "alice", domain.LabelStartGame)

	req.Equal(replies.AvailabilityPing, env.lastTextTo(t, "fan"))
	req.Equal(uint64(1), env.monitoring.Snapshot().PingsSent)

	// The requester itself is never pinged.
	for _, d := range env.recorder.DeliveriesTo("alice") {
		req.NotEqual(replies.AvailabilityPing, d.Text)
	}
}

func TestDispatcher_PairingIntroducesBothSides(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "alice", "hi")
	env.handle(t, "bob", "hi")
	env.handle(t, "alice", domain.LabelStartGame)
	env.recorder.Reset()
	env.drainEvents()

	env.matchmaker.coin = func() bool { return true } // requester buys
	env.handle(t, "bob", domain.LabelStartGame)

	alice := env.load(t, "alice")
	bob := env.load(t, "bob")
	req.Equal(domain.StatePaired, alice.State)
	req.Equal(domain.StatePaired, bob.State)
	req.Equal(alice.SessionID, bob.SessionID)
	req.Equal(domain.RoleBuyer, bob.Role)
	req.Equal(domain.RoleSeller, alice.Role)

	req.Equal(replies.IntroBuyer, env.lastTextTo(t, "bob"))
	req.Equal(replies.IntroSeller, env.lastTextTo(t, "alice"))

	// Role-specific keyboards.
	bobDeliveries := env.recorder.DeliveriesTo("bob")
	req.Contains(bobDeliveries[len(bobDeliveries)-1].SuggestedReplies, domain.LabelAcceptDeal)
	aliceDeliveries := env.recorder.DeliveriesTo("alice")
	req.Contains(aliceDeliveries[len(aliceDeliveries)-1].SuggestedReplies, domain.LabelEndGame)

	events := env.drainEvents()
	req.Len(events, 1)
	paired, ok := events[0].(event.GamePaired)
	req.True(ok)
	req.Equal(bob.SessionID, paired.Session)

	entries, _, err := env.transcripts.GetBySession(bob.SessionID, nil)
	req.NoError(err)
	req.Len(entries, 1)
	req.Equal(repositories.EntryGameStart, entries[0].Event)
}

func TestDispatcher_RelaysTextVerbatim(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.pairUp(t, "seller", "buyer")

	const offer = "I'll take it for $3/month, and not a cent more!"
	env.handle(t, "buyer", offer)

	req.Equal(offer, env.lastTextTo(t, "seller"))
	req.Empty(env.recorder.DeliveriesTo("buyer"), "sender gets no echo")

	session := env.load(t, "buyer").SessionID
	entries, _, err := env.transcripts.GetBySession(session, nil)
	req.NoError(err)
	req.Len(entries, 1)
	req.Equal(repositories.EntryText, entries[0].Event)
	req.Equal(offer, entries[0].Text)
	req.Equal(domain.RoleBuyer, entries[0].SenderRole)

	events := env.drainEvents()
	req.Len(events, 1)
	relayed, ok := events[0].(event.MessageRelayed)
	req.True(ok)
	req.Equal(offer, relayed.Text)
}

func TestDispatcher_AcceptDealRunsFullFunnel(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.pairUp(t, "seller", "buyer")
	session := env.load(t, "buyer").SessionID

	env.handle(t, "buyer", domain.LabelAcceptDeal)

	// Both sides move to the terms question.
	req.Equal(domain.StateFeedbackTerms, env.load(t, "buyer").State)
	req.Equal(domain.StateFeedbackTerms, env.load(t, "seller").State)
	req.Equal(replies.PromptTerms, env.lastTextTo(t, "buyer"))
	req.Equal(replies.CounterpartyAccepted, env.lastTextTo(t, "seller"))

	// A feedback question carries no keyboard.
	buyerDeliveries := env.recorder.DeliveriesTo("buyer")
	req.Nil(buyerDeliveries[len(buyerDeliveries)-1].SuggestedReplies)

	// Any non-empty text closes the funnel, label lookalikes included.
	env.handle(t, "buyer", "$4/month with the first month free")
	env.handle(t, "seller", domain.LabelStartGame)

	for _, id := range []string{"buyer", "seller"} {
		p := env.load(t, id)
		req.Equal(domain.StateIdle, p.State)
		req.Empty(p.SessionID)
		req.Empty(p.CounterpartyID)
		req.Equal(domain.RoleNone, p.Role)
		req.Equal(replies.FeedbackThanks, env.lastTextTo(t, id))
	}

	entries, _, err := env.transcripts.GetBySession(session, nil)
	req.NoError(err)
	req.Len(entries, 3)
	req.Equal(repositories.EntryDealAccepted, entries[0].Event)
	req.Equal(repositories.EntryTerms, entries[1].Event)
	req.Equal(repositories.EntryTerms, entries[2].Event)
	req.Equal(domain.LabelStartGame, entries[2].Text, "label text is feedback, not a command")

	events := env.drainEvents()
	req.Len(events, 3)
	ended, ok := events[0].(event.SessionEnded)
	req.True(ok)
	req.Equal(event.EndDealAccepted, ended.Reason)
	_, ok = events[1].(event.FeedbackCollected)
	req.True(ok)
	_, ok = events[2].(event.FeedbackCollected)
	req.True(ok)
}

func TestDispatcher_DeclineDealReleasesCounterparty(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.pairUp(t, "seller", "buyer")
	session := env.load(t, "buyer").SessionID

	env.handle(t, "buyer", domain.LabelDeclineDeal)

	req.Equal(domain.StateFeedbackWhyNot, env.load(t, "buyer").State)
	seller := env.load(t, "seller")
	req.Equal(domain.StateIdle, seller.State)
	req.Empty(seller.SessionID)
	req.Equal(replies.PromptWhyNot, env.lastTextTo(t, "buyer"))
	req.Equal(replies.CounterpartyDeclined, env.lastTextTo(t, "seller"))

	entries, _, err := env.transcripts.GetBySession(session, nil)
	req.NoError(err)
	req.Len(entries, 1)
	req.Equal(repositories.EntryDealDeclined, entries[0].Event)
}

func TestDispatcher_SellerEndsGame(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.pairUp(t, "seller", "buyer")

	env.handle(t, "seller", domain.LabelEndGame)

	req.Equal(domain.StateFeedbackWhyNot, env.load(t, "seller").State)
	req.Equal(domain.StateIdle, env.load(t, "buyer").State)
	req.Equal(replies.PromptWhyNot, env.lastTextTo(t, "seller"))
	req.Equal(replies.CounterpartyEnded, env.lastTextTo(t, "buyer"))

	events := env.drainEvents()
	req.Len(events, 1)
	ended, ok := events[0].(event.SessionEnded)
	req.True(ok)
	req.Equal(event.EndedBySeller, ended.Reason)
}

func TestDispatcher_RoleGuardsOnSessionExits(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.pairUp(t, "seller", "buyer")

	// The seller cannot accept or decline; the buyer cannot end.
	env.handle(t, "seller", domain.LabelAcceptDeal)
	req.Equal(domain.StatePaired, env.load(t, "seller").State)
	env.handle(t, "seller", domain.LabelDeclineDeal)
	req.Equal(domain.StatePaired, env.load(t, "seller").State)
	env.handle(t, "buyer", domain.LabelEndGame)
	req.Equal(domain.StatePaired, env.load(t, "buyer").State)

	// Each rejection answered, nothing relayed to the counterparty.
	req.Len(env.recorder.DeliveriesTo("seller"), 2)
	req.Len(env.recorder.DeliveriesTo("buyer"), 1)

	session := env.load(t, "buyer").SessionID
	entries, _, err := env.transcripts.GetBySession(session, nil)
	req.NoError(err)
	req.Empty(entries)
}

func TestDispatcher_StartWhilePairedIsRefused(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.pairUp(t, "seller", "buyer")

	env.handle(t, "buyer", domain.LabelStartGame)

	req.Equal(domain.StatePaired, env.load(t, "buyer").State)
	req.Equal(replies.AlreadyInGame(domain.RoleBuyer), env.lastTextTo(t, "buyer"))
}

func TestDispatcher_StopSeekingReturnsToIdle(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "alice", "hi")
	env.handle(t, "alice", domain.LabelStartGame)

	env.handle(t, "alice", domain.LabelStopSeeking)

	req.Equal(domain.StateIdle, env.load(t, "alice").State)
	req.Equal(replies.SeekingStopped, env.lastTextTo(t, "alice"))

	// The pool no longer offers alice.
	env.handle(t, "bob", "hi")
	env.handle(t, "bob", domain.LabelStartGame)
	req.Equal(domain.StateSeeking, env.load(t, "bob").State)
}

func TestDispatcher_SeekingStartIsInformedNoOp(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "alice", "hi")
	env.handle(t, "alice", domain.LabelStartGame)
	env.recorder.Reset()

	env.handle(t, "alice", domain.LabelStartGame)

	req.Equal(domain.StateSeeking, env.load(t, "alice").State)
	req.Equal(replies.AlreadySeeking, env.lastTextTo(t, "alice"))
}

func TestDispatcher_DuplicateMessageSuppressed(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "alice", "hi")
	env.recorder.Reset()

	msg := domain.InboundMessage{
		MessageID:     uuid.NewString(),
		ParticipantID: "alice",
		Text:          domain.LabelStartGame,
		At:            env.now,
	}
	req.NoError(env.dispatcher.Handle(context.Background(), msg))
	firstCount := len(env.recorder.Deliveries())

	// Same transport message id again: no reply, no state change.
	req.NoError(env.dispatcher.Handle(context.Background(), msg))

	req.Len(env.recorder.Deliveries(), firstCount)
	req.Equal(domain.StateSeeking, env.load(t, "alice").State)
	req.Equal(uint64(1), env.monitoring.Snapshot().DuplicatesSuppressed)
}

func TestDispatcher_SubscriptionToggleIsIdempotent(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "alice", "hi")

	env.handle(t, "alice", domain.LabelSubscribe)
	req.True(env.load(t, "alice").NotificationsEnabled)
	req.Equal(replies.SubscribedNow, env.lastTextTo(t, "alice"))

	env.handle(t, "alice", domain.LabelSubscribe)
	req.True(env.load(t, "alice").NotificationsEnabled)
	req.Equal(replies.AlreadySubscribed, env.lastTextTo(t, "alice"))

	env.handle(t, "alice", domain.LabelUnsubscribe)
	req.False(env.load(t, "alice").NotificationsEnabled)
	req.Equal(replies.UnsubscribedNow, env.lastTextTo(t, "alice"))

	env.handle(t, "alice", domain.LabelUnsubscribe)
	req.Equal(replies.AlreadyUnsubscribed, env.lastTextTo(t, "alice"))
}

func TestDispatcher_ToggleWorksMidSession(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.pairUp(t, "seller", "buyer")

	env.handle(t, "buyer", domain.LabelSubscribe)

	buyer := env.load(t, "buyer")
	req.True(buyer.NotificationsEnabled)
	req.Equal(domain.StatePaired, buyer.State, "toggling never disturbs the session")
}

func TestDispatcher_DeliveryFaultDoesNotRollBack(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.pairUp(t, "seller", "buyer")
	session := env.load(t, "buyer").SessionID
	env.recorder.FailFor("seller")

	env.handle(t, "buyer", "can you hear me?")

	// Transcript entry stands and the session survives the fault.
	entries, _, err := env.transcripts.GetBySession(session, nil)
	req.NoError(err)
	req.Len(entries, 1)
	req.Equal(domain.StatePaired, env.load(t, "buyer").State)
	req.Equal(domain.StatePaired, env.load(t, "seller").State)
	req.Equal(uint64(1), env.monitoring.Snapshot().DeliveryFailures)

	// The line is on record, so downstream consumers still hear about it.
	events := env.drainEvents()
	req.Len(events, 1)
	relayed, ok := events[0].(event.MessageRelayed)
	req.True(ok)
	req.Equal("can you hear me?", relayed.Text)

	// Once the transport recovers the session continues.
	env.recorder.Restore("seller")
	env.handle(t, "buyer", "now?")
	req.Equal("now?", env.lastTextTo(t, "seller"))
}

// A line that never reached the transcript must not be announced to the
// event sinks: the search index and timeline follow the transcript.
func TestDispatcher_FailedAppendEmitsNothing(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	// A paired record with no session id makes the transcript append fail
	// while the relay path is otherwise intact.
	broken := domain.Participant{
		ID:             "alice",
		State:          domain.StatePaired,
		Role:           domain.RoleBuyer,
		CounterpartyID: "bob",
		CreatedAt:      env.now,
		UpdatedAt:      env.now,
	}
	req.NoError(env.participants.Insert(broken))

	req.NoError(env.dispatcher.relayText(context.Background(), broken, "lost line", env.now))

	req.Empty(env.drainEvents())
	req.Empty(env.recorder.DeliveriesTo("bob"))
}

func TestDispatcher_EmptyPayloadInFeedbackReprompts(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.pairUp(t, "seller", "buyer")
	env.handle(t, "buyer", domain.LabelAcceptDeal)
	env.recorder.Reset()

	env.handle(t, "buyer", "")

	req.Equal(domain.StateFeedbackTerms, env.load(t, "buyer").State, "empty payload never consumes the question")
	req.Equal(replies.PromptTerms, env.lastTextTo(t, "buyer"))
}

func TestDispatcher_FreeTextOutsideSessionIsExplained(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "alice", "hi")
	env.recorder.Reset()

	env.handle(t, "alice", "anyone around?")

	p := env.load(t, "alice")
	req.Equal(domain.StateIdle, p.State)
	req.Equal(replies.Invalid(p), env.lastTextTo(t, "alice"))
}

// A concurrent pairing can claim a participant between the dispatcher's
// snapshot load and its write. The write must lose to the claim, never
// overwrite it.
func TestDispatcher_StaleStopSeekingCannotEraseClaim(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "alice", "hi")
	env.handle(t, "bob", "hi")
	env.handle(t, "alice", domain.LabelStartGame)

	// Snapshot taken while alice was still seeking, the way Handle reads
	// before routing.
	stale := env.load(t, "alice")
	req.Equal(domain.StateSeeking, stale.State)

	// Bob's pairing claims alice before the stop-seeking write lands.
	env.handle(t, "bob", domain.LabelStartGame)
	req.Equal(domain.StatePaired, env.load(t, "alice").State)
	env.recorder.Reset()

	req.NoError(env.dispatcher.stopSeeking(context.Background(), stale, env.now))

	// The claim stands: alice is still paired and the symmetry invariant
	// holds, so no third requester can book her again.
	alice := env.load(t, "alice")
	req.Equal(domain.StatePaired, alice.State)
	req.Equal("bob", alice.CounterpartyID)
	req.NotEmpty(alice.SessionID)
	bob := env.load(t, "bob")
	req.Equal(alice.SessionID, bob.SessionID)
	req.Equal("alice", bob.CounterpartyID)
	req.Equal(replies.Invalid(alice), env.lastTextTo(t, "alice"))

	pool, err := env.participants.FindSeeking()
	req.NoError(err)
	req.Empty(pool)
}

func TestDispatcher_StaleToggleAppliesWithoutErasingClaim(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.handle(t, "alice", "hi")
	env.handle(t, "bob", "hi")
	env.handle(t, "alice", domain.LabelStartGame)

	stale := env.load(t, "alice")
	req.Equal(domain.StateSeeking, stale.State)

	env.handle(t, "bob", domain.LabelStartGame)
	req.Equal(domain.StatePaired, env.load(t, "alice").State)
	env.recorder.Reset()

	req.NoError(env.dispatcher.toggleNotifications(context.Background(), stale, true, env.now))

	// The toggle reached the fresh document; the pairing fields survived.
	alice := env.load(t, "alice")
	req.True(alice.NotificationsEnabled)
	req.Equal(domain.StatePaired, alice.State)
	req.Equal("bob", alice.CounterpartyID)
	req.NotEmpty(alice.SessionID)
	req.Equal(replies.SubscribedNow, env.lastTextTo(t, "alice"))
}
