package services

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"haggle-lab/replies"
	"haggle-lab/repositories"
)

// Notifier broadcasts "a player is available" pings to subscribed idle and
// seeking participants. Best-effort fan-out: randomized order, no ordering
// guarantee, no retry on individual failures.
type Notifier struct {
	participants repositories.IParticipantRepository
	messenger    *Messenger
	log          *slog.Logger
}

func NewNotifier(participants repositories.IParticipantRepository, messenger *Messenger, log *slog.Logger) *Notifier {
	return &Notifier{participants: participants, messenger: messenger, log: log}
}

// BroadcastAvailability pings every subscribed idle/seeking participant
// except the one who triggered the broadcast. Returns how many pings were
// actually delivered.
func (n *Notifier) BroadcastAvailability(ctx context.Context, excludingID string, at time.Time) (int, error) {
	audience, err := n.participants.FindSubscribed()
	if err != nil {
		return 0, err
	}
	rand.Shuffle(len(audience), func(i, j int) {
		audience[i], audience[j] = audience[j], audience[i]
	})

	notified := 0
	for _, p := range audience {
		if p.ID == excludingID {
			continue
		}
		if err := n.messenger.SendTo(ctx, p, replies.AvailabilityPing, at); err != nil {
			n.log.Debug("Availability ping lost", "participant", p.ID, "err", err)
			continue
		}
		notified++
	}
	return notified, nil
}
