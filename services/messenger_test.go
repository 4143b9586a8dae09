package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"haggle-lab/domain"
	"haggle-lab/mocks"
	"haggle-lab/observability"
	"haggle-lab/replies"
	"haggle-lab/repositories"
)

func TestMessenger_RecordsThenDelivers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	deliverer := mocks.NewMockIDeliverer(ctrl)
	messages := repositories.NewMessageRepository(openTestDB(t), slog.Default(), nil)
	monitoring := observability.NewMonitoringManager(slog.Default())
	m := NewMessenger(deliverer, messages, monitoring, slog.Default())
	now := time.Now().UTC()

	deliverer.EXPECT().
		Deliver(gomock.Any(), "alice", "hello", []string{domain.LabelStartGame}).
		Return("delivery-1", nil)

	req.NoError(m.Send(context.Background(), "alice", "hello", []string{domain.LabelStartGame}, now))

	stored, _, err := messages.GetForParticipant("alice", nil)
	req.NoError(err)
	req.Len(stored, 1)
	req.Equal("hello", stored[0].Text)
	req.False(stored[0].FromUser)
	req.Zero(monitoring.Snapshot().DeliveryFailures)
}

func TestMessenger_DeliveryFailureStillRecorded(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	deliverer := mocks.NewMockIDeliverer(ctrl)
	messages := repositories.NewMessageRepository(openTestDB(t), slog.Default(), nil)
	monitoring := observability.NewMonitoringManager(slog.Default())
	m := NewMessenger(deliverer, messages, monitoring, slog.Default())
	now := time.Now().UTC()

	deliverer.EXPECT().
		Deliver(gomock.Any(), "bob", "hello", gomock.Nil()).
		Return("", errors.New("transport down"))

	err := m.Send(context.Background(), "bob", "hello", nil, now)
	req.Error(err)

	// The outbound log keeps the message even when the transport loses it.
	stored, _, err := messages.GetForParticipant("bob", nil)
	req.NoError(err)
	req.Len(stored, 1)
	req.Equal(uint64(1), monitoring.Snapshot().DeliveryFailures)
}

func TestMessenger_SendToDerivesKeyboardFromState(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	deliverer := mocks.NewMockIDeliverer(ctrl)
	messages := repositories.NewMessageRepository(openTestDB(t), slog.Default(), nil)
	m := NewMessenger(deliverer, messages, observability.NewMonitoringManager(slog.Default()), slog.Default())
	now := time.Now().UTC()

	p := domain.NewParticipant("carol", "", now)
	p.State = domain.StatePaired
	p.Role = domain.RoleBuyer

	deliverer.EXPECT().
		Deliver(gomock.Any(), "carol", "your move", replies.SuggestsFor(p)).
		Return("delivery-2", nil)

	req.NoError(m.SendTo(context.Background(), p, "your move", now))
}
