package repositories

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"haggle-lab/domain"
	apperrors "haggle-lab/errors"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestParticipantRepository_InsertAndFind(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repo := NewParticipantRepository(db, slog.Default())

	now := time.Now().UTC()
	p := domain.NewParticipant("42", "alice", now)
	p.NotificationsEnabled = true
	req.NoError(repo.Insert(p))

	fetched, found, err := repo.FindOne("42")
	req.NoError(err)
	req.True(found)
	req.Equal(p, fetched)

	_, found, err = repo.FindOne("unknown")
	req.NoError(err)
	req.False(found)
}

func TestParticipantRepository_FindSeeking(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repo := NewParticipantRepository(db, slog.Default())
	now := time.Now().UTC()

	idle := domain.NewParticipant("idle", "", now)
	seeking := domain.NewParticipant("seeking", "", now)
	seeking.State = domain.StateSeeking
	paired := domain.NewParticipant("paired", "", now)
	paired.EnterSession(domain.RoleBuyer, "other", "session-1", now)

	for _, p := range []domain.Participant{idle, seeking, paired} {
		req.NoError(repo.Insert(p))
	}

	pool, err := repo.FindSeeking()
	req.NoError(err)
	req.Len(pool, 1)
	req.Equal("seeking", pool[0].ID)
}

func TestParticipantRepository_FindSubscribed(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repo := NewParticipantRepository(db, slog.Default())
	now := time.Now().UTC()

	subscribedIdle := domain.NewParticipant("a", "", now)
	subscribedIdle.NotificationsEnabled = true

	subscribedSeeking := domain.NewParticipant("b", "", now)
	subscribedSeeking.NotificationsEnabled = true
	subscribedSeeking.State = domain.StateSeeking

	subscribedPaired := domain.NewParticipant("c", "", now)
	subscribedPaired.NotificationsEnabled = true
	subscribedPaired.EnterSession(domain.RoleSeller, "a", "session-1", now)

	mute := domain.NewParticipant("d", "", now)

	for _, p := range []domain.Participant{subscribedIdle, subscribedSeeking, subscribedPaired, mute} {
		req.NoError(repo.Insert(p))
	}

	audience, err := repo.FindSubscribed()
	req.NoError(err)
	req.Len(audience, 2)
	ids := []string{audience[0].ID, audience[1].ID}
	req.ElementsMatch([]string{"a", "b"}, ids)
}

func TestParticipantRepository_ClaimSeeking(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repo := NewParticipantRepository(db, slog.Default())
	now := time.Now().UTC()

	p := domain.NewParticipant("x", "", now)
	p.State = domain.StateSeeking
	req.NoError(repo.Insert(p))

	err := repo.ClaimSeeking("x", func(p *domain.Participant) {
		p.EnterSession(domain.RoleBuyer, "y", "session-9", now)
	})
	req.NoError(err)

	claimed, _, err := repo.FindOne("x")
	req.NoError(err)
	req.Equal(domain.StatePaired, claimed.State)
	req.Equal("session-9", claimed.SessionID)

	// A second claim must fail: the stored state is no longer seeking.
	err = repo.ClaimSeeking("x", func(p *domain.Participant) {
		p.EnterSession(domain.RoleSeller, "z", "session-10", now)
	})
	req.ErrorIs(err, apperrors.ErrClaimLost)

	err = repo.ClaimSeeking("ghost", func(p *domain.Participant) {})
	req.ErrorIs(err, apperrors.ErrClaimLost)
}

func TestParticipantRepository_ClaimSeeking_ConcurrentClaimsSingleWinner(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repo := NewParticipantRepository(db, slog.Default())
	now := time.Now().UTC()

	p := domain.NewParticipant("contested", "", now)
	p.State = domain.StateSeeking
	req.NoError(repo.Insert(p))

	const claimers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.ClaimSeeking("contested", func(p *domain.Participant) {
				p.EnterSession(domain.RoleSeller, "requester", "session", now)
			})
			if err == nil {
				wins.Add(1)
			} else if err != apperrors.ErrClaimLost {
				t.Errorf("unexpected claim error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	req.Equal(int32(1), wins.Load())
}

func TestParticipantRepository_MutateIf(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repo := NewParticipantRepository(db, slog.Default())
	now := time.Now().UTC()

	p := domain.NewParticipant("toggler", "", now)
	p.State = domain.StateSeeking
	req.NoError(repo.Insert(p))

	err := repo.MutateIf("toggler", domain.StateSeeking, func(p *domain.Participant) {
		p.NotificationsEnabled = true
	})
	req.NoError(err)

	stored, _, err := repo.FindOne("toggler")
	req.NoError(err)
	req.True(stored.NotificationsEnabled)
	req.Equal(domain.StateSeeking, stored.State)
}

func TestParticipantRepository_MutateIf_StaleSnapshotLoses(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repo := NewParticipantRepository(db, slog.Default())
	now := time.Now().UTC()

	p := domain.NewParticipant("contested", "", now)
	p.State = domain.StateSeeking
	req.NoError(repo.Insert(p))

	// A claim lands between the caller's snapshot read and its write.
	err := repo.ClaimSeeking("contested", func(p *domain.Participant) {
		p.EnterSession(domain.RoleSeller, "requester", "session-1", now)
	})
	req.NoError(err)

	// The write decided against the seeking snapshot must not go through.
	err = repo.MutateIf("contested", domain.StateSeeking, func(p *domain.Participant) {
		p.State = domain.StateIdle
	})
	req.ErrorIs(err, apperrors.ErrClaimLost)

	stored, _, err := repo.FindOne("contested")
	req.NoError(err)
	req.Equal(domain.StatePaired, stored.State)
	req.Equal("requester", stored.CounterpartyID)
	req.Equal("session-1", stored.SessionID)
}
