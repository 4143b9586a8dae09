//go:generate go run go.uber.org/mock/mockgen -source=participant.go -destination=../mocks/mock_participant_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/samber/lo"

	"haggle-lab/domain"
	apperrors "haggle-lab/errors"
)

type IParticipantRepository interface {
	FindOne(id string) (domain.Participant, bool, error)
	Insert(p domain.Participant) error
	Update(p domain.Participant) error
	FindSeeking() ([]domain.Participant, error)
	FindSubscribed() ([]domain.Participant, error)
	ClaimSeeking(id string, patch func(*domain.Participant)) error
	MutateIf(id string, expect domain.State, patch func(*domain.Participant)) error
}

type ParticipantRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewParticipantRepository(db *badger.DB, log *slog.Logger) ParticipantRepository {
	return ParticipantRepository{db: db, log: log}
}

// diskParticipant is the stored shape. Kept separate from the domain entity
// so the on-disk encoding can evolve independently.
type diskParticipant struct {
	ID                   string `cbor:"id"`
	DisplayName          string `cbor:"display_name,omitempty"`
	NotificationsEnabled bool   `cbor:"notifications_enabled"`
	State                string `cbor:"state"`
	Role                 string `cbor:"role,omitempty"`
	CounterpartyID       string `cbor:"counterparty_id,omitempty"`
	SessionID            string `cbor:"session_id,omitempty"`
	CreatedAt            int64  `cbor:"created_at"`
	UpdatedAt            int64  `cbor:"updated_at"`
}

func participantKey(id string) []byte {
	return []byte(fmt.Sprintf("user:%s", id))
}

func nanoTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func (r ParticipantRepository) FindOne(id string) (domain.Participant, bool, error) {
	var found bool
	var p domain.Participant
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(participantKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(value []byte) error {
			p, err = decodeParticipant(value)
			return err
		})
	})
	return p, found, err
}

func (r ParticipantRepository) Insert(p domain.Participant) error {
	return r.put(p)
}

func (r ParticipantRepository) Update(p domain.Participant) error {
	return r.put(p)
}

func (r ParticipantRepository) put(p domain.Participant) error {
	bytes, err := cbor.Marshal(lo.ToPtr(fromParticipant(p)))
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(participantKey(p.ID), bytes)
	})
}

// FindSeeking is the live Waiting Pool query: every participant currently in
// the seeking state. Membership only changes through state transitions, so
// the scan needs no bookkeeping of its own.
func (r ParticipantRepository) FindSeeking() ([]domain.Participant, error) {
	return r.findWhere(func(p domain.Participant) bool {
		return p.State == domain.StateSeeking
	})
}

// FindSubscribed returns the notification audience: participants who opted
// in and are currently outside any session.
func (r ParticipantRepository) FindSubscribed() ([]domain.Participant, error) {
	return r.findWhere(func(p domain.Participant) bool {
		if !p.NotificationsEnabled {
			return false
		}
		return p.State == domain.StateIdle || p.State == domain.StateSeeking
	})
}

func (r ParticipantRepository) findWhere(keep func(domain.Participant) bool) ([]domain.Participant, error) {
	var participants []domain.Participant
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = true
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte("user:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				p, err := decodeParticipant(value)
				if err != nil {
					return err
				}
				if keep(p) {
					participants = append(participants, p)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return participants, err
}

// ClaimSeeking transitions a participant out of seeking only if its stored
// state is still seeking, as a single conditional write. Two concurrent
// claims on the same participant cannot both succeed: the check and the
// write run in one Badger transaction, and a conflicting commit surfaces as
// ErrClaimLost. Callers treat a lost claim as "candidate no longer
// available" and rescan, never as a reason to proceed on the stale read.
func (r ParticipantRepository) ClaimSeeking(id string, patch func(*domain.Participant)) error {
	return r.MutateIf(id, domain.StateSeeking, patch)
}

// MutateIf applies patch to the stored document only if its state still
// matches expect, as a single read-modify-write transaction. Any write that
// was decided on a snapshot read outside the transaction must go through
// here: a plain Update after a stale FindOne would silently overwrite a
// concurrent claim. A state mismatch or a conflicting commit surfaces as
// ErrClaimLost; callers re-read and decide again.
func (r ParticipantRepository) MutateIf(id string, expect domain.State, patch func(*domain.Participant)) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(participantKey(id))
		if err == badger.ErrKeyNotFound {
			return apperrors.ErrClaimLost
		}
		if err != nil {
			return err
		}
		var p domain.Participant
		err = item.Value(func(value []byte) error {
			p, err = decodeParticipant(value)
			return err
		})
		if err != nil {
			return err
		}
		if p.State != expect {
			return apperrors.ErrClaimLost
		}
		patch(&p)
		bytes, err := cbor.Marshal(lo.ToPtr(fromParticipant(p)))
		if err != nil {
			return err
		}
		return txn.Set(participantKey(id), bytes)
	})
	if err == badger.ErrConflict {
		r.log.Debug("Concurrent write detected, treating as lost", "participant", id)
		return apperrors.ErrClaimLost
	}
	return err
}

func fromParticipant(p domain.Participant) diskParticipant {
	return diskParticipant{
		ID:                   p.ID,
		DisplayName:          p.DisplayName,
		NotificationsEnabled: p.NotificationsEnabled,
		State:                string(p.State),
		Role:                 string(p.Role),
		CounterpartyID:       p.CounterpartyID,
		SessionID:            p.SessionID,
		CreatedAt:            p.CreatedAt.UnixNano(),
		UpdatedAt:            p.UpdatedAt.UnixNano(),
	}
}

func decodeParticipant(value []byte) (domain.Participant, error) {
	var disk diskParticipant
	if err := cbor.Unmarshal(value, &disk); err != nil {
		return domain.Participant{}, err
	}
	return toParticipant(disk), nil
}

func toParticipant(disk diskParticipant) domain.Participant {
	return domain.Participant{
		ID:                   disk.ID,
		DisplayName:          disk.DisplayName,
		NotificationsEnabled: disk.NotificationsEnabled,
		State:                domain.State(disk.State),
		Role:                 domain.Role(disk.Role),
		CounterpartyID:       disk.CounterpartyID,
		SessionID:            disk.SessionID,
		CreatedAt:            nanoTime(disk.CreatedAt),
		UpdatedAt:            nanoTime(disk.UpdatedAt),
	}
}
