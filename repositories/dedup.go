//go:generate go run go.uber.org/mock/mockgen -source=dedup.go -destination=../mocks/mock_dedup_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type IDedupRepository interface {
	Seen(messageID string) (bool, error)
}

// DedupRepository suppresses duplicate inbound deliveries (retried
// webhooks and the like) keyed on the transport message identifier.
// Marks expire after the retention window, so the set stays bounded
// instead of growing for the lifetime of the process.
type DedupRepository struct {
	db        *badger.DB
	log       *slog.Logger
	retention time.Duration
}

func NewDedupRepository(db *badger.DB, log *slog.Logger, retention time.Duration) DedupRepository {
	return DedupRepository{db: db, log: log, retention: retention}
}

func dedupKey(messageID string) []byte {
	return []byte(fmt.Sprintf("seen:%s", messageID))
}

// Seen marks the identifier and reports whether it had already been marked.
// The check and the mark run in one transaction; two concurrent deliveries
// of the same identifier resolve with exactly one of them seeing false.
func (r DedupRepository) Seen(messageID string) (bool, error) {
	var seen bool
	err := r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(dedupKey(messageID))
		if err == nil {
			seen = true
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		entry := badger.NewEntry(dedupKey(messageID), nil).WithTTL(r.retention)
		return txn.SetEntry(entry)
	})
	if err == badger.ErrConflict {
		// The competing delivery won the insert.
		r.log.Debug("Concurrent duplicate suppressed", "message", messageID)
		return true, nil
	}
	return seen, err
}
