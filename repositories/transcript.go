//go:generate go run go.uber.org/mock/mockgen -source=transcript.go -destination=../mocks/mock_transcript_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"haggle-lab/domain"
	apperrors "haggle-lab/errors"
)

// Transcript event kinds. One entry per relayed message plus one per
// lifecycle milestone of a session.
const (
	EntryGameStart     = "game_start"
	EntryText          = "text"
	EntryDealAccepted  = "deal_accepted"
	EntryDealDeclined  = "deal_declined"
	EntryEndedBySeller = "ended_by_seller"
	EntryTerms         = "terms"
	EntryWhyNot        = "why_not"
)

type ITranscriptRepository interface {
	Append(entry TranscriptEntry) error
	GetBySession(sessionID string, cursor *string) ([]TranscriptEntry, *string, error)
}

// TranscriptEntry is append-only: entries are never mutated after write.
type TranscriptEntry struct {
	ID         uuid.UUID
	Event      string
	Sender     string
	Receiver   string
	Text       string
	SenderRole domain.Role
	SessionID  string
	At         time.Time
}

type TranscriptRepository struct {
	db         *badger.DB
	log        *slog.Logger
	limitEntry *int
}

func NewTranscriptRepository(db *badger.DB, log *slog.Logger, limitEntry *int) TranscriptRepository {
	return TranscriptRepository{db: db, log: log, limitEntry: limitEntry}
}

type diskTranscriptEntry struct {
	ID         string `cbor:"id"`
	Event      string `cbor:"event"`
	Sender     string `cbor:"sender"`
	Receiver   string `cbor:"receiver,omitempty"`
	Text       string `cbor:"text,omitempty"`
	SenderRole string `cbor:"sender_role,omitempty"`
	SessionID  string `cbor:"session_id"`
	At         int64  `cbor:"at"`
}

// Append persists one transcript entry.
// The key is formatted as "log:{session_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two
//     entries arrive at the same nanosecond.
func (r TranscriptRepository) Append(entry TranscriptEntry) error {
	if entry.SessionID == "" {
		return apperrors.ErrEmptySessionID
	}
	key := fmt.Sprintf("log:%s:%019d:%s",
		entry.SessionID,
		entry.At.UnixNano(),
		entry.ID,
	)
	bytes, err := cbor.Marshal(lo.ToPtr(fromTranscriptEntry(entry)))
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// GetBySession retrieves entries for one session in chronological order
// using a prefix scan. Thanks to the padded timestamp in the key, entries
// are naturally sorted by time. It stops collecting once the configured
// limitEntry is reached and returns a cursor for the next page.
func (r TranscriptRepository) GetBySession(sessionID string, cursor *string) ([]TranscriptEntry, *string, error) {
	var byteEntries [][]byte
	var lastKey string
	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("log:%s:", sessionID)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seekKey := prefix
		if cursor != nil {
			seekKey = append([]byte(prefixStr), []byte(*cursor)...)
		}
		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if r.limitEntry != nil && len(byteEntries) == *r.limitEntry {
				r.log.Debug(fmt.Sprintf("Maximum of %d entries reached", *r.limitEntry))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				byteEntries = append(byteEntries, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var entries []TranscriptEntry
	for _, b := range byteEntries {
		entry, err := decodeTranscriptEntry(b)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
	}
	return entries, &lastKey, nil
}

func fromTranscriptEntry(entry TranscriptEntry) diskTranscriptEntry {
	return diskTranscriptEntry{
		ID:         entry.ID.String(),
		Event:      entry.Event,
		Sender:     entry.Sender,
		Receiver:   entry.Receiver,
		Text:       entry.Text,
		SenderRole: string(entry.SenderRole),
		SessionID:  entry.SessionID,
		At:         entry.At.UnixNano(),
	}
}

func decodeTranscriptEntry(value []byte) (TranscriptEntry, error) {
	var disk diskTranscriptEntry
	if err := cbor.Unmarshal(value, &disk); err != nil {
		return TranscriptEntry{}, err
	}
	parsedID, err := uuid.Parse(disk.ID)
	if err != nil {
		return TranscriptEntry{}, err
	}
	return TranscriptEntry{
		ID:         parsedID,
		Event:      disk.Event,
		Sender:     disk.Sender,
		Receiver:   disk.Receiver,
		Text:       disk.Text,
		SenderRole: domain.Role(disk.SenderRole),
		SessionID:  disk.SessionID,
		At:         nanoTime(disk.At),
	}, nil
}
