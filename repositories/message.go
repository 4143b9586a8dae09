package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IMessageRepository interface {
	Store(message DiskMessage) error
	GetForParticipant(participantID string, cursor *string) ([]DiskMessage, *string, error)
}

// DiskMessage records every message crossing the transport boundary, in
// both directions. FromUser distinguishes inbound text from our replies.
type DiskMessage struct {
	ID            uuid.UUID
	ParticipantID string
	FromUser      bool
	Text          string
	TransportID   string
	At            time.Time
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

type diskMessageRecord struct {
	ID            string `cbor:"id"`
	ParticipantID string `cbor:"participant_id"`
	FromUser      bool   `cbor:"from_user"`
	Text          string `cbor:"text,omitempty"`
	TransportID   string `cbor:"transport_id,omitempty"`
	At            int64  `cbor:"at"`
}

// Store persists one message under "msg:{participant}:{timestamp_padded}:{uuid}",
// same key discipline as the transcript: padded nanoseconds for
// lexicographical time order, UUID to disconnect same-nanosecond collisions.
func (m MessageRepository) Store(message DiskMessage) error {
	key := fmt.Sprintf("msg:%s:%019d:%s",
		message.ParticipantID,
		message.At.UnixNano(),
		message.ID,
	)
	bytes, err := cbor.Marshal(lo.ToPtr(fromDiskMessage(message)))
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// GetForParticipant returns the most recent messages first, paginated with
// an opaque cursor (the key suffix of the last returned entry).
func (m MessageRepository) GetForParticipant(participantID string, cursor *string) ([]DiskMessage, *string, error) {
	var byteMessages [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", participantID)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible key, then walk backwards.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}
		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(byteMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				byteMessages = append(byteMessages, append([]byte(nil), value...))
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

	var messages []DiskMessage
	for _, b := range byteMessages {
		var record diskMessageRecord
		if err = cbor.Unmarshal(b, &record); err != nil {
			return nil, nil, err
		}
		message, err := toDiskMessage(record)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}
	return messages, &lastKey, nil
}

func fromDiskMessage(message DiskMessage) diskMessageRecord {
	return diskMessageRecord{
		ID:            message.ID.String(),
		ParticipantID: message.ParticipantID,
		FromUser:      message.FromUser,
		Text:          message.Text,
		TransportID:   message.TransportID,
		At:            message.At.UnixNano(),
	}
}

func toDiskMessage(record diskMessageRecord) (DiskMessage, error) {
	parsedID, err := uuid.Parse(record.ID)
	if err != nil {
		return DiskMessage{}, err
	}
	return DiskMessage{
		ID:            parsedID,
		ParticipantID: record.ParticipantID,
		FromUser:      record.FromUser,
		Text:          record.Text,
		TransportID:   record.TransportID,
		At:            nanoTime(record.At),
	}, nil
}
