// Package sink contains best-effort consumers of domain events: indexing
// and audit logging. Sinks run behind the fan-out worker and must never
// influence core state.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/blugelabs/bluge"
	"github.com/google/uuid"

	"haggle-lab/domain/event"
)

// SearchSink feeds the full-text index used for reviewing games: relayed
// negotiation lines and collected feedback answers, each tagged with the
// language whatlanggo detects. Indexing failures are logged and dropped;
// the index is an analytics aid, not a system of record.
type SearchSink struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewSearchSink(writer *bluge.Writer, log *slog.Logger) *SearchSink {
	return &SearchSink{writer: writer, log: log}
}

func (s *SearchSink) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageRelayed:
		return s.index(evt.Session, "text", evt.Sender, evt.Text, evt.At)
	case event.FeedbackCollected:
		return s.index(evt.Session, evt.Kind, evt.Participant, evt.Text, evt.At)
	}
	return nil
}

func (s *SearchSink) index(session, kind, sender, text string, at time.Time) error {
	if text == "" {
		return nil
	}
	info := whatlanggo.Detect(text)

	doc := bluge.NewDocument(uuid.NewString()).
		AddField(bluge.NewKeywordField("session", session).StoreValue()).
		AddField(bluge.NewKeywordField("kind", kind).StoreValue()).
		AddField(bluge.NewKeywordField("sender", sender).StoreValue()).
		AddField(bluge.NewTextField("text", text).StoreValue()).
		AddField(bluge.NewKeywordField("language", whatlanggo.LangToString(info.Lang)).StoreValue()).
		AddField(bluge.NewDateTimeField("at", at))

	if err := s.writer.Update(doc.ID(), doc); err != nil {
		s.log.Warn("Search indexing failed", "session", session, "err", err)
		return err
	}
	return nil
}

// Hit is one stored document returned by Search.
type Hit struct {
	Session  string
	Kind     string
	Sender   string
	Text     string
	Language string
}

// Search runs a match query over the indexed text and returns up to limit
// stored hits, best first.
func Search(ctx context.Context, writer *bluge.Writer, terms string, limit int) ([]Hit, error) {
	reader, err := writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("open index reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	query := bluge.NewMatchQuery(terms).SetField("text")
	request := bluge.NewTopNSearch(limit, query)
	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var hits []Hit
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		var hit Hit
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "session":
				hit.Session = string(value)
			case "kind":
				hit.Kind = string(value)
			case "sender":
				hit.Sender = string(value)
			case "text":
				hit.Text = string(value)
			case "language":
				hit.Language = string(value)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
