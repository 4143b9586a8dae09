// Command viewer inspects the stored transcripts and the feedback search
// index. Sessions are listed with tablewriter; --query runs a full-text
// search over everything the search sink has indexed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"

	"haggle-lab/sink"
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" default:"./data/badger"`
	BlugeFilepath  string `envconfig:"BLUGE_FILEPATH" default:"./data/bluge"`
	// VIEWER_COLOURS enables colorized output for better readability
	Colours bool `envconfig:"VIEWER_COLOURS" default:"true"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal("Error while reading environment: ", err)
	}

	prefix := flag.String("prefix", "log:", "Key prefix to scan (log: transcripts, msg: raw messages)")
	query := flag.String("query", "", "Full-text search over indexed negotiation and feedback text")
	limit := flag.Int("limit", 20, "Maximum search hits")
	flag.Parse()

	if *query != "" {
		if err := runSearch(cfg, *query, *limit); err != nil {
			log.Fatal("Search failed: ", err)
		}
		return
	}
	if err := runScan(cfg, *prefix); err != nil {
		log.Fatal("Scan failed: ", err)
	}
}

func runScan(cfg Config, prefix string) error {
	db, err := badger.Open(badger.DefaultOptions(cfg.BadgerFilepath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		return fmt.Errorf("error while opening Badger: %w", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Session", "Event", "Sender", "Role", "Text"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var row struct {
					Event      string `cbor:"event"`
					Sender     string `cbor:"sender"`
					Text       string `cbor:"text"`
					SenderRole string `cbor:"sender_role"`
					SessionID  string `cbor:"session_id"`
				}
				if err := cbor.Unmarshal(v, &row); err != nil {
					// Don't stop the whole scan over one bad value.
					fmt.Printf("Error unmarshaling key %s: %v\n", it.Item().Key(), err)
					return nil
				}
				eventCell := row.Event
				if cfg.Colours {
					eventCell = colorize(row.Event)
				}
				table.Append([]string{
					shorten(row.SessionID), eventCell, row.Sender, row.SenderRole, row.Text,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

func runSearch(cfg Config, query string, limit int) error {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(cfg.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("error while opening Bluge: %w", err)
	}
	defer writer.Close()

	hits, err := sink.Search(context.Background(), writer, query, limit)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, hit := range hits {
		header := fmt.Sprintf("[%s] %s (%s, %s)", shorten(hit.Session), hit.Kind, hit.Sender, hit.Language)
		if cfg.Colours {
			color.Cyan.Println(header)
		} else {
			fmt.Println(header)
		}
		fmt.Println("  " + strings.ReplaceAll(hit.Text, "\n", "\n  "))
	}
	return nil
}

func colorize(event string) string {
	switch event {
	case "deal_accepted", "terms":
		return color.Green.Sprint(event)
	case "deal_declined", "ended_by_seller", "why_not":
		return color.Red.Sprint(event)
	case "game_start":
		return color.Yellow.Sprint(event)
	}
	return event
}

func shorten(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}
