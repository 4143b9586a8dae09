// Package internal hosts the debug dashboard: a small HTTP view over the
// badger keyspace plus live counters. Local troubleshooting only, never
// part of the conversation path.
package internal

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

//go:embed inspect.html
var templatesFS embed.FS

type InspectRow struct {
	Key       string
	Type      string
	Timestamp string
	EntityID  string
	Detail    string
}

type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  []StatLine
}

type StatLine struct {
	Name  string
	Value any
}

// StartDebugServer serves /inspect over the database. The prefix query
// parameter selects the keyspace: user:, log:, msg: or seen:.
func StartDebugServer(db *badger.DB, port int, statsProvider StatsProvider) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	mux.HandleFunc("/inspect", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "log:"
		}

		data := PageData{Prefix: prefix}
		if statsProvider != nil {
			data.Stats = sortedStats(statsProvider())
		}

		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapRow(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	go func() {
		_ = http.ListenAndServe(fmt.Sprintf("localhost:%d", port), mux)
	}()
}

func sortedStats(stats map[string]any) []StatLine {
	out := make([]StatLine, 0, len(stats))
	for name, value := range stats {
		out = append(out, StatLine{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// mapRow renders one stored record. Keys follow either
// prefix:{entity} or prefix:{entity}:{unixnano}:{uuid}.
func mapRow(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:       key,
		Type:      strings.ToUpper(parts[0]),
		Timestamp: "--:--:--",
		Detail:    "size: " + strconv.Itoa(len(val)) + " bytes",
	}
	if len(parts) >= 2 {
		row.EntityID = shorten(parts[1])
	}
	if len(parts) >= 4 {
		if tsNano, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, tsNano).UTC().Format("15:04:05")
		}
	}

	var fields map[string]any
	if err := cbor.Unmarshal(val, &fields); err == nil {
		row.Detail = describe(fields)
	}
	return row
}

func describe(fields map[string]any) string {
	var out []string
	for _, name := range []string{"event", "state", "role", "text", "from_user"} {
		if value, ok := fields[name]; ok {
			out = append(out, fmt.Sprintf("%s=%v", name, value))
		}
	}
	if len(out) == 0 {
		return fmt.Sprintf("%d fields", len(fields))
	}
	return strings.Join(out, " ")
}

func shorten(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
