// Package tracelog keeps a short-lived, in-memory ring of recent routing
// and enumeration events for debugging a live gateway, without violating
// the protocol's "no persisted state" rule (spec's Non-goals): the
// backing buntdb database is opened against ":memory:" and never touches
// disk, used here purely for its indexed TTL-expiry behavior rather than
// as real persistence.
package tracelog

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/buntdb"
)

// Log is a TTL-bounded ring of trace entries, queryable by key prefix
// (e.g. all entries for a given node address).
type Log struct {
	db  *buntdb.DB
	ttl time.Duration
	seq uint64
}

// Open creates a trace log whose entries expire after ttl.
func Open(ttl time.Duration) (*Log, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return &Log{db: db, ttl: ttl}, nil
}

// Close releases the in-memory database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one trace line under key, expiring after the log's TTL.
func (l *Log) Record(key, line string) error {
	l.seq++
	entryKey := fmt.Sprintf("%s:%020d", key, l.seq)
	return l.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(entryKey, line, &buntdb.SetOptions{Expires: true, TTL: l.ttl})
		return err
	})
}

// Recent returns every still-live entry whose key starts with prefix, in
// the order they were recorded.
func (l *Log) Recent(prefix string) ([]string, error) {
	var out []string
	err := l.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+":*", func(key, value string) bool {
			out = append(out, value)
			return true
		})
	})
	return out, err
}

// logKey is the fixed prefix every hook-captured entry is Recorded under,
// queryable in full via Recent(logKey).
const logKey = "log"

// Hook adapts Log into a zerolog.Hook, so every log line written through a
// logger carrying this hook also lands in the trace ring, independent of
// whatever level/output the logger itself is configured with.
type Hook struct {
	Log *Log
}

// Run implements zerolog.Hook. Write failures are deliberately swallowed:
// the trace ring is a debugging aid, never allowed to affect the log line
// it's shadowing.
func (h Hook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	_ = h.Log.Record(logKey, fmt.Sprintf("%s %s", level, msg))
}
