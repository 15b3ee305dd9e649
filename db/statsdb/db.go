// Package statsdb implements an optional sqlite3-backed diagnostics
// recorder for the forwarder: periodic snapshots of peer-table size and
// reap counts, consulted by nothing else in the engine.
package statsdb

import (
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
)

// DB stores forwarder diagnostics snapshots in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens a DB from the provided sqlite3 filename. The caller is
// responsible for checking Version and calling MigrateUp, same as with the
// reference repo's db packages.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_cache_size":   {"-32000"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	return &DB{x}, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// Recorder is the diagnostics sink the reaper reports sweep summaries to.
type Recorder interface {
	Record(ts time.Time, peerCount, reapedTotal, createdTotal int) error
}

// Record inserts one snapshot row.
func (db *DB) Record(ts time.Time, peerCount, reapedTotal, createdTotal int) error {
	_, err := db.x.Exec(`
		INSERT INTO snapshots (ts, peer_count, reaped_total, created_total)
		VALUES (?, ?, ?, ?)
	`, ts.Unix(), peerCount, reapedTotal, createdTotal)
	return err
}

// NoopRecorder is used when no --stats-db path is configured; the sqlite3
// dependency is never touched at runtime in that case.
type NoopRecorder struct{}

func (NoopRecorder) Record(time.Time, int, int, int) error { return nil }
