package statsdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestRecord(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		panic(err)
	}
	defer db.Close()

	cur, tgt, err := db.Version()
	if err != nil {
		panic(err)
	}
	if cur != 0 {
		panic("current version not 0")
	}
	if err := db.MigrateUp(context.Background(), tgt); err != nil {
		panic(err)
	}

	ts := time.Unix(1700000000, 0)
	if err := db.Record(ts, 3, 1, 4); err != nil {
		t.Fatalf("Record: %v", err)
	}

	var rows []struct {
		TS           int64 `db:"ts"`
		PeerCount    int   `db:"peer_count"`
		ReapedTotal  int   `db:"reaped_total"`
		CreatedTotal int   `db:"created_total"`
	}
	if err := db.x.Select(&rows, `SELECT ts, peer_count, reaped_total, created_total FROM snapshots`); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].TS != ts.Unix() || rows[0].PeerCount != 3 || rows[0].ReapedTotal != 1 || rows[0].CreatedTotal != 4 {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	if err := r.Record(time.Now(), 1, 2, 3); err != nil {
		t.Fatalf("NoopRecorder.Record: %v", err)
	}
}
