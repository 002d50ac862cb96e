package sqlite

import (
	"database/sql"
	"time"

	dbpkg "github.com/Pi-Jeremy/gateman/internal/db"
	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
)

// Store implements store.Store on SQLite. Reads go straight to db; every
// write goes through the single-writer worker.
type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

var _ store.Store = (*Store)(nil)

func toMs(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().UnixMilli()
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
