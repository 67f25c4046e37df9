package repo

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteRepo implements TaskRepo on a single SQLite file. It is the default
// durable store: queue state survives restarts without an external server.
type SQLiteRepo struct {
	sqlStore
}

var _ TaskRepo = (*SQLiteRepo)(nil)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    target TEXT NOT NULL,
    expected_size INTEGER NOT NULL DEFAULT -1,
    kind TEXT NOT NULL DEFAULT '',
    site TEXT NOT NULL DEFAULT '',
    headers TEXT,
    status TEXT NOT NULL,
    bytes_done INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    fingerprint TEXT NOT NULL UNIQUE
);
`,
	order:    "rowid",
	isUnique: isSQLiteUniqueViolation,
}

// NewSQLiteRepo opens (creating if needed) dataDir/fetchq.db.
func NewSQLiteRepo(dataDir string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_time_format", "sqlite")
	dsn := "file:" + filepath.Join(dataDir, "fetchq.db") + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; the scheduler is the only writer anyway.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &SQLiteRepo{sqlStore{db: db, d: sqliteDialect}}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
