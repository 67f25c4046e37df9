package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/fp"
	"github.com/tinoosan/fetchq/internal/media"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// schema is executed once on open.
	schema string
	// order is the column that preserves enqueue order.
	order string
	// lock is appended to the SELECT inside Update.
	lock string
	// dollar selects $n placeholders instead of ?.
	dollar   bool
	isUnique func(error) bool
}

// sqlStore implements TaskRepo over database/sql.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

const taskColumns = `id,source,target,expected_size,kind,site,headers,status,bytes_done,retry_count,last_error,created_at,updated_at`

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// q rewrites ? placeholders for dialects that number them.
func (s *sqlStore) q(query string) string {
	if !s.d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.d.schema)
	return err
}

func (s *sqlStore) List(ctx context.Context) (data.Tasks, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY `+s.d.order+` ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(data.Tasks, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlStore) Get(ctx context.Context, id string) (*data.Task, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+taskColumns+` FROM tasks WHERE id=?`), id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// Add inserts the task unless another task already owns its target.
func (s *sqlStore) Add(ctx context.Context, t *data.Task) (*data.Task, error) {
	headers, err := headersJSON(t.Headers)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO tasks (`+taskColumns+`,fingerprint)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (fingerprint) DO NOTHING`),
		t.ID, t.Source, t.Target, t.ExpectedSize, string(t.Kind), t.Site, headers,
		string(t.Status), t.BytesDone, t.RetryCount, t.LastError,
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(), fp.Fingerprint(t.Target))
	if err != nil {
		if s.d.isUnique(err) {
			return nil, data.ErrDuplicateTarget
		}
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, data.ErrDuplicateTarget
	}
	return s.Get(ctx, t.ID)
}

// Update serializes writers on the row inside a transaction.
func (s *sqlStore) Update(ctx context.Context, id string, mutate func(*data.Task) error) (*data.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, s.q(`SELECT `+taskColumns+` FROM tasks WHERE id=?`+s.d.lock), id)
	cur, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt

	headers, err := headersJSON(next.Headers)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, s.q(`
UPDATE tasks SET source=?, target=?, expected_size=?, kind=?, site=?, headers=?, status=?,
	bytes_done=?, retry_count=?, last_error=?, updated_at=?, fingerprint=?
WHERE id=?`),
		next.Source, next.Target, next.ExpectedSize, string(next.Kind), next.Site, headers,
		string(next.Status), next.BytesDone, next.RetryCount, next.LastError,
		next.UpdatedAt.UTC(), fp.Fingerprint(next.Target), id); err != nil {
		if s.d.isUnique(err) {
			return nil, data.ErrDuplicateTarget
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM tasks WHERE id=?`), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(rs rowScanner) (*data.Task, error) {
	var (
		t                data.Task
		kind, status     string
		headers          sql.NullString
		created, updated time.Time
	)
	if err := rs.Scan(&t.ID, &t.Source, &t.Target, &t.ExpectedSize, &kind, &t.Site, &headers,
		&status, &t.BytesDone, &t.RetryCount, &t.LastError, &created, &updated); err != nil {
		return nil, err
	}
	t.Kind = media.Kind(kind)
	t.Status = data.Status(status)
	t.CreatedAt = created
	t.UpdatedAt = updated
	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &t.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func headersJSON(h map[string]string) (any, error) {
	if len(h) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
