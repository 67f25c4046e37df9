package repo

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresRepo implements TaskRepo backed by PostgreSQL.
// The tasks table carries a unique index on fingerprint so two tasks can
// never share a destination.
type PostgresRepo struct {
	sqlStore
}

var _ TaskRepo = (*PostgresRepo)(nil)

var postgresDialect = dialect{
	name: "postgres",
	schema: `
CREATE TABLE IF NOT EXISTS tasks (
    seq BIGSERIAL,
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    target TEXT NOT NULL,
    expected_size BIGINT NOT NULL DEFAULT -1,
    kind TEXT NOT NULL DEFAULT '',
    site TEXT NOT NULL DEFAULT '',
    headers JSONB,
    status TEXT NOT NULL,
    bytes_done BIGINT NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    fingerprint TEXT NOT NULL UNIQUE
);
`,
	order:    "seq",
	lock:     " FOR UPDATE",
	dollar:   true,
	isUnique: isPgUniqueViolation,
}

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresRepo{sqlStore{db: db, d: postgresDialect}}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// PostgresParams are the DSN components. Credentials and database name are
// URL-encoded so special characters survive.
type PostgresParams struct {
	Host     string
	Port     string
	DB       string
	User     string
	Password string
	SSLMode  string
}

func (p PostgresParams) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, p.Port),
		Path:   "/" + p.DB,
	}
	q := url.Values{}
	q.Set("sslmode", p.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
