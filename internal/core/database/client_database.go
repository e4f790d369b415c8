package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/markdave123-py/papertrail/internal/config"
	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/logger"
	"github.com/markdave123-py/papertrail/internal/models"
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// rebind turns ? placeholders into $n for postgres, skipping quoted literals.
func (d dialect) rebind(q string) string {
	if d != dialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	inQuote := false
	for _, r := range q {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db      *sql.DB
	dialect dialect
	retry   RetryPolicy
	log     *zap.Logger

	transactions atomic.Int64
	retries      atomic.Int64
}

// NewDatabaseClient opens the configured store and bootstraps its schema.
func NewDatabaseClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	switch cfg.DatabaseDriver {
	case "sqlite":
		return OpenSQLite(ctx, cfg.SqlitePath, log)
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL, cfg.SslCertPath, log)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

// OpenSQLite opens a WAL-mode SQLite file. Readers proceed while one writer
// holds the lock; writers take the lock at BEGIN so contention surfaces early.
func OpenSQLite(ctx context.Context, path string, log *zap.Logger) (*DatabaseClient, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)

	return finishOpen(ctx, db, dialectSQLite, log)
}

// OpenPostgres opens postgres through the pgx stdlib driver. When certPath is
// set the connection verifies the server CA.
func OpenPostgres(ctx context.Context, databaseURL, certPath string, log *zap.Logger) (*DatabaseClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	dsn := databaseURL
	if certPath != "" {
		if _, err := os.Stat(certPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", certPath, err)
		}
		u, err := url.Parse(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", certPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	return finishOpen(ctx, db, dialectPostgres, log)
}

func finishOpen(ctx context.Context, db *sql.DB, d dialect, log *zap.Logger) (*DatabaseClient, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{
		db:      db,
		dialect: d,
		retry:   DefaultRetryPolicy,
		log:     logger.Component(log, "database"),
	}, nil
}

// SetRetryPolicy replaces the contention retry policy.
func (c *DatabaseClient) SetRetryPolicy(p RetryPolicy) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	c.retry = p
}

// DB exposes the pool so a pgvector store can share it.
func (c *DatabaseClient) DB() *sql.DB { return c.db }

// Dialect returns "sqlite" or "postgres".
func (c *DatabaseClient) Dialect() string { return string(c.dialect) }

func (c *DatabaseClient) Stats() models.StoreStats {
	return models.StoreStats{
		Transactions:      c.transactions.Load(),
		ContentionRetries: c.retries.Load(),
	}
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) q(query string) string { return c.dialect.rebind(query) }

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// escapeLike lowercases q and escapes LIKE wildcards with a backslash.
func escapeLike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(q)) + "%"
}
