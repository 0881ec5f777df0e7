package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	namespace  TEXT NOT NULL,
	value      BLOB NOT NULL,
	stored_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	size       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_namespace_stored
	ON cache_entries (namespace, stored_at);
`

// SQLiteBackend is the durable primary backend
type SQLiteBackend struct {
	db        *sql.DB
	namespace string
	prefix    string

	// maxBytes emulates a storage quota; 0 means unlimited
	maxBytes int64
}

// SQLiteOptions configures a SQLiteBackend
type SQLiteOptions struct {
	// Namespace prefixes every stored key as "<namespace>:"
	Namespace string

	// MaxBytes makes Put fail with ErrQuotaExceeded past this many bytes
	MaxBytes int64
}

// OpenSQLite opens (or creates) the cache database at path
func OpenSQLite(ctx context.Context, path string, opts SQLiteOptions) (*SQLiteBackend, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = DefaultConfig().Namespace
	}
	return &SQLiteBackend{
		db:        db,
		namespace: namespace,
		prefix:    namespace + ":",
		maxBytes:  opts.MaxBytes,
	}, nil
}

// Name returns the backend name
func (s *SQLiteBackend) Name() string {
	return "sqlite"
}

// Get retrieves an entry
func (s *SQLiteBackend) Get(ctx context.Context, key string) (*Entry, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ?`, s.prefix+key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

// Put stores an entry
func (s *SQLiteBackend) Put(ctx context.Context, entry *Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	storedKey := s.prefix + entry.Key
	if s.maxBytes > 0 {
		var used int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(size), 0) FROM cache_entries WHERE namespace = ? AND key <> ?`,
			s.namespace, storedKey,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("sum sizes: %w", err)
		}
		if used+entry.Size > s.maxBytes {
			return ErrQuotaExceeded
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_entries (key, namespace, value, stored_at, expires_at, size)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at,
			size = excluded.size`,
		storedKey, s.namespace, value,
		entry.StoredAt.UnixNano(), entry.ExpiresAt.UnixNano(), entry.Size,
	)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return tx.Commit()
}

// Delete removes an entry
func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, s.prefix+key); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// Clear removes every entry in this backend's namespace
func (s *SQLiteBackend) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, s.namespace); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

// List returns metadata for every entry in the namespace, oldest first
func (s *SQLiteBackend) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, stored_at, expires_at, size FROM cache_entries WHERE namespace = ? ORDER BY stored_at`,
		s.namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var (
			key       string
			storedAt  int64
			expiresAt int64
			size      int64
		)
		if err := rows.Scan(&key, &storedAt, &expiresAt, &size); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		metas = append(metas, Meta{
			Key:       key[len(s.prefix):],
			StoredAt:  time.Unix(0, storedAt),
			ExpiresAt: time.Unix(0, expiresAt),
			Size:      size,
		})
	}
	return metas, rows.Err()
}

// Close closes the database connection
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
