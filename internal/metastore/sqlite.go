package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// isBusyLock and retryOnBusy mirror the teacher's internal/store busy-retry
// helper: SQLite's single-writer model means concurrent session creation,
// the reaper sweep, and a finalize can all contend on the same file.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS set_members (
	set_key TEXT NOT NULL,
	member  TEXT NOT NULL,
	PRIMARY KEY (set_key, member)
);
CREATE INDEX IF NOT EXISTS idx_set_members_key ON set_members(set_key);
`

func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-64000)"
}

// SQLite is an embedded MetaStore backend for single-node deployments that
// don't want a Redis dependency. Schema and connection tuning follow the
// teacher's internal/store/store.go almost verbatim, generalized from a
// sessions table to a generic kv + set_members pair.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("metastore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("metastore: migrate sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("metastore: get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value)
		if err != nil {
			return fmt.Errorf("metastore: set %s: %w", key, err)
		}
		return nil
	})
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("metastore: delete %s: %w", key, err)
		}
		return nil
	})
}

func (s *SQLite) SAdd(ctx context.Context, key, member string) error {
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO set_members (set_key, member) VALUES (?, ?)`, key, member)
		if err != nil {
			return fmt.Errorf("metastore: sadd %s: %w", key, err)
		}
		return nil
	})
}

func (s *SQLite) SRem(ctx context.Context, key, member string) error {
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM set_members WHERE set_key = ? AND member = ?`, key, member)
		if err != nil {
			return fmt.Errorf("metastore: srem %s: %w", key, err)
		}
		return nil
	})
}

func (s *SQLite) SMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM set_members WHERE set_key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("metastore: smembers %s: %w", key, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("metastore: smembers %s: %w", key, err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLite) SPop(ctx context.Context, key string) (string, bool, error) {
	var member string
	var found bool
	err := retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		err = tx.QueryRowContext(ctx, `SELECT member FROM set_members WHERE set_key = ? LIMIT 1`, key).Scan(&member)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return tx.Commit()
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM set_members WHERE set_key = ? AND member = ?`, key, member); err != nil {
			return err
		}
		found = true
		return tx.Commit()
	})
	if err != nil {
		return "", false, fmt.Errorf("metastore: spop %s: %w", key, err)
	}
	return member, found, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
