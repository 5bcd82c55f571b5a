package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Keys under which the two halves of a session are persisted.
const (
	KeyToken = "authToken"
	KeyUser  = "currentUser"
)

// Store persists a session.  Restore returns (nil, nil) when no usable
// session is stored.
type Store interface {
	Restore(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store with a two-row key/value table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the session database.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping session database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Restore reads both keys.  A lone key, unparsable profile or profile
// without a username is treated as no session, and the stored record
// is cleared.
func (s *SQLiteStore) Restore(ctx context.Context) (*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key IN (?, ?)`, KeyToken, KeyUser)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 2)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	rows.Close()

	token, hasToken := values[KeyToken]
	rawUser, hasUser := values[KeyUser]
	if !hasToken && !hasUser {
		return nil, nil
	}

	var user User
	if !hasToken || !hasUser || token == "" || json.Unmarshal([]byte(rawUser), &user) != nil || user.Username == "" {
		if err := s.Clear(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &Session{Token: token, User: user}, nil
}

// Save writes token and user in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	if !sess.Valid() {
		return fmt.Errorf("save session: token and user are both required")
	}
	rawUser, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	query := `
	INSERT INTO kv (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, query, KeyToken, sess.Token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, KeyUser, string(rawUser)); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// Clear removes both keys.  Clearing an empty store is not an error.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key IN (?, ?)`, KeyToken, KeyUser); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
