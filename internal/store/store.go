// Package store provides the SQLite-backed ports.Persistence implementation:
// one batch (a single *sql.Tx) per accepted FSM transition, committed
// before any outbound broadcast, so a crash between commit and broadcast
// only risks a harmless retransmit rather than a lost transition.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mwc-swap/swapcore/internal/ports"
)

var (
	ErrSessionNotFound = errors.New("store: session not found")
	ErrBatchClosed     = errors.New("store: batch already committed or rolled back")
)

// Config holds the on-disk location for the session database.
type Config struct {
	DataDir string
}

// Store is the concurrent-safe persistence handle shared by the engine.
// SQLite accepts only one writer at a time; callers serialize writes
// through OpenBatch rather than this package adding its own mutex, since
// database/sql's connection pool (capped at one open connection) already
// provides that serialization.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the session database at cfg.DataDir and
// ensures its schema exists.
func New(cfg Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "swapd.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	-- Private context (blinding factors, partial signatures awaiting
	-- finalization) is kept in its own table so it can be wiped
	-- independently once a session reaches a terminal state.
	CREATE TABLE IF NOT EXISTS session_private (
		session_id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ReadSession returns the last committed serialization of sessionID.
func (s *Store) ReadSession(ctx context.Context, sessionID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ListSessionIDs returns every session id with a committed record, for the
// daemon to reload on startup. It is not part of ports.Persistence: nothing
// in internal/fsm or internal/swap needs to enumerate sessions, only the
// process wiring them up at boot.
func (s *Store) ListSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSession removes a session and any leftover private context for it.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_private WHERE session_id = ?`, sessionID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// OpenBatch starts one write transaction.
func (s *Store) OpenBatch(ctx context.Context) (ports.Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &batch{ctx: ctx, tx: tx}, nil
}

type batch struct {
	ctx    context.Context
	tx     *sql.Tx
	closed bool
}

func (b *batch) WriteSession(sessionID string, serialized []byte) error {
	if b.closed {
		return ErrBatchClosed
	}
	_, err := b.tx.ExecContext(b.ctx, `
		INSERT INTO sessions (session_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, sessionID, serialized, time.Now().Unix())
	return err
}

func (b *batch) DeletePrivateContext(sessionID string) error {
	if b.closed {
		return ErrBatchClosed
	}
	_, err := b.tx.ExecContext(b.ctx, `DELETE FROM session_private WHERE session_id = ?`, sessionID)
	return err
}

func (b *batch) Commit() error {
	if b.closed {
		return ErrBatchClosed
	}
	b.closed = true
	return b.tx.Commit()
}

func (b *batch) Rollback() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.tx.Rollback()
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
