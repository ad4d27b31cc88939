package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dev-console/pagetap/internal/types"

	_ "modernc.org/sqlite"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions and their ordered event streams in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path.
func OpenStore(path string) (*Store, error) {
	// #nosec G301 -- runtime state directory
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer keeps sequence assignment serial.
	db.SetMaxOpenConns(1)
	s, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps db and applies the schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        page TEXT NOT NULL DEFAULT '',
        record_canvas INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL
    );
    CREATE TABLE IF NOT EXISTS events (
        session_id TEXT NOT NULL REFERENCES sessions(id),
        seq INTEGER NOT NULL,
        kind TEXT NOT NULL,
        tag TEXT NOT NULL DEFAULT '',
        payload TEXT NOT NULL,
        timestamp INTEGER NOT NULL,
        PRIMARY KEY (session_id, seq)
    );
    CREATE INDEX IF NOT EXISTS events_by_tag ON events (session_id, tag, seq);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, info types.SessionInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, page, record_canvas, created_at) VALUES (?, ?, ?, ?)`,
		info.ID, info.Page, info.RecordCanvas, info.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

const sessionColumns = `s.id, s.page, s.record_canvas, s.created_at,
        (SELECT COUNT(*) FROM events e WHERE e.session_id = s.id)`

// Session returns one session with its current event count.
func (s *Store) Session(ctx context.Context, id string) (types.SessionInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	info, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return info, err
}

// Sessions lists the most recent sessions first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]types.SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions s ORDER BY s.created_at DESC, s.id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []types.SessionInfo{}
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanSession(row scanner) (types.SessionInfo, error) {
	var info types.SessionInfo
	err := row.Scan(&info.ID, &info.Page, &info.RecordCanvas, &info.CreatedAt, &info.EventCount)
	return info, err
}

// AppendEvents appends events to the session stream in order and returns how
// many were stored.
func (s *Store) AppendEvents(ctx context.Context, id string, events []types.Event) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE session_id = ?`, id).Scan(&next); err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (session_id, seq, kind, tag, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()
	for i, ev := range events {
		if _, err := stmt.ExecContext(ctx, id, next+int64(i), string(ev.Kind), string(ev.Tag), string(ev.Payload), ev.Timestamp); err != nil {
			return 0, fmt.Errorf("failed to insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(events), nil
}

// Events returns the session stream in append order. A non-empty tag keeps
// only custom events carrying it.
func (s *Store) Events(ctx context.Context, id string, tag types.Tag) ([]types.Event, error) {
	if _, err := s.Session(ctx, id); err != nil {
		return nil, err
	}
	query := `SELECT kind, tag, payload, timestamp FROM events WHERE session_id = ? ORDER BY seq`
	args := []any{id}
	if tag != "" {
		query = `SELECT kind, tag, payload, timestamp FROM events WHERE session_id = ? AND kind = ? AND tag = ? ORDER BY seq`
		args = append(args, string(types.KindCustom), string(tag))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []types.Event{}
	for rows.Next() {
		var (
			ev      types.Event
			kind    string
			evTag   string
			payload string
		)
		if err := rows.Scan(&kind, &evTag, &payload, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Kind, ev.Tag, ev.Payload = types.Kind(kind), types.Tag(evTag), []byte(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
