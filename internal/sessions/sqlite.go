package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/praxis/pkg/models"
)

// SQLiteConfig configures the on-disk store.
type SQLiteConfig struct {
	// Path is the database file; ":memory:" keeps everything ephemeral.
	Path        string
	BusyTimeout time.Duration
}

// SQLiteStore persists sessions and their transcripts in a local sqlite
// database. Message payloads are stored as JSON envelopes so the schema
// never chases the message shape.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	cwd TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY,
	session_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
`

// OpenSQLite opens or creates the database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if cfg.Path != ":memory:" {
		// Transcripts are conversation history, keep the directory user-only.
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: sqlite serializes writers anyway, and it keeps
	// :memory: databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BusyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a new session, generating the ID and timestamps when unset
// and reflecting them back to the caller.
func (s *SQLiteStore) Create(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ID == "" {
		session.ID = NewID()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	// Stored times are UTC so the text ordering of the DATETIME column
	// stays chronological.
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, cwd, provider, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Title, session.Cwd, session.Provider, session.Model,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

const sessionColumns = `s.id, s.title, s.cwd, s.provider, s.model,
	(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
	s.created_at, s.updated_at`

func scanSession(row interface{ Scan(dest ...any) error }) (*Session, error) {
	session := &Session{}
	err := row.Scan(
		&session.ID, &session.Title, &session.Cwd, &session.Provider,
		&session.Model, &session.Messages, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Get retrieves a session by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// List returns sessions newest-first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s`
	var args []any
	if opts.Cwd != "" {
		query += ` WHERE s.cwd = ?`
		args = append(args, opts.Cwd)
	}
	query += ` ORDER BY s.updated_at DESC, s.id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1`
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}

// AppendMessage stores one message and bumps the session's updated_at, both
// or neither.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	payload, err := models.MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, payload, created_at)
		VALUES (?, ?, ?)`, sessionID, payload, now); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return tx.Commit()
}

// Transcript loads a session's messages in insertion order.
func (s *SQLiteStore) Transcript(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg, err := models.UnmarshalMessage(payload)
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if len(msgs) == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		if err != nil {
			return nil, fmt.Errorf("load transcript: %w", err)
		}
	}
	return msgs, nil
}

// Prune keeps the newest sessions and drops the rest with their messages.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const stale = `SELECT id FROM sessions ORDER BY updated_at DESC, id LIMIT -1 OFFSET ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id IN (`+stale+`)`, keep); err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return int(n), nil
}
