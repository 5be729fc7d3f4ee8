package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dhollinger/promptmend/session"
)

// SQLiteStore implements session.Store on SQLite. Session documents are kept
// as JSON with the listing keys (user, status, creation time) broken out into
// indexed columns.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// In-memory SQLite gives each connection its own database; pin to one
	// connection so schema and data survive across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, created_at);

CREATE TABLE IF NOT EXISTS prompts (
	id     TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	data   TEXT NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertSession(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, status, created_at, data) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, string(sess.Status), sess.CreatedAt, string(data))
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess session.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &sess, nil
}

// PatchSession applies a partial update inside a transaction. Sessions are
// mutated only by their owning task, so read-modify-write is race-free here;
// the transaction guards against concurrent reads seeing a torn document.
func (s *SQLiteStore) PatchSession(ctx context.Context, id string, patch session.Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}

	applyPatch(&sess, patch)
	sess.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(&sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, data = ? WHERE id = ?`,
		string(sess.Status), string(updated), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListRecent(ctx context.Context, userID string, status session.Status, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT data FROM sessions`
	var conds []string
	var args []any
	if userID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, userID)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertPrompt(ctx context.Context, p *session.Prompt) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal prompt: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prompts (id, status, data) VALUES (?, ?, ?)`,
		p.ID, string(p.Status), string(data))
	return err
}

func (s *SQLiteStore) GetPrompt(ctx context.Context, id string) (*session.Prompt, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM prompts WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p session.Prompt
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompt %s: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) PatchPrompt(ctx context.Context, id string, patch session.PromptPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM prompts WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var p session.Prompt
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return fmt.Errorf("failed to unmarshal prompt %s: %w", id, err)
	}
	if patch.OptimizedPrompt != nil {
		p.OptimizedPrompt = *patch.OptimizedPrompt
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}

	updated, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("failed to marshal prompt: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE prompts SET status = ?, data = ? WHERE id = ?`,
		string(p.Status), string(updated), id); err != nil {
		return err
	}
	return tx.Commit()
}
