// Package store persists the coordinator's durable collaborators in
// sqlite: claimed user sessions, the question catalog and the one-shot
// chat buffers. It holds no matchmaking logic of its own.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pairquiz-backend/api"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrChatNotFound       = errors.New("chat buffer not found")
	ErrNotEnoughQuestions = errors.New("not enough questions in catalog")
)

const schema = `
CREATE TABLE IF NOT EXISTS user_sessions (
	conn_id    TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	anonymous  INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	question TEXT NOT NULL,
	option_a TEXT NOT NULL,
	option_b TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	game_id  TEXT PRIMARY KEY,
	messages TEXT NOT NULL
);
`

// Store wraps a sqlite database. Reads may run concurrently; writes are
// serialised by the coordinator's mutation discipline.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports store liveness for the health surface.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUserSession records the identity a connection claimed on entering
// matchmaking, replacing any previous claim for the same connection.
func (s *Store) UpsertUserSession(ctx context.Context, connID, name string, anonymous bool) error {
	query := `
		INSERT INTO user_sessions (conn_id, name, anonymous, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conn_id) DO UPDATE SET
			name = excluded.name,
			anonymous = excluded.anonymous,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, connID, name, anonymous, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert user session: %w", err)
	}
	return nil
}

func (s *Store) DeleteUserSession(ctx context.Context, connID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE conn_id = ?`, connID); err != nil {
		return fmt.Errorf("delete user session: %w", err)
	}
	return nil
}

// GetUserSession returns the claimed identity stored for a connection.
// A second return value specifies whether a record was found.
func (s *Store) GetUserSession(ctx context.Context, connID string) (api.UserData, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, anonymous FROM user_sessions WHERE conn_id = ?`, connID)

	var user api.UserData
	if err := row.Scan(&user.Name, &user.Anonymous); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.UserData{}, false, nil
		}
		return api.UserData{}, false, fmt.Errorf("query user session: %w", err)
	}
	return user, true, nil
}

// SampleQuestions returns n distinct catalog questions in random order.
func (s *Store) SampleQuestions(ctx context.Context, n int) ([]api.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, option_a, option_b
		FROM questions
		ORDER BY RANDOM()
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("sample questions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	questions := make([]api.Question, 0, n)
	for rows.Next() {
		var q api.Question
		if err := rows.Scan(&q.ID, &q.Question, &q.OptionA, &q.OptionB); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	if len(questions) < n {
		return nil, ErrNotEnoughQuestions
	}
	return questions, nil
}

// SeedQuestions fills an empty catalog with the embedded default set.
// A catalog that already has rows is left untouched.
func (s *Store) SeedQuestions(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count); err != nil {
		return fmt.Errorf("count questions: %w", err)
	}
	if count > 0 {
		return nil
	}

	catalog, err := defaultCatalog()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range catalog {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO questions (question, option_a, option_b) VALUES (?, ?, ?)`,
			q.Question, q.OptionA, q.OptionB)
		if err != nil {
			return fmt.Errorf("seed question: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

// CreateChat opens an empty chat buffer for a completed game. Creating a
// buffer that already exists resets it.
func (s *Store) CreateChat(ctx context.Context, gameID string) error {
	query := `
		INSERT INTO chats (game_id, messages) VALUES (?, '[]')
		ON CONFLICT(game_id) DO UPDATE SET messages = '[]'
	`
	if _, err := s.db.ExecContext(ctx, query, gameID); err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

// AppendChatMessage adds a message to an existing chat buffer. It returns
// ErrChatNotFound if no buffer exists for the game.
func (s *Store) AppendChatMessage(ctx context.Context, gameID string, msg api.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	messages, err := scanChatMessages(tx.QueryRowContext(ctx,
		`SELECT messages FROM chats WHERE game_id = ?`, gameID))
	if err != nil {
		return err
	}

	messages = append(messages, msg)
	encoded, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal chat messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET messages = ? WHERE game_id = ?`, string(encoded), gameID); err != nil {
		return fmt.Errorf("update chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// TakeChat returns the buffered messages for a game and deletes the
// buffer in the same transaction: delivery is single-shot. The second
// return value is false when no buffer exists.
func (s *Store) TakeChat(ctx context.Context, gameID string) ([]api.ChatMessage, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin take: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	messages, err := scanChatMessages(tx.QueryRowContext(ctx,
		`SELECT messages FROM chats WHERE game_id = ?`, gameID))
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE game_id = ?`, gameID); err != nil {
		return nil, false, fmt.Errorf("delete chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit take: %w", err)
	}
	return messages, true, nil
}

func scanChatMessages(row *sql.Row) ([]api.ChatMessage, error) {
	var encoded string
	if err := row.Scan(&encoded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}

	messages := []api.ChatMessage{}
	if err := json.Unmarshal([]byte(encoded), &messages); err != nil {
		return nil, fmt.Errorf("unmarshal chat messages: %w", err)
	}
	return messages, nil
}
