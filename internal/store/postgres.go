package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parallax-ai/chat-platform/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id           UUID PRIMARY KEY,
	user_id      TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	visibility   TEXT NOT NULL DEFAULT 'private',
	last_context JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chats_user_id_idx ON chats (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id         UUID PRIMARY KEY,
	chat_id    UUID NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	parts      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_chat_id_idx ON messages (chat_id, created_at);

CREATE TABLE IF NOT EXISTS stream_handles (
	id         UUID PRIMARY KEY,
	chat_id    UUID NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	kind       TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore implements ChatStore on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetChat retrieves a chat by ID.
func (s *PostgresStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, visibility, last_context, created_at
		 FROM chats WHERE id = $1`, id)
	return scanChat(row)
}

// SaveChat inserts a chat record.
func (s *PostgresStore) SaveChat(ctx context.Context, chat *model.Chat) error {
	var lastContext []byte
	if chat.LastContext != nil {
		var err error
		lastContext, err = json.Marshal(chat.LastContext)
		if err != nil {
			return fmt.Errorf("failed to marshal last context: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, user_id, title, visibility, last_context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		chat.ID, chat.UserID, chat.Title, chat.Visibility, lastContext, chat.CreatedAt)
	return err
}

// DeleteChat removes a chat and returns the deleted record.
func (s *PostgresStore) DeleteChat(ctx context.Context, id string) (*model.Chat, error) {
	row := s.pool.QueryRow(ctx,
		`DELETE FROM chats WHERE id = $1
		 RETURNING id, user_id, title, visibility, last_context, created_at`, id)
	return scanChat(row)
}

// ListChatsByUser returns the user's chats, newest first.
func (s *PostgresStore) ListChatsByUser(ctx context.Context, userID string, limit int) ([]model.Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, visibility, last_context, created_at
		 FROM chats WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

// UpdateChatLastContext overwrites the chat's usage context (last-write-wins).
func (s *PostgresStore) UpdateChatLastContext(ctx context.Context, chatID string, usage *model.AppUsage) error {
	data, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("failed to marshal usage: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE chats SET last_context = $2 WHERE id = $1`, chatID, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMessages returns a chat's messages in creation order.
func (s *PostgresStore) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, role, parts, created_at
		 FROM messages WHERE chat_id = $1 ORDER BY created_at`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		var parts []byte
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &parts, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(parts, &msg.Parts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message parts: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AppendMessages inserts messages, skipping ids that already exist.
func (s *PostgresStore) AppendMessages(ctx context.Context, messages []model.Message) error {
	batch := &pgx.Batch{}
	for _, msg := range messages {
		parts, err := json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("failed to marshal message parts: %w", err)
		}
		batch.Queue(
			`INSERT INTO messages (id, chat_id, role, parts, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO NOTHING`,
			msg.ID, msg.ChatID, msg.Role, parts, msg.CreatedAt)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// CountMessagesByUserSince counts user-authored messages across the user's
// chats since the given time. Used by the daily entitlement gate.
func (s *PostgresStore) CountMessagesByUserSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*)
		 FROM messages m JOIN chats c ON m.chat_id = c.id
		 WHERE c.user_id = $1 AND m.role = 'user' AND m.created_at >= $2`,
		userID, since).Scan(&count)
	return count, err
}

// CreateStreamHandle records a new stream handle for a turn.
func (s *PostgresStore) CreateStreamHandle(ctx context.Context, handle *model.StreamHandle) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stream_handles (id, chat_id, created_at) VALUES ($1, $2, $3)`,
		handle.ID, handle.ChatID, handle.CreatedAt)
	return err
}

// GetStreamHandle retrieves a stream handle by ID.
func (s *PostgresStore) GetStreamHandle(ctx context.Context, id string) (*model.StreamHandle, error) {
	var handle model.StreamHandle
	err := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, created_at FROM stream_handles WHERE id = $1`, id).
		Scan(&handle.ID, &handle.ChatID, &handle.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &handle, nil
}

// SaveDocument inserts or updates a document.
func (s *PostgresStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, user_id, title, kind, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		doc.ID, doc.UserID, doc.Title, doc.Kind, doc.Content, doc.CreatedAt, doc.UpdatedAt)
	return err
}

// GetDocument retrieves a document by ID.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, kind, content, created_at, updated_at
		 FROM documents WHERE id = $1`, id).
		Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.Kind, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*model.Chat, error) {
	var chat model.Chat
	var lastContext []byte
	err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.Visibility, &lastContext, &chat.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(lastContext) > 0 {
		chat.LastContext = &model.AppUsage{}
		if err := json.Unmarshal(lastContext, chat.LastContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last context: %w", err)
		}
	}
	return &chat, nil
}
