package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"gwi.com/character-memory/internal/apperr"
)

const (
	DefaultHistoryLimit = 10
	DefaultMemoryLimit  = 5
	DefaultImportance   = 0.5
)

// Store owns the users, conversations, messages and memory_store tables.
// It is opened once by the process entry point and shared by every request.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// NewStore opens the database for driver ("sqlite3" or "postgres") and
// creates the schema. For sqlite3 the DSN is a file path; foreign keys are
// switched on and the pool is limited to one connection.
func NewStore(driver, dataSourceName string) (*Store, error) {
	var d dialect
	switch driver {
	case "", "sqlite3", "sqlite":
		d = sqliteDialect
		if dir := filepath.Dir(dataSourceName); dir != "." && !strings.HasPrefix(dataSourceName, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.Contains(dataSourceName, "?") {
			dataSourceName += "?_foreign_keys=on&_busy_timeout=5000"
		}
	case "postgres":
		d = postgresDialect
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(d.driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, dialect: d}
	if err = s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(s.dialect.schema)
	return err
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}

func now() time.Time {
	return time.Now().UTC()
}

// User methods

// EnsureUser creates the user if absent and returns the stored row.
func (s *Store) EnsureUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, apperr.Validation("User ID is required")
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.insertIgnoreUser(), userID, now()); err != nil {
		return nil, apperr.Storage("failed to insert user", err)
	}

	var user User
	err := s.db.QueryRowContext(ctx, s.q("SELECT id, user_id, created_at FROM users WHERE user_id = ?"), userID).
		Scan(&user.ID, &user.UserID, &user.CreatedAt)
	if err != nil {
		return nil, apperr.Storage("failed to query user", err)
	}
	return &user, nil
}

// Conversation methods

// CreateConversation always inserts a new conversation for the pair.
func (s *Store) CreateConversation(ctx context.Context, userID, characterName string) (*Conversation, error) {
	ts := now()
	conv := &Conversation{UserID: userID, CharacterName: characterName, CreatedAt: ts, LastInteraction: ts}
	err := s.db.QueryRowContext(ctx,
		s.q("INSERT INTO conversations (user_id, character_name, created_at, last_interaction) VALUES (?, ?, ?, ?) RETURNING id"),
		userID, characterName, ts, ts,
	).Scan(&conv.ID)
	if err != nil {
		return nil, apperr.Storage("failed to insert conversation", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx,
		s.q("SELECT id, user_id, character_name, created_at, last_interaction FROM conversations WHERE id = ?"), id,
	).Scan(&conv.ID, &conv.UserID, &conv.CharacterName, &conv.CreatedAt, &conv.LastInteraction)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ConversationNotFound(id)
		}
		return nil, apperr.Storage("failed to get conversation", err)
	}
	return &conv, nil
}

// Message methods

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// appendMessage bumps the conversation's last_interaction and inserts the
// message. A missing conversation is reported as ConversationNotFound.
func (s *Store) appendMessage(ctx context.Context, eq execQuerier, conversationID int64, role, content string, ts time.Time) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, apperr.Validation(fmt.Sprintf("invalid message role %q", role))
	}

	res, err := eq.ExecContext(ctx, s.q("UPDATE conversations SET last_interaction = ? WHERE id = ?"), ts, conversationID)
	if err != nil {
		return nil, apperr.Storage("failed to update conversation", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, apperr.ConversationNotFound(conversationID)
	}

	msg := &Message{ConversationID: conversationID, Role: role, Content: content, Timestamp: ts}
	err = eq.QueryRowContext(ctx,
		s.q("INSERT INTO messages (conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?) RETURNING id"),
		conversationID, role, content, ts,
	).Scan(&msg.ID)
	if err != nil {
		return nil, apperr.Storage("failed to insert message", err)
	}
	return msg, nil
}

// AppendMessage stores one immutable message.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, role, content string) (*Message, error) {
	return s.appendMessage(ctx, s.db, conversationID, role, content, now())
}

// AppendExchange stores a user message and the assistant reply atomically.
func (s *Store) AppendExchange(ctx context.Context, conversationID int64, userContent, assistantContent string) ([]Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Storage("failed to begin transaction", err)
	}
	defer tx.Rollback()

	ts := now()
	userMsg, err := s.appendMessage(ctx, tx, conversationID, RoleUser, userContent, ts)
	if err != nil {
		return nil, err
	}
	// The reply is strictly later so timestamp ordering keeps the pair in order.
	modelMsg, err := s.appendMessage(ctx, tx, conversationID, RoleAssistant, assistantContent, ts.Add(time.Microsecond))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Storage("failed to commit messages", err)
	}
	return []Message{*userMsg, *modelMsg}, nil
}

// GetRecentHistory returns up to limit messages of the pair's most recently
// active conversation, newest first. No conversation yields an empty slice.
func (s *Store) GetRecentHistory(ctx context.Context, userID, characterName string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var conversationID int64
	err := s.db.QueryRowContext(ctx, s.q(`
        SELECT id FROM conversations
        WHERE user_id = ? AND character_name = ?
        ORDER BY last_interaction DESC, id DESC
        LIMIT 1`), userID, characterName).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []Message{}, nil
		}
		return nil, apperr.Storage("failed to resolve conversation", err)
	}
	return s.GetConversationHistory(ctx, conversationID, limit)
}

// GetConversationHistory returns up to limit messages of one conversation,
// newest first.
func (s *Store) GetConversationHistory(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
        SELECT id, conversation_id, role, content, timestamp
        FROM messages
        WHERE conversation_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?`), conversationID, limit)
	if err != nil {
		return nil, apperr.Storage("failed to query messages", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, apperr.Storage("failed to scan message row", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("failed to read messages", err)
	}
	return messages, nil
}

// Memory methods

// StoreMemory inserts one memory row. The memory type is not checked here;
// callers that accept model output validate it first.
func (s *Store) StoreMemory(ctx context.Context, characterName, userID, memoryType, content string, importance float64) (*Memory, error) {
	ts := now()
	mem := &Memory{
		CharacterName:   characterName,
		UserID:          userID,
		MemoryType:      memoryType,
		Content:         content,
		ImportanceScore: importance,
		CreatedAt:       ts,
		LastAccessed:    ts,
	}
	err := s.db.QueryRowContext(ctx, s.q(`
        INSERT INTO memory_store (character_name, user_id, memory_type, content, importance_score, created_at, last_accessed)
        VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		characterName, userID, memoryType, content, importance, ts, ts,
	).Scan(&mem.ID)
	if err != nil {
		return nil, apperr.Storage("failed to insert memory", err)
	}
	return mem, nil
}

// GetTopMemories returns at most limit memories for the pair ordered by
// importance, then most recent access.
func (s *Store) GetTopMemories(ctx context.Context, characterName, userID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
        SELECT id, character_name, user_id, memory_type, content, importance_score, created_at, last_accessed
        FROM memory_store
        WHERE character_name = ? AND user_id = ?
        ORDER BY importance_score DESC, last_accessed DESC, id DESC
        LIMIT ?`), characterName, userID, limit)
	if err != nil {
		return nil, apperr.Storage("failed to query memories", err)
	}
	defer rows.Close()

	memories := []Memory{}
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.CharacterName, &m.UserID, &m.MemoryType, &m.Content, &m.ImportanceScore, &m.CreatedAt, &m.LastAccessed); err != nil {
			return nil, apperr.Storage("failed to scan memory row", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("failed to read memories", err)
	}
	return memories, nil
}

// TouchMemories marks memories as accessed now.
func (s *Store) TouchMemories(ctx context.Context, ids []int64) error {
	ts := now()
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, s.q("UPDATE memory_store SET last_accessed = ? WHERE id = ?"), ts, id); err != nil {
			return apperr.Storage("failed to update memory access", err)
		}
	}
	return nil
}
