package store

import (
	"strconv"
	"strings"
)

type dialect struct {
	driver string
	schema string
}

var sqliteDialect = dialect{
	driver: "sqlite3",
	schema: `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT UNIQUE NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL,
        character_name TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        last_interaction DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (user_id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id INTEGER NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        timestamp DATETIME NOT NULL,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );

    CREATE TABLE IF NOT EXISTS memory_store (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        character_name TEXT NOT NULL,
        user_id TEXT NOT NULL,
        memory_type TEXT NOT NULL,
        content TEXT NOT NULL,
        importance_score REAL NOT NULL DEFAULT 0.5,
        created_at DATETIME NOT NULL,
        last_accessed DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
    CREATE INDEX IF NOT EXISTS idx_memory_character_user ON memory_store(character_name, user_id);
    `,
}

var postgresDialect = dialect{
	driver: "postgres",
	schema: `
    CREATE TABLE IF NOT EXISTS users (
        id BIGSERIAL PRIMARY KEY,
        user_id TEXT UNIQUE NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id BIGSERIAL PRIMARY KEY,
        user_id TEXT NOT NULL REFERENCES users (user_id),
        character_name TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        last_interaction TIMESTAMPTZ NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id BIGSERIAL PRIMARY KEY,
        conversation_id BIGINT NOT NULL REFERENCES conversations (id),
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        timestamp TIMESTAMPTZ NOT NULL
    );

    CREATE TABLE IF NOT EXISTS memory_store (
        id BIGSERIAL PRIMARY KEY,
        character_name TEXT NOT NULL,
        user_id TEXT NOT NULL,
        memory_type TEXT NOT NULL,
        content TEXT NOT NULL,
        importance_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
        created_at TIMESTAMPTZ NOT NULL,
        last_accessed TIMESTAMPTZ NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
    CREATE INDEX IF NOT EXISTS idx_memory_character_user ON memory_store(character_name, user_id);
    `,
}

// rebind rewrites ? placeholders to $1, $2, ... for postgres.
func (d dialect) rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertIgnoreUser is the dialect's insert-or-ignore for users.
func (d dialect) insertIgnoreUser() string {
	if d.driver == "postgres" {
		return "INSERT INTO users (user_id, created_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING"
	}
	return "INSERT OR IGNORE INTO users (user_id, created_at) VALUES (?, ?)"
}
