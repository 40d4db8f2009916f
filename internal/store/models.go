package store

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type User struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	CharacterName   string    `json:"character_name"`
	CreatedAt       time.Time `json:"created_at"`
	LastInteraction time.Time `json:"last_interaction"`
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

type Memory struct {
	ID              int64     `json:"id"`
	CharacterName   string    `json:"character_name"`
	UserID          string    `json:"user_id"`
	MemoryType      string    `json:"memory_type"`
	Content         string    `json:"content"`
	ImportanceScore float64   `json:"importance_score"`
	CreatedAt       time.Time `json:"created_at"`
	LastAccessed    time.Time `json:"last_accessed"`
}
