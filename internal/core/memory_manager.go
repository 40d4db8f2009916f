package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gwi.com/character-memory/internal/apperr"
	"gwi.com/character-memory/internal/metrics"
	"gwi.com/character-memory/internal/store"
)

const memoryExtractionTemplate = `From the following conversation, extract key information that would be important
to remember for future interactions. Focus on personal details, preferences,
and significant events.

Conversation:
%s

Extract 2-3 key memories in the following format:
- Memory: [the memory]
- Importance (0.0-1.0): [importance score]
- Type: [personal_detail/preference/event/fact/conversation]`

const (
	memoryPreamble = "Previous interactions have revealed:"
	memoryEpilogue = "Use this context naturally in your responses when relevant."
)

// MemoryManager turns finished exchanges into stored memories and serves
// them back ranked by importance and recency.
type MemoryManager struct {
	db    *store.Store
	llm   LLM
	limit int
}

func NewMemoryManager(db *store.Store, llm LLM, limit int) *MemoryManager {
	if limit <= 0 {
		limit = store.DefaultMemoryLimit
	}
	return &MemoryManager{db: db, llm: llm, limit: limit}
}

// Extract asks the model for memories about the exchange and stores the
// valid ones. Malformed candidates are dropped. Stores are not transactional:
// a storage error returns the memories written so far.
func (m *MemoryManager) Extract(ctx context.Context, userID, characterName string, exchange []ChatMessage) ([]store.Memory, error) {
	lines := make([]string, 0, len(exchange))
	for _, msg := range exchange {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	prompt := fmt.Sprintf(memoryExtractionTemplate, strings.Join(lines, "\n"))

	response, err := m.llm.Complete(ctx, CompletionRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: prompt}},
	})
	if err != nil {
		metrics.MemoriesExtracted.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("memory extraction call failed: %w", err)
	}

	stored := []store.Memory{}
	for _, candidate := range ParseMemories(response) {
		valid, err := ValidateCandidate(candidate)
		if err != nil {
			metrics.MemoriesExtracted.WithLabelValues("dropped").Inc()
			slog.Debug("Dropping memory candidate", "character", characterName, "user_id", userID, "reason", err)
			continue
		}
		mem, err := m.db.StoreMemory(ctx, characterName, userID, valid.Type, valid.Content, valid.Importance)
		if err != nil {
			metrics.MemoriesExtracted.WithLabelValues("failed").Inc()
			return stored, err
		}
		metrics.MemoriesExtracted.WithLabelValues("stored").Inc()
		stored = append(stored, *mem)
	}
	return stored, nil
}

// Remember validates and stores a single candidate.
func (m *MemoryManager) Remember(ctx context.Context, characterName, userID string, candidate MemoryCandidate) (*store.Memory, error) {
	valid, err := ValidateCandidate(candidate)
	if err != nil {
		return nil, apperr.Validation("Invalid memory", err.Error())
	}
	return m.db.StoreMemory(ctx, characterName, userID, valid.Type, valid.Content, valid.Importance)
}

// Relevant returns the pair's top memories. Relevance is importance then
// recency of access; there is no semantic search.
func (m *MemoryManager) Relevant(ctx context.Context, userID, characterName string) ([]store.Memory, error) {
	return m.db.GetTopMemories(ctx, characterName, userID, m.limit)
}

// RenderMemoryBlock formats memories for the system prompt, or returns ""
// when there are none.
func RenderMemoryBlock(memories []store.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(memoryPreamble)
	b.WriteString("\n")
	for _, mem := range memories {
		fmt.Fprintf(&b, "- %s (%s)\n", mem.Content, mem.MemoryType)
	}
	b.WriteString("\n")
	b.WriteString(memoryEpilogue)
	return b.String()
}
