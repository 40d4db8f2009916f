package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/character-memory/internal/characters"
	"gwi.com/character-memory/internal/store"
)

func TestBuildSystemPrompt(t *testing.T) {
	p := &characters.Profile{
		Name:        "Nova",
		Description: "A starship pilot.",
		Traits:      map[string]string{"witty": "quick jokes", "brave": "never backs down"},
		Adjectives:  []string{"bold", "curious"},
	}

	prompt := BuildSystemPrompt(p, []store.Memory{{Content: "Sam likes jazz", MemoryType: "preference"}})

	assert.True(t, strings.HasPrefix(prompt, "You are Nova. A starship pilot."))
	assert.Contains(t, prompt, "Key traits and characteristics:\n- brave: never backs down\n- witty: quick jokes")
	assert.Contains(t, prompt, "Personality: bold, curious")
	assert.Contains(t, prompt, "- Sam likes jazz (preference)")
	assert.True(t, strings.HasSuffix(prompt, "Never break character or acknowledge that you are an AI."))
	assert.Less(t, strings.Index(prompt, "Previous interactions"), strings.Index(prompt, "You must stay in character"))

	assert.Equal(t, prompt, BuildSystemPrompt(p, []store.Memory{{Content: "Sam likes jazz", MemoryType: "preference"}}))
}

func TestBuildSystemPromptWithoutMemories(t *testing.T) {
	prompt := BuildSystemPrompt(&characters.Profile{Name: "Nova", Description: "A pilot."}, nil)
	assert.NotContains(t, prompt, "Previous interactions")
	assert.NotContains(t, prompt, "Key traits")
}

func TestBuildMessagesRestoresChronologicalOrder(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	newestFirst := []store.Message{
		{ID: 4, Role: store.RoleAssistant, Content: "fine, you?", Timestamp: t0.Add(3 * time.Second)},
		{ID: 3, Role: store.RoleUser, Content: "how are you", Timestamp: t0.Add(2 * time.Second)},
		{ID: 2, Role: store.RoleAssistant, Content: "hello", Timestamp: t0},
		{ID: 1, Role: store.RoleUser, Content: "hi", Timestamp: t0},
	}

	msgs := BuildMessages("system prompt", newestFirst, "great")
	require.Len(t, msgs, 6)
	assert.Equal(t, ChatMessage{Role: RoleSystem, Content: "system prompt"}, msgs[0])
	assert.Equal(t, ChatMessage{Role: RoleUser, Content: "hi"}, msgs[1])
	assert.Equal(t, ChatMessage{Role: RoleAssistant, Content: "hello"}, msgs[2])
	assert.Equal(t, ChatMessage{Role: RoleUser, Content: "how are you"}, msgs[3])
	assert.Equal(t, ChatMessage{Role: RoleAssistant, Content: "fine, you?"}, msgs[4])
	assert.Equal(t, ChatMessage{Role: RoleUser, Content: "great"}, msgs[5])

	// The input slice is left untouched.
	assert.Equal(t, int64(4), newestFirst[0].ID)
}
