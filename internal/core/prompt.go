package core

import (
	"fmt"
	"sort"
	"strings"

	"gwi.com/character-memory/internal/characters"
	"gwi.com/character-memory/internal/store"
)

// BuildSystemPrompt renders the persona, the memory block and the
// stay-in-character instruction. Output is deterministic for equal input.
func BuildSystemPrompt(p *characters.Profile, memories []store.Memory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s", p.Name, p.Description)

	if len(p.Traits) > 0 {
		keys := make([]string, 0, len(p.Traits))
		for k := range p.Traits {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\n\nKey traits and characteristics:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, p.Traits[k])
		}
	}
	if len(p.Adjectives) > 0 {
		fmt.Fprintf(&b, "\n\nPersonality: %s", strings.Join(p.Adjectives, ", "))
	}
	writeList(&b, "Background", p.Bio)
	writeList(&b, "Areas of knowledge", p.Knowledge)
	if len(p.Topics) > 0 {
		fmt.Fprintf(&b, "\n\nTopics you enjoy: %s", strings.Join(p.Topics, ", "))
	}
	writeList(&b, "Conversation style", append(append([]string{}, p.Style.All...), p.Style.Chat...))

	if block := RenderMemoryBlock(memories); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}

	fmt.Fprintf(&b, "\n\nYou must stay in character at all times and respond as %s would, based on the above description, traits, and memories.\n", p.Name)
	b.WriteString("Never break character or acknowledge that you are an AI.")
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n%s:", title)
	for _, item := range items {
		fmt.Fprintf(b, "\n- %s", item)
	}
}

// BuildMessages orders the model input: system prompt, history oldest first,
// then the new user message.
func BuildMessages(systemPrompt string, history []store.Message, userMessage string) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	for _, m := range chronological(history) {
		role := RoleUser
		if m.Role == store.RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: userMessage})
	return messages
}

// chronological returns a copy of history sorted oldest first. Storage
// returns it newest first.
func chronological(history []store.Message) []store.Message {
	out := append([]store.Message{}, history...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
