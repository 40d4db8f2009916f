package core

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/character-memory/internal/apperr"
	"gwi.com/character-memory/internal/characters"
)

const novaProfileJSON = "```json\n" + `{
  "name": "Nova",
  "description": "A starship pilot with a dry wit.",
  "modelProvider": "openai",
  "clients": [],
  "plugins": [],
  "settings": {"secrets": {}, "voice": {"model": "en_US-male-medium"}},
  "bio": ["Born on Titan"],
  "topics": ["navigation"],
  "style": {"all": ["concise"], "chat": ["friendly"], "post": ["punchy"]},
  "adjectives": ["bold"],
  "messageExamples": [{"user": "{{user1}}", "content": {"text": "Hi"}}],
  "traits": {"brave": "never backs down", "witty": "dry humour"}
}` + "\n```"

func staticLLM(reply string, seen *CompletionRequest) LLM {
	return LLMFunc(func(_ context.Context, req CompletionRequest) (string, error) {
		if seen != nil {
			*seen = req
		}
		return reply, nil
	})
}

func TestGenerateRequiresName(t *testing.T) {
	deps := newTestDeps(t)
	svc := NewCharacterService(deps.db, deps.chars, staticLLM(novaProfileJSON, nil), 0.9)

	_, err := svc.Generate(context.Background(), &GenerateRequest{Name: "  "})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Contains(t, e.Message, "name is required")
}

func TestGenerateValidatesEnumerations(t *testing.T) {
	deps := newTestDeps(t)
	svc := NewCharacterService(deps.db, deps.chars, staticLLM(novaProfileJSON, nil), 0.9)

	_, err := svc.Generate(context.Background(), &GenerateRequest{
		Name:          "Nova",
		ModelProvider: "cohere",
		Clients:       []string{"discord", "myspace"},
		Settings:      &characters.Settings{Voice: characters.Voice{Model: "robot"}},
	})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, "Invalid parameters", e.Message)
	require.Len(t, e.Details, 3)
	assert.Contains(t, e.Details[1], "myspace")
}

func TestGenerateStoresProfileAndPersonaMemories(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	var seen CompletionRequest
	svc := NewCharacterService(deps.db, deps.chars, staticLLM(novaProfileJSON, &seen), 0.9)

	var req GenerateRequest
	require.NoError(t, json.Unmarshal([]byte(`{"name":" Nova ","description":"pilot","clients":["discord"],"personality":"sardonic"}`), &req))
	assert.Equal(t, map[string]any{"personality": "sardonic"}, req.Extra)

	p, err := svc.Generate(ctx, &req)
	require.NoError(t, err)
	assert.Equal(t, "Nova", p.Name)
	assert.Equal(t, "A starship pilot with a dry wit.", p.Description)
	assert.Equal(t, characters.TypeCharacter, p.Type)
	assert.NotEmpty(t, p.ID)

	require.Len(t, seen.Messages, 2)
	assert.Equal(t, RoleSystem, seen.Messages[0].Role)
	assert.Equal(t, 0.9, seen.Temperature)
	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(seen.Messages[1].Content), &sent))
	assert.Equal(t, "Nova", sent["name"])
	assert.Equal(t, "sardonic", sent["personality"])

	details, err := svc.Get(ctx, "NOVA")
	require.NoError(t, err)
	assert.Equal(t, "A starship pilot with a dry wit.", details.Description)
	require.Len(t, details.Memories, 3)
	assert.Equal(t, "initial_description", details.Memories[0].MemoryType)
	assert.Equal(t, 1.0, details.Memories[0].ImportanceScore)
	assert.Equal(t, "character_trait", details.Memories[1].MemoryType)
}

func TestGenerateRejectsUnparsableOutput(t *testing.T) {
	deps := newTestDeps(t)
	svc := NewCharacterService(deps.db, deps.chars, staticLLM("Sure! Here is Nova: {name: Nova", nil), 0.9)

	_, err := svc.Generate(context.Background(), &GenerateRequest{Name: "Nova"})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindUpstreamFormat, e.Kind)
	assert.Equal(t, 422, e.HTTPStatus())
	assert.Equal(t, "Sure! Here is Nova: {name: Nova", e.Content)
}

func TestGenerateRequiresNameAndDescriptionInOutput(t *testing.T) {
	deps := newTestDeps(t)
	svc := NewCharacterService(deps.db, deps.chars, staticLLM(`{"name":"Nova"}`, nil), 0.9)

	_, err := svc.Generate(context.Background(), &GenerateRequest{Name: "Nova"})
	assert.True(t, apperr.Is(err, apperr.KindUpstreamFormat))

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGenerateDuplicateNameConflicts(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	svc := NewCharacterService(deps.db, deps.chars, staticLLM(novaProfileJSON, nil), 0.9)

	_, err := svc.Generate(ctx, &GenerateRequest{Name: "Nova"})
	require.NoError(t, err)
	_, err = svc.Generate(ctx, &GenerateRequest{Name: "nova"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestUpdateCharacter(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	svc := NewCharacterService(deps.db, deps.chars, staticLLM(novaProfileJSON, nil), 0.9)
	_, err := svc.Generate(ctx, &GenerateRequest{Name: "Nova"})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "Nova", &characters.ProfileUpdate{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	bad := "cohere"
	_, err = svc.Update(ctx, "Nova", &characters.ProfileUpdate{ModelProvider: &bad})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	desc := "A retired starship pilot."
	updated, err := svc.Update(ctx, "nova", &characters.ProfileUpdate{
		Description: &desc,
		Traits:      map[string]string{"patient": "finally"},
	})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, "finally", updated.Traits["patient"])
	assert.Equal(t, "never backs down", updated.Traits["brave"])

	details, err := svc.Get(ctx, "Nova")
	require.NoError(t, err)
	types := map[string]int{}
	for _, m := range details.Memories {
		types[m.MemoryType]++
	}
	assert.Equal(t, 1, types["updated_description"])
	assert.Equal(t, 3, types["character_trait"])

	_, err = svc.Update(ctx, "Ghost", &characters.ProfileUpdate{Description: &desc})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDeleteCharacter(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	svc := NewCharacterService(deps.db, deps.chars, staticLLM(novaProfileJSON, nil), 0.9)
	_, err := svc.Generate(ctx, &GenerateRequest{Name: "Nova"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "nova"))
	_, err = svc.Get(ctx, "Nova")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
