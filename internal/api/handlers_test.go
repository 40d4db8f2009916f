package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/character-memory/internal/auth"
	"gwi.com/character-memory/internal/characters"
	"gwi.com/character-memory/internal/core"
	"gwi.com/character-memory/internal/store"
)

const keeperJSON = `{
  "name": "The Keeper",
  "description": "Warden of a drowned lighthouse.",
  "world": {"description": "A lighthouse swallowed by the tide.", "atmosphere": "Damp", "locations": [{"name": "Lamp Room"}]}
}`

// fakeModel plays every model role the service needs.
func fakeModel(_ context.Context, req core.CompletionRequest) (string, error) {
	first := req.Messages[0].Content
	switch {
	case strings.HasPrefix(first, "You are a character profile generator"):
		var in struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(req.Messages[1].Content), &in); err != nil {
			return "", err
		}
		return fmt.Sprintf("```json\n{\"name\": %q, \"description\": \"A starship pilot.\", \"traits\": {\"brave\": \"never backs down\"}}\n```", in.Name), nil
	case strings.HasPrefix(first, "You are a game agent profile generator"):
		return keeperJSON, nil
	case strings.HasPrefix(first, "From the following conversation"):
		return "- Memory: The user's name is Sam\n- Importance: 0.9\n- Type: personal_detail", nil
	default:
		return "Hello, traveller.", nil
	}
}

func newTestServer(t *testing.T, llm core.LLM, jwtSecret string) http.Handler {
	t.Helper()
	dir := t.TempDir()

	db, err := store.NewStore("sqlite3", filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	chars, err := characters.NewStore(characters.Options{
		Dir:       filepath.Join(dir, "generated"),
		IndexPath: filepath.Join(dir, "index.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { chars.Close() })

	chat := core.NewChatService(db, chars, core.NewMemoryManager(db, llm, 5), llm, core.ChatOptions{HistoryLimit: 10})
	t.Cleanup(chat.Wait)

	handler := NewAPIHandler(
		chat,
		core.NewCharacterService(db, chars, llm, 0.9),
		core.NewGameAgentService(db, chars, llm, 0.9),
		jwtSecret,
	)
	return NewRouter(handler)
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, core.LLMFunc(fakeModel), "")

	code, body := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestChatRoundTrip(t *testing.T) {
	h := newTestServer(t, core.LLMFunc(fakeModel), "")

	code, _ := do(t, h, http.MethodPost, "/characters/generate", `{"name":"Nova","description":"pilot"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body := do(t, h, http.MethodPost, "/chat/Nova", `{"message":"Hello, I'm Sam","userId":"u1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Hello, traveller.", body["message"])
	assert.Equal(t, "Nova", body["character"])
	convID, ok := body["conversationId"].(float64)
	require.True(t, ok)
	assert.Positive(t, convID)
	assert.NotEmpty(t, body["timestamp"])

	code, body = do(t, h, http.MethodPost, "/chat/nova", fmt.Sprintf(`{"message":"Again","userId":"u1","conversationId":%d}`, int64(convID)))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, convID, body["conversationId"])

	code, body = do(t, h, http.MethodGet, "/history/u1/Nova", "")
	require.Equal(t, http.StatusOK, code)
	history := body["history"].([]any)
	require.Len(t, history, 4)
	assert.Equal(t, "Hello, I'm Sam", history[0].(map[string]any)["content"])
	assert.Equal(t, "user", history[0].(map[string]any)["role"])
	assert.Equal(t, "Hello, traveller.", history[3].(map[string]any)["content"])

	code, body = do(t, h, http.MethodGet, "/history/u1/Nova?limit=2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["history"], 2)

	code, body = do(t, h, http.MethodGet, "/memories/u1/Nova", "")
	require.Equal(t, http.StatusOK, code)
	memories := body["memories"].([]any)
	require.Len(t, memories, 2)
	assert.Equal(t, "The user's name is Sam", memories[0].(map[string]any)["content"])
}

func TestChatErrors(t *testing.T) {
	h := newTestServer(t, core.LLMFunc(fakeModel), "")

	code, body := do(t, h, http.MethodPost, "/chat/Nova", `{"message":"Hello"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Message and userId are required", body["error"])

	code, body = do(t, h, http.MethodPost, "/chat/Ghost", `{"message":"Hello","userId":"u1"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Character not found", body["error"])

	code, _ = do(t, h, http.MethodPost, "/chat/Nova", `{"message":`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, h, http.MethodGet, "/history/u1/Nova?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid limit", body["error"])

	code, body = do(t, h, http.MethodGet, "/history/u1/Ghost", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["history"])
}

func TestModelFailureReturns500(t *testing.T) {
	llm := core.LLMFunc(func(ctx context.Context, req core.CompletionRequest) (string, error) {
		if req.Messages[0].Role == core.RoleSystem && strings.HasPrefix(req.Messages[0].Content, "You are Nova") {
			return "", fmt.Errorf("model unavailable")
		}
		return fakeModel(ctx, req)
	})
	h := newTestServer(t, llm, "")
	code, _ := do(t, h, http.MethodPost, "/characters/generate", `{"name":"Nova"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body := do(t, h, http.MethodPost, "/chat/Nova", `{"message":"Hello","userId":"u1"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotEmpty(t, body["error"])

	_, body = do(t, h, http.MethodGet, "/history/u1/Nova", "")
	assert.Empty(t, body["history"])
}

func TestEscapedCharacterNames(t *testing.T) {
	h := newTestServer(t, core.LLMFunc(fakeModel), "")
	code, _ := do(t, h, http.MethodPost, "/characters/generate", `{"name":"Nova Star"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body := do(t, h, http.MethodPost, "/chat/Nova%20Star", `{"message":"Hi","userId":"u1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Nova Star", body["character"])

	_, body = do(t, h, http.MethodGet, "/history/u1/nova%20star", "")
	assert.Len(t, body["history"], 2)
}

func TestPercentInCharacterNamesDecodedOnce(t *testing.T) {
	h := newTestServer(t, core.LLMFunc(fakeModel), "")
	code, _ := do(t, h, http.MethodPost, "/characters/generate", `{"name":"Nova%20X"}`)
	require.Equal(t, http.StatusCreated, code)
	code, _ = do(t, h, http.MethodPost, "/characters/generate", `{"name":"AC/DC"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body := do(t, h, http.MethodGet, "/characters/Nova%2520X", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Nova%20X", body["data"].(map[string]any)["name"])

	code, body = do(t, h, http.MethodGet, "/characters/AC%2FDC", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "AC/DC", body["data"].(map[string]any)["name"])
}

func TestStartConversation(t *testing.T) {
	h := newTestServer(t, core.LLMFunc(fakeModel), "")
	do(t, h, http.MethodPost, "/characters/generate", `{"name":"Nova"}`)

	code, body := do(t, h, http.MethodPost, "/start/Nova", `{"userId":"u1"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Nova", body["characterName"])
	assert.Equal(t, "u1", body["userId"])
	assert.Positive(t, body["conversationId"])

	code, _ = do(t, h, http.MethodPost, "/start/Nova", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCharacterLifecycle(t *testing.T) {
	h := newTestServer(t, core.LLMFunc(fakeModel), "")

	code, body := do(t, h, http.MethodPost, "/characters/generate", `{"name":"Nova","clients":["discord"]}`)
	require.Equal(t, http.StatusCreated, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Nova", data["name"])
	assert.Equal(t, "character", data["type"])

	code, body = do(t, h, http.MethodPost, "/characters/generate", `{"name":"NOVA"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, body = do(t, h, http.MethodPost, "/characters/generate", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "name is required")

	code, body = do(t, h, http.MethodPost, "/characters/generate", `{"name":"Vega","modelProvider":"cohere"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid parameters", body["error"])
	assert.Len(t, body["details"], 1)

	code, body = do(t, h, http.MethodGet, "/characters", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, body = do(t, h, http.MethodGet, "/characters/nova", "")
	require.Equal(t, http.StatusOK, code)
	data = body["data"].(map[string]any)
	assert.Equal(t, "A starship pilot.", data["description"])
	assert.Len(t, data["memories"], 2)

	code, body = do(t, h, http.MethodPut, "/characters/Nova", `{"description":"A retired pilot.","topics":["stars"]}`)
	require.Equal(t, http.StatusOK, code)
	data = body["data"].(map[string]any)
	assert.Equal(t, "A retired pilot.", data["description"])
	assert.Equal(t, []any{"stars"}, data["topics"])

	code, _ = do(t, h, http.MethodPut, "/characters/Nova", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodDelete, "/characters/Nova", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, http.MethodGet, "/characters/Nova", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, h, http.MethodDelete, "/characters/Nova", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestImportCharacterRoutes(t *testing.T) {
	docs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/nova.json":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"name":"Nova","description":"A starship pilot.","traits":{"brave":"never backs down"}}`)
		case "/vega.json":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"name":"Vega","description":"A navigator."}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer docs.Close()
	h := newTestServer(t, core.LLMFunc(fakeModel), "")

	code, body := do(t, h, http.MethodPost, "/characters/import", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "URL is required", body["error"])

	code, body = do(t, h, http.MethodPost, "/characters/import", fmt.Sprintf(`{"url":%q}`, docs.URL+"/nova.json"))
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Character Nova loaded successfully from url", body["message"])
	assert.Equal(t, "Nova", body["data"].(map[string]any)["name"])

	code, _ = do(t, h, http.MethodPost, "/characters/import", fmt.Sprintf(`{"url":%q}`, docs.URL+"/nova.json"))
	assert.Equal(t, http.StatusConflict, code)

	code, body = do(t, h, http.MethodPost, "/characters/import", fmt.Sprintf(`{"url":%q}`, docs.URL+"/gone.json"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "Failed to fetch character")

	code, body = do(t, h, http.MethodPost, "/characters/import-batch", `{"urls":"not a list"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, h, http.MethodPost, "/characters/import-batch", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "URLs must be provided as an array", body["error"])

	code, body = do(t, h, http.MethodPost, "/characters/import-batch",
		fmt.Sprintf(`{"urls":[%q,%q]}`, docs.URL+"/vega.json", docs.URL+"/gone.json"))
	require.Equal(t, http.StatusOK, code)
	results := body["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, true, results[0].(map[string]any)["success"])
	assert.Equal(t, false, results[1].(map[string]any)["success"])
	assert.NotEmpty(t, results[1].(map[string]any)["error"])

	code, body = do(t, h, http.MethodGet, "/characters/vega", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "A navigator.", body["data"].(map[string]any)["description"])

	code, body = do(t, h, http.MethodGet, "/characters", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])
}

func TestGenerateEchoesUnparsableOutput(t *testing.T) {
	llm := core.LLMFunc(func(context.Context, core.CompletionRequest) (string, error) {
		return "not json at all", nil
	})
	h := newTestServer(t, llm, "")

	code, body := do(t, h, http.MethodPost, "/characters/generate", `{"name":"Nova"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "Invalid JSON response", body["error"])
	assert.Equal(t, "not json at all", body["content"])
	assert.NotEmpty(t, body["details"])
}

func TestGameAgentRoutes(t *testing.T) {
	h := newTestServer(t, core.LLMFunc(fakeModel), "")
	do(t, h, http.MethodPost, "/characters/generate", `{"name":"Nova"}`)

	code, body := do(t, h, http.MethodPost, "/game-agents/generate", `{"theme":"lighthouse"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required fields: theme, goal, and antagonist are required", body["error"])

	code, body = do(t, h, http.MethodPost, "/game-agents/generate", `{"theme":"lighthouse","goal":"relight the lamp","antagonist":"the tide"}`)
	require.Equal(t, http.StatusCreated, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "game_character", data["type"])

	code, body = do(t, h, http.MethodGet, "/game-agents", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, body = do(t, h, http.MethodPost, "/game-agents/The%20Keeper/state", `{"lamp":"lit"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Game state updated", body["message"])

	code, body = do(t, h, http.MethodGet, "/game-agents/The%20Keeper", "")
	require.Equal(t, http.StatusOK, code)
	found := false
	for _, m := range body["data"].(map[string]any)["memories"].([]any) {
		if m.(map[string]any)["memory_type"] == "state_lamp" {
			found = true
		}
	}
	assert.True(t, found)

	code, body = do(t, h, http.MethodGet, "/game-agents/Nova", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Game agent not found", body["error"])
}

func TestBearerAuthentication(t *testing.T) {
	const secret = "test-secret"
	h := newTestServer(t, core.LLMFunc(fakeModel), secret)
	do(t, h, http.MethodPost, "/characters/generate", `{"name":"Nova"}`)

	code, _ := do(t, h, http.MethodGet, "/history/u1/Nova", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, h, http.MethodGet, "/history/u1/Nova", "", "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, code)

	other, err := auth.GenerateJWT(secret, "u2", time.Hour)
	require.NoError(t, err)
	code, _ = do(t, h, http.MethodPost, "/chat/Nova", `{"message":"Hi","userId":"u1"}`, "Authorization", "Bearer "+other)
	assert.Equal(t, http.StatusForbidden, code)

	token, err := auth.GenerateJWT(secret, "u1", time.Hour)
	require.NoError(t, err)
	code, _ = do(t, h, http.MethodPost, "/chat/Nova", `{"message":"Hi","userId":"u1"}`, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, code)
	code, body := do(t, h, http.MethodGet, "/history/u1/Nova", "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["history"], 2)
}
