package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"gwi.com/character-memory/internal/apperr"
	"gwi.com/character-memory/internal/auth"
	"gwi.com/character-memory/internal/characters"
	"gwi.com/character-memory/internal/core"
)

type contextKey string

const subjectKey contextKey = "subject"

type APIHandler struct {
	chatService      *core.ChatService
	characterService *core.CharacterService
	gameAgentService *core.GameAgentService
	jwtSecret        string
}

// NewAPIHandler wires the services into HTTP handlers. An empty jwtSecret
// disables bearer authentication.
func NewAPIHandler(cs *core.ChatService, chars *core.CharacterService, games *core.GameAgentService, jwtSecret string) *APIHandler {
	return &APIHandler{
		chatService:      cs,
		characterService: chars,
		gameAgentService: games,
		jwtSecret:        jwtSecret,
	}
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
	Content string   `json:"content,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.StatusCode(err)
	resp := errorResponse{Error: "Internal server error"}

	if e, ok := apperr.As(err); ok {
		resp.Error = e.Message
		resp.Details = e.Details
		resp.Content = e.Content
		if e.Kind == apperr.KindUpstreamFormat && len(resp.Details) == 0 && e.Err != nil {
			resp.Details = []string{e.Err.Error()}
		}
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation("Invalid request body", err.Error())
	}
	return nil
}

// pathParam returns a decoded route parameter. chi routes on RawPath when it
// is set, and only then is the parameter still escaped.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return raw
	}
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// JWTAuthMiddleware requires a valid bearer token when a secret is
// configured. The token subject is checked against the request's userId by
// the handlers.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.jwtSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Authorization header is required"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		subject, err := auth.ValidateJWT(h.jwtSecret, tokenString)
		if err != nil {
			slog.Debug("Rejected bearer token", "error", err)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid token"})
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorized writes a 403 and returns false when the token subject does not
// match userID. Without authentication every caller is authorized.
func (h *APIHandler) authorized(w http.ResponseWriter, r *http.Request, userID string) bool {
	subject, ok := r.Context().Value(subjectKey).(string)
	if !ok || userID == "" || subject == userID {
		return true
	}
	writeJSON(w, http.StatusForbidden, errorResponse{Error: "Token does not match userId"})
	return false
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Chat routes

type ChatRequest struct {
	Message        string `json:"message"`
	UserID         string `json:"userId"`
	ConversationID *int64 `json:"conversationId,omitempty"`
}

type ChatResponse struct {
	Success bool `json:"success"`
	*core.ChatReply
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	characterName := pathParam(r, "characterName")

	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !h.authorized(w, r, req.UserID) {
		return
	}

	reply, err := h.chatService.HandleMessage(r.Context(), req.UserID, characterName, req.Message, req.ConversationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Success: true, ChatReply: reply})
}

func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userId")
	characterName := pathParam(r, "characterName")
	if !h.authorized(w, r, userID) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, apperr.Validation("Invalid limit", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	history, err := h.chatService.History(r.Context(), userID, characterName, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": history})
}

func (h *APIHandler) MemoriesHandler(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userId")
	characterName := pathParam(r, "characterName")
	if !h.authorized(w, r, userID) {
		return
	}

	memories, err := h.chatService.Memories(r.Context(), userID, characterName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "memories": memories})
}

type StartRequest struct {
	UserID string `json:"userId"`
}

func (h *APIHandler) StartConversationHandler(w http.ResponseWriter, r *http.Request) {
	characterName := pathParam(r, "characterName")

	var req StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !h.authorized(w, r, req.UserID) {
		return
	}

	conv, err := h.chatService.StartConversation(r.Context(), req.UserID, characterName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":        true,
		"conversationId": conv.ID,
		"characterName":  conv.CharacterName,
		"userId":         conv.UserID,
	})
}

// Character routes

func (h *APIHandler) GenerateCharacterHandler(w http.ResponseWriter, r *http.Request) {
	var req core.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.characterService.Generate(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": profile})
}

func (h *APIHandler) ListCharactersHandler(w http.ResponseWriter, r *http.Request) {
	list, err := h.characterService.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(list), "characters": list})
}

func (h *APIHandler) GetCharacterHandler(w http.ResponseWriter, r *http.Request) {
	details, err := h.characterService.Get(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": details})
}

func (h *APIHandler) UpdateCharacterHandler(w http.ResponseWriter, r *http.Request) {
	var upd characters.ProfileUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.characterService.Update(r.Context(), pathParam(r, "name"), &upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": profile})
}

func (h *APIHandler) DeleteCharacterHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.characterService.Delete(r.Context(), pathParam(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *APIHandler) ImportCharacterHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.characterService.Import(r.Context(), req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Character %s loaded successfully from url", profile.Name),
		"data":    profile,
	})
}

// ImportCharactersHandler imports a list of URLs and reports per-URL results.
func (h *APIHandler) ImportCharactersHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URLs []string `json:"urls"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.URLs == nil {
		writeError(w, r, apperr.Validation("URLs must be provided as an array"))
		return
	}

	results := h.characterService.ImportAll(r.Context(), req.URLs)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

// Game agent routes

func (h *APIHandler) GenerateGameAgentHandler(w http.ResponseWriter, r *http.Request) {
	var req core.GameAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.gameAgentService.Generate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": profile})
}

func (h *APIHandler) ListGameAgentsHandler(w http.ResponseWriter, r *http.Request) {
	agents, err := h.gameAgentService.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(agents), "agents": agents})
}

func (h *APIHandler) GetGameAgentHandler(w http.ResponseWriter, r *http.Request) {
	details, err := h.gameAgentService.Get(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": details})
}

func (h *APIHandler) UpdateGameStateHandler(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := decodeJSON(r, &updates); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.gameAgentService.UpdateGameState(r.Context(), pathParam(r, "name"), updates); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Game state updated"})
}
