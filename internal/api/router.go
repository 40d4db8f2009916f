package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gwi.com/character-memory/internal/metrics"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Get("/health", apiHandler.HealthHandler)
	r.Handle("/metrics", promhttp.Handler())

	// User-scoped routes, guarded when JWT_SECRET is set
	r.Group(func(r chi.Router) {
		r.Use(apiHandler.JWTAuthMiddleware)

		r.Post("/chat/{characterName}", apiHandler.ChatHandler)
		r.Get("/history/{userId}/{characterName}", apiHandler.HistoryHandler)
		r.Get("/memories/{userId}/{characterName}", apiHandler.MemoriesHandler)
		r.Post("/start/{characterName}", apiHandler.StartConversationHandler)
	})

	r.Route("/characters", func(r chi.Router) {
		r.Post("/generate", apiHandler.GenerateCharacterHandler)
		r.Post("/import", apiHandler.ImportCharacterHandler)
		r.Post("/import-batch", apiHandler.ImportCharactersHandler)
		r.Get("/", apiHandler.ListCharactersHandler)
		r.Get("/{name}", apiHandler.GetCharacterHandler)
		r.Put("/{name}", apiHandler.UpdateCharacterHandler)
		r.Delete("/{name}", apiHandler.DeleteCharacterHandler)
	})

	r.Route("/game-agents", func(r chi.Router) {
		r.Post("/generate", apiHandler.GenerateGameAgentHandler)
		r.Get("/", apiHandler.ListGameAgentsHandler)
		r.Get("/{name}", apiHandler.GetGameAgentHandler)
		r.Post("/{name}/state", apiHandler.UpdateGameStateHandler)
	})

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
