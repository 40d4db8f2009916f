package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gwi.com/character-memory/internal/api"
	"gwi.com/character-memory/internal/characters"
	"gwi.com/character-memory/internal/config"
	"gwi.com/character-memory/internal/core"
	"gwi.com/character-memory/internal/store"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "character-memory",
	Short: "Character chat service with long-term user memory",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(envFile)
		if err != nil {
			return err
		}
		setupLogging(cfg)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context(), &config.AppConfig)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: .env when present)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), &config.AppConfig)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs the slog default handler. Standard log output, such
// as chi's, goes through the same handler.
func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	log.SetFlags(0)
}

func openCharacterStore(ctx context.Context, cfg *config.Config) (*characters.Store, error) {
	var pinner characters.Pinner
	if cfg.S3Bucket != "" {
		s3Pinner, err := characters.NewS3Pinner(ctx, characters.S3Config{
			BucketName:  cfg.S3Bucket,
			Region:      cfg.S3Region,
			AccessKeyID: cfg.S3AccessKey,
			SecretKey:   cfg.S3SecretKey,
			Endpoint:    cfg.S3Endpoint,
			PathPrefix:  cfg.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		pinner = s3Pinner
		slog.Info("Pinning character snapshots to S3", "bucket", cfg.S3Bucket)
	}

	return characters.NewStore(characters.Options{
		Dir:       cfg.CharacterDir,
		IndexPath: cfg.CharacterIndexPath,
		CacheTTL:  cfg.CharacterCacheTTL,
		Pinner:    pinner,
	})
}

func runServer(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.LogLevel == "DEBUG" {
		slog.Debug("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewStore(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	charStore, err := openCharacterStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize character store: %w", err)
	}
	defer charStore.Close()

	// Initialize LLM service
	llmService, err := core.NewLLMService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}
	defer llmService.Close()

	memoryManager := core.NewMemoryManager(dbStore, llmService, cfg.MemoryLimit)
	chatService := core.NewChatService(dbStore, charStore, memoryManager, llmService, core.ChatOptions{
		HistoryLimit:      cfg.HistoryLimit,
		ExtractionAsync:   cfg.MemoryExtractionAsync,
		ExtractionTimeout: cfg.MemoryExtractionTimeout,
	})
	characterService := core.NewCharacterService(dbStore, charStore, llmService, cfg.GenerationTemperature)
	gameAgentService := core.NewGameAgentService(dbStore, charStore, llmService, cfg.GenerationTemperature)

	apiHandler := api.NewAPIHandler(chatService, characterService, gameAgentService, cfg.JWTSecret)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // generation calls can take a while
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", serverAddr, "provider", llmService.Provider(), "auth", cfg.JWTSecret != "")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
	}
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Let background memory extraction finish before the stores close.
	chatService.Wait()
	slog.Info("Server exiting gracefully")
	return nil
}
