package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"gwi.com/character-memory/internal/auth"
	"gwi.com/character-memory/internal/config"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "token <userId>",
		Short: "Print a bearer token for userId (requires JWT_SECRET)",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "characters",
		Short: "Print the character index as JSON",
		Args:  cobra.NoArgs,
		RunE:  runCharacters,
	})
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := &config.AppConfig
	token, err := auth.GenerateJWT(cfg.JWTSecret, args[0], cfg.JWTTTL)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runCharacters(cmd *cobra.Command, args []string) error {
	cfg := &config.AppConfig
	// Listing reads the local index only; snapshots are not pinned from here.
	s, err := openCharacterStore(cmd.Context(), &config.Config{
		CharacterDir:       cfg.CharacterDir,
		CharacterIndexPath: cfg.CharacterIndexPath,
		CharacterCacheTTL:  cfg.CharacterCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("open character store: %w", err)
	}
	defer s.Close()

	list, err := s.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list characters: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}
