package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"gwi.com/character-memory/internal/apperr"
	"gwi.com/character-memory/internal/characters"
	"gwi.com/character-memory/internal/utils"
)

const (
	maxImportDocument = 1 << 20
	importParallelism = 4
)

// ImportResult is the outcome of importing one URL in a batch.
type ImportResult struct {
	URL       string              `json:"url"`
	Success   bool                `json:"success"`
	Message   string              `json:"message,omitempty"`
	Error     string              `json:"error,omitempty"`
	Character *characters.Profile `json:"character,omitempty"`
}

// Import fetches a character document from rawURL, validates it the way a
// generated profile is validated, stores it and seeds the persona memories.
func (s *CharacterService) Import(ctx context.Context, rawURL string) (*characters.Profile, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.Validation("URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Validation("Invalid URL", rawURL)
	}

	doc, err := s.fetchDocument(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var profile characters.Profile
	if err := json.Unmarshal([]byte(utils.StripCodeFences(string(doc))), &profile); err != nil {
		return nil, apperr.Validation("Invalid character document", err.Error())
	}
	var missing []string
	if strings.TrimSpace(profile.Name) == "" {
		missing = append(missing, "name is required")
	}
	if strings.TrimSpace(profile.Description) == "" {
		missing = append(missing, "description is required")
	}
	if len(missing) > 0 {
		return nil, apperr.Validation("Invalid character document", missing...)
	}
	if errs := profile.EnumParams().Validate(); len(errs) > 0 {
		return nil, apperr.Validation("Invalid parameters", errs...)
	}

	profile.ID = ""
	if profile.Type != characters.TypeGameCharacter {
		profile.Type = characters.TypeCharacter
	}
	profile.ContentHash = ""
	profile.PinnedURL = ""
	profile.CreatedAt = time.Time{}

	saved, err := s.characters.Create(ctx, &profile)
	if err != nil {
		return nil, err
	}
	if err := s.seedPersonaMemories(ctx, saved); err != nil {
		return nil, err
	}
	slog.Info("Character imported", "character", saved.Name, "url", rawURL)
	return saved, nil
}

// ImportAll imports every URL and reports each outcome in input order. One
// failing URL does not stop the others.
func (s *CharacterService) ImportAll(ctx context.Context, urls []string) []ImportResult {
	results := make([]ImportResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importParallelism)
	for i, u := range urls {
		i, u := i, u // per-iteration copies (go.mod targets go 1.21)
		g.Go(func() error {
			res := ImportResult{URL: u}
			p, err := s.Import(gctx, u)
			if err != nil {
				res.Error = importErrorMessage(err)
			} else {
				res.Success = true
				res.Message = fmt.Sprintf("Character %s loaded successfully from url", p.Name)
				res.Character = p
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *CharacterService) fetchDocument(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.Validation("Invalid URL", rawURL)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("Failed to fetch character from %s", rawURL), err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Validation(fmt.Sprintf("Failed to fetch character from %s", rawURL), fmt.Sprintf("HTTP status %d", resp.StatusCode))
	}

	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxImportDocument+1))
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("Failed to fetch character from %s", rawURL), err.Error())
	}
	if len(doc) > maxImportDocument {
		return nil, apperr.Validation("Character document too large", fmt.Sprintf("limit is %d bytes", maxImportDocument))
	}
	return doc, nil
}

func importErrorMessage(err error) string {
	e, ok := apperr.As(err)
	if !ok {
		return err.Error()
	}
	if len(e.Details) > 0 {
		return e.Message + ": " + strings.Join(e.Details, "; ")
	}
	return e.Message
}
