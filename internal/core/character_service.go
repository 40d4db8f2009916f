package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"gwi.com/character-memory/internal/apperr"
	"gwi.com/character-memory/internal/characters"
	"gwi.com/character-memory/internal/enums"
	"gwi.com/character-memory/internal/store"
	"gwi.com/character-memory/internal/utils"
)

// SystemUserID owns persona memories written at generation and update time.
const SystemUserID = "system"

const personaMemoryLimit = 20

// GenerateRequest is the input of character generation. Fields the service
// does not know are kept in Extra and passed to the model as-is.
type GenerateRequest struct {
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	ModelProvider string               `json:"modelProvider,omitempty"`
	Clients       []string             `json:"clients,omitempty"`
	Plugins       []string             `json:"plugins,omitempty"`
	Settings      *characters.Settings `json:"settings,omitempty"`
	Extra         map[string]any       `json:"-"`
}

var generateRequestFields = []string{"name", "description", "modelProvider", "clients", "plugins", "settings"}

func (r *GenerateRequest) UnmarshalJSON(data []byte) error {
	type known GenerateRequest
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, f := range generateRequestFields {
		delete(all, f)
	}
	*r = GenerateRequest(k)
	if len(all) > 0 {
		r.Extra = all
	}
	return nil
}

func (r *GenerateRequest) enumParams() enums.ProfileParams {
	params := enums.ProfileParams{ModelProvider: r.ModelProvider, Clients: r.Clients}
	if r.Settings != nil {
		params.VoiceModel = r.Settings.Voice.Model
	}
	return params
}

// cleanInput is the JSON object sent to the generator model.
func (r *GenerateRequest) cleanInput() map[string]any {
	in := make(map[string]any, len(r.Extra)+6)
	for k, v := range r.Extra {
		in[k] = v
	}
	in["name"] = strings.TrimSpace(r.Name)
	in["description"] = strings.TrimSpace(r.Description)
	if r.ModelProvider != "" {
		in["modelProvider"] = r.ModelProvider
	}
	if r.Clients != nil {
		in["clients"] = r.Clients
	}
	if r.Plugins != nil {
		in["plugins"] = r.Plugins
	}
	if r.Settings != nil {
		in["settings"] = r.Settings
	}
	return in
}

// CharacterDetails is a profile together with its persona memories.
type CharacterDetails struct {
	*characters.Profile
	Memories []store.Memory `json:"memories"`
}

type CharacterService struct {
	dbStore     *store.Store
	characters  *characters.Store
	llm         LLM
	temperature float64
	httpClient  *http.Client // character imports
}

func NewCharacterService(db *store.Store, chars *characters.Store, llm LLM, temperature float64) *CharacterService {
	return &CharacterService{
		dbStore:     db,
		characters:  chars,
		llm:         llm,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Generate asks the model for a full profile, stores it and seeds the
// persona memories.
func (s *CharacterService) Generate(ctx context.Context, req *GenerateRequest) (*characters.Profile, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.Validation("Character name is required")
	}
	if errs := req.enumParams().Validate(); len(errs) > 0 {
		return nil, apperr.Validation("Invalid parameters", errs...)
	}

	input, err := json.Marshal(req.cleanInput())
	if err != nil {
		return nil, apperr.Validation("Invalid parameters", err.Error())
	}

	raw, err := s.llm.Complete(ctx, CompletionRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: characterGeneratorPrompt},
			{Role: RoleUser, Content: string(input)},
		},
		Temperature: s.temperature,
	})
	if err != nil {
		return nil, err
	}

	var profile characters.Profile
	if err := json.Unmarshal([]byte(utils.StripCodeFences(raw)), &profile); err != nil {
		slog.Warn("Generated profile is not valid JSON", "name", req.Name, "content", utils.Truncate(raw, 200))
		return nil, apperr.UpstreamFormat("Invalid JSON response", raw, err)
	}
	if strings.TrimSpace(profile.Name) == "" || strings.TrimSpace(profile.Description) == "" {
		return nil, apperr.UpstreamFormat("Invalid JSON response", raw, errors.New("missing required fields in generated profile"))
	}
	profile.ID = ""
	profile.Type = characters.TypeCharacter
	profile.ContentHash = ""
	profile.PinnedURL = ""

	saved, err := s.characters.Create(ctx, &profile)
	if err != nil {
		return nil, err
	}

	if err := s.seedPersonaMemories(ctx, saved); err != nil {
		return nil, err
	}
	slog.Info("Character generated", "character", saved.Name)
	return saved, nil
}

func (s *CharacterService) seedPersonaMemories(ctx context.Context, p *characters.Profile) error {
	if _, err := s.dbStore.StoreMemory(ctx, p.Name, SystemUserID, "initial_description", p.Description, 1.0); err != nil {
		return err
	}
	for _, k := range sortedKeys(p.Traits) {
		if _, err := s.dbStore.StoreMemory(ctx, p.Name, SystemUserID, "character_trait", fmt.Sprintf("%s: %s", k, p.Traits[k]), 0.9); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the profile and its persona memories.
func (s *CharacterService) Get(ctx context.Context, name string) (*CharacterDetails, error) {
	p, err := s.characters.LoadByName(ctx, name)
	if err != nil {
		return nil, err
	}
	memories, err := s.dbStore.GetTopMemories(ctx, p.Name, SystemUserID, personaMemoryLimit)
	if err != nil {
		return nil, err
	}
	return &CharacterDetails{Profile: p, Memories: memories}, nil
}

func (s *CharacterService) List(ctx context.Context) ([]characters.Summary, error) {
	return s.characters.List(ctx)
}

// Update applies a typed partial update. A changed description and new or
// changed traits are also remembered as persona memories.
func (s *CharacterService) Update(ctx context.Context, name string, upd *characters.ProfileUpdate) (*characters.Profile, error) {
	if upd == nil || upd.IsEmpty() {
		return nil, apperr.Validation("No fields to update")
	}
	if errs := upd.EnumParams().Validate(); len(errs) > 0 {
		return nil, apperr.Validation("Invalid parameters", errs...)
	}
	if upd.Description != nil && strings.TrimSpace(*upd.Description) == "" {
		return nil, apperr.Validation("description cannot be empty")
	}

	before, after, err := s.characters.Update(ctx, name, upd)
	if err != nil {
		return nil, err
	}

	if after.Description != before.Description {
		if _, err := s.dbStore.StoreMemory(ctx, after.Name, SystemUserID, "updated_description", after.Description, 1.0); err != nil {
			return nil, err
		}
	}
	for _, k := range sortedKeys(upd.Traits) {
		v := upd.Traits[k]
		if v == "" || before.Traits[k] == v {
			continue
		}
		if _, err := s.dbStore.StoreMemory(ctx, after.Name, SystemUserID, "character_trait", fmt.Sprintf("%s: %s", k, v), 0.9); err != nil {
			return nil, err
		}
	}
	return after, nil
}

// Delete removes the profile. Conversations and memories are kept.
func (s *CharacterService) Delete(ctx context.Context, name string) error {
	return s.characters.Delete(ctx, name)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
