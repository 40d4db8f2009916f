package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"gwi.com/character-memory/internal/apperr"
	"gwi.com/character-memory/internal/characters"
	"gwi.com/character-memory/internal/store"
	"gwi.com/character-memory/internal/utils"
)

// GameUserID owns game-world memories.
const GameUserID = "game"

const defaultGameDuration = "5 minutes"

type GameAgentRequest struct {
	Theme      string `json:"theme"`
	Goal       string `json:"goal"`
	Antagonist string `json:"antagonist"`
}

type generatedGameAgent struct {
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	ModelProvider string              `json:"modelProvider"`
	Clients       []string            `json:"clients"`
	Plugins       []string            `json:"plugins"`
	Settings      characters.Settings `json:"settings"`
	World         *characters.World   `json:"world"`
}

// GameAgentService generates game-master characters and tracks game state
// as memories.
type GameAgentService struct {
	dbStore     *store.Store
	characters  *characters.Store
	llm         LLM
	temperature float64
}

func NewGameAgentService(db *store.Store, chars *characters.Store, llm LLM, temperature float64) *GameAgentService {
	return &GameAgentService{dbStore: db, characters: chars, llm: llm, temperature: temperature}
}

func (s *GameAgentService) Generate(ctx context.Context, req GameAgentRequest) (*characters.Profile, error) {
	req.Theme = strings.TrimSpace(req.Theme)
	req.Goal = strings.TrimSpace(req.Goal)
	req.Antagonist = strings.TrimSpace(req.Antagonist)
	if req.Theme == "" || req.Goal == "" || req.Antagonist == "" {
		return nil, apperr.Validation("Missing required fields: theme, goal, and antagonist are required")
	}

	input, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Validation("Invalid parameters", err.Error())
	}
	raw, err := s.llm.Complete(ctx, CompletionRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: gameAgentGeneratorPrompt},
			{Role: RoleUser, Content: string(input)},
		},
		Temperature: s.temperature,
	})
	if err != nil {
		return nil, err
	}

	var gen generatedGameAgent
	if err := json.Unmarshal([]byte(utils.StripCodeFences(raw)), &gen); err != nil {
		return nil, apperr.UpstreamFormat("Invalid response format from model", raw, err)
	}
	if strings.TrimSpace(gen.Name) == "" {
		return nil, apperr.UpstreamFormat("Invalid response format from model", raw, fmt.Errorf("generated game agent has no name"))
	}

	profile := newGameProfile(req, &gen)
	saved, err := s.characters.Create(ctx, profile)
	if err != nil {
		return nil, err
	}
	if err := s.seedGameMemories(ctx, saved); err != nil {
		return nil, err
	}
	slog.Info("Game agent generated", "character", saved.Name, "theme", req.Theme)
	return saved, nil
}

func newGameProfile(req GameAgentRequest, gen *generatedGameAgent) *characters.Profile {
	description := gen.Description
	if description == "" && gen.World != nil {
		description = gen.World.Description
	}
	if description == "" {
		description = req.Theme
	}

	settings := gen.Settings
	settings.IsGame = true

	return &characters.Profile{
		Name:          gen.Name,
		Description:   description,
		Type:          characters.TypeGameCharacter,
		ModelProvider: gen.ModelProvider,
		Clients:       nonNil(gen.Clients),
		Plugins:       nonNil(gen.Plugins),
		Settings:      settings,
		Theme:         req.Theme,
		Goal:          req.Goal,
		Antagonist:    req.Antagonist,
		Game: &characters.GameDetails{
			World: gen.World,
			Gameplay: characters.Gameplay{
				AvailableActions: []string{},
				ItemCombinations: []string{},
				CoreMechanics:    []string{},
				QuickWins:        []string{},
				HiddenElements:   []string{},
			},
			Victory: characters.Victory{
				MainCondition:     req.Goal,
				AlternatePaths:    []string{},
				BonusAchievements: []string{},
				FailureStates:     []string{},
			},
			TimeMechanics: characters.TimeMechanics{
				TotalTime:        defaultGameDuration,
				KeyMoments:       []string{},
				PressureElements: []string{},
			},
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *GameAgentService) seedGameMemories(ctx context.Context, p *characters.Profile) error {
	type seed struct {
		kind       string
		content    any
		importance float64
	}
	seeds := []seed{{"initial_description", p.Description, 1.0}}
	if w := p.Game.World; w != nil {
		seeds = append(seeds,
			seed{"world_description", w.Description, 1.0},
			seed{"atmosphere", w.Atmosphere, 0.9},
		)
		for _, loc := range w.Locations {
			seeds = append(seeds, seed{"location_" + loc.Name, loc, 0.8})
		}
	}
	seeds = append(seeds,
		seed{"game_details", GameAgentRequest{Theme: p.Theme, Goal: p.Goal, Antagonist: p.Antagonist}, 1.0},
		seed{"gameplay_mechanics", p.Game.Gameplay, 1.0},
		seed{"victory_conditions", p.Game.Victory, 1.0},
	)

	for _, sd := range seeds {
		content, err := memoryText(sd.content)
		if err != nil {
			return apperr.Storage("failed to encode game memory", err)
		}
		if content == "" {
			continue
		}
		if _, err := s.dbStore.StoreMemory(ctx, p.Name, GameUserID, sd.kind, content, sd.importance); err != nil {
			return err
		}
	}
	return nil
}

// memoryText keeps strings as they are and stores anything else as JSON.
func memoryText(v any) (string, error) {
	if str, ok := v.(string); ok {
		return str, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *GameAgentService) load(ctx context.Context, name string) (*characters.Profile, error) {
	p, err := s.characters.LoadByName(ctx, name)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("Game agent not found")
		}
		return nil, err
	}
	if !p.IsGame() {
		return nil, apperr.NotFound("Game agent not found")
	}
	return p, nil
}

// Get returns the game agent with its game memories, state included.
func (s *GameAgentService) Get(ctx context.Context, name string) (*CharacterDetails, error) {
	p, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	memories, err := s.dbStore.GetTopMemories(ctx, p.Name, GameUserID, personaMemoryLimit)
	if err != nil {
		return nil, err
	}
	return &CharacterDetails{Profile: p, Memories: memories}, nil
}

// UpdateGameState stores one state_<key> memory per entry.
func (s *GameAgentService) UpdateGameState(ctx context.Context, name string, updates map[string]any) error {
	if len(updates) == 0 {
		return apperr.Validation("No state updates provided")
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		if strings.TrimSpace(k) == "" {
			return apperr.Validation("State keys cannot be empty")
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p, err := s.load(ctx, name)
	if err != nil {
		return err
	}
	for _, k := range keys {
		content, err := memoryText(updates[k])
		if err != nil {
			return apperr.Validation("Invalid state value", k)
		}
		if _, err := s.dbStore.StoreMemory(ctx, p.Name, GameUserID, "state_"+k, content, 1.0); err != nil {
			return err
		}
	}
	return nil
}

func (s *GameAgentService) List(ctx context.Context) ([]characters.Summary, error) {
	all, err := s.characters.List(ctx)
	if err != nil {
		return nil, err
	}
	agents := []characters.Summary{}
	for _, c := range all {
		if c.Type == characters.TypeGameCharacter {
			agents = append(agents, c)
		}
	}
	return agents, nil
}
