// Package characters stores generated character profiles. Every save writes
// an immutable JSON snapshot; a small SQLite index keeps one row per name for
// listing and uniqueness checks.
package characters

import (
	"time"

	"github.com/goccy/go-json"

	"gwi.com/character-memory/internal/enums"
)

const (
	TypeCharacter     = "character"
	TypeGameCharacter = "game_character"
)

type Voice struct {
	Model string `json:"model,omitempty"`
}

type Settings struct {
	Secrets map[string]string `json:"secrets"`
	Voice   Voice             `json:"voice"`
	IsGame  bool              `json:"isGame,omitempty"`
}

type Style struct {
	All  []string `json:"all"`
	Chat []string `json:"chat"`
	Post []string `json:"post"`
}

type Location struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	SpecialActions []string `json:"special_actions"`
	Items          []string `json:"items"`
	NPCs           []string `json:"npcs"`
}

type World struct {
	Description string     `json:"description"`
	Atmosphere  string     `json:"atmosphere"`
	Locations   []Location `json:"locations"`
}

type Gameplay struct {
	AvailableActions []string `json:"available_actions"`
	ItemCombinations []string `json:"item_combinations"`
	CoreMechanics    []string `json:"core_mechanics"`
	QuickWins        []string `json:"quick_wins"`
	HiddenElements   []string `json:"hidden_elements"`
}

type Victory struct {
	MainCondition     string   `json:"main_condition"`
	AlternatePaths    []string `json:"alternate_paths"`
	BonusAchievements []string `json:"bonus_achievements"`
	FailureStates     []string `json:"failure_states"`
}

type TimeMechanics struct {
	TotalTime        string   `json:"total_time"`
	KeyMoments       []string `json:"key_moments"`
	PressureElements []string `json:"pressure_elements"`
}

// GameDetails is only set on game characters.
type GameDetails struct {
	World         *World        `json:"world,omitempty"`
	Gameplay      Gameplay      `json:"gameplay"`
	Victory       Victory       `json:"victory"`
	TimeMechanics TimeMechanics `json:"time_mechanics"`
}

// Profile is the persona document produced by generation.
type Profile struct {
	ID              string            `json:"id,omitempty"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Type            string            `json:"type,omitempty"`
	ModelProvider   string            `json:"modelProvider,omitempty"`
	Clients         []string          `json:"clients"`
	Plugins         []string          `json:"plugins"`
	People          []string          `json:"people,omitempty"`
	Settings        Settings          `json:"settings"`
	Bio             []string          `json:"bio,omitempty"`
	Lore            []string          `json:"lore,omitempty"`
	Knowledge       []string          `json:"knowledge,omitempty"`
	MessageExamples json.RawMessage   `json:"messageExamples,omitempty"`
	PostExamples    []string          `json:"postExamples,omitempty"`
	Topics          []string          `json:"topics,omitempty"`
	Style           Style             `json:"style"`
	Adjectives      []string          `json:"adjectives,omitempty"`
	Traits          map[string]string `json:"traits,omitempty"`

	Theme      string       `json:"theme,omitempty"`
	Goal       string       `json:"goal,omitempty"`
	Antagonist string       `json:"antagonist,omitempty"`
	Game       *GameDetails `json:"game,omitempty"`

	ContentHash string    `json:"contentHash,omitempty"`
	PinnedURL   string    `json:"pinnedUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsGame reports whether the profile was produced by game-agent generation.
func (p *Profile) IsGame() bool {
	return p.Type == TypeGameCharacter || p.Settings.IsGame
}

func (p *Profile) EnumParams() enums.ProfileParams {
	return enums.ProfileParams{
		ModelProvider: p.ModelProvider,
		Clients:       p.Clients,
		VoiceModel:    p.Settings.Voice.Model,
	}
}

// Summary is the index row returned by List.
type Summary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Type          string    `json:"type"`
	ModelProvider string    `json:"modelProvider,omitempty"`
	PinnedURL     string    `json:"pinnedUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ProfileUpdate is a partial update. Nil fields are left alone; set slice
// fields replace the stored slice wholesale; Traits merges key by key and an
// empty value removes the key; Style and Voice replace. Name, ID, CreatedAt
// and ContentHash cannot be changed.
type ProfileUpdate struct {
	Description     *string           `json:"description,omitempty"`
	ModelProvider   *string           `json:"modelProvider,omitempty"`
	Clients         *[]string         `json:"clients,omitempty"`
	Plugins         *[]string         `json:"plugins,omitempty"`
	People          *[]string         `json:"people,omitempty"`
	Voice           *Voice            `json:"voice,omitempty"`
	Bio             *[]string         `json:"bio,omitempty"`
	Lore            *[]string         `json:"lore,omitempty"`
	Knowledge       *[]string         `json:"knowledge,omitempty"`
	MessageExamples json.RawMessage   `json:"messageExamples,omitempty"`
	PostExamples    *[]string         `json:"postExamples,omitempty"`
	Topics          *[]string         `json:"topics,omitempty"`
	Style           *Style            `json:"style,omitempty"`
	Adjectives      *[]string         `json:"adjectives,omitempty"`
	Traits          map[string]string `json:"traits,omitempty"`
	Theme           *string           `json:"theme,omitempty"`
	Goal            *string           `json:"goal,omitempty"`
	Antagonist      *string           `json:"antagonist,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u *ProfileUpdate) IsEmpty() bool {
	return u.Description == nil && u.ModelProvider == nil && u.Clients == nil &&
		u.Plugins == nil && u.People == nil && u.Voice == nil && u.Bio == nil &&
		u.Lore == nil && u.Knowledge == nil && u.MessageExamples == nil &&
		u.PostExamples == nil && u.Topics == nil && u.Style == nil &&
		u.Adjectives == nil && u.Traits == nil && u.Theme == nil &&
		u.Goal == nil && u.Antagonist == nil
}

func (u *ProfileUpdate) EnumParams() enums.ProfileParams {
	var params enums.ProfileParams
	if u.ModelProvider != nil {
		params.ModelProvider = *u.ModelProvider
	}
	if u.Clients != nil {
		params.Clients = *u.Clients
	}
	if u.Voice != nil {
		params.VoiceModel = u.Voice.Model
	}
	return params
}

// Apply merges the update into p.
func (u *ProfileUpdate) Apply(p *Profile) {
	setString(&p.Description, u.Description)
	setString(&p.ModelProvider, u.ModelProvider)
	setString(&p.Theme, u.Theme)
	setString(&p.Goal, u.Goal)
	setString(&p.Antagonist, u.Antagonist)

	setSlice(&p.Clients, u.Clients)
	setSlice(&p.Plugins, u.Plugins)
	setSlice(&p.People, u.People)
	setSlice(&p.Bio, u.Bio)
	setSlice(&p.Lore, u.Lore)
	setSlice(&p.Knowledge, u.Knowledge)
	setSlice(&p.PostExamples, u.PostExamples)
	setSlice(&p.Topics, u.Topics)
	setSlice(&p.Adjectives, u.Adjectives)

	if u.Voice != nil {
		p.Settings.Voice = *u.Voice
	}
	if u.Style != nil {
		p.Style = Style{
			All:  append([]string(nil), u.Style.All...),
			Chat: append([]string(nil), u.Style.Chat...),
			Post: append([]string(nil), u.Style.Post...),
		}
	}
	if u.MessageExamples != nil {
		p.MessageExamples = append(json.RawMessage(nil), u.MessageExamples...)
	}

	for k, v := range u.Traits {
		if v == "" {
			delete(p.Traits, k)
			continue
		}
		if p.Traits == nil {
			p.Traits = make(map[string]string)
		}
		p.Traits[k] = v
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setSlice(dst *[]string, src *[]string) {
	if src != nil {
		*dst = append([]string{}, (*src)...)
	}
}
