// Package enums holds the closed value lists shared by every validator:
// model providers, voice models, client platforms and memory types.
package enums

import (
	"fmt"
	"slices"
	"strings"
)

var ModelProviders = []string{"openai", "anthropic", "llama_local"}

var VoiceModels = []string{
	"en_US-male-medium",
	"en_US-female-medium",
	"en_US-neutral-medium",
}

var Clients = []string{"discord", "direct", "twitter", "telegram", "farcaster"}

// Memory types produced by extraction.
const (
	MemoryPersonalDetail = "personal_detail"
	MemoryPreference     = "preference"
	MemoryEvent          = "event"
	MemoryFact           = "fact"
	MemoryConversation   = "conversation"
)

var MemoryTypes = []string{
	MemoryPersonalDetail,
	MemoryPreference,
	MemoryEvent,
	MemoryFact,
	MemoryConversation,
}

func IsModelProvider(v string) bool { return slices.Contains(ModelProviders, v) }
func IsVoiceModel(v string) bool    { return slices.Contains(VoiceModels, v) }
func IsClient(v string) bool        { return slices.Contains(Clients, v) }
func IsMemoryType(v string) bool    { return slices.Contains(MemoryTypes, v) }

// ProfileParams are the enumerated fields of a character request.
// Empty values are treated as absent.
type ProfileParams struct {
	ModelProvider string
	Clients       []string
	VoiceModel    string
}

// Validate returns one message per invalid field, or nil.
func (p ProfileParams) Validate() []string {
	var errs []string

	if p.ModelProvider != "" && !IsModelProvider(p.ModelProvider) {
		errs = append(errs, fmt.Sprintf("Invalid modelProvider. Must be one of: %s", strings.Join(ModelProviders, ", ")))
	}

	var invalid []string
	for _, c := range p.Clients {
		if !IsClient(c) {
			invalid = append(invalid, c)
		}
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Sprintf("Invalid clients: %s. Valid options are: %s", strings.Join(invalid, ", "), strings.Join(Clients, ", ")))
	}

	if p.VoiceModel != "" && !IsVoiceModel(p.VoiceModel) {
		errs = append(errs, fmt.Sprintf("Invalid voice model. Must be one of: %s", strings.Join(VoiceModels, ", ")))
	}

	return errs
}
