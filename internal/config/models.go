package config

import (
	"fmt"
	"strings"
)

// ProviderInfo describes an OpenAI-compatible chat completions provider
type ProviderInfo struct {
	ID       string
	Endpoint string // base URL; the client appends /chat/completions
	KeyEnv   string // conventional environment variable for the API key
	NeedsKey bool
}

// ModelInfo contains information about a known model
type ModelInfo struct {
	ID          string // short name accepted on the command line
	Provider    string
	ModelName   string // name sent in API calls
	Description string
}

// Providers lists the providers casepilot can talk to
var Providers = []ProviderInfo{
	{ID: "openai", Endpoint: "https://api.openai.com/v1", KeyEnv: "OPENAI_API_KEY", NeedsKey: true},
	{ID: "openrouter", Endpoint: "https://openrouter.ai/api/v1", KeyEnv: "OPENROUTER_API_KEY", NeedsKey: true},
	{ID: "ollama", Endpoint: "http://localhost:11434/v1"},
	{ID: "custom"},
	{ID: "mock"},
}

// ModelRegistry holds models known to work for locating and planning
var ModelRegistry = []ModelInfo{
	{ID: "gpt-4o", Provider: "openai", ModelName: "gpt-4o", Description: "Multimodal, good element grounding"},
	{ID: "gpt-4o-mini", Provider: "openai", ModelName: "gpt-4o-mini", Description: "Cheaper, fine for assertions"},
	{ID: "gpt-4.1", Provider: "openai", ModelName: "gpt-4.1", Description: "Long-context planning"},
	{ID: "qwen-vl", Provider: "openrouter", ModelName: "qwen/qwen2.5-vl-72b-instruct", Description: "Vision model with coordinate output"},
	{ID: "claude-sonnet", Provider: "openrouter", ModelName: "anthropic/claude-3.5-sonnet", Description: "Strong planner"},
	{ID: "llama3", Provider: "ollama", ModelName: "llama3.1", Description: "Local, text only"},
}

// LookupProvider returns the provider with the given ID
func LookupProvider(id string) (ProviderInfo, bool) {
	for _, p := range Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

// GetModelByID returns a model by its ID
func GetModelByID(id string) (*ModelInfo, error) {
	for _, model := range ModelRegistry {
		if model.ID == id {
			m := model
			return &m, nil
		}
	}
	return nil, fmt.Errorf("model not found: %s", id)
}

// ParseModelSelection resolves a --model value. It accepts a registry ID or
// "provider:model-name" for anything unlisted.
func ParseModelSelection(selection string) (*ModelInfo, error) {
	if provider, name, ok := strings.Cut(selection, ":"); ok {
		if _, known := LookupProvider(provider); !known {
			return nil, fmt.Errorf("unknown provider %q in model selection %q", provider, selection)
		}
		if name == "" {
			return nil, fmt.Errorf("model selection %q has no model name", selection)
		}
		return &ModelInfo{ID: selection, Provider: provider, ModelName: name, Description: "Custom model"}, nil
	}

	model, err := GetModelByID(selection)
	if err != nil {
		return nil, fmt.Errorf("unknown model: %s. Use 'provider:model-name' for unlisted models", selection)
	}
	return model, nil
}

// ApplyModel points the AI section at a model, switching provider and endpoint as needed
func (c *AIConfig) ApplyModel(m *ModelInfo) {
	if m.Provider != c.Provider {
		c.Provider = m.Provider
		c.Endpoint = ""
		if p, ok := LookupProvider(m.Provider); ok {
			c.Endpoint = p.Endpoint
		}
	}
	c.Model = m.ModelName
}

// GetModelIDs returns all model IDs for matching
func GetModelIDs() []string {
	ids := make([]string, len(ModelRegistry))
	for i, model := range ModelRegistry {
		ids[i] = model.ID
	}
	return ids
}
