package llm

import (
	"context"
	"fmt"

	"github.com/lance13c/casepilot/internal/config"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message. Images are data URLs attached to user messages.
type Message struct {
	Role    string
	Content string
	Images  []string
}

// Usage is the token accounting for one completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed chat turn
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Model is a chat completion backend
type Model interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// New builds the model configured in cfg
func New(cfg *config.Config) (Model, error) {
	switch cfg.AI.Provider {
	case "mock":
		return NewMock(), nil
	case "openai", "openrouter", "ollama", "custom":
		if err := cfg.RequireAPIKey(); err != nil {
			return nil, err
		}
		return NewOpenAIClient(OpenAIOptions{
			APIKey:      cfg.AI.APIKey,
			BaseURL:     cfg.AI.Endpoint,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.AI.Provider)
	}
}
