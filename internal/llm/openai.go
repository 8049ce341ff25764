package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lance13c/casepilot/internal/logging"
)

// OpenAIOptions configures an OpenAI-compatible chat client
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

// openAIMessage content is a string, or a list of parts when images are attached
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage        `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// OpenAIClient calls a /chat/completions endpoint
type OpenAIClient struct {
	opts       OpenAIOptions
	httpClient *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		return nil, errors.New("model is required")
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 180 * time.Second}
	}
	return &OpenAIClient{opts: opts, httpClient: client}, nil
}

// Complete sends messages and returns the first choice
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (*Response, error) {
	req := openAIRequest{Model: c.opts.Model, Messages: make([]openAIMessage, len(messages))}
	for i, m := range messages {
		req.Messages[i] = toOpenAIMessage(m)
	}
	temp := c.opts.Temperature
	req.Temperature = &temp
	if c.opts.MaxTokens > 0 {
		req.MaxTokens = &c.opts.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	logging.Debug("LLM request: model=%s messages=%d bytes=%d", c.opts.Model, len(messages), len(body))
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	logging.Debug("LLM response: status=%d bytes=%d in %v", resp.StatusCode, len(data), time.Since(start))

	var out openAIResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("API error: %s", out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("API returned no choices")
	}

	model := out.Model
	if model == "" {
		model = c.opts.Model
	}
	return &Response{Content: out.Choices[0].Message.Content, Model: model, Usage: out.Usage}, nil
}

func toOpenAIMessage(m Message) openAIMessage {
	if len(m.Images) == 0 {
		return openAIMessage{Role: m.Role, Content: m.Content}
	}
	parts := []openAIPart{{Type: "text", Text: m.Content}}
	for _, img := range m.Images {
		parts = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: img}})
	}
	return openAIMessage{Role: m.Role, Content: parts}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
