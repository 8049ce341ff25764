package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ModelPricing is the price per 1M tokens in USD
type ModelPricing struct {
	Input  float64
	Output float64
}

// pricing is keyed by model name as sent to the API
var pricing = map[string]ModelPricing{
	"gpt-4o":                       {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":                  {Input: 0.15, Output: 0.60},
	"gpt-4.1":                      {Input: 2.00, Output: 8.00},
	"qwen/qwen2.5-vl-72b-instruct": {Input: 0.70, Output: 0.70},
	"anthropic/claude-3.5-sonnet":  {Input: 3.00, Output: 15.00},
	"llama3.1":                     {},
}

// fallbackPricing is used for unknown hosted models so totals err high
var fallbackPricing = ModelPricing{Input: 5.00, Output: 15.00}

// PricingFor returns the price for a model on a provider
func PricingFor(provider, model string) ModelPricing {
	if p, ok := pricing[model]; ok {
		return p
	}
	switch provider {
	case "ollama", "mock":
		return ModelPricing{}
	case "openrouter":
		if strings.Contains(strings.ToLower(model), "gpt-4o") {
			return pricing["gpt-4o"]
		}
	}
	return fallbackPricing
}

// Cost returns the USD cost of u on the given model
func (p ModelPricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1e6*p.Input + float64(u.CompletionTokens)/1e6*p.Output
}

// UsageTotals aggregates usage for one model
type UsageTotals struct {
	Model    string
	Requests int
	Usage    Usage
	Cost     float64
}

// UsageTracker accumulates token usage across requests. It is safe for concurrent use.
type UsageTracker struct {
	mu       sync.Mutex
	provider string
	byModel  map[string]*UsageTotals
}

// NewUsageTracker creates a tracker pricing requests for provider
func NewUsageTracker(provider string) *UsageTracker {
	return &UsageTracker{provider: provider, byModel: map[string]*UsageTotals{}}
}

// Record adds one request's usage
func (t *UsageTracker) Record(model string, u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tot, ok := t.byModel[model]
	if !ok {
		tot = &UsageTotals{Model: model}
		t.byModel[model] = tot
	}
	tot.Requests++
	tot.Usage.PromptTokens += u.PromptTokens
	tot.Usage.CompletionTokens += u.CompletionTokens
	tot.Usage.TotalTokens += u.TotalTokens
	tot.Cost += PricingFor(t.provider, model).Cost(u)
}

// Totals returns per-model totals sorted by model name
func (t *UsageTracker) Totals() []UsageTotals {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]UsageTotals, 0, len(t.byModel))
	for _, tot := range t.byModel {
		out = append(out, *tot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Summary renders totals as one line, e.g. "3 requests, 4.2K tokens, $0.012"
func (t *UsageTracker) Summary() string {
	var requests int
	var tokens int
	var cost float64
	for _, tot := range t.Totals() {
		requests += tot.Requests
		tokens += tot.Usage.TotalTokens
		cost += tot.Cost
	}
	return fmt.Sprintf("%d requests, %s tokens, %s", requests, FormatTokens(int64(tokens)), FormatCost(cost))
}

// FormatCost formats a cost in USD for display
func FormatCost(cost float64) string {
	if cost < 0.001 {
		return fmt.Sprintf("$%.4f", cost)
	} else if cost < 0.01 {
		return fmt.Sprintf("$%.3f", cost)
	}
	return fmt.Sprintf("$%.2f", cost)
}

// FormatTokens formats token counts for display
func FormatTokens(tokens int64) string {
	if tokens < 1000 {
		return fmt.Sprintf("%d", tokens)
	} else if tokens < 1000000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1000.0)
	}
	return fmt.Sprintf("%.1fM", float64(tokens)/1000000.0)
}
