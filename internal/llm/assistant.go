package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lance13c/casepilot/internal/logging"
)

// PageElement is one interactive element offered to the model by number
type PageElement struct {
	ID   int
	Tag  string
	Role string
	Text string
}

func (e PageElement) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] <%s>", e.ID, e.Tag)
	if e.Role != "" {
		fmt.Fprintf(&b, " role=%s", e.Role)
	}
	if e.Text != "" {
		fmt.Fprintf(&b, " %q", e.Text)
	}
	return b.String()
}

// PageContext is what the model sees of the page
type PageContext struct {
	URL        string
	Title      string
	Elements   []PageElement
	Text       string
	Screenshot string
	Background string
}

func (p PageContext) render() string {
	var b strings.Builder
	if p.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n\n", p.Background)
	}
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\n", p.URL, p.Title)
	if len(p.Elements) > 0 {
		b.WriteString("\nElements:\n")
		for _, e := range p.Elements {
			b.WriteString(e.String())
			b.WriteByte('\n')
		}
	}
	if p.Text != "" {
		fmt.Fprintf(&b, "\nPage:\n%s\n", p.Text)
	}
	return b.String()
}

// LocateResult is the model's pick for a described element. ID is -1 when
// nothing matched.
type LocateResult struct {
	ID     int    `json:"id"`
	Reason string `json:"reason"`
}

// Verdict is the model's judgement of a statement about the page
type Verdict struct {
	Pass    bool   `json:"pass"`
	Thought string `json:"thought"`
}

// PlannedAction is one low-level step proposed by the planner
type PlannedAction struct {
	Type      string `json:"type"`
	ID        int    `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
	Key       string `json:"key,omitempty"`
	Direction string `json:"direction,omitempty"`
	Ms        int    `json:"ms,omitempty"`
}

// Plan is the planner's reply for one round
type Plan struct {
	Actions  []PlannedAction `json:"actions"`
	Finished bool            `json:"finished"`
	Log      string          `json:"log"`
}

// Assistant asks a Model questions about a page
type Assistant struct {
	model Model
	usage *UsageTracker
}

// NewAssistant wraps model. usage may be nil.
func NewAssistant(model Model, usage *UsageTracker) *Assistant {
	return &Assistant{model: model, usage: usage}
}

// Usage returns the tracker requests are recorded on, or nil
func (a *Assistant) Usage() *UsageTracker {
	return a.usage
}

func (a *Assistant) ask(ctx context.Context, system string, page PageContext, question string) (string, error) {
	user := Message{Role: RoleUser, Content: page.render() + "\n" + question}
	if page.Screenshot != "" {
		user.Images = []string{page.Screenshot}
	}
	resp, err := a.model.Complete(ctx, []Message{{Role: RoleSystem, Content: system}, user})
	if err != nil {
		return "", err
	}
	if a.usage != nil {
		a.usage.Record(resp.Model, resp.Usage)
	}
	return resp.Content, nil
}

func (a *Assistant) askJSON(ctx context.Context, system string, page PageContext, question string, out any) error {
	text, err := a.ask(ctx, system, page, question)
	if err != nil {
		return err
	}
	data, err := ExtractJSON(text)
	if err != nil {
		logging.Warn("Unparseable model reply: %s", truncate(text, 200))
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode model reply: %w", err)
	}
	return nil
}

// Locate asks which element matches description
func (a *Assistant) Locate(ctx context.Context, page PageContext, description string) (LocateResult, error) {
	res := LocateResult{ID: -1}
	err := a.askJSON(ctx, systemLocate, page, "Find: "+description, &res)
	return res, err
}

// Check asks whether statement holds for the page
func (a *Assistant) Check(ctx context.Context, page PageContext, statement string) (Verdict, error) {
	var v Verdict
	err := a.askJSON(ctx, systemAssert, page, "Statement: "+statement, &v)
	return v, err
}

// Extract answers demand from the page. hint narrows the expected shape,
// e.g. "a boolean" or "a number"; empty means any JSON value.
func (a *Assistant) Extract(ctx context.Context, page PageContext, demand, hint string) (any, error) {
	question := "Demand: " + demand
	if hint != "" {
		question += "\nThe data must be " + hint + "."
	}
	var reply struct {
		Data any `json:"data"`
	}
	if err := a.askJSON(ctx, systemQuery, page, question, &reply); err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// DescribeElement writes a description that can be used to find el again
func (a *Assistant) DescribeElement(ctx context.Context, page PageContext, el PageElement) (string, error) {
	text, err := a.ask(ctx, systemDescribe, page, "Describe element "+el.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Plan asks for the next actions toward task. history lists the logs of
// earlier rounds.
func (a *Assistant) Plan(ctx context.Context, page PageContext, task string, history []string) (Plan, error) {
	question := "Task: " + task
	if len(history) > 0 {
		question += "\nDone so far:\n- " + strings.Join(history, "\n- ")
	}
	var p Plan
	err := a.askJSON(ctx, systemPlan, page, question, &p)
	return p, err
}

// GenerateCase writes YAML steps that accomplish goal starting from page
func (a *Assistant) GenerateCase(ctx context.Context, page PageContext, goal string) (string, error) {
	text, err := a.ask(ctx, systemGenerate, page, "Goal: "+goal)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// ErrNoJSON is returned when a model reply holds no JSON value
var ErrNoJSON = errors.New("no JSON found in model reply")

// ExtractJSON pulls the first JSON object or array out of a model reply,
// skipping code fences and surrounding prose.
func ExtractJSON(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	if json.Valid([]byte(text)) {
		return []byte(text), nil
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, ErrNoJSON
	}
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return raw, nil
}
