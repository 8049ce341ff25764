package action

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")

// StripFence returns the body of the first fenced code block in text,
// or text itself when it holds no fence. Model output usually arrives fenced.
func StripFence(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// ParseCode turns raw source code into a validated sequence. Accepted forms,
// in YAML or JSON:
//
//	{actions: [...], display: {code: [...], description: ...}}
//	{tasks: [{name: ..., flow: [...]}]}
//	{flow: [...]}
//	[...]
//
// Flow entries may use the short form {aiTap: "login button", deepThink: true}.
func ParseCode(code string) (*Sequence, error) {
	body := strings.TrimSpace(StripFence(code))
	if body == "" {
		return nil, &ValidationError{Index: -1, Reason: "code is empty"}
	}

	var doc any
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, &ValidationError{Index: -1, Reason: fmt.Sprintf("failed to parse code: %v", err)}
	}

	if obj, ok := asObject(doc); ok {
		if _, ok := obj["actions"]; ok {
			return ValidateSequence(normalizeSequence(obj))
		}
		if tasks, ok := obj["tasks"]; ok {
			return parseTasks(tasks)
		}
		if flow, ok := obj["flow"]; ok {
			return parseFlow(flow, "")
		}
		return parseFlow([]any{obj}, "")
	}
	return parseFlow(doc, "")
}

func normalizeSequence(obj map[string]any) map[string]any {
	list, ok := obj["actions"].([]any)
	if !ok {
		return obj
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	items := make([]any, len(list))
	for i, item := range list {
		items[i] = Normalize(item)
	}
	out["actions"] = items
	return out
}

func parseTasks(raw any) (*Sequence, error) {
	tasks, ok := raw.([]any)
	if !ok {
		return nil, &ValidationError{Index: -1, Field: "tasks", Reason: "expected an array"}
	}
	var flow []any
	var names []string
	for i, t := range tasks {
		task, ok := asObject(t)
		if !ok {
			return nil, &ValidationError{Index: -1, Field: fmt.Sprintf("tasks[%d]", i), Reason: "expected an object"}
		}
		if name, ok := task["name"].(string); ok && name != "" {
			names = append(names, name)
		}
		items, ok := task["flow"].([]any)
		if !ok {
			return nil, &ValidationError{Index: -1, Field: fmt.Sprintf("tasks[%d].flow", i), Reason: "expected an array"}
		}
		flow = append(flow, items...)
	}
	return parseFlow(flow, strings.Join(names, "; "))
}

func parseFlow(raw any, description string) (*Sequence, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, &ValidationError{Index: -1, Reason: fmt.Sprintf("expected a list of actions, got %s", typeName(raw))}
	}
	actions := make([]Action, len(items))
	code := make([]string, len(items))
	for i, item := range items {
		a, err := validateAt(Normalize(item), i)
		if err != nil {
			return nil, err
		}
		actions[i] = a
		code[i] = sourceText(item)
	}
	return NewSequence(actions, code, description)
}

// sourceText renders the literal entry that produced an action
func sourceText(item any) string {
	data, err := yaml.Marshal(item)
	if err != nil {
		return fmt.Sprint(item)
	}
	return strings.TrimSpace(string(data))
}

// Normalize rewrites a short-form script entry such as
// {aiTap: "login button", deepThink: true} into the canonical tagged form
// {type: aiTap, locate: "login button", options: {deepThink: true}}.
// Entries that already carry a type tag are returned unchanged.
func Normalize(raw any) any {
	obj, ok := asObject(raw)
	if !ok {
		return raw
	}
	if _, tagged := obj["type"]; tagged {
		return obj
	}

	var tag Type
	for key := range obj {
		if t := Type(key); t.IsKnown() {
			if tag != "" {
				// two tags in one entry; leave it for validation to reject
				return obj
			}
			tag = t
		}
	}
	if tag == "" {
		return obj
	}
	sh := shapes[tag]

	out := map[string]any{"type": string(tag)}
	options := map[string]any{}
	optionKeys := sh.optionKeys()

	if tag == TypeScroll {
		scroll := map[string]any{}
		if m, ok := asObject(obj[string(tag)]); ok {
			for k, v := range m {
				scroll[k] = v
			}
		}
		for _, k := range []string{"direction", "scrollType", "distance"} {
			if v, ok := obj[k]; ok {
				scroll[k] = v
			}
		}
		out["scroll"] = scroll
	} else if value := obj[string(tag)]; value != nil && sh.primary != "" {
		out[sh.primary] = value
	}

	for key, value := range obj {
		switch {
		case key == string(tag):
		case tag == TypeScroll && (key == "direction" || key == "scrollType" || key == "distance"):
		case key == "options":
			if m, ok := asObject(value); ok {
				for k, v := range m {
					options[k] = v
				}
			} else {
				out[key] = value
			}
		default:
			if _, top := sh.field(key); top {
				out[key] = value
			} else if _, opt := optionKeys[key]; opt {
				options[key] = value
			} else {
				out[key] = value
			}
		}
	}
	if len(options) > 0 {
		out["options"] = options
	}
	return out
}
