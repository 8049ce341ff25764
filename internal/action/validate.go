package action

import (
	"fmt"
	"math"
	"strings"
)

// ValidationError describes why a raw action or sequence was rejected
type ValidationError struct {
	// Index is the action's position in its sequence, or -1 for a lone action
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Index >= 0 {
		fmt.Fprintf(&b, "action %d: ", e.Index)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "%s: ", e.Field)
	}
	b.WriteString(e.Reason)
	return b.String()
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindCount
	kindBool
	kindPoint
	kindScroll
	kindDemand
	kindLocateOptions
	kindExtractOptions
	kindWaitOptions
	kindDescribeOptions
	kindPlanOptions
	kindScreenshotOptions
)

type field struct {
	name     string
	kind     fieldKind
	required bool
}

// shape is the closed set of fields legal for one tag
type shape struct {
	fields []field
	// primary names the field a short-form script entry fills, e.g. {aiTap: "login"}
	primary string
	build   func(v values) Action
}

func (s shape) field(name string) (field, bool) {
	for _, f := range s.fields {
		if f.name == name {
			return f, true
		}
	}
	return field{}, false
}

func (s shape) optionKeys() map[string]fieldKind {
	if f, ok := s.field("options"); ok {
		return optionShapes[f.kind]
	}
	return nil
}

var optionShapes = map[fieldKind]map[string]fieldKind{
	kindLocateOptions:     {"deepThink": kindBool, "cacheable": kindBool, "xpath": kindString},
	kindExtractOptions:    {"domIncluded": kindBool, "screenshotIncluded": kindBool},
	kindWaitOptions:       {"timeoutMs": kindNumber, "checkIntervalMs": kindNumber},
	kindDescribeOptions:   {"verifyPrompt": kindBool, "retryLimit": kindCount, "deepThink": kindBool},
	kindPlanOptions:       {"cacheable": kindBool},
	kindScreenshotOptions: {"content": kindString},
}

var (
	description   = field{name: "description", kind: kindString}
	locateOptions = field{name: "options", kind: kindLocateOptions}
)

func locateOnly(build func(v values) Action) shape {
	return shape{
		fields:  []field{description, {name: "locate", kind: kindString, required: true}, locateOptions},
		primary: "locate",
		build:   build,
	}
}

func extract(kind Type) shape {
	return shape{
		fields: []field{
			description,
			{name: "prompt", kind: kindString, required: true},
			{name: "options", kind: kindExtractOptions},
		},
		primary: "prompt",
		build: func(v values) Action {
			return ExtractAction{Base: v.base(), Kind: kind, Prompt: v.str("prompt"), Options: v.extractOptions()}
		},
	}
}

var shapes map[Type]shape

func init() {
	shapes = map[Type]shape{
		TypePlan: {
			fields:  []field{description, {name: "prompt", kind: kindString, required: true}, {name: "options", kind: kindPlanOptions}},
			primary: "prompt",
			build: func(v values) Action {
				a := PlanAction{Base: v.base(), Prompt: v.str("prompt")}
				if o, ok := v["options"].(map[string]any); ok {
					a.Options = &PlanOptions{Cacheable: boolPtr(o, "cacheable")}
				}
				return a
			},
		},
		TypeTap: locateOnly(func(v values) Action {
			return TapAction{Base: v.base(), Locate: v.str("locate"), Options: v.locateOptions()}
		}),
		TypeInput: {
			fields: []field{
				description,
				{name: "text", kind: kindString, required: true},
				{name: "locate", kind: kindString, required: true},
				locateOptions,
			},
			primary: "text",
			build: func(v values) Action {
				return InputAction{Base: v.base(), Text: v.str("text"), Locate: v.str("locate"), Options: v.locateOptions()}
			},
		},
		TypeHover: locateOnly(func(v values) Action {
			return HoverAction{Base: v.base(), Locate: v.str("locate"), Options: v.locateOptions()}
		}),
		TypeKeyPress: {
			fields:  []field{description, {name: "key", kind: kindString, required: true}, {name: "locate", kind: kindString}, locateOptions},
			primary: "key",
			build: func(v values) Action {
				return KeyPressAction{Base: v.base(), Key: v.str("key"), Locate: v.str("locate"), Options: v.locateOptions()}
			},
		},
		TypeScroll: {
			fields:  []field{description, {name: "scroll", kind: kindScroll, required: true}, {name: "locate", kind: kindString}, locateOptions},
			primary: "scroll",
			build: func(v values) Action {
				return ScrollAction{Base: v.base(), Scroll: v["scroll"].(Scroll), Locate: v.str("locate"), Options: v.locateOptions()}
			},
		},
		TypeRightClick: locateOnly(func(v values) Action {
			return RightClickAction{Base: v.base(), Locate: v.str("locate"), Options: v.locateOptions()}
		}),
		TypeDoubleClick: locateOnly(func(v values) Action {
			return DoubleClickAction{Base: v.base(), Locate: v.str("locate"), Options: v.locateOptions()}
		}),
		TypeLocate: locateOnly(func(v values) Action {
			return LocateAction{Base: v.base(), Locate: v.str("locate"), Options: v.locateOptions()}
		}),
		TypeWaitFor: {
			fields:  []field{description, {name: "condition", kind: kindString, required: true}, {name: "options", kind: kindWaitOptions}},
			primary: "condition",
			build: func(v values) Action {
				a := WaitForAction{Base: v.base(), Condition: v.str("condition")}
				if o, ok := v["options"].(map[string]any); ok {
					a.Options = &WaitOptions{TimeoutMs: numberPtr(o, "timeoutMs"), CheckIntervalMs: numberPtr(o, "checkIntervalMs")}
				}
				return a
			},
		},
		TypeAssert: {
			fields: []field{
				description,
				{name: "condition", kind: kindString, required: true},
				{name: "errorMessage", kind: kindString},
				{name: "timeoutMs", kind: kindNumber},
			},
			primary: "condition",
			build: func(v values) Action {
				return AssertAction{Base: v.base(), Condition: v.str("condition"), ErrorMessage: v.str("errorMessage"), TimeoutMs: numberPtr(v, "timeoutMs")}
			},
		},
		TypeQuery: {
			fields:  []field{description, {name: "demand", kind: kindDemand, required: true}, {name: "options", kind: kindExtractOptions}},
			primary: "demand",
			build: func(v values) Action {
				return QueryAction{Base: v.base(), Demand: v["demand"].(Demand), Options: v.extractOptions()}
			},
		},
		TypeAsk:     extract(TypeAsk),
		TypeBoolean: extract(TypeBoolean),
		TypeNumber:  extract(TypeNumber),
		TypeString:  extract(TypeString),
		TypeRunScript: {
			fields:  []field{description, {name: "script", kind: kindString, required: true}},
			primary: "script",
			build: func(v values) Action {
				return RunScriptAction{Base: v.base(), Script: v.str("script")}
			},
		},
		TypeSetContext: {
			fields:  []field{description, {name: "context", kind: kindString, required: true}},
			primary: "context",
			build: func(v values) Action {
				return SetContextAction{Base: v.base(), Context: v.str("context")}
			},
		},
		TypeEvaluate: {
			fields:  []field{description, {name: "script", kind: kindString, required: true}},
			primary: "script",
			build: func(v values) Action {
				return EvaluateAction{Base: v.base(), Script: v.str("script")}
			},
		},
		TypeDescribePoint: {
			fields:  []field{description, {name: "point", kind: kindPoint, required: true}, {name: "options", kind: kindDescribeOptions}},
			primary: "point",
			build: func(v values) Action {
				return DescribePointAction{Base: v.base(), Point: v["point"].(Point), Options: v.describeOptions()}
			},
		},
		TypeLogScreenshot: {
			fields:  []field{description, {name: "title", kind: kindString}, {name: "options", kind: kindScreenshotOptions}},
			primary: "title",
			build: func(v values) Action {
				a := LogScreenshotAction{Base: v.base(), Title: v.str("title")}
				if o, ok := v["options"].(map[string]any); ok {
					a.Options = &ScreenshotOptions{Content: stringPtr(o, "content")}
				}
				return a
			},
		},
		TypeFreeze: {
			fields: []field{description},
			build:  func(v values) Action { return FreezeAction{Base: v.base()} },
		},
		TypeUnfreeze: {
			fields: []field{description},
			build:  func(v values) Action { return UnfreezeAction{Base: v.base()} },
		},
		TypeVerifyLocator: {
			fields: []field{
				description,
				{name: "prompt", kind: kindString, required: true},
				{name: "point", kind: kindPoint, required: true},
				{name: "options", kind: kindDescribeOptions},
			},
			primary: "prompt",
			build: func(v values) Action {
				return VerifyLocatorAction{Base: v.base(), Prompt: v.str("prompt"), Point: v["point"].(Point), Options: v.describeOptions()}
			},
		},
	}
}

// Validate checks raw against the closed shape of its tag and returns the typed action.
// raw is usually a map decoded from JSON or YAML.
func Validate(raw any) (Action, error) {
	return validateAt(raw, -1)
}

func validateAt(raw any, index int) (Action, error) {
	fail := func(field, format string, args ...any) error {
		return &ValidationError{Index: index, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	obj, ok := asObject(raw)
	if !ok {
		return nil, fail("", "expected an object, got %s", typeName(raw))
	}

	tagValue, present := obj["type"]
	if !present {
		return nil, fail("type", "is required")
	}
	tag, ok := tagValue.(string)
	if !ok {
		return nil, fail("type", "expected a string, got %s", typeName(tagValue))
	}
	sh, ok := shapes[Type(tag)]
	if !ok {
		return nil, fail("type", "unknown action type %q", tag)
	}

	for _, key := range sortedKeys(obj) {
		if key == "type" {
			continue
		}
		if _, ok := sh.field(key); !ok {
			return nil, fail(key, "unexpected field for %s", tag)
		}
	}

	v := values{}
	for _, f := range sh.fields {
		rawValue, present := obj[f.name]
		if !present || rawValue == nil {
			if f.required {
				return nil, fail(f.name, "is required for %s", tag)
			}
			continue
		}
		converted, err := convert(f.kind, rawValue)
		if err != nil {
			return nil, fail(f.name, "%v", err)
		}
		if f.required && f.kind == kindString && strings.TrimSpace(converted.(string)) == "" {
			return nil, fail(f.name, "must not be empty")
		}
		v[f.name] = converted
	}

	return sh.build(v), nil
}

func convert(kind fieldKind, raw any) (any, error) {
	switch kind {
	case kindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %s", typeName(raw))
		}
		return s, nil
	case kindNumber:
		n, ok := toNumber(raw)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %s", typeName(raw))
		}
		if n < 0 {
			return nil, fmt.Errorf("must not be negative")
		}
		return n, nil
	case kindCount:
		n, ok := toNumber(raw)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %s", typeName(raw))
		}
		if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
			return nil, fmt.Errorf("must be a whole number between 0 and %d", math.MaxInt32)
		}
		return n, nil
	case kindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected a boolean, got %s", typeName(raw))
		}
		return b, nil
	case kindPoint:
		return convertPoint(raw)
	case kindScroll:
		return convertScroll(raw)
	case kindDemand:
		return convertDemand(raw)
	default:
		keys, ok := optionShapes[kind]
		if !ok {
			return nil, fmt.Errorf("unsupported field kind %d", kind)
		}
		return convertOptions(keys, raw)
	}
}

func convertOptions(keys map[string]fieldKind, raw any) (map[string]any, error) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %s", typeName(raw))
	}
	out := make(map[string]any, len(obj))
	for _, key := range sortedKeys(obj) {
		kind, ok := keys[key]
		if !ok {
			return nil, fmt.Errorf("unexpected option %q", key)
		}
		if obj[key] == nil {
			continue
		}
		value, err := convert(kind, obj[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = value
	}
	return out, nil
}

func convertPoint(raw any) (Point, error) {
	list, ok := raw.([]any)
	if !ok || len(list) != 2 {
		return Point{}, fmt.Errorf("expected [x, y]")
	}
	x, okX := toNumber(list[0])
	y, okY := toNumber(list[1])
	if !okX || !okY {
		return Point{}, fmt.Errorf("expected numeric coordinates")
	}
	return Point{X: x, Y: y}, nil
}

func convertScroll(raw any) (Scroll, error) {
	obj, ok := asObject(raw)
	if !ok {
		return Scroll{}, fmt.Errorf("expected an object, got %s", typeName(raw))
	}
	for _, key := range sortedKeys(obj) {
		switch key {
		case "direction", "scrollType", "distance":
		default:
			return Scroll{}, fmt.Errorf("unexpected field %q", key)
		}
	}

	var s Scroll
	direction, ok := obj["direction"].(string)
	if !ok {
		return Scroll{}, fmt.Errorf("direction is required")
	}
	switch ScrollDirection(direction) {
	case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
		s.Direction = ScrollDirection(direction)
	default:
		return Scroll{}, fmt.Errorf("invalid direction %q", direction)
	}

	mode, ok := obj["scrollType"].(string)
	if !ok {
		return Scroll{}, fmt.Errorf("scrollType is required")
	}
	switch ScrollMode(mode) {
	case ScrollOnce, ScrollUntilBottom, ScrollUntilTop, ScrollUntilLeft, ScrollUntilRight:
		s.ScrollType = ScrollMode(mode)
	case "singleAction":
		s.ScrollType = ScrollOnce
	default:
		return Scroll{}, fmt.Errorf("invalid scrollType %q", mode)
	}

	if d, present := obj["distance"]; present && d != nil {
		n, ok := toNumber(d)
		if !ok || n < 0 {
			return Scroll{}, fmt.Errorf("distance must be a non-negative number")
		}
		s.Distance = &n
	}
	return s, nil
}

func convertDemand(raw any) (Demand, error) {
	if s, ok := raw.(string); ok {
		if strings.TrimSpace(s) == "" {
			return Demand{}, fmt.Errorf("must not be empty")
		}
		return Demand{Text: s}, nil
	}
	obj, ok := asObject(raw)
	if !ok || len(obj) == 0 {
		return Demand{}, fmt.Errorf("expected a string or a non-empty object of field descriptions")
	}
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			return Demand{}, fmt.Errorf("field %q: expected a string description", k)
		}
		fields[k] = s
	}
	return Demand{Fields: fields}, nil
}

// values holds converted fields of one action during building
type values map[string]any

func (v values) str(name string) string {
	s, _ := v[name].(string)
	return s
}

func (v values) base() Base {
	return Base{Description: v.str("description")}
}

func (v values) locateOptions() *LocateOptions {
	o, ok := v["options"].(map[string]any)
	if !ok {
		return nil
	}
	return &LocateOptions{DeepThink: boolPtr(o, "deepThink"), Cacheable: boolPtr(o, "cacheable"), XPath: stringPtr(o, "xpath")}
}

func (v values) extractOptions() *ExtractOptions {
	o, ok := v["options"].(map[string]any)
	if !ok {
		return nil
	}
	return &ExtractOptions{DomIncluded: boolPtr(o, "domIncluded"), ScreenshotIncluded: boolPtr(o, "screenshotIncluded")}
}

func (v values) describeOptions() *DescribeOptions {
	o, ok := v["options"].(map[string]any)
	if !ok {
		return nil
	}
	return &DescribeOptions{VerifyPrompt: boolPtr(o, "verifyPrompt"), RetryLimit: numberPtr(o, "retryLimit"), DeepThink: boolPtr(o, "deepThink")}
}

func boolPtr(m map[string]any, key string) *bool {
	if b, ok := m[key].(bool); ok {
		return &b
	}
	return nil
}

func stringPtr(m map[string]any, key string) *string {
	if s, ok := m[key].(string); ok {
		return &s
	}
	return nil
}

func numberPtr(m map[string]any, key string) *float64 {
	if n, ok := m[key].(float64); ok {
		return &n
	}
	return nil
}

func asObject(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func toNumber(raw any) (float64, bool) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case int32:
		n = float64(v)
	case uint64:
		n = float64(v)
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func typeName(raw any) string {
	switch raw.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any, map[any]any:
		return "object"
	}
	if _, ok := toNumber(raw); ok {
		return "number"
	}
	return fmt.Sprintf("%T", raw)
}
