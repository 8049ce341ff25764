package action

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimal valid raw form for every tag
func samples() map[Type]map[string]any {
	return map[Type]map[string]any{
		TypePlan:          {"type": "aiAction", "prompt": "log in as admin"},
		TypeTap:           {"type": "aiTap", "locate": "login button"},
		TypeInput:         {"type": "aiInput", "text": "alice", "locate": "username field"},
		TypeHover:         {"type": "aiHover", "locate": "profile menu"},
		TypeKeyPress:      {"type": "aiKeyboardPress", "key": "Enter"},
		TypeScroll:        {"type": "aiScroll", "scroll": map[string]any{"direction": "down", "scrollType": "once", "distance": 300}},
		TypeRightClick:    {"type": "aiRightClick", "locate": "file row"},
		TypeDoubleClick:   {"type": "aiDoubleClick", "locate": "file row"},
		TypeLocate:        {"type": "aiLocate", "locate": "search box"},
		TypeWaitFor:       {"type": "aiWaitFor", "condition": "results are shown", "options": map[string]any{"timeoutMs": 5000}},
		TypeAssert:        {"type": "aiAssert", "condition": "dashboard is visible", "timeoutMs": 2000},
		TypeQuery:         {"type": "aiQuery", "demand": map[string]any{"title": "page title"}},
		TypeAsk:           {"type": "aiAsk", "prompt": "what is shown?"},
		TypeBoolean:       {"type": "aiBoolean", "prompt": "is the cart empty?"},
		TypeNumber:        {"type": "aiNumber", "prompt": "how many items?"},
		TypeString:        {"type": "aiString", "prompt": "user name"},
		TypeRunScript:     {"type": "runYaml", "script": "flow:\n  - aiTap: ok\n"},
		TypeSetContext:    {"type": "setAIActionContext", "context": "close cookie banners first"},
		TypeEvaluate:      {"type": "evaluateJavaScript", "script": "document.title"},
		TypeDescribePoint: {"type": "describeElementAtPoint", "point": []any{10, 20.5}},
		TypeLogScreenshot: {"type": "logScreenshot", "title": "after login"},
		TypeFreeze:        {"type": "freezePageContext"},
		TypeUnfreeze:      {"type": "unfreezePageContext"},
		TypeVerifyLocator: {"type": "verifyLocator", "prompt": "login button", "point": []any{1, 2}},
	}
}

func TestValidateAcceptsEveryTag(t *testing.T) {
	all := samples()
	require.Len(t, all, len(AllTypes()))

	for _, typ := range AllTypes() {
		raw, ok := all[typ]
		require.True(t, ok, "missing sample for %s", typ)

		a, err := Validate(raw)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, a.Type())
		assert.NotEmpty(t, a.Describe())

		// canonical form validates back to the same value
		m, err := Marshal(a)
		require.NoError(t, err)
		again, err := Validate(m)
		require.NoError(t, err, typ)
		assert.Equal(t, a, again, typ)
	}
}

func TestValidateTypedFields(t *testing.T) {
	a, err := Validate(map[string]any{
		"type":    "aiInput",
		"text":    "secret",
		"locate":  "password field",
		"options": map[string]any{"deepThink": true, "xpath": "//input[2]"},
	})
	require.NoError(t, err)

	input, ok := a.(InputAction)
	require.True(t, ok)
	assert.Equal(t, "secret", input.Text)
	assert.Equal(t, "password field", input.Locate)
	require.NotNil(t, input.Options)
	require.NotNil(t, input.Options.DeepThink)
	assert.True(t, *input.Options.DeepThink)
	assert.Nil(t, input.Options.Cacheable)
	assert.Equal(t, "//input[2]", *input.Options.XPath)

	a, err = Validate(samples()[TypeScroll])
	require.NoError(t, err)
	scroll := a.(ScrollAction)
	assert.Equal(t, ScrollDown, scroll.Scroll.Direction)
	assert.Equal(t, ScrollOnce, scroll.Scroll.ScrollType)
	require.NotNil(t, scroll.Scroll.Distance)
	assert.Equal(t, 300.0, *scroll.Scroll.Distance)

	a, err = Validate(samples()[TypeBoolean])
	require.NoError(t, err)
	assert.Equal(t, TypeBoolean, a.Type())
	assert.Equal(t, TypeBoolean, a.(ExtractAction).Kind)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   any
		field string
	}{
		{"not an object", "aiTap", ""},
		{"missing type", map[string]any{"locate": "x"}, "type"},
		{"type not a string", map[string]any{"type": 3}, "type"},
		{"unknown type", map[string]any{"type": "aiTeleport"}, "type"},
		{"tap without locate", map[string]any{"type": "aiTap"}, "locate"},
		{"tap with empty locate", map[string]any{"type": "aiTap", "locate": "  "}, "locate"},
		{"input without text", map[string]any{"type": "aiInput", "locate": "box"}, "text"},
		{"input text not a string", map[string]any{"type": "aiInput", "locate": "box", "text": 42}, "text"},
		{"unexpected top field", map[string]any{"type": "aiTap", "locate": "x", "color": "red"}, "color"},
		{"unexpected locate option", map[string]any{"type": "aiTap", "locate": "x", "options": map[string]any{"force": true}}, "options"},
		{"option mistyped", map[string]any{"type": "aiTap", "locate": "x", "options": map[string]any{"deepThink": "yes"}}, "options"},
		{"unexpected wait option", map[string]any{"type": "aiWaitFor", "condition": "x", "options": map[string]any{"retries": 2}}, "options"},
		{"unexpected extract option", map[string]any{"type": "aiQuery", "demand": "x", "options": map[string]any{"deepThink": true}}, "options"},
		{"bad scroll direction", map[string]any{"type": "aiScroll", "scroll": map[string]any{"direction": "sideways", "scrollType": "once"}}, "scroll"},
		{"scroll missing mode", map[string]any{"type": "aiScroll", "scroll": map[string]any{"direction": "up"}}, "scroll"},
		{"scroll extra field", map[string]any{"type": "aiScroll", "scroll": map[string]any{"direction": "up", "scrollType": "once", "speed": 3}}, "scroll"},
		{"negative timeout", map[string]any{"type": "aiAssert", "condition": "x", "timeoutMs": -1}, "timeoutMs"},
		{"fractional retry limit", map[string]any{"type": "describeElementAtPoint", "point": []any{1, 2}, "options": map[string]any{"retryLimit": 2.7}}, "options"},
		{"negative retry limit", map[string]any{"type": "describeElementAtPoint", "point": []any{1, 2}, "options": map[string]any{"retryLimit": -1}}, "options"},
		{"huge retry limit", map[string]any{"type": "describeElementAtPoint", "point": []any{1, 2}, "options": map[string]any{"retryLimit": 1e12}}, "options"},
		{"point of one number", map[string]any{"type": "describeElementAtPoint", "point": []any{1}}, "point"},
		{"empty demand object", map[string]any{"type": "aiQuery", "demand": map[string]any{}}, "demand"},
		{"freeze with payload", map[string]any{"type": "freezePageContext", "locate": "x"}, "locate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Validate(tt.raw)
			require.Error(t, err)
			assert.Nil(t, a)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, -1, verr.Index)
			assert.NotEmpty(t, err.Error())
		})
	}
}

func TestValidateSequence(t *testing.T) {
	raw := map[string]any{
		"actions": []any{
			map[string]any{"type": "aiTap", "locate": "login button"},
			map[string]any{"type": "aiAssert", "condition": "dashboard is visible"},
		},
		"display": map[string]any{
			"code":        []any{`aiTap("login button")`, `aiAssert("dashboard is visible")`},
			"description": "log in",
		},
	}

	seq, err := ValidateSequence(raw)
	require.NoError(t, err)
	require.Len(t, seq.Actions, 2)
	assert.Equal(t, TypeTap, seq.Actions[0].Type())
	assert.Equal(t, TypeAssert, seq.Actions[1].Type())
	assert.Equal(t, "log in", seq.Display.Description)
}

func TestValidateSequenceLengthMismatch(t *testing.T) {
	tap := map[string]any{"type": "aiTap", "locate": "a"}

	tests := []struct {
		name    string
		actions int
		code    int
	}{
		{"two actions one code", 2, 1},
		{"three actions two codes", 3, 2},
		{"one action two codes", 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions := make([]any, tt.actions)
			for i := range actions {
				actions[i] = tap
			}
			code := make([]any, tt.code)
			for i := range code {
				code[i] = "tap"
			}

			seq, err := ValidateSequence(map[string]any{
				"actions": actions,
				"display": map[string]any{"code": code},
			})
			require.Error(t, err)
			assert.Nil(t, seq)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "display.code", verr.Field)
		})
	}
}

func TestValidateSequenceReportsFailingIndex(t *testing.T) {
	_, err := ValidateSequence(map[string]any{
		"actions": []any{
			map[string]any{"type": "aiTap", "locate": "a"},
			map[string]any{"type": "aiTap"},
		},
		"display": map[string]any{"code": []any{"a", "b"}},
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 1, verr.Index)
	assert.Equal(t, "locate", verr.Field)
	assert.Contains(t, err.Error(), "action 1")
}

func TestNewSequenceChecksLength(t *testing.T) {
	tap := TapAction{Locate: "a"}
	_, err := NewSequence([]Action{tap, tap}, []string{"a"}, "")
	assert.Error(t, err)

	seq, err := NewSequence([]Action{tap}, []string{"a"}, "")
	require.NoError(t, err)
	assert.NoError(t, seq.Check())
}

func TestSequenceCloneIsDeep(t *testing.T) {
	deep := true
	seq, err := NewSequence([]Action{TapAction{Locate: "a", Options: &LocateOptions{DeepThink: &deep}}}, []string{"a"}, "d")
	require.NoError(t, err)

	clone := seq.Clone()
	assert.Equal(t, seq, clone)

	*clone.Actions[0].(TapAction).Options.DeepThink = false
	clone.Display.Code[0] = "changed"
	assert.True(t, *seq.Actions[0].(TapAction).Options.DeepThink)
	assert.Equal(t, "a", seq.Display.Code[0])
}

func TestParseCodeShortForm(t *testing.T) {
	code := "Here is the plan:\n```yaml\n" +
		"tasks:\n" +
		"  - name: login\n" +
		"    flow:\n" +
		"      - aiInput: alice\n" +
		"        locate: username field\n" +
		"      - aiTap: login button\n" +
		"        deepThink: true\n" +
		"      - aiScroll:\n" +
		"        direction: down\n" +
		"        scrollType: untilBottom\n" +
		"      - aiWaitFor: dashboard is loaded\n" +
		"        timeoutMs: 8000\n" +
		"      - aiAssert: dashboard is visible\n" +
		"        errorMessage: login failed\n" +
		"```\n"

	seq, err := ParseCode(code)
	require.NoError(t, err)
	require.Len(t, seq.Actions, 5)
	require.Len(t, seq.Display.Code, 5)
	assert.Equal(t, "login", seq.Display.Description)

	input := seq.Actions[0].(InputAction)
	assert.Equal(t, "alice", input.Text)
	assert.Equal(t, "username field", input.Locate)

	tap := seq.Actions[1].(TapAction)
	assert.Equal(t, "login button", tap.Locate)
	require.NotNil(t, tap.Options)
	assert.True(t, *tap.Options.DeepThink)

	scroll := seq.Actions[2].(ScrollAction)
	assert.Equal(t, ScrollUntilBottom, scroll.Scroll.ScrollType)

	wait := seq.Actions[3].(WaitForAction)
	require.NotNil(t, wait.Options)
	assert.Equal(t, 8000.0, *wait.Options.TimeoutMs)

	assertion := seq.Actions[4].(AssertAction)
	assert.Equal(t, "login failed", assertion.ErrorMessage)

	assert.Contains(t, seq.Display.Code[1], "aiTap: login button")
}

func TestParseCodeJSONSequence(t *testing.T) {
	code := `{"actions":[{"type":"aiTap","locate":"login button"}],"display":{"code":["tap"],"description":"d"}}`
	seq, err := ParseCode(code)
	require.NoError(t, err)
	require.Len(t, seq.Actions, 1)
	assert.Equal(t, []string{"tap"}, seq.Display.Code)
}

func TestParseCodeRejects(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"empty", "   "},
		{"not yaml", "flow: [unclosed"},
		{"scalar", "hello"},
		{"missing locate", "- aiTap:\n"},
		{"unknown entry", "- aiTeleport: mars\n"},
		{"sequence mismatch", `{"actions":[{"type":"aiTap","locate":"a"}],"display":{"code":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := ParseCode(tt.code)
			assert.Error(t, err)
			assert.Nil(t, seq)
		})
	}
}

func TestFormatCodeIsCanonicalJSON(t *testing.T) {
	code := FormatCode(TapAction{Locate: "login button"})
	assert.Equal(t, `{"locate":"login button","type":"aiTap"}`, code)

	seq, err := ParseCode("- " + code)
	require.NoError(t, err)
	assert.Equal(t, TapAction{Locate: "login button"}, seq.Actions[0])
}

func TestSequenceJSONDecodeValidates(t *testing.T) {
	seq, err := ParseCode("- aiTap: login button\n- aiAssert: dashboard is visible\n")
	require.NoError(t, err)
	data, err := json.Marshal(seq)
	require.NoError(t, err)

	var back Sequence
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, seq.Actions, back.Actions)
	assert.Equal(t, seq.Display, back.Display)

	bad := `{"actions":[{"type":"aiTap"}],"display":{"code":["x"]}}`
	var ve *ValidationError
	assert.ErrorAs(t, json.Unmarshal([]byte(bad), &back), &ve)
}
