package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Display carries the literal code shown for each action of a sequence
type Display struct {
	Code        []string `json:"code"`
	Description string   `json:"description,omitempty"`
}

// Sequence is an ordered list of validated actions with one display code per action
type Sequence struct {
	Actions []Action
	Display Display
}

// NewSequence builds a sequence and checks that every action has display code
func NewSequence(actions []Action, code []string, description string) (*Sequence, error) {
	s := &Sequence{Actions: actions, Display: Display{Code: code, Description: description}}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

// Check verifies the action/display-code length invariant
func (s *Sequence) Check() error {
	if s == nil {
		return &ValidationError{Index: -1, Reason: "sequence is nil"}
	}
	if len(s.Actions) != len(s.Display.Code) {
		return &ValidationError{
			Index:  -1,
			Field:  "display.code",
			Reason: fmt.Sprintf("has %d entries but sequence has %d actions", len(s.Display.Code), len(s.Actions)),
		}
	}
	for i, a := range s.Actions {
		if a == nil {
			return &ValidationError{Index: i, Reason: "action is nil"}
		}
	}
	return nil
}

// Clone returns a deep copy of the sequence
func (s *Sequence) Clone() *Sequence {
	if s == nil {
		return nil
	}
	out := &Sequence{
		Actions: make([]Action, len(s.Actions)),
		Display: Display{Code: append([]string(nil), s.Display.Code...), Description: s.Display.Description},
	}
	for i, a := range s.Actions {
		out.Actions[i] = Clone(a)
	}
	return out
}

// MarshalJSON encodes the sequence in the form accepted by ValidateSequence
func (s Sequence) MarshalJSON() ([]byte, error) {
	actions := make([]map[string]any, len(s.Actions))
	for i, a := range s.Actions {
		m, err := Marshal(a)
		if err != nil {
			return nil, err
		}
		actions[i] = m
	}
	display := s.Display
	if display.Code == nil {
		display.Code = []string{}
	}
	return json.Marshal(struct {
		Actions []map[string]any `json:"actions"`
		Display Display          `json:"display"`
	}{actions, display})
}

// UnmarshalJSON decodes and validates the form written by MarshalJSON
func (s *Sequence) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	seq, err := ValidateSequence(raw)
	if err != nil {
		return err
	}
	*s = *seq
	return nil
}

// ValidateSequence validates {actions, display{code, description}}.
// Any invalid action, or a code list whose length differs from the action list,
// rejects the whole sequence.
func ValidateSequence(raw any) (*Sequence, error) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, &ValidationError{Index: -1, Reason: fmt.Sprintf("expected a sequence object, got %s", typeName(raw))}
	}
	for key := range obj {
		if key != "actions" && key != "display" {
			return nil, &ValidationError{Index: -1, Field: key, Reason: "unexpected field for sequence"}
		}
	}

	list, ok := obj["actions"].([]any)
	if !ok {
		return nil, &ValidationError{Index: -1, Field: "actions", Reason: "expected an array"}
	}
	display, ok := asObject(obj["display"])
	if !ok {
		return nil, &ValidationError{Index: -1, Field: "display", Reason: "expected an object"}
	}
	for key := range display {
		if key != "code" && key != "description" {
			return nil, &ValidationError{Index: -1, Field: "display." + key, Reason: "unexpected field"}
		}
	}
	rawCode, ok := display["code"].([]any)
	if !ok {
		return nil, &ValidationError{Index: -1, Field: "display.code", Reason: "expected an array of strings"}
	}
	code := make([]string, len(rawCode))
	for i, c := range rawCode {
		s, ok := c.(string)
		if !ok {
			return nil, &ValidationError{Index: i, Field: "display.code", Reason: "expected a string"}
		}
		code[i] = s
	}
	desc := ""
	if d, present := display["description"]; present && d != nil {
		s, ok := d.(string)
		if !ok {
			return nil, &ValidationError{Index: -1, Field: "display.description", Reason: "expected a string"}
		}
		desc = s
	}

	actions := make([]Action, len(list))
	for i, item := range list {
		a, err := validateAt(item, i)
		if err != nil {
			return nil, err
		}
		actions[i] = a
	}
	return NewSequence(actions, code, desc)
}

// Marshal returns the canonical map form of an action, including its type tag
func Marshal(a Action) (map[string]any, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", a.Type(), err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", a.Type(), err)
	}
	m["type"] = string(a.Type())
	return m, nil
}

// Clone returns a deep copy of a validated action
func Clone(a Action) Action {
	if a == nil {
		return nil
	}
	m, err := Marshal(a)
	if err != nil {
		return a
	}
	c, err := Validate(m)
	if err != nil {
		return a
	}
	return c
}

// FormatCode renders an action as one line of canonical JSON
func FormatCode(a Action) string {
	m, err := Marshal(a)
	if err != nil {
		return string(a.Type())
	}
	data, err := json.Marshal(m)
	if err != nil {
		return string(a.Type())
	}
	return string(data)
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func quoteJSON(s string) []byte {
	data, _ := json.Marshal(s)
	return data
}

func marshalSorted(m map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range sortedKeys(m) {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(quoteJSON(k))
		buf.WriteByte(':')
		buf.Write(quoteJSON(m[k]))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
