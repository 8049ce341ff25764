package action

import (
	"fmt"
	"strings"
)

// Type is the tag identifying an action's shape
type Type string

const (
	TypePlan          Type = "aiAction"
	TypeTap           Type = "aiTap"
	TypeInput         Type = "aiInput"
	TypeHover         Type = "aiHover"
	TypeKeyPress      Type = "aiKeyboardPress"
	TypeScroll        Type = "aiScroll"
	TypeRightClick    Type = "aiRightClick"
	TypeDoubleClick   Type = "aiDoubleClick"
	TypeLocate        Type = "aiLocate"
	TypeWaitFor       Type = "aiWaitFor"
	TypeAssert        Type = "aiAssert"
	TypeQuery         Type = "aiQuery"
	TypeAsk           Type = "aiAsk"
	TypeBoolean       Type = "aiBoolean"
	TypeNumber        Type = "aiNumber"
	TypeString        Type = "aiString"
	TypeRunScript     Type = "runYaml"
	TypeSetContext    Type = "setAIActionContext"
	TypeEvaluate      Type = "evaluateJavaScript"
	TypeDescribePoint Type = "describeElementAtPoint"
	TypeLogScreenshot Type = "logScreenshot"
	TypeFreeze        Type = "freezePageContext"
	TypeUnfreeze      Type = "unfreezePageContext"
	TypeVerifyLocator Type = "verifyLocator"
)

// AllTypes returns every known action tag in a stable order
func AllTypes() []Type {
	return []Type{
		TypePlan, TypeTap, TypeInput, TypeHover, TypeKeyPress, TypeScroll,
		TypeRightClick, TypeDoubleClick, TypeLocate, TypeWaitFor, TypeAssert,
		TypeQuery, TypeAsk, TypeBoolean, TypeNumber, TypeString, TypeRunScript,
		TypeSetContext, TypeEvaluate, TypeDescribePoint, TypeLogScreenshot,
		TypeFreeze, TypeUnfreeze, TypeVerifyLocator,
	}
}

// IsKnown reports whether t is one of the supported tags
func (t Type) IsKnown() bool {
	_, ok := shapes[t]
	return ok
}

// Action is a validated UI-automation instruction. The set of implementations
// is closed; values are only produced by Validate and its callers.
type Action interface {
	Type() Type
	Describe() string
	isAction()
}

// Base holds fields shared by every action
type Base struct {
	Description string `json:"description,omitempty"`
}

func (Base) isAction() {}

func (b Base) describe(fallback string) string {
	if b.Description != "" {
		return b.Description
	}
	return fallback
}

// Point is a viewport coordinate pair
type Point struct {
	X float64
	Y float64
}

// MarshalJSON encodes a point as [x, y]
func (p Point) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%s,%s]", formatNumber(p.X), formatNumber(p.Y))), nil
}

// ScrollDirection is the direction of a scroll gesture
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// ScrollMode describes how far a scroll gesture goes
type ScrollMode string

const (
	ScrollOnce        ScrollMode = "once"
	ScrollUntilBottom ScrollMode = "untilBottom"
	ScrollUntilTop    ScrollMode = "untilTop"
	ScrollUntilLeft   ScrollMode = "untilLeft"
	ScrollUntilRight  ScrollMode = "untilRight"
)

// Scroll describes a scroll gesture
type Scroll struct {
	Direction  ScrollDirection `json:"direction"`
	ScrollType ScrollMode      `json:"scrollType"`
	Distance   *float64        `json:"distance,omitempty"`
}

// Demand is what an aiQuery asks for: either free text or a set of named fields
type Demand struct {
	Text   string
	Fields map[string]string
}

// MarshalJSON encodes the demand in whichever form it was given
func (d Demand) MarshalJSON() ([]byte, error) {
	if d.Fields != nil {
		return marshalSorted(d.Fields)
	}
	return quoteJSON(d.Text), nil
}

// String renders the demand for prompts and logs
func (d Demand) String() string {
	if d.Fields == nil {
		return d.Text
	}
	parts := make([]string, 0, len(d.Fields))
	for _, k := range sortedKeys(d.Fields) {
		parts = append(parts, fmt.Sprintf("%s: %s", k, d.Fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// LocateOptions tune element location
type LocateOptions struct {
	DeepThink *bool   `json:"deepThink,omitempty"`
	Cacheable *bool   `json:"cacheable,omitempty"`
	XPath     *string `json:"xpath,omitempty"`
}

// ExtractOptions control what page data is sent for extraction
type ExtractOptions struct {
	DomIncluded        *bool `json:"domIncluded,omitempty"`
	ScreenshotIncluded *bool `json:"screenshotIncluded,omitempty"`
}

// WaitOptions control condition polling
type WaitOptions struct {
	TimeoutMs       *float64 `json:"timeoutMs,omitempty"`
	CheckIntervalMs *float64 `json:"checkIntervalMs,omitempty"`
}

// DescribeOptions control point description and locator verification
type DescribeOptions struct {
	VerifyPrompt *bool    `json:"verifyPrompt,omitempty"`
	RetryLimit   *float64 `json:"retryLimit,omitempty"`
	DeepThink    *bool    `json:"deepThink,omitempty"`
}

// PlanOptions tune plan-and-execute actions
type PlanOptions struct {
	Cacheable *bool `json:"cacheable,omitempty"`
}

// ScreenshotOptions annotate a logged screenshot
type ScreenshotOptions struct {
	Content *string `json:"content,omitempty"`
}

// PlanAction plans and executes a natural-language instruction
type PlanAction struct {
	Base
	Prompt  string       `json:"prompt"`
	Options *PlanOptions `json:"options,omitempty"`
}

func (PlanAction) Type() Type { return TypePlan }

func (a PlanAction) Describe() string { return a.describe(a.Prompt) }

// TapAction clicks the located element
type TapAction struct {
	Base
	Locate  string         `json:"locate"`
	Options *LocateOptions `json:"options,omitempty"`
}

func (TapAction) Type() Type { return TypeTap }

func (a TapAction) Describe() string { return a.describe("Tap " + quote(a.Locate)) }

// InputAction types text into the located element
type InputAction struct {
	Base
	Text    string         `json:"text"`
	Locate  string         `json:"locate"`
	Options *LocateOptions `json:"options,omitempty"`
}

func (InputAction) Type() Type { return TypeInput }

func (a InputAction) Describe() string {
	return a.describe(fmt.Sprintf("Input %s into %s", quote(a.Text), quote(a.Locate)))
}

// HoverAction moves the pointer over the located element
type HoverAction struct {
	Base
	Locate  string         `json:"locate"`
	Options *LocateOptions `json:"options,omitempty"`
}

func (HoverAction) Type() Type { return TypeHover }

func (a HoverAction) Describe() string { return a.describe("Hover " + quote(a.Locate)) }

// KeyPressAction presses a key, optionally focusing an element first
type KeyPressAction struct {
	Base
	Key     string         `json:"key"`
	Locate  string         `json:"locate,omitempty"`
	Options *LocateOptions `json:"options,omitempty"`
}

func (KeyPressAction) Type() Type { return TypeKeyPress }

func (a KeyPressAction) Describe() string {
	if a.Locate != "" {
		return a.describe(fmt.Sprintf("Press %s on %s", a.Key, quote(a.Locate)))
	}
	return a.describe("Press " + a.Key)
}

// ScrollAction scrolls the page or the located element
type ScrollAction struct {
	Base
	Scroll  Scroll         `json:"scroll"`
	Locate  string         `json:"locate,omitempty"`
	Options *LocateOptions `json:"options,omitempty"`
}

func (ScrollAction) Type() Type { return TypeScroll }

func (a ScrollAction) Describe() string {
	text := fmt.Sprintf("Scroll %s (%s)", a.Scroll.Direction, a.Scroll.ScrollType)
	if a.Locate != "" {
		text += " in " + quote(a.Locate)
	}
	return a.describe(text)
}

// RightClickAction opens the context menu on the located element
type RightClickAction struct {
	Base
	Locate  string         `json:"locate"`
	Options *LocateOptions `json:"options,omitempty"`
}

func (RightClickAction) Type() Type { return TypeRightClick }

func (a RightClickAction) Describe() string { return a.describe("Right click " + quote(a.Locate)) }

// DoubleClickAction double clicks the located element
type DoubleClickAction struct {
	Base
	Locate  string         `json:"locate"`
	Options *LocateOptions `json:"options,omitempty"`
}

func (DoubleClickAction) Type() Type { return TypeDoubleClick }

func (a DoubleClickAction) Describe() string { return a.describe("Double click " + quote(a.Locate)) }

// LocateAction finds an element and returns its position
type LocateAction struct {
	Base
	Locate  string         `json:"locate"`
	Options *LocateOptions `json:"options,omitempty"`
}

func (LocateAction) Type() Type { return TypeLocate }

func (a LocateAction) Describe() string { return a.describe("Locate " + quote(a.Locate)) }

// WaitForAction polls until a condition holds
type WaitForAction struct {
	Base
	Condition string       `json:"condition"`
	Options   *WaitOptions `json:"options,omitempty"`
}

func (WaitForAction) Type() Type { return TypeWaitFor }

func (a WaitForAction) Describe() string { return a.describe("Wait for " + quote(a.Condition)) }

// AssertAction checks a natural-language condition against the page
type AssertAction struct {
	Base
	Condition    string   `json:"condition"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	TimeoutMs    *float64 `json:"timeoutMs,omitempty"`
}

func (AssertAction) Type() Type { return TypeAssert }

func (a AssertAction) Describe() string { return a.describe("Assert " + quote(a.Condition)) }

// QueryAction extracts structured data from the page
type QueryAction struct {
	Base
	Demand  Demand          `json:"demand"`
	Options *ExtractOptions `json:"options,omitempty"`
}

func (QueryAction) Type() Type { return TypeQuery }

func (a QueryAction) Describe() string { return a.describe("Query " + a.Demand.String()) }

// ExtractAction asks a free-form or typed question about the page.
// Kind is one of TypeAsk, TypeBoolean, TypeNumber or TypeString.
type ExtractAction struct {
	Base
	Kind    Type            `json:"-"`
	Prompt  string          `json:"prompt"`
	Options *ExtractOptions `json:"options,omitempty"`
}

func (a ExtractAction) Type() Type { return a.Kind }

func (a ExtractAction) Describe() string {
	verb := map[Type]string{
		TypeAsk:     "Ask",
		TypeBoolean: "Check",
		TypeNumber:  "Read number",
		TypeString:  "Read text",
	}[a.Kind]
	return a.describe(verb + " " + quote(a.Prompt))
}

// RunScriptAction runs an embedded YAML script of actions
type RunScriptAction struct {
	Base
	Script string `json:"script"`
}

func (RunScriptAction) Type() Type { return TypeRunScript }

func (a RunScriptAction) Describe() string { return a.describe("Run script") }

// SetContextAction sets background knowledge for later AI actions
type SetContextAction struct {
	Base
	Context string `json:"context"`
}

func (SetContextAction) Type() Type { return TypeSetContext }

func (a SetContextAction) Describe() string { return a.describe("Set context " + quote(a.Context)) }

// EvaluateAction evaluates raw JavaScript in the page
type EvaluateAction struct {
	Base
	Script string `json:"script"`
}

func (EvaluateAction) Type() Type { return TypeEvaluate }

func (a EvaluateAction) Describe() string { return a.describe("Evaluate JavaScript") }

// DescribePointAction describes the element at a viewport point
type DescribePointAction struct {
	Base
	Point   Point            `json:"point"`
	Options *DescribeOptions `json:"options,omitempty"`
}

func (DescribePointAction) Type() Type { return TypeDescribePoint }

func (a DescribePointAction) Describe() string {
	return a.describe(fmt.Sprintf("Describe element at (%s, %s)", formatNumber(a.Point.X), formatNumber(a.Point.Y)))
}

// LogScreenshotAction records a screenshot in the run report
type LogScreenshotAction struct {
	Base
	Title   string             `json:"title,omitempty"`
	Options *ScreenshotOptions `json:"options,omitempty"`
}

func (LogScreenshotAction) Type() Type { return TypeLogScreenshot }

func (a LogScreenshotAction) Describe() string {
	if a.Title != "" {
		return a.describe("Screenshot " + quote(a.Title))
	}
	return a.describe("Screenshot")
}

// FreezeAction pins the page snapshot used by AI actions
type FreezeAction struct {
	Base
}

func (FreezeAction) Type() Type { return TypeFreeze }

func (a FreezeAction) Describe() string { return a.describe("Freeze page context") }

// UnfreezeAction releases a pinned page snapshot
type UnfreezeAction struct {
	Base
}

func (UnfreezeAction) Type() Type { return TypeUnfreeze }

func (a UnfreezeAction) Describe() string { return a.describe("Unfreeze page context") }

// VerifyLocatorAction checks that a prompt locates the element at a point
type VerifyLocatorAction struct {
	Base
	Prompt  string           `json:"prompt"`
	Point   Point            `json:"point"`
	Options *DescribeOptions `json:"options,omitempty"`
}

func (VerifyLocatorAction) Type() Type { return TypeVerifyLocator }

func (a VerifyLocatorAction) Describe() string {
	return a.describe(fmt.Sprintf("Verify %s at (%s, %s)", quote(a.Prompt), formatNumber(a.Point.X), formatNumber(a.Point.Y)))
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}
