package automation

import (
	"math"
	"time"

	"github.com/lance13c/casepilot/internal/action"
)

// Options is the uniform option bag passed to every driver call. A nil field
// means the action did not set it; drivers apply their own defaults.
type Options struct {
	DeepThink          *bool
	Cacheable          *bool
	XPath              *string
	DomIncluded        *bool
	ScreenshotIncluded *bool
	Timeout            *time.Duration
	CheckInterval      *time.Duration
	RetryLimit         *int
	VerifyPrompt       *bool
	Content            *string
}

// OptionsFor collects whichever option fields an action carries
func OptionsFor(a action.Action) Options {
	var o Options
	switch v := a.(type) {
	case action.PlanAction:
		if v.Options != nil {
			o.Cacheable = v.Options.Cacheable
		}
	case action.TapAction:
		o.applyLocate(v.Options)
	case action.InputAction:
		o.applyLocate(v.Options)
	case action.HoverAction:
		o.applyLocate(v.Options)
	case action.KeyPressAction:
		o.applyLocate(v.Options)
	case action.ScrollAction:
		o.applyLocate(v.Options)
	case action.RightClickAction:
		o.applyLocate(v.Options)
	case action.DoubleClickAction:
		o.applyLocate(v.Options)
	case action.LocateAction:
		o.applyLocate(v.Options)
	case action.WaitForAction:
		if v.Options != nil {
			o.Timeout = millis(v.Options.TimeoutMs)
			o.CheckInterval = millis(v.Options.CheckIntervalMs)
		}
	case action.AssertAction:
		o.Timeout = millis(v.TimeoutMs)
	case action.QueryAction:
		o.applyExtract(v.Options)
	case action.ExtractAction:
		o.applyExtract(v.Options)
	case action.DescribePointAction:
		o.applyDescribe(v.Options)
	case action.VerifyLocatorAction:
		o.applyDescribe(v.Options)
	case action.LogScreenshotAction:
		if v.Options != nil {
			o.Content = v.Options.Content
		}
	}
	return o
}

func (o *Options) applyLocate(opts *action.LocateOptions) {
	if opts == nil {
		return
	}
	o.DeepThink = opts.DeepThink
	o.Cacheable = opts.Cacheable
	o.XPath = opts.XPath
}

func (o *Options) applyExtract(opts *action.ExtractOptions) {
	if opts == nil {
		return
	}
	o.DomIncluded = opts.DomIncluded
	o.ScreenshotIncluded = opts.ScreenshotIncluded
}

func (o *Options) applyDescribe(opts *action.DescribeOptions) {
	if opts == nil {
		return
	}
	o.VerifyPrompt = opts.VerifyPrompt
	o.DeepThink = opts.DeepThink
	if opts.RetryLimit != nil {
		n := int(math.Min(math.Round(*opts.RetryLimit), math.MaxInt32))
		o.RetryLimit = &n
	}
}

func millis(ms *float64) *time.Duration {
	if ms == nil {
		return nil
	}
	// values past the range of time.Duration saturate instead of wrapping negative
	d := time.Duration(math.MaxInt64)
	if ns := *ms * float64(time.Millisecond); ns < float64(math.MaxInt64) {
		d = time.Duration(ns)
	}
	return &d
}

// Flag returns the value of an optional flag, or def when unset
func Flag(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// DurationOr returns the value of an optional duration, or def when unset
func DurationOr(d *time.Duration, def time.Duration) time.Duration {
	if d == nil {
		return def
	}
	return *d
}
