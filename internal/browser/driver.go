package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/lance13c/casepilot/internal/action"
	"github.com/lance13c/casepilot/internal/automation"
	"github.com/lance13c/casepilot/internal/llm"
	"github.com/lance13c/casepilot/internal/logging"
)

// ErrDriverDestroyed is returned by any call made after Destroy
var ErrDriverDestroyed = errors.New("driver has been destroyed")

// Driver runs one step's actions against the session tab
type Driver struct {
	s      *Session
	id     int
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	console   []string
	destroyed bool
}

var _ automation.Driver = (*Driver)(nil)

func newDriver(s *Session, id int) *Driver {
	ctx, cancel := context.WithCancel(s.tabCtx)
	d := &Driver{s: s, id: id, ctx: ctx, cancel: cancel}
	chromedp.ListenTarget(ctx, d.onEvent)
	logging.Debug("Driver %d created", id)
	return d
}

func (d *Driver) onEvent(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		args := make([]string, 0, len(ev.Args))
		for _, a := range ev.Args {
			if a.Description != "" {
				args = append(args, a.Description)
			} else {
				args = append(args, string(a.Value))
			}
		}
		d.record(fmt.Sprintf("console.%s: %s", ev.Type, strings.Join(args, " ")))
	case *runtime.EventExceptionThrown:
		d.record("exception: " + ev.ExceptionDetails.Text)
	case *page.EventJavascriptDialogOpening:
		d.record(fmt.Sprintf("dialog %s: %s", ev.Type, ev.Message))
		// handlers must not block the event loop
		go func() {
			if err := chromedp.Run(d.ctx, page.HandleJavaScriptDialog(true)); err != nil {
				logging.Warn("Failed to accept dialog: %v", err)
			}
		}()
	}
}

func (d *Driver) record(line string) {
	d.mu.Lock()
	d.console = append(d.console, line)
	d.mu.Unlock()
}

// Console returns what the page logged while this driver was alive
func (d *Driver) Console() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.console...)
}

func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	d.mu.Lock()
	destroyed := d.destroyed
	d.mu.Unlock()
	if destroyed {
		return ErrDriverDestroyed
	}
	runCtx, cancel := scope(ctx, d.ctx, timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// capture returns the frozen snapshot if there is one, otherwise a live one
func (d *Driver) capture(ctx context.Context, screenshot bool) (*snapshot, error) {
	if frozen := d.s.frozenSnapshot(); frozen != nil {
		return frozen, nil
	}
	return d.captureLive(ctx, screenshot)
}

func (d *Driver) captureLive(ctx context.Context, screenshot bool) (*snapshot, error) {
	snap := &snapshot{}
	actions := []chromedp.Action{
		chromedp.Location(&snap.URL),
		chromedp.Title(&snap.Title),
		chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery),
		chromedp.Evaluate(collectElementsJS, &snap.Elements),
	}
	if screenshot {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			buf, err := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
			snap.Screenshot = buf
			return err
		}))
	}
	if err := d.run(ctx, defaultCallTimeout, actions...); err != nil {
		return nil, fmt.Errorf("failed to capture page: %w", err)
	}
	return snap, nil
}

func (d *Driver) pageContext(snap *snapshot, dom, screenshot bool) llm.PageContext {
	pc := llm.PageContext{
		URL:        snap.URL,
		Title:      snap.Title,
		Background: d.s.AIContext(),
	}
	for _, e := range snap.Elements {
		pc.Elements = append(pc.Elements, e.summary())
	}
	var err error
	if dom {
		pc.Text, err = SimplifyHTML(snap.HTML)
	} else {
		pc.Text, err = PageText(snap.HTML)
	}
	if err != nil {
		logging.Warn("Failed to reduce page HTML: %v", err)
	}
	if screenshot && len(snap.Screenshot) > 0 {
		pc.Screenshot = "data:image/png;base64," + base64.StdEncoding.EncodeToString(snap.Screenshot)
	}
	return pc
}

func (d *Driver) locate(ctx context.Context, prompt string, opts automation.Options) (pageElement, error) {
	if opts.XPath != nil && *opts.XPath != "" {
		var el *pageElement
		js := fmt.Sprintf(xpathRectJS, strconv.Quote(*opts.XPath))
		if err := d.run(ctx, defaultCallTimeout, chromedp.Evaluate(js, &el)); err != nil {
			return pageElement{}, fmt.Errorf("failed to evaluate xpath: %w", err)
		}
		if el != nil {
			return *el, nil
		}
		logging.Debug("XPath %s matched nothing, falling back to %q", *opts.XPath, prompt)
	}

	snap, err := d.capture(ctx, true)
	if err != nil {
		return pageElement{}, err
	}
	cacheKey := snap.URL + "\x00" + prompt
	if automation.Flag(opts.Cacheable, false) {
		if el, ok := d.s.cached(cacheKey); ok {
			logging.Debug("Locate cache hit for %q", prompt)
			return el, nil
		}
	}

	res, err := d.s.assistant.Locate(ctx, d.pageContext(snap, automation.Flag(opts.DeepThink, false), true), prompt)
	if err != nil {
		return pageElement{}, fmt.Errorf("failed to locate %q: %w", prompt, err)
	}
	el, ok := snap.element(res.ID)
	if !ok {
		return pageElement{}, fmt.Errorf("element not found: %q (%s)", prompt, res.Reason)
	}
	logging.Debug("Located %q as [%d] %s", prompt, el.ID, el.Selector)
	if automation.Flag(opts.Cacheable, false) {
		d.s.remember(cacheKey, el)
	}
	return el, nil
}

func (d *Driver) click(ctx context.Context, p action.Point, opts ...chromedp.MouseOption) error {
	return d.run(ctx, defaultCallTimeout, chromedp.MouseClickXY(p.X, p.Y, opts...))
}

func (d *Driver) typeText(ctx context.Context, text string) error {
	return d.run(ctx, defaultCallTimeout,
		chromedp.Evaluate(clearFocusedJS, nil),
		chromedp.KeyEvent(text),
	)
}

func (d *Driver) press(ctx context.Context, key string) error {
	chord, err := parseKey(key)
	if err != nil {
		return err
	}
	return d.run(ctx, defaultCallTimeout, chromedp.KeyEvent(chord.Key, chromedp.KeyModifiers(chord.Modifiers...)))
}

func (d *Driver) viewport(ctx context.Context) (action.Point, error) {
	var size []float64
	if err := d.run(ctx, defaultCallTimeout, chromedp.Evaluate(viewportJS, &size)); err != nil {
		return action.Point{}, err
	}
	if len(size) != 2 {
		return action.Point{}, fmt.Errorf("unexpected viewport %v", size)
	}
	return action.Point{X: size[0], Y: size[1]}, nil
}

func (d *Driver) wheel(ctx context.Context, at action.Point, dx, dy float64) error {
	return d.run(ctx, defaultCallTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, at.X, at.Y).WithDeltaX(dx).WithDeltaY(dy).Do(ctx)
	}))
}

// Tap clicks the located element
func (d *Driver) Tap(ctx context.Context, locate string, opts automation.Options) error {
	el, err := d.locate(ctx, locate, opts)
	if err != nil {
		return err
	}
	return d.click(ctx, el.center())
}

// Input focuses the located element, clears it and types text. An empty
// locate types into whatever has focus.
func (d *Driver) Input(ctx context.Context, text, locate string, opts automation.Options) error {
	if locate != "" {
		if err := d.Tap(ctx, locate, opts); err != nil {
			return err
		}
	}
	return d.typeText(ctx, text)
}

// Hover moves the mouse over the located element
func (d *Driver) Hover(ctx context.Context, locate string, opts automation.Options) error {
	el, err := d.locate(ctx, locate, opts)
	if err != nil {
		return err
	}
	c := el.center()
	return d.run(ctx, defaultCallTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, c.X, c.Y).Do(ctx)
	}))
}

// KeyPress presses key, optionally after focusing the located element
func (d *Driver) KeyPress(ctx context.Context, key, locate string, opts automation.Options) error {
	if locate != "" {
		if err := d.Tap(ctx, locate, opts); err != nil {
			return err
		}
	}
	return d.press(ctx, key)
}

// Scroll scrolls the page, or the scrollable area under the located element
func (d *Driver) Scroll(ctx context.Context, scroll action.Scroll, locate string, opts automation.Options) error {
	size, err := d.viewport(ctx)
	if err != nil {
		return fmt.Errorf("failed to read viewport: %w", err)
	}
	at := action.Point{X: size.X / 2, Y: size.Y / 2}
	if locate != "" {
		el, err := d.locate(ctx, locate, opts)
		if err != nil {
			return err
		}
		at = el.center()
	}

	switch scroll.ScrollType {
	case action.ScrollUntilBottom, action.ScrollUntilTop, action.ScrollUntilLeft, action.ScrollUntilRight:
		js := fmt.Sprintf(scrollEdgeJS, at.X, at.Y, string(scroll.ScrollType))
		return d.run(ctx, defaultCallTimeout, chromedp.Evaluate(js, nil))
	}

	dx, dy := scrollDelta(scroll, size)
	return d.wheel(ctx, at, dx, dy)
}

// scrollDelta returns the wheel delta for a single scroll gesture
func scrollDelta(scroll action.Scroll, viewport action.Point) (float64, float64) {
	dir := scroll.Direction
	if dir == "" {
		dir = action.ScrollDown
	}
	horizontal := dir == action.ScrollLeft || dir == action.ScrollRight
	distance := viewport.Y * 0.7
	if horizontal {
		distance = viewport.X * 0.7
	}
	if scroll.Distance != nil {
		distance = *scroll.Distance
	}
	switch dir {
	case action.ScrollUp:
		return 0, -distance
	case action.ScrollLeft:
		return -distance, 0
	case action.ScrollRight:
		return distance, 0
	default:
		return 0, distance
	}
}

// RightClick opens the context menu on the located element
func (d *Driver) RightClick(ctx context.Context, locate string, opts automation.Options) error {
	el, err := d.locate(ctx, locate, opts)
	if err != nil {
		return err
	}
	return d.click(ctx, el.center(), chromedp.ButtonRight)
}

// DoubleClick double clicks the located element
func (d *Driver) DoubleClick(ctx context.Context, locate string, opts automation.Options) error {
	el, err := d.locate(ctx, locate, opts)
	if err != nil {
		return err
	}
	return d.click(ctx, el.center(), chromedp.ClickCount(2))
}

// Locate returns where the described element is
func (d *Driver) Locate(ctx context.Context, locate string, opts automation.Options) (automation.Element, error) {
	el, err := d.locate(ctx, locate, opts)
	if err != nil {
		return automation.Element{}, err
	}
	return el.toElement(), nil
}

// Plan lets the model drive the page until it reports the task finished
func (d *Driver) Plan(ctx context.Context, prompt string, opts automation.Options) (any, error) {
	var history []string
	for round := 1; round <= maxPlanRounds; round++ {
		snap, err := d.captureLive(ctx, true)
		if err != nil {
			return nil, err
		}
		plan, err := d.s.assistant.Plan(ctx, d.pageContext(snap, false, true), prompt, history)
		if err != nil {
			return nil, fmt.Errorf("failed to plan %q: %w", prompt, err)
		}
		for _, pa := range plan.Actions {
			if err := d.perform(ctx, snap, pa); err != nil {
				return nil, fmt.Errorf("planned %s failed: %w", pa.Type, err)
			}
		}
		if plan.Log != "" {
			history = append(history, plan.Log)
		}
		if plan.Finished {
			return map[string]any{"log": history, "rounds": round}, nil
		}
		if len(plan.Actions) == 0 {
			return nil, fmt.Errorf("planner made no progress on %q", prompt)
		}
	}
	return nil, fmt.Errorf("task %q not finished after %d rounds", prompt, maxPlanRounds)
}

func (d *Driver) perform(ctx context.Context, snap *snapshot, pa llm.PlannedAction) error {
	target := func() (pageElement, error) {
		el, ok := snap.element(pa.ID)
		if !ok {
			return pageElement{}, fmt.Errorf("no element %d on the page", pa.ID)
		}
		return el, nil
	}

	switch pa.Type {
	case "tap":
		el, err := target()
		if err != nil {
			return err
		}
		return d.click(ctx, el.center())
	case "input":
		if pa.ID > 0 {
			el, err := target()
			if err != nil {
				return err
			}
			if err := d.click(ctx, el.center()); err != nil {
				return err
			}
		}
		return d.typeText(ctx, pa.Text)
	case "keypress":
		return d.press(ctx, pa.Key)
	case "scroll":
		size, err := d.viewport(ctx)
		if err != nil {
			return err
		}
		dx, dy := scrollDelta(action.Scroll{Direction: action.ScrollDirection(pa.Direction)}, size)
		return d.wheel(ctx, action.Point{X: size.X / 2, Y: size.Y / 2}, dx, dy)
	case "wait":
		select {
		case <-time.After(time.Duration(pa.Ms) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return fmt.Errorf("unknown planned action %q", pa.Type)
	}
}

func (d *Driver) extract(ctx context.Context, demand, hint string, opts automation.Options) (any, error) {
	withShot := automation.Flag(opts.ScreenshotIncluded, true)
	snap, err := d.capture(ctx, withShot)
	if err != nil {
		return nil, err
	}
	data, err := d.s.assistant.Extract(ctx, d.pageContext(snap, automation.Flag(opts.DomIncluded, false), withShot), demand, hint)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %q: %w", demand, err)
	}
	return data, nil
}

// Query extracts free-form or field-shaped data from the page
func (d *Driver) Query(ctx context.Context, demand action.Demand, opts automation.Options) (any, error) {
	hint := ""
	if demand.Fields != nil {
		hint = "an object with exactly these keys: " + strings.Join(fieldNames(demand.Fields), ", ")
	}
	return d.extract(ctx, demand.String(), hint, opts)
}

// Ask answers a question about the page in prose
func (d *Driver) Ask(ctx context.Context, prompt string, opts automation.Options) (string, error) {
	data, err := d.extract(ctx, prompt, "a string answering the question", opts)
	if err != nil {
		return "", err
	}
	return toString(data), nil
}

// Boolean answers a yes/no question about the page
func (d *Driver) Boolean(ctx context.Context, prompt string, opts automation.Options) (bool, error) {
	data, err := d.extract(ctx, prompt, "a boolean", opts)
	if err != nil {
		return false, err
	}
	return toBool(data)
}

// Number extracts a number from the page
func (d *Driver) Number(ctx context.Context, prompt string, opts automation.Options) (float64, error) {
	data, err := d.extract(ctx, prompt, "a number", opts)
	if err != nil {
		return 0, err
	}
	return toNumber(data)
}

// String extracts a string from the page
func (d *Driver) String(ctx context.Context, prompt string, opts automation.Options) (string, error) {
	data, err := d.extract(ctx, prompt, "a string", opts)
	if err != nil {
		return "", err
	}
	return toString(data), nil
}

// poll checks condition until it passes or timeout elapses. The last verdict
// is returned either way.
func (d *Driver) poll(ctx context.Context, condition string, timeout, interval time.Duration) (llm.Verdict, error) {
	deadline := time.Now().Add(timeout)
	var verdict llm.Verdict
	var lastErr error
	for {
		snap, err := d.captureLive(ctx, true)
		if err == nil {
			verdict, err = d.s.assistant.Check(ctx, d.pageContext(snap, false, true), condition)
		}
		if err == nil && verdict.Pass {
			return verdict, nil
		}
		if err != nil {
			lastErr = err
			logging.Debug("Check of %q failed: %v", condition, err)
		}
		if time.Now().Add(interval).After(deadline) {
			if lastErr != nil && verdict.Thought == "" {
				return verdict, lastErr
			}
			return verdict, errConditionFalse
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return verdict, ctx.Err()
		}
	}
}

var errConditionFalse = errors.New("condition not met")

// Assert checks condition, re-checking until the assert timeout
func (d *Driver) Assert(ctx context.Context, condition, errorMessage string, opts automation.Options) error {
	timeout := automation.DurationOr(opts.Timeout, d.s.exec.AssertTimeoutDuration())
	verdict, err := d.poll(ctx, condition, timeout, d.s.exec.PollIntervalDuration())
	if err == nil {
		return nil
	}
	if !errors.Is(err, errConditionFalse) {
		return fmt.Errorf("failed to check %q: %w", condition, err)
	}
	msg := errorMessage
	if msg == "" {
		msg = "assertion failed: " + condition
	}
	if verdict.Thought != "" {
		msg += " (" + verdict.Thought + ")"
	}
	return errors.New(msg)
}

// WaitFor polls condition until it holds or the wait times out
func (d *Driver) WaitFor(ctx context.Context, condition string, opts automation.Options) error {
	timeout := automation.DurationOr(opts.Timeout, d.s.exec.AssertTimeoutDuration())
	interval := automation.DurationOr(opts.CheckInterval, d.s.exec.PollIntervalDuration())
	verdict, err := d.poll(ctx, condition, timeout, interval)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errConditionFalse) {
		return fmt.Errorf("failed waiting for %q: %w", condition, err)
	}
	return fmt.Errorf("timed out after %v waiting for %q: %s", timeout, condition, verdict.Thought)
}

// DescribePoint describes the element at point. With VerifyPrompt set the
// description is checked by locating it again.
func (d *Driver) DescribePoint(ctx context.Context, point action.Point, opts automation.Options) (string, error) {
	snap, err := d.capture(ctx, true)
	if err != nil {
		return "", err
	}
	el, ok := snap.elementAt(point)
	if !ok {
		return "", fmt.Errorf("no element at (%v, %v)", point.X, point.Y)
	}
	pc := d.pageContext(snap, automation.Flag(opts.DeepThink, false), true)

	attempts := 1
	if automation.Flag(opts.VerifyPrompt, false) {
		attempts = 3
		if opts.RetryLimit != nil && *opts.RetryLimit > 0 {
			attempts = *opts.RetryLimit
		}
	}
	var desc string
	for i := 0; i < attempts; i++ {
		desc, err = d.s.assistant.DescribeElement(ctx, pc, el.summary())
		if err != nil {
			return "", fmt.Errorf("failed to describe element: %w", err)
		}
		if attempts == 1 {
			return desc, nil
		}
		res, err := d.VerifyLocator(ctx, desc, point, automation.Options{DeepThink: opts.DeepThink})
		if err == nil && res.Pass {
			return desc, nil
		}
		logging.Debug("Description %q did not verify (attempt %d/%d)", desc, i+1, attempts)
	}
	return desc, fmt.Errorf("description %q does not locate (%v, %v)", desc, point.X, point.Y)
}

// VerifyLocator reports whether prompt locates an element covering point
func (d *Driver) VerifyLocator(ctx context.Context, prompt string, point action.Point, opts automation.Options) (automation.VerifyResult, error) {
	opts.Cacheable = nil
	el, err := d.locate(ctx, prompt, opts)
	if err != nil {
		return automation.VerifyResult{}, err
	}
	res := automation.VerifyResult{Pass: el.contains(point), Found: el.center()}
	if !res.Pass {
		res.Reason = fmt.Sprintf("located [%d] %s, which does not cover (%v, %v)", el.ID, el.Selector, point.X, point.Y)
	}
	return res, nil
}

// RunScript parses script as a flow and runs each action on this driver
func (d *Driver) RunScript(ctx context.Context, script string) (any, error) {
	seq, err := action.ParseCode(script)
	if err != nil {
		return nil, err
	}
	results := make([]any, 0, len(seq.Actions))
	for i, a := range seq.Actions {
		res, err := automation.Invoke(ctx, d, a, automation.OptionsFor(a))
		if err != nil {
			return results, fmt.Errorf("script action %d (%s) failed: %w", i+1, a.Describe(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Evaluate runs JavaScript in the page and returns its JSON-decoded result
func (d *Driver) Evaluate(ctx context.Context, script string) (any, error) {
	var res any
	err := d.run(ctx, defaultCallTimeout, chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if errors.Is(err, chromedp.ErrJSUndefined) || errors.Is(err, chromedp.ErrJSNull) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("script failed: %w", err)
	}
	return res, nil
}

// SetContext stores background text for later model calls
func (d *Driver) SetContext(text string) {
	d.s.SetAIContext(text)
}

// LogScreenshot saves the viewport to the artifacts directory and returns the path
func (d *Driver) LogScreenshot(ctx context.Context, title string, opts automation.Options) (string, error) {
	var buf []byte
	err := d.run(ctx, defaultCallTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("failed to capture screenshot: %w", err)
	}

	dir, err := d.s.artifactsDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, screenshotName(time.Now(), title))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	if opts.Content != nil && *opts.Content != "" {
		note := strings.TrimSuffix(path, ".png") + ".txt"
		if err := os.WriteFile(note, []byte(*opts.Content+"\n"), 0644); err != nil {
			return "", fmt.Errorf("failed to write screenshot note: %w", err)
		}
	}
	logging.Info("Screenshot %q saved to %s", title, path)
	return path, nil
}

// Freeze pins the current page snapshot for subsequent model calls
func (d *Driver) Freeze(ctx context.Context) error {
	snap, err := d.captureLive(ctx, true)
	if err != nil {
		return err
	}
	d.s.freeze(snap)
	return nil
}

// Unfreeze returns to live page snapshots
func (d *Driver) Unfreeze(ctx context.Context) error {
	d.s.unfreeze()
	return nil
}

// Destroy detaches the driver from the tab. It is safe to call more than once.
func (d *Driver) Destroy() error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	d.destroyed = true
	console := d.console
	d.mu.Unlock()

	d.cancel()
	for _, line := range console {
		logging.Debug("Driver %d page %s", d.id, line)
	}
	logging.Debug("Driver %d destroyed", d.id)
	return nil
}
