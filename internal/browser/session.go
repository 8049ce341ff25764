package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/lance13c/casepilot/internal/automation"
	"github.com/lance13c/casepilot/internal/config"
	"github.com/lance13c/casepilot/internal/llm"
	"github.com/lance13c/casepilot/internal/logging"
)

const (
	defaultCallTimeout = 30 * time.Second
	maxPlanRounds      = 8
)

// Session owns one Chrome tab for the lifetime of a case run. It hands out a
// fresh Driver per step and keeps the state that must outlive steps: the AI
// context, the frozen page snapshot and the locate cache.
type Session struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	cfg       config.BrowserConfig
	exec      config.ExecutionConfig
	assistant *llm.Assistant

	mu        sync.Mutex
	aiContext string
	frozen    *snapshot
	cache     map[string]pageElement
	drivers   int
}

// NewSession starts Chrome and opens the configured base URL
func NewSession(ctx context.Context, cfg *config.Config, assistant *llm.Assistant) (*Session, error) {
	chromePath, err := findChrome(cfg.Browser.ChromePath)
	if err != nil {
		return nil, err
	}
	logging.Info("Using Chrome from: %s", chromePath)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg.Browser, chromePath)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logging.Debug), chromedp.WithErrorf(logging.Error))

	// the first Run starts the browser; it must use the tab context itself
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}

	s := &Session{
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		cfg:         cfg.Browser,
		exec:        cfg.Execution,
		assistant:   assistant,
		cache:       map[string]pageElement{},
	}

	if cfg.Browser.BaseURL != "" {
		if err := s.Navigate(ctx, cfg.Browser.BaseURL); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Navigate loads url in the session tab
func (s *Session) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := scope(ctx, s.tabCtx, defaultCallTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	logging.Info("Navigated to %s", url)
	return nil
}

// NewDriver implements automation.DriverFactory
func (s *Session) NewDriver(ctx context.Context) (automation.Driver, error) {
	if err := s.tabCtx.Err(); err != nil {
		return nil, fmt.Errorf("browser session is closed: %w", err)
	}
	s.mu.Lock()
	s.drivers++
	id := s.drivers
	s.mu.Unlock()
	return newDriver(s, id), nil
}

// PageContext captures the current page the way step drivers present it to
// the model
func (s *Session) PageContext(ctx context.Context, screenshot bool) (llm.PageContext, error) {
	d := newDriver(s, 0)
	defer d.Destroy()
	snap, err := d.captureLive(ctx, screenshot)
	if err != nil {
		return llm.PageContext{}, err
	}
	return d.pageContext(snap, false, screenshot), nil
}

// Close shuts down the tab and the browser process
func (s *Session) Close() {
	s.tabCancel()
	s.allocCancel()
}

// SetAIContext sets the background text sent with every model call
func (s *Session) SetAIContext(text string) {
	s.mu.Lock()
	s.aiContext = text
	s.mu.Unlock()
}

// AIContext returns the current background text
func (s *Session) AIContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aiContext
}

func (s *Session) freeze(snap *snapshot) {
	s.mu.Lock()
	s.frozen = snap
	s.mu.Unlock()
}

func (s *Session) unfreeze() {
	s.mu.Lock()
	s.frozen = nil
	s.mu.Unlock()
}

func (s *Session) frozenSnapshot() *snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

func (s *Session) cached(key string) (pageElement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	return e, ok
}

func (s *Session) remember(key string, e pageElement) {
	s.mu.Lock()
	s.cache[key] = e
	s.mu.Unlock()
}

func (s *Session) artifactsDir() (string, error) {
	dir := s.cfg.ArtifactsDir
	if dir == "" {
		dir = ".casepilot/artifacts"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	return dir, nil
}

// scope derives a context from the chromedp tab that also ends when the
// caller's ctx does
func scope(caller, tab context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(tab, timeout)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
