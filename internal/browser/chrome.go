package browser

import (
	"errors"
	"os"
	"os/exec"
	"runtime"

	"github.com/chromedp/chromedp"

	"github.com/lance13c/casepilot/internal/config"
	"github.com/lance13c/casepilot/internal/logging"
)

// ErrChromeNotFound is returned when no Chrome-compatible browser is installed
var ErrChromeNotFound = errors.New("chrome browser not found; install Chrome or Chromium, or set browser.chrome_path")

// findChrome returns the configured path, or the first known install
func findChrome(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", err
		}
		return configured, nil
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
		}
	case "windows":
		candidates = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		candidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"}
	}

	for _, c := range candidates {
		if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
			if _, err := os.Stat(c); err == nil {
				return c, nil
			}
			continue
		}
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", ErrChromeNotFound
}

// allocatorOptions builds the exec allocator flags for cfg
func allocatorOptions(cfg config.BrowserConfig, chromePath string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.ExecPath(chromePath),
		chromedp.WindowSize(cfg.Width, cfg.Height),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if !cfg.Headless {
		logging.Info("Chrome will run in visible mode")
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}
