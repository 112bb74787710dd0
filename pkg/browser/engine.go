package browser

import (
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

const (
	// DefaultViewportWidth is the viewport width for new sessions.
	DefaultViewportWidth = 1920
	// DefaultViewportHeight is the viewport height for new sessions.
	DefaultViewportHeight = 1080
)

// Engine owns the process-wide Playwright runtime. Sessions (one browser,
// one context, one page each) are launched from it; the registry owns the
// launched handles, the engine only owns the runtime itself.
type Engine struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	headless    bool
	initialized bool
}

// NewEngine creates an engine. Initialize must be called before Launch.
func NewEngine(headless bool) *Engine {
	return &Engine{headless: headless}
}

// Initialize installs (if needed) and starts the Playwright runtime.
// Safe to call more than once.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	// Discard driver output so it cannot interleave with our own logs.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	e.playwright = pw
	e.initialized = true
	return nil
}

// Handles bundles the raw Playwright resources of one launched session,
// kept for teardown. Closing order is page, context, browser.
type Handles struct {
	Browser playwright.Browser
	Context playwright.BrowserContext
	Page    playwright.Page
}

// Launch starts a fresh Chromium instance with its own context and page.
func (e *Engine) Launch() (*PlaywrightPage, *Handles, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, nil, fmt.Errorf("engine not initialized")
	}

	browser, err := e.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(e.headless),
		Args:     []string{"--no-sandbox", "--disable-dev-shm-usage"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		},
	})
	if err != nil {
		_ = browser.Close()
		return nil, nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		_ = context.Close()
		_ = browser.Close()
		return nil, nil, fmt.Errorf("failed to create page: %w", err)
	}

	handles := &Handles{Browser: browser, Context: context, Page: page}
	return &PlaywrightPage{page: page, browser: browser}, handles, nil
}

// Stop shuts down the Playwright runtime. Sessions must be closed first.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized || e.playwright == nil {
		return nil
	}
	if err := e.playwright.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	e.initialized = false
	e.playwright = nil
	return nil
}
