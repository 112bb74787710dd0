package browser

import (
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightPage implements Page over a live Playwright page.
type PlaywrightPage struct {
	page    playwright.Page
	browser playwright.Browser
}

var _ Page = (*PlaywrightPage)(nil)

// Navigate loads the URL and waits for the load event.
func (p *PlaywrightPage) Navigate(url string) error {
	if _, err := p.page.Goto(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Find returns the first element matching the selector.
// XPath selectors (leading "/" or "//") are handled by Playwright directly.
func (p *PlaywrightPage) Find(selector string) (Element, error) {
	handle, err := p.page.QuerySelector(normalizeSelector(selector))
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	if handle == nil {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return &playwrightElement{handle: handle}, nil
}

// FindAll returns every element matching the selector.
func (p *PlaywrightPage) FindAll(selector string) ([]Element, error) {
	handles, err := p.page.QuerySelectorAll(normalizeSelector(selector))
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}

	elements := make([]Element, 0, len(handles))
	for _, handle := range handles {
		elements = append(elements, &playwrightElement{handle: handle})
	}
	return elements, nil
}

// Alive reports whether the browser connection is still open.
func (p *PlaywrightPage) Alive() bool {
	return p.browser != nil && p.browser.IsConnected() && !p.page.IsClosed()
}

// normalizeSelector prefixes absolute XPath expressions so Playwright does
// not mistake them for CSS. Playwright auto-detects "//" but not "/html".
func normalizeSelector(selector string) string {
	if len(selector) > 0 && selector[0] == '/' {
		return "xpath=" + selector
	}
	return selector
}

// playwrightElement implements Element over a Playwright element handle.
type playwrightElement struct {
	handle playwright.ElementHandle
}

var _ Element = (*playwrightElement)(nil)

func (e *playwrightElement) Click() error {
	if err := e.handle.Click(); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (e *playwrightElement) Fill(value string) error {
	if err := e.handle.Fill(value); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (e *playwrightElement) Text() (string, error) {
	text, err := e.handle.TextContent()
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return text, nil
}

func (e *playwrightElement) Attribute(name string) (string, error) {
	value, err := e.handle.GetAttribute(name)
	if err != nil {
		return "", fmt.Errorf("attribute lookup failed: %w", err)
	}
	return value, nil
}

func (e *playwrightElement) Visible() (bool, error) {
	visible, err := e.handle.IsVisible()
	if err != nil {
		return false, fmt.Errorf("visibility check failed: %w", err)
	}
	return visible, nil
}

func (e *playwrightElement) Hover() error {
	if err := e.handle.Hover(); err != nil {
		return fmt.Errorf("hover failed: %w", err)
	}
	return nil
}

func (e *playwrightElement) Eval(expression string) error {
	if _, err := e.handle.Evaluate(expression); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}
