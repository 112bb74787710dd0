// Package browsertest provides in-memory fakes for the browser interfaces,
// letting orchestration logic be tested against a simulated DOM without a
// real browser.
package browsertest

import (
	"sync"

	"github.com/dsts/loginbot/pkg/browser"
)

// Page is a fake browser.Page backed by a selector map.
type Page struct {
	mu sync.Mutex

	// Elements maps selectors to single elements served by Find.
	Elements map[string]*Element

	// Lists maps selectors to element sets served by FindAll. Selectors
	// present only in Elements are served as one-element lists.
	Lists map[string][]*Element

	// FindFunc, when set, overrides map lookup entirely.
	FindFunc func(selector string) (browser.Element, error)

	// NavigateErr fails every navigation when set.
	NavigateErr error

	// Dead makes Alive report false.
	Dead bool

	// Navigations records every navigated URL in order.
	Navigations []string

	// FindCalls records every selector passed to Find, in order.
	FindCalls []string
}

var _ browser.Page = (*Page)(nil)

// NewPage creates an empty fake page.
func NewPage() *Page {
	return &Page{
		Elements: make(map[string]*Element),
		Lists:    make(map[string][]*Element),
	}
}

// Set installs an element under the given selector.
func (p *Page) Set(selector string, element *Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Elements[selector] = element
}

// Remove drops the element under the given selector.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Elements, selector)
}

func (p *Page) Navigate(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigations = append(p.Navigations, url)
	return p.NavigateErr
}

func (p *Page) Find(selector string) (browser.Element, error) {
	p.mu.Lock()
	p.FindCalls = append(p.FindCalls, selector)
	override := p.FindFunc
	element, ok := p.Elements[selector]
	p.mu.Unlock()

	if override != nil {
		return override(selector)
	}
	if !ok {
		return nil, browser.ErrElementNotFound
	}
	return element, nil
}

func (p *Page) FindAll(selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if list, ok := p.Lists[selector]; ok {
		elements := make([]browser.Element, 0, len(list))
		for _, element := range list {
			elements = append(elements, element)
		}
		return elements, nil
	}
	if element, ok := p.Elements[selector]; ok {
		return []browser.Element{element}, nil
	}
	return nil, nil
}

func (p *Page) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Dead
}

// Element is a fake browser.Element with scriptable behavior.
type Element struct {
	mu sync.Mutex

	// TextVal is returned by Text.
	TextVal string

	// Attrs backs Attribute lookups.
	Attrs map[string]string

	// Invisible makes Visible report false.
	Invisible bool

	// Error overrides per operation.
	ClickErr error
	FillErr  error
	HoverErr error

	// ClickFunc, when set, runs instead of the default Click behavior.
	ClickFunc func() error

	// EvalFunc, when set, decides the outcome per expression.
	EvalFunc func(expression string) error

	// Recorded activity.
	Filled []string
	Clicks int
	Hovers int
	Evals  []string
}

var _ browser.Element = (*Element)(nil)

func (e *Element) Click() error {
	e.mu.Lock()
	e.Clicks++
	fn := e.ClickFunc
	err := e.ClickErr
	e.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return err
}

func (e *Element) Fill(value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FillErr != nil {
		return e.FillErr
	}
	e.Filled = append(e.Filled, value)
	return nil
}

func (e *Element) Text() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.TextVal, nil
}

func (e *Element) Attribute(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Attrs[name], nil
}

func (e *Element) Visible() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Invisible, nil
}

func (e *Element) Hover() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Hovers++
	return e.HoverErr
}

func (e *Element) Eval(expression string) error {
	e.mu.Lock()
	e.Evals = append(e.Evals, expression)
	fn := e.EvalFunc
	e.mu.Unlock()

	if fn != nil {
		return fn(expression)
	}
	return nil
}

// LastFill returns the most recent value filled into the element, or "".
func (e *Element) LastFill() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Filled) == 0 {
		return ""
	}
	return e.Filled[len(e.Filled)-1]
}
