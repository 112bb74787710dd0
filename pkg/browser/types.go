// Package browser wraps the Playwright automation engine behind small
// Page/Element interfaces so the orchestration core can be driven against
// a real Chromium instance in production and a fake DOM in tests.
package browser

import "errors"

// ErrElementNotFound is returned by Find when the selector matches nothing.
// Callers decide whether absence is fatal (login fields, workflow stages)
// or informational (failure banners, success indicators).
var ErrElementNotFound = errors.New("element not found")

// Page is the surface the core drives on a user's browser session.
type Page interface {
	// Navigate loads the given URL and waits for the load event.
	Navigate(url string) error

	// Find returns the first element matching the selector, or
	// ErrElementNotFound if the selector matches nothing.
	Find(selector string) (Element, error)

	// FindAll returns every element matching the selector. An empty result
	// is not an error.
	FindAll(selector string) ([]Element, error)

	// Alive reports whether the underlying browser connection is still
	// usable. A dead page forces the registry to launch a fresh session.
	Alive() bool
}

// Element is a located page element.
type Element interface {
	// Click performs a standard click.
	Click() error

	// Fill clears the element and types the given value.
	Fill(value string) error

	// Text returns the element's visible text content.
	Text() (string, error)

	// Attribute returns the named attribute, or empty string if unset.
	Attribute(name string) (string, error)

	// Visible reports whether the element is rendered and visible.
	Visible() (bool, error)

	// Hover moves the pointer onto the element.
	Hover() error

	// Eval runs a JavaScript expression with the element bound as the
	// first argument, e.g. "el => el.click()".
	Eval(expression string) error
}
