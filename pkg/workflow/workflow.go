// Package workflow executes the fixed post-login action sequence: a series
// of page transitions driven by a resilient multi-strategy click primitive,
// followed by form extraction and one optional human-provided data entry.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/dsts/loginbot/pkg/browser"
	"github.com/dsts/loginbot/pkg/locators"
	"github.com/dsts/loginbot/pkg/logging"
	"github.com/dsts/loginbot/pkg/prompt"
	"github.com/dsts/loginbot/pkg/session"
	"github.com/dsts/loginbot/pkg/types"
)

// Config tunes the workflow pacing.
type Config struct {
	// StageSettle is the pause after each stage click.
	StageSettle time.Duration

	// InputTimeout bounds the wait for the human-provided value.
	InputTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StageSettle == 0 {
		c.StageSettle = 2 * time.Second
	}
	if c.InputTimeout == 0 {
		c.InputTimeout = 60 * time.Second
	}
	return c
}

// Workflow runs the post-login pipeline over an already-authenticated
// session.
type Workflow struct {
	cfg      Config
	registry *session.Registry
	table    *locators.Table
	prompts  *prompt.Channel
	sink     types.StatusSink
	denied   []glob.Glob
	log      *logging.Logger
}

// New creates a workflow. Denylist patterns from the locator table are
// compiled up front; a malformed pattern is a configuration error.
func New(cfg Config, registry *session.Registry, table *locators.Table, prompts *prompt.Channel, sink types.StatusSink) (*Workflow, error) {
	if sink == nil {
		sink = types.NopSink{}
	}

	denied := make([]glob.Glob, 0, len(table.DeniedFields))
	for _, pattern := range table.DeniedFields {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid denied-field pattern %q: %w", pattern, err)
		}
		denied = append(denied, g)
	}

	log, _ := logging.NewLogger("workflow")
	return &Workflow{
		cfg:      cfg.withDefaults(),
		registry: registry,
		table:    table,
		prompts:  prompts,
		sink:     sink,
		denied:   denied,
		log:      log,
	}, nil
}

// Run executes the staged pipeline. A missing stage element aborts the
// whole workflow; later stages are never attempted.
func (w *Workflow) Run(ctx context.Context, userID types.UserID) types.LoginResult {
	sess, err := w.registry.GetSession(userID)
	if err != nil {
		w.log.Errorf("could not obtain session for user %s: %v", userID, err)
		w.push(userID, "Operations failed: no browser session")
		return types.LoginFailure(types.ReasonUnknown)
	}
	page := sess.Driver

	w.push(userID, "Running post-login operations...")

	for i, stage := range w.table.Stages {
		if result, ok := w.runStage(userID, page, i+1, stage); !ok {
			return result
		}
		w.sleep(ctx, w.cfg.StageSettle)
	}

	w.extractForm(userID, page)

	return w.enterValue(ctx, userID, page)
}

func (w *Workflow) runStage(userID types.UserID, page browser.Page, number int, stage locators.Stage) (types.LoginResult, bool) {
	element, err := page.Find(stage.Selector)
	if err != nil {
		w.log.Errorf("stage %d (%s) element not found for user %s: %v", number, stage.Name, userID, err)
		w.push(userID, fmt.Sprintf("Stage %d (%s) failed: element not found", number, stage.Name))
		return types.LoginFailure(types.ReasonElementNotFound), false
	}

	label := w.controlLabel(element, stage.Name)
	w.push(userID, fmt.Sprintf("Stage %d: clicking %q", number, label))

	strategy, err := w.click(element)
	if err != nil {
		w.log.Errorf("all click strategies failed on stage %d (%s) for user %s: %v", number, stage.Name, userID, err)
		w.push(userID, fmt.Sprintf("Stage %d (%s) failed: could not activate control", number, stage.Name))
		return types.LoginFailure(types.ReasonSubmissionError), false
	}

	w.log.Debugf("stage %d (%s) clicked via %s for user %s", number, stage.Name, strategy, userID)
	return types.LoginResult{}, true
}

// clickStrategy is one way of activating a control.
type clickStrategy struct {
	name  string
	apply func(browser.Element) error
}

// forceVisible overrides the styles that commonly hide otherwise-functional
// controls behind overlays.
const forceVisible = `el => {
	el.style.opacity = '1';
	el.style.display = 'block';
	el.style.visibility = 'visible';
}`

var clickStrategies = []clickStrategy{
	{
		name: "script",
		apply: func(el browser.Element) error {
			return el.Eval("el => el.click()")
		},
	},
	{
		name: "pointer",
		apply: func(el browser.Element) error {
			if err := el.Hover(); err != nil {
				return err
			}
			return el.Click()
		},
	},
	{
		name: "forced-visibility",
		apply: func(el browser.Element) error {
			if err := el.Eval(forceVisible); err != nil {
				return err
			}
			return el.Click()
		},
	},
}

// click tries each strategy in order and returns the name of the first one
// that succeeds, or the joined errors if all fail.
func (w *Workflow) click(element browser.Element) (string, error) {
	var errs []error
	for _, strategy := range clickStrategies {
		if err := strategy.apply(element); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", strategy.name, err))
			continue
		}
		return strategy.name, nil
	}
	return "", errors.Join(errs...)
}

// extractForm reports every relevant input field on the current page.
// Extraction is informational; failures are logged, never fatal.
func (w *Workflow) extractForm(userID types.UserID, page browser.Page) {
	inputs, err := page.FindAll("input")
	if err != nil {
		w.log.Warnf("form extraction failed for user %s: %v", userID, err)
		return
	}

	w.push(userID, "Form data:")
	for _, input := range inputs {
		id, err := input.Attribute("id")
		if err != nil || id == "" {
			continue
		}
		if w.fieldDenied(id) {
			continue
		}

		value, _ := input.Attribute("value")
		readonly, _ := input.Attribute("readonly")

		label := w.resolveLabel(page, id)
		marker := "editable"
		if readonly != "" {
			marker = "read-only"
		}
		w.push(userID, fmt.Sprintf("%s: %s (%s)", label, value, marker))
	}
}

// fieldDenied reports whether the field id matches the configured denylist
// of tracking/hidden/session-technical fields.
func (w *Workflow) fieldDenied(id string) bool {
	lower := strings.ToLower(id)
	for _, g := range w.denied {
		if g.Match(lower) {
			return true
		}
	}
	return false
}

// resolveLabel finds the label associated with a field, falling back to the
// field's own id, and strips the configured site prefix.
func (w *Workflow) resolveLabel(page browser.Page, id string) string {
	label := id
	if elements, err := page.FindAll(fmt.Sprintf("label[for=%q]", id)); err == nil && len(elements) > 0 {
		if text, err := elements[0].Text(); err == nil && strings.TrimSpace(text) != "" {
			label = strings.TrimSpace(text)
		}
	}
	if w.table.LabelPrefix != "" {
		label = strings.TrimPrefix(label, w.table.LabelPrefix)
	}
	return label
}

// enterValue handles the optional data-entry step. Absent or invisible
// controls mean the value was already saved, which is a success.
func (w *Workflow) enterValue(ctx context.Context, userID types.UserID, page browser.Page) types.LoginResult {
	if w.table.ValueField == "" || w.table.SaveButton == "" {
		return types.LoginSuccess()
	}

	field, err := page.Find(w.table.ValueField)
	if err != nil {
		w.push(userID, "Form controls not found. Data may have been saved already.")
		return types.LoginSuccess()
	}
	save, err := page.Find(w.table.SaveButton)
	if err != nil {
		w.push(userID, "Form controls not found. Data may have been saved already.")
		return types.LoginSuccess()
	}

	fieldVisible, _ := field.Visible()
	saveVisible, _ := save.Visible()
	if !fieldVisible || !saveVisible {
		w.push(userID, "Form controls not visible. Data may have been saved already.")
		return types.LoginSuccess()
	}

	w.prompts.OpenPrompt(userID)
	w.push(userID, "Please enter the value:")

	value, err := w.prompts.AwaitAnswer(ctx, userID, w.cfg.InputTimeout)
	if err != nil || strings.TrimSpace(value) == "" {
		w.log.Warnf("no value received from user %s: %v", userID, err)
		w.push(userID, "No value entered")
		return types.LoginFailure(types.ReasonUnknown)
	}

	if err := field.Fill(value); err != nil {
		w.log.Errorf("value entry failed for user %s: %v", userID, err)
		w.push(userID, "Could not enter the value")
		return types.LoginFailure(types.ReasonSubmissionError)
	}

	if _, err := w.click(save); err != nil {
		w.log.Errorf("save click failed for user %s: %v", userID, err)
		w.push(userID, "Could not save the value")
		return types.LoginFailure(types.ReasonSubmissionError)
	}

	w.push(userID, "Value saved successfully")
	return types.LoginSuccess()
}

func (w *Workflow) controlLabel(element browser.Element, fallback string) string {
	if text, err := element.Text(); err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	if value, err := element.Attribute("value"); err == nil && value != "" {
		return value
	}
	return fallback
}

func (w *Workflow) push(userID types.UserID, text string) {
	w.sink.PushStatus(userID, text)
}

func (w *Workflow) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
