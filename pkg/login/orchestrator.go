// Package login drives the multi-stage login protocol: credential entry,
// captcha solving (automatic OCR with bounded retries, then manual
// human-in-the-loop fallback), submission and result evaluation.
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dsts/loginbot/pkg/browser"
	"github.com/dsts/loginbot/pkg/captcha"
	"github.com/dsts/loginbot/pkg/locators"
	"github.com/dsts/loginbot/pkg/logging"
	"github.com/dsts/loginbot/pkg/prompt"
	"github.com/dsts/loginbot/pkg/session"
	"github.com/dsts/loginbot/pkg/types"
)

// Config tunes the login protocol. Zero values fall back to production
// defaults; tests shrink the delays to keep runs fast.
type Config struct {
	// TargetURL is the login page.
	TargetURL string

	// AutoRetries bounds the automatic OCR phase.
	AutoRetries int

	// ManualAttempts bounds the human captcha prompts in the manual phase.
	ManualAttempts int

	// ReloadSettle is the pause after (re)loading the login page.
	ReloadSettle time.Duration

	// SubmitSettle is the pause after clicking the login button, giving the
	// site time to render the outcome.
	SubmitSettle time.Duration

	// ManualRetryPause separates consecutive human captcha prompts.
	ManualRetryPause time.Duration

	// InputTimeout bounds each wait for a human captcha answer.
	InputTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AutoRetries == 0 {
		c.AutoRetries = 3
	}
	if c.ManualAttempts == 0 {
		c.ManualAttempts = 3
	}
	if c.ReloadSettle == 0 {
		c.ReloadSettle = 2 * time.Second
	}
	if c.SubmitSettle == 0 {
		c.SubmitSettle = 5 * time.Second
	}
	if c.ManualRetryPause == 0 {
		c.ManualRetryPause = time.Second
	}
	if c.InputTimeout == 0 {
		c.InputTimeout = 60 * time.Second
	}
	return c
}

// Orchestrator runs login attempts. One attempt per user at a time,
// serialized upstream by the registry's busy flag.
type Orchestrator struct {
	cfg      Config
	registry *session.Registry
	table    *locators.Table
	ocr      captcha.Recognizer
	prompts  *prompt.Channel
	sink     types.StatusSink
	log      *logging.Logger
}

// New creates an orchestrator.
func New(cfg Config, registry *session.Registry, table *locators.Table, ocr captcha.Recognizer, prompts *prompt.Channel, sink types.StatusSink) *Orchestrator {
	if sink == nil {
		sink = types.NopSink{}
	}
	log, _ := logging.NewLogger("login")
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		registry: registry,
		table:    table,
		ocr:      ocr,
		prompts:  prompts,
		sink:     sink,
		log:      log,
	}
}

// Login runs one complete login attempt for the user and returns a tagged
// result. Engine errors never escape; every failure mode maps onto a
// types.FailureReason with a status trail explaining what happened.
func (o *Orchestrator) Login(ctx context.Context, userID types.UserID, cred types.Credential) types.LoginResult {
	o.log.Infof("starting login attempt for user %s", userID)

	// Reject empty credentials before touching the browser at all.
	if cred.Username == "" || cred.Password == "" {
		o.log.Warnf("empty credentials for user %s", userID)
		o.push(userID, "Login failed: missing username or password")
		return types.LoginFailure(types.ReasonInvalidCredentials)
	}

	sess, err := o.registry.GetSession(userID)
	if err != nil {
		o.log.Errorf("could not obtain session for user %s: %v", userID, err)
		o.push(userID, "Login failed: could not start a browser session")
		return types.LoginFailure(types.ReasonUnknown)
	}

	o.push(userID, "Attempting login...")

	result, definitive := o.automaticPhase(ctx, userID, sess.Driver, cred)
	if definitive {
		o.log.Infof("login result for user %s: %s", userID, result)
		return result
	}

	result = o.manualPhase(ctx, userID, sess.Driver, cred)
	o.log.Infof("login result for user %s: %s", userID, result)
	return result
}

// automaticPhase runs up to AutoRetries OCR-solved attempts. The second
// return value reports whether the outcome is definitive; false means the
// phase was exhausted without a conclusive signal and the manual phase
// should take over.
func (o *Orchestrator) automaticPhase(ctx context.Context, userID types.UserID, page browser.Page, cred types.Credential) (types.LoginResult, bool) {
	o.push(userID, "Starting automatic login...")

	for attempt := 1; attempt <= o.cfg.AutoRetries; attempt++ {
		o.push(userID, fmt.Sprintf("Automatic login attempt %d/%d", attempt, o.cfg.AutoRetries))

		if err := o.reload(page); err != nil {
			o.log.Warnf("reload failed for user %s: %v", userID, err)
			o.push(userID, "Could not load the login page, retrying")
			continue
		}

		if err := o.enterCredentials(userID, page, cred); err != nil {
			return types.LoginFailure(types.ReasonElementNotFound), true
		}

		text := o.solveAutomatically(ctx, userID, page)
		if text == "" {
			// Nothing to submit; burn the retry and reload.
			continue
		}

		if !o.fillCaptcha(userID, page, text) {
			continue
		}

		o.submit(userID, page)

		if o.invalidCredentialsReported(page) {
			o.push(userID, "Login failed: invalid credentials")
			return types.LoginFailure(types.ReasonInvalidCredentials), true
		}

		if o.loginSucceeded(userID, page) {
			o.push(userID, "Automatic login successful")
			return types.LoginSuccess(), true
		}
	}

	return types.LoginResult{}, false
}

// manualPhase asks the human to solve the captcha, up to ManualAttempts
// times, then submits once.
func (o *Orchestrator) manualPhase(ctx context.Context, userID types.UserID, page browser.Page, cred types.Credential) types.LoginResult {
	o.push(userID, "Switching to manual captcha entry")

	if err := o.reload(page); err != nil {
		o.log.Errorf("manual-phase reload failed for user %s: %v", userID, err)
		o.push(userID, "Could not load the login page")
		return types.LoginFailure(types.ReasonUnknown)
	}

	if err := o.enterCredentials(userID, page, cred); err != nil {
		return types.LoginFailure(types.ReasonElementNotFound)
	}

	// The answer stays empty unless some attempt produced text; the
	// no-answer outcome below is explicit, never inherited loop state.
	answer := ""
	for attempt := 1; attempt <= o.cfg.ManualAttempts; attempt++ {
		text, ok := o.askHuman(ctx, userID, page)
		if ok && text != "" {
			answer = text
			break
		}
		if attempt < o.cfg.ManualAttempts {
			o.sleep(ctx, o.cfg.ManualRetryPause)
		}
	}

	if answer == "" {
		o.push(userID, "No captcha answer received")
		return types.LoginFailure(types.ReasonCaptchaUnsolved)
	}

	if !o.fillCaptcha(userID, page, answer) {
		return types.LoginFailure(types.ReasonElementNotFound)
	}

	o.submit(userID, page)

	if o.invalidCredentialsReported(page) {
		o.push(userID, "Login failed: invalid credentials")
		return types.LoginFailure(types.ReasonInvalidCredentials)
	}

	if o.loginSucceeded(userID, page) {
		o.push(userID, "Manual login successful")
		return types.LoginSuccess()
	}

	return types.LoginFailure(types.ReasonUnknown)
}

// reload navigates back to the login page and lets it settle.
func (o *Orchestrator) reload(page browser.Page) error {
	if err := page.Navigate(o.cfg.TargetURL); err != nil {
		return err
	}
	o.sleep(context.Background(), o.cfg.ReloadSettle)
	return nil
}

// enterCredentials clears and fills both credential fields. Failure to
// locate or fill either field aborts the whole login.
func (o *Orchestrator) enterCredentials(userID types.UserID, page browser.Page, cred types.Credential) error {
	usernameField, err := page.Find(o.table.Username)
	if err != nil {
		o.log.Errorf("username field not found for user %s: %v", userID, err)
		o.push(userID, "Login failed: username field not found")
		return err
	}
	passwordField, err := page.Find(o.table.Password)
	if err != nil {
		o.log.Errorf("password field not found for user %s: %v", userID, err)
		o.push(userID, "Login failed: password field not found")
		return err
	}

	if err := usernameField.Fill(cred.Username); err != nil {
		o.log.Errorf("username entry failed for user %s: %v", userID, err)
		o.push(userID, "Login failed: could not enter username")
		return err
	}
	if err := passwordField.Fill(cred.Password); err != nil {
		o.log.Errorf("password entry failed for user %s: %v", userID, err)
		o.push(userID, "Login failed: could not enter password")
		return err
	}

	o.push(userID, "Credentials entered")
	return nil
}

// solveAutomatically OCRs the captcha image. Empty string means this retry
// is burned: missing image, OCR error, or no recognized text.
func (o *Orchestrator) solveAutomatically(ctx context.Context, userID types.UserID, page browser.Page) string {
	imageURL, ok := o.captchaImageURL(userID, page)
	if !ok {
		return ""
	}

	text, err := o.ocr.Recognize(ctx, imageURL)
	if err != nil {
		o.log.Warnf("OCR failed for user %s: %v", userID, err)
		o.push(userID, "Captcha recognition failed")
		return ""
	}
	if text == "" {
		o.push(userID, "No text recognized from captcha")
		return ""
	}

	o.push(userID, fmt.Sprintf("Recognized captcha: %s", text))
	return text
}

// askHuman delivers the captcha image to the user and waits for an answer.
func (o *Orchestrator) askHuman(ctx context.Context, userID types.UserID, page browser.Page) (string, bool) {
	imageURL, ok := o.captchaImageURL(userID, page)
	if !ok {
		return "", false
	}

	o.prompts.OpenPrompt(userID)
	o.sink.PushCaptcha(userID, imageURL, "Please enter the captcha text shown in the image")

	answer, err := o.prompts.AwaitAnswer(ctx, userID, o.cfg.InputTimeout)
	if err != nil {
		if errors.Is(err, prompt.ErrInputTimeout) {
			o.push(userID, "Captcha input timed out")
		} else {
			o.log.Warnf("captcha prompt failed for user %s: %v", userID, err)
		}
		return "", false
	}
	return strings.TrimSpace(answer), true
}

func (o *Orchestrator) captchaImageURL(userID types.UserID, page browser.Page) (string, bool) {
	image, err := page.Find(o.table.CaptchaImage)
	if err != nil {
		o.log.Warnf("captcha image not found for user %s: %v", userID, err)
		o.push(userID, "Captcha image not found")
		return "", false
	}
	src, err := image.Attribute("src")
	if err != nil || src == "" {
		o.log.Warnf("captcha image has no source for user %s: %v", userID, err)
		o.push(userID, "Captcha image could not be read")
		return "", false
	}
	return src, true
}

// fillCaptcha types the solved text into the captcha field.
func (o *Orchestrator) fillCaptcha(userID types.UserID, page browser.Page, text string) bool {
	field, err := page.Find(o.table.CaptchaInput)
	if err != nil {
		o.log.Warnf("captcha input not found for user %s: %v", userID, err)
		o.push(userID, "Captcha input field not found")
		return false
	}
	if err := field.Fill(text); err != nil {
		o.log.Warnf("captcha entry failed for user %s: %v", userID, err)
		o.push(userID, "Could not enter captcha text")
		return false
	}
	return true
}

// submit clicks the login button and waits for the site to respond.
// Submission errors are logged and reported but never propagated; the
// result checks that follow decide the attempt's fate.
func (o *Orchestrator) submit(userID types.UserID, page browser.Page) {
	button, err := page.Find(o.table.LoginButton)
	if err != nil {
		o.log.Warnf("login button not found for user %s: %v", userID, err)
		o.push(userID, "Login submission failed")
		return
	}
	if err := button.Click(); err != nil {
		o.log.Warnf("login click failed for user %s: %v", userID, err)
		o.push(userID, "Login submission failed")
		return
	}
	o.push(userID, "Submitting login...")
	o.sleep(context.Background(), o.cfg.SubmitSettle)
}

// invalidCredentialsReported checks the failure banner. An explicit
// negative signal is authoritative and short-circuits everything else,
// including any stale success indicator still on the page.
func (o *Orchestrator) invalidCredentialsReported(page browser.Page) bool {
	banner, err := page.Find(o.table.LoginFailure)
	if err != nil {
		return false
	}
	text, err := banner.Text()
	if err != nil {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	return strings.Contains(lower, "invalid") || strings.Contains(lower, "incorrect")
}

// loginSucceeded probes the success indicators in configured order; the
// first one present wins.
func (o *Orchestrator) loginSucceeded(userID types.UserID, page browser.Page) bool {
	for _, selector := range o.table.LoginSuccess {
		element, err := page.Find(selector)
		if err != nil {
			continue
		}
		if text, err := element.Text(); err == nil && text != "" {
			o.push(userID, fmt.Sprintf("Logged in: %s", strings.TrimSpace(text)))
		}
		return true
	}
	o.push(userID, "No success indicator found")
	return false
}

func (o *Orchestrator) push(userID types.UserID, text string) {
	o.sink.PushStatus(userID, text)
}

// sleep pauses for the given settle period, waking early only on context
// cancellation.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
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
