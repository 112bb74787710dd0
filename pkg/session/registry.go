// Package session manages one browser session per user: lazy creation,
// reuse while alive, explicit teardown, plus the per-user busy flag and
// login-attempt cooldown that serialize operations.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dsts/loginbot/pkg/browser"
	"github.com/dsts/loginbot/pkg/logging"
	"github.com/dsts/loginbot/pkg/types"
)

// ErrSessionCreation indicates the automation engine could not start a
// browser session. Fatal for the attempt; never retried here.
var ErrSessionCreation = errors.New("session creation failed")

// LoginCooldown is the minimum interval between accepted login attempts
// for one user.
const LoginCooldown = 5 * time.Second

// Session is one user's live browser session. Exactly one exists per user
// at any time; the registry is the sole owner of the handle lifetime.
type Session struct {
	UserID    types.UserID
	Driver    browser.Page
	Handles   *browser.Handles
	CreatedAt time.Time
}

// Launcher starts a fresh browser session. *browser.Engine satisfies it;
// tests substitute a fake.
type Launcher interface {
	Launch() (*browser.PlaywrightPage, *browser.Handles, error)
}

// PageLauncher adapts a Launcher-like function returning the abstract Page,
// so tests can hand out fake pages without touching Playwright types.
type PageLauncher func() (browser.Page, *browser.Handles, error)

// Registry holds all per-user cross-operation state: sessions, the busy
// set, and the cooldown map. All three live behind one mutex because a
// login and a logout for the same user may race.
type Registry struct {
	mu       sync.Mutex
	sessions map[types.UserID]*Session
	busy     map[types.UserID]bool
	cooldown map[types.UserID]time.Time

	launch PageLauncher
	now    func() time.Time
	log    *logging.Logger
}

// NewRegistry creates a registry launching sessions from the given engine.
func NewRegistry(engine Launcher) *Registry {
	return NewRegistryWithLauncher(func() (browser.Page, *browser.Handles, error) {
		return engine.Launch()
	})
}

// NewRegistryWithLauncher creates a registry with a custom session launcher.
func NewRegistryWithLauncher(launch PageLauncher) *Registry {
	log, _ := logging.NewLogger("session")
	return &Registry{
		sessions: make(map[types.UserID]*Session),
		busy:     make(map[types.UserID]bool),
		cooldown: make(map[types.UserID]time.Time),
		launch:   launch,
		now:      time.Now,
		log:      log,
	}
}

// SetClock overrides the registry's time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// GetSession returns the user's existing session if its browser is still
// alive, otherwise launches a new one. Launch failures are wrapped as
// ErrSessionCreation and propagated without retries.
func (r *Registry) GetSession(userID types.UserID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[userID]; ok && sess.Driver.Alive() {
		r.log.Debugf("reusing session for user %s", userID)
		return sess, nil
	}

	r.log.Infof("launching new browser session for user %s", userID)
	page, handles, err := r.launch()
	if err != nil {
		r.log.Errorf("session launch failed for user %s: %v", userID, err)
		return nil, fmt.Errorf("%w: %v", ErrSessionCreation, err)
	}

	sess := &Session{
		UserID:    userID,
		Driver:    page,
		Handles:   handles,
		CreatedAt: r.now(),
	}
	r.sessions[userID] = sess
	return sess, nil
}

// CloseSession releases the user's browser resources and unconditionally
// clears the busy flag and cooldown entry. Teardown never fails: close
// errors on already-invalidated handles are swallowed. Idempotent.
func (r *Registry) CloseSession(userID types.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(userID)
}

func (r *Registry) closeLocked(userID types.UserID) {
	if sess, ok := r.sessions[userID]; ok {
		if sess.Handles != nil {
			_ = sess.Handles.Page.Close()
			_ = sess.Handles.Context.Close()
			_ = sess.Handles.Browser.Close()
		}
		delete(r.sessions, userID)
		r.log.Infof("closed session for user %s", userID)
	}
	delete(r.busy, userID)
	delete(r.cooldown, userID)
}

// CloseAll closes every session. Used at process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID := range r.sessions {
		r.closeLocked(userID)
	}
	r.busy = make(map[types.UserID]bool)
	r.cooldown = make(map[types.UserID]time.Time)
}

// HasSession reports whether the user currently has a live session.
func (r *Registry) HasSession(userID types.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[userID]
	return ok && sess.Driver.Alive()
}

// TryAcquire atomically marks the user busy, returning false if an
// operation is already in flight. Pairs with Release on every exit path.
func (r *Registry) TryAcquire(userID types.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.busy[userID] {
		return false
	}
	r.busy[userID] = true
	return true
}

// Release clears the user's busy flag and cooldown entry. The cooldown is
// scoped to one accepted attempt, so freeing the user also frees the gate.
func (r *Registry) Release(userID types.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.busy, userID)
	delete(r.cooldown, userID)
}

// IsBusy reports whether an operation is in flight for the user.
func (r *Registry) IsBusy(userID types.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy[userID]
}

// CanAttemptLogin returns false if an accepted attempt happened within the
// cooldown window. Otherwise it records now as the accepted-attempt time
// and returns true — callers must only call it when they intend to proceed.
func (r *Registry) CanAttemptLogin(userID types.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.cooldown[userID]; ok && now.Sub(last) < LoginCooldown {
		return false
	}
	r.cooldown[userID] = now
	return true
}
