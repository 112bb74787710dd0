package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsts/loginbot/pkg/browser"
	"github.com/dsts/loginbot/pkg/browser/browsertest"
	"github.com/dsts/loginbot/pkg/types"
)

const testUser = types.UserID("user-1")

type fakeLauncher struct {
	launches int
	err      error
	lastPage *browsertest.Page
}

func (f *fakeLauncher) launch() (browser.Page, *browser.Handles, error) {
	f.launches++
	if f.err != nil {
		return nil, nil, f.err
	}
	f.lastPage = browsertest.NewPage()
	return f.lastPage, nil, nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeLauncher) {
	t.Helper()
	launcher := &fakeLauncher{}
	return NewRegistryWithLauncher(launcher.launch), launcher
}

func TestGetSessionReusesLiveSession(t *testing.T) {
	registry, launcher := newTestRegistry(t)

	first, err := registry.GetSession(testUser)
	require.NoError(t, err)

	second, err := registry.GetSession(testUser)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, launcher.launches)
}

func TestGetSessionReplacesDeadSession(t *testing.T) {
	registry, launcher := newTestRegistry(t)

	first, err := registry.GetSession(testUser)
	require.NoError(t, err)

	launcher.lastPage.Dead = true

	second, err := registry.GetSession(testUser)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, launcher.launches)
}

func TestGetSessionLaunchFailure(t *testing.T) {
	registry, launcher := newTestRegistry(t)
	launcher.err = errors.New("browser exploded")

	_, err := registry.GetSession(testUser)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionCreation)
	assert.False(t, registry.HasSession(testUser))
}

func TestSessionsAreIndependentPerUser(t *testing.T) {
	registry, launcher := newTestRegistry(t)

	_, err := registry.GetSession("alice")
	require.NoError(t, err)
	_, err = registry.GetSession("bob")
	require.NoError(t, err)

	assert.Equal(t, 2, launcher.launches)
	assert.True(t, registry.HasSession("alice"))
	assert.True(t, registry.HasSession("bob"))

	registry.CloseSession("alice")
	assert.False(t, registry.HasSession("alice"))
	assert.True(t, registry.HasSession("bob"))
}

func TestCloseSessionClearsAllState(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.GetSession(testUser)
	require.NoError(t, err)

	require.True(t, registry.TryAcquire(testUser))
	require.True(t, registry.CanAttemptLogin(testUser))

	registry.CloseSession(testUser)

	assert.False(t, registry.HasSession(testUser))
	assert.False(t, registry.IsBusy(testUser))
	assert.True(t, registry.CanAttemptLogin(testUser), "cooldown must be cleared by teardown")
}

func TestCloseSessionIdempotent(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.GetSession(testUser)
	require.NoError(t, err)

	registry.CloseSession(testUser)
	assert.NotPanics(t, func() {
		registry.CloseSession(testUser)
		registry.CloseSession("never-existed")
	})
}

func TestCloseAll(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.GetSession("alice")
	require.NoError(t, err)
	_, err = registry.GetSession("bob")
	require.NoError(t, err)
	registry.TryAcquire("alice")

	registry.CloseAll()

	assert.False(t, registry.HasSession("alice"))
	assert.False(t, registry.HasSession("bob"))
	assert.False(t, registry.IsBusy("alice"))
}

func TestTryAcquireIsExclusive(t *testing.T) {
	registry, _ := newTestRegistry(t)

	assert.True(t, registry.TryAcquire(testUser))
	assert.False(t, registry.TryAcquire(testUser), "second acquire must fail while busy")
	assert.True(t, registry.IsBusy(testUser))

	// Other users are unaffected.
	assert.True(t, registry.TryAcquire("someone-else"))

	registry.Release(testUser)
	assert.False(t, registry.IsBusy(testUser))
	assert.True(t, registry.TryAcquire(testUser))
}

func TestLoginCooldownWindow(t *testing.T) {
	registry, _ := newTestRegistry(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	registry.SetClock(func() time.Time { return now })

	assert.True(t, registry.CanAttemptLogin(testUser), "first attempt is always accepted")

	now = now.Add(LoginCooldown - time.Second)
	assert.False(t, registry.CanAttemptLogin(testUser), "attempt inside the window is rejected")

	now = now.Add(2 * time.Second)
	assert.True(t, registry.CanAttemptLogin(testUser), "attempt after the window is accepted")
}

func TestRejectedAttemptDoesNotExtendCooldown(t *testing.T) {
	registry, _ := newTestRegistry(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	registry.SetClock(func() time.Time { return now })

	require.True(t, registry.CanAttemptLogin(testUser))

	now = now.Add(time.Second)
	require.False(t, registry.CanAttemptLogin(testUser))

	// The rejected attempt at +1s must not reset the window; 5s after the
	// accepted attempt the gate reopens.
	now = now.Add(LoginCooldown - time.Second)
	assert.True(t, registry.CanAttemptLogin(testUser))
}

func TestReleaseClearsCooldown(t *testing.T) {
	registry, _ := newTestRegistry(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	registry.SetClock(func() time.Time { return now })

	require.True(t, registry.TryAcquire(testUser))
	require.True(t, registry.CanAttemptLogin(testUser))
	registry.Release(testUser)

	assert.True(t, registry.CanAttemptLogin(testUser), "cooldown is scoped to one operation")
}
