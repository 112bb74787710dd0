// Package prompt implements the per-user rendezvous slot through which an
// external UI delivers one human answer (captcha text, a form value) to a
// waiting operation.
package prompt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dsts/loginbot/pkg/types"
)

// ErrInputTimeout is returned by AwaitAnswer when no answer arrives within
// the wait bound.
var ErrInputTimeout = errors.New("input timeout")

// ErrNoPrompt is returned by AwaitAnswer when no prompt was opened first.
var ErrNoPrompt = errors.New("no prompt pending")

// Channel is a single-slot mailbox keyed by user id. Exactly one waiter may
// be outstanding per user (enforced upstream by the busy flag); other users'
// slots are independent, so one user's wait never blocks another's.
type Channel struct {
	mu    sync.Mutex
	slots map[types.UserID]chan string
}

// NewChannel creates an empty channel registry.
func NewChannel() *Channel {
	return &Channel{
		slots: make(map[types.UserID]chan string),
	}
}

// OpenPrompt marks the user's slot as waiting, discarding any stale slot
// from a previous prompt.
func (c *Channel) OpenPrompt(userID types.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Buffered so Deliver never blocks on a waiter that is mid-select.
	c.slots[userID] = make(chan string, 1)
}

// Deliver hands a value to the user's pending prompt. Returns false and
// drops the value if no prompt is waiting or one answer already arrived.
func (c *Channel) Deliver(userID types.UserID, value string) bool {
	c.mu.Lock()
	slot, ok := c.slots[userID]
	c.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case slot <- value:
		return true
	default:
		// Slot already filled; only the first answer counts.
		return false
	}
}

// AwaitAnswer blocks until the user's slot is filled, the timeout elapses,
// or the context is canceled. The slot is cleared on every exit path so a
// subsequent prompt opens cleanly.
func (c *Channel) AwaitAnswer(ctx context.Context, userID types.UserID, timeout time.Duration) (string, error) {
	c.mu.Lock()
	slot, ok := c.slots[userID]
	c.mu.Unlock()

	if !ok {
		return "", ErrNoPrompt
	}

	defer c.clear(userID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", ErrInputTimeout
	case value := <-slot:
		return value, nil
	}
}

// Waiting reports whether the user has an open prompt.
func (c *Channel) Waiting(userID types.UserID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.slots[userID]
	return ok
}

func (c *Channel) clear(userID types.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, userID)
}
