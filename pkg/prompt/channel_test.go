package prompt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsts/loginbot/pkg/types"
)

const testUser = types.UserID("user-1")

func TestDeliverWithoutPromptIsDropped(t *testing.T) {
	channel := NewChannel()

	assert.False(t, channel.Deliver(testUser, "42"))
	assert.False(t, channel.Waiting(testUser))
}

func TestAwaitWithoutPrompt(t *testing.T) {
	channel := NewChannel()

	_, err := channel.AwaitAnswer(context.Background(), testUser, time.Second)
	assert.ErrorIs(t, err, ErrNoPrompt)
}

func TestDeliverThenAwait(t *testing.T) {
	channel := NewChannel()

	channel.OpenPrompt(testUser)
	require.True(t, channel.Waiting(testUser))
	require.True(t, channel.Deliver(testUser, "abc12"))

	answer, err := channel.AwaitAnswer(context.Background(), testUser, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "abc12", answer)
	assert.False(t, channel.Waiting(testUser), "slot is cleared after consumption")
}

func TestDeliverWhileWaiting(t *testing.T) {
	channel := NewChannel()
	channel.OpenPrompt(testUser)

	go func() {
		time.Sleep(10 * time.Millisecond)
		channel.Deliver(testUser, "late answer")
	}()

	answer, err := channel.AwaitAnswer(context.Background(), testUser, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late answer", answer)
}

func TestOnlyFirstAnswerCounts(t *testing.T) {
	channel := NewChannel()
	channel.OpenPrompt(testUser)

	assert.True(t, channel.Deliver(testUser, "first"))
	assert.False(t, channel.Deliver(testUser, "second"))

	answer, err := channel.AwaitAnswer(context.Background(), testUser, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", answer)
}

func TestAwaitTimeoutResetsSlot(t *testing.T) {
	channel := NewChannel()
	channel.OpenPrompt(testUser)

	started := time.Now()
	_, err := channel.AwaitAnswer(context.Background(), testUser, 30*time.Millisecond)
	elapsed := time.Since(started)

	assert.ErrorIs(t, err, ErrInputTimeout)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.False(t, channel.Waiting(testUser), "timed-out slot returns to idle")

	// A fresh prompt opens cleanly and behaves normally.
	channel.OpenPrompt(testUser)
	require.True(t, channel.Deliver(testUser, "retry"))
	answer, err := channel.AwaitAnswer(context.Background(), testUser, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "retry", answer)
}

func TestAwaitCanceled(t *testing.T) {
	channel := NewChannel()
	channel.OpenPrompt(testUser)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := channel.AwaitAnswer(ctx, testUser, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, channel.Waiting(testUser))
}

func TestSlotsAreIndependentPerUser(t *testing.T) {
	channel := NewChannel()

	channel.OpenPrompt("alice")
	channel.OpenPrompt("bob")

	require.True(t, channel.Deliver("bob", "bob's answer"))

	answer, err := channel.AwaitAnswer(context.Background(), "bob", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "bob's answer", answer)

	// Alice's prompt is untouched by Bob's traffic.
	assert.True(t, channel.Waiting("alice"))
	_, err = channel.AwaitAnswer(context.Background(), "alice", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrInputTimeout)
}

func TestReopenDiscardsStaleAnswer(t *testing.T) {
	channel := NewChannel()

	channel.OpenPrompt(testUser)
	require.True(t, channel.Deliver(testUser, "stale"))

	// Opening a new prompt replaces the filled slot entirely.
	channel.OpenPrompt(testUser)
	_, err := channel.AwaitAnswer(context.Background(), testUser, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrInputTimeout)
}
