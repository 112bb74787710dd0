package types

// StatusSink receives human-readable progress updates for a user. It is the
// seam between the orchestration core and the external messaging channel
// (chat UI, terminal, test recorder). Implementations must be fire-and-forget:
// a sink call never fails an operation and never blocks it for long.
type StatusSink interface {
	// PushStatus delivers one status line to the user.
	PushStatus(userID UserID, text string)

	// PushCaptcha delivers a captcha image (by URL) with a caption, asking
	// the user to solve it. The answer comes back through the prompt channel,
	// not through the sink.
	PushCaptcha(userID UserID, imageURL, caption string)
}

// NopSink is a StatusSink that discards everything. Useful as a default
// and in tests that don't assert on status output.
type NopSink struct{}

func (NopSink) PushStatus(UserID, string)          {}
func (NopSink) PushCaptcha(UserID, string, string) {}
