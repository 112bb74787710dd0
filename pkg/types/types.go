package types

// UserID identifies an end user (chat/account id). It keys every per-user
// structure in the system: sessions, busy flags, cooldowns, prompt slots.
type UserID string

// Credential is a username/password pair stored on behalf of a user.
// The store enforces uniqueness by username and a per-user cap; the core
// only reads credentials, never owns them.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// FailureReason classifies why a login attempt failed.
type FailureReason string

const (
	ReasonInvalidCredentials FailureReason = "invalid_credentials" // explicit negative signal from the site, or empty credentials
	ReasonCaptchaUnsolved    FailureReason = "captcha_unsolved"    // neither OCR nor the human produced usable captcha text
	ReasonElementNotFound    FailureReason = "element_not_found"   // a required page element could not be located
	ReasonSubmissionError    FailureReason = "submission_error"    // the login form could not be submitted
	ReasonUnknown            FailureReason = "unknown"             // no definitive signal either way
)

// LoginResult is the tagged outcome of a login attempt. Reason is only
// meaningful when OK is false.
type LoginResult struct {
	OK     bool
	Reason FailureReason
}

// LoginSuccess returns a successful login result.
func LoginSuccess() LoginResult {
	return LoginResult{OK: true}
}

// LoginFailure returns a failed login result with the given reason.
func LoginFailure(reason FailureReason) LoginResult {
	return LoginResult{OK: false, Reason: reason}
}

func (r LoginResult) String() string {
	if r.OK {
		return "success"
	}
	return "failure(" + string(r.Reason) + ")"
}
