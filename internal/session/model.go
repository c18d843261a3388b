package session

import "time"

// Identity is the subset of the token response kept after a successful login.
type Identity struct {
	Subject         string    `json:"sub,omitempty"`
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token,omitempty"`
	TokenType       string    `json:"token_type,omitempty"`
	Expiry          time.Time `json:"expiry"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// LoginRedirect is the callback request of the authorization server.
type LoginRedirect struct {
	Code             string
	UserState        string
	Error            string
	ErrorDescription string
}

// LoginStart is the outcome of initiating a login.
type LoginStart struct {
	Handle Handle
	URI    string
}

// LoginState is the position of a session in the login lifecycle as far as
// it is stored. A callback in progress and a failed login leave no trace in
// the session: the pending login is consumed first and a failure is reported
// by CompleteLogin, so both read back as NoPendingLogin.
type LoginState int

const (
	NoPendingLogin LoginState = iota
	LoginInitiated
	Authenticated
)

func (s LoginState) String() string {
	switch s {
	case NoPendingLogin:
		return "NoPendingLogin"
	case LoginInitiated:
		return "LoginInitiated"
	case Authenticated:
		return "Authenticated"
	default:
		return "Unknown"
	}
}
