// Package serviceerr defines the error taxonomy of the login flow and maps
// every error code to the HTTP status returned to the user agent.
package serviceerr

import "net/http"

type Code string

const (
	// Infrastructure
	CodeStoreUnavailable       Code = "store_unavailable"
	CodeEntropySourceFailure   Code = "entropy_source_failure"
	CodeSessionNotFound        Code = "session_not_found"
	CodeInvalidClientConfig    Code = "invalid_client_config"
	CodeServerError            Code = "server_error"
	CodeTemporarilyUnavailable Code = "temporarily_unavailable"

	// Login flow, recoverable by restarting the login
	CodeNoPendingLogin       Code = "no_pending_login"
	CodeStateMismatch        Code = "state_mismatch"
	CodeTokenExchangeFailed  Code = "token_exchange_failed"
	CodeAuthorizationDenied  Code = "authorization_denied"
	CodeLoginFailed          Code = "login_failed"
	CodeUnauthenticated      Code = "unauthenticated"
	CodeInvalidCSRFToken     Code = "invalid_csrf_token"
	CodeTooManyLoginAttempts Code = "too_many_login_attempts"

	// Logged only
	CodeRevocationFailed Code = "revocation_failed"
)

type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeNoPendingLogin, CodeStateMismatch, CodeTokenExchangeFailed,
		CodeAuthorizationDenied, CodeLoginFailed, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeInvalidCSRFToken:
		return http.StatusForbidden
	case CodeSessionNotFound:
		return http.StatusNotFound
	case CodeTooManyLoginAttempts:
		return http.StatusTooManyRequests
	case CodeStoreUnavailable, CodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsLoginFailure reports whether the code belongs to the login-flow failures
// that the user recovers from by starting a new login.
func (e *Error) IsLoginFailure() bool {
	switch e.Err {
	case CodeNoPendingLogin, CodeStateMismatch, CodeTokenExchangeFailed, CodeAuthorizationDenied:
		return true
	default:
		return false
	}
}

var (
	ErrStoreUnavailable     = &Error{Err: CodeStoreUnavailable, Description: "session store unavailable"}
	ErrEntropySourceFailure = &Error{Err: CodeEntropySourceFailure, Description: "random source unavailable"}
	ErrSessionNotFound      = &Error{Err: CodeSessionNotFound, Description: "session not found"}
	ErrInvalidClientConfig  = &Error{Err: CodeInvalidClientConfig, Description: "invalid oauth client configuration"}
	ErrServerError          = &Error{Err: CodeServerError}

	ErrNoPendingLogin       = &Error{Err: CodeNoPendingLogin, Description: "no login in progress"}
	ErrStateMismatch        = &Error{Err: CodeStateMismatch, Description: "state mismatch"}
	ErrTokenExchangeFailed  = &Error{Err: CodeTokenExchangeFailed, Description: "token exchange failed"}
	ErrAuthorizationDenied  = &Error{Err: CodeAuthorizationDenied, Description: "authorization server returned an error"}
	ErrLoginFailed          = &Error{Err: CodeLoginFailed, Description: "login failed, please try again"}
	ErrUnauthenticated      = &Error{Err: CodeUnauthenticated, Description: "session is not authenticated"}
	ErrInvalidCSRFToken     = &Error{Err: CodeInvalidCSRFToken, Description: "invalid csrf token"}
	ErrTooManyLoginAttempts = &Error{Err: CodeTooManyLoginAttempts, Description: "too many login attempts"}

	ErrRevocationFailed = &Error{Err: CodeRevocationFailed, Description: "token revocation failed"}
)
