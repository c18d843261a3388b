package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/yogamat/auth-session/internal/config"
	"github.com/yogamat/auth-session/internal/serviceerr"
	"github.com/yogamat/auth-session/internal/session"
)

const csrfHeader = "X-CSRF-Token"

type errorModel struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type loginURIResponse struct {
	URI string `json:"uri"`
}

type sessionResponse struct {
	Authenticated bool      `json:"authenticated"`
	LoginState    string    `json:"loginState"`
	Subject       string    `json:"subject,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt,omitzero"`
	CSRFToken     string    `json:"csrfToken,omitempty"`
}

// apiServer serves the public login endpoints.
type apiServer struct {
	cfg     *config.Config
	manager *session.Manager
	cookies *session.CookieCodec
}

func newAPIServer(cfg *config.Config, manager *session.Manager, cookies *session.CookieCodec) *apiServer {
	return &apiServer{
		cfg:     cfg,
		manager: manager,
		cookies: cookies,
	}
}

// beginLogin starts a login and hands the new session cookie to the user agent.
func (s *apiServer) beginLogin(w http.ResponseWriter, r *http.Request) (session.LoginStart, bool) {
	ctx := r.Context()
	previous, _ := s.cookies.ReadHandle(r)

	start, err := s.manager.BeginLogin(ctx, previous)
	if err != nil {
		slogctx.Error(ctx, "Failed to initiate login", "error", err)
		writeError(ctx, w, err)

		return session.LoginStart{}, false
	}

	cookie, err := s.cookies.MakeCookie(ctx, start.Handle)
	if err != nil {
		slogctx.Error(ctx, "Failed to create session cookie", "error", err)
		writeError(ctx, w, serviceerr.ErrServerError)

		return session.LoginStart{}, false
	}

	http.SetCookie(w, cookie)

	return start, true
}

// Login redirects the user agent to the authorization endpoint.
func (s *apiServer) Login(w http.ResponseWriter, r *http.Request) {
	start, ok := s.beginLogin(w, r)
	if !ok {
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, start.URI, http.StatusFound)
}

// LoginURI returns the authorization endpoint URL for clients that navigate
// on their own.
func (s *apiServer) LoginURI(w http.ResponseWriter, r *http.Request) {
	start, ok := s.beginLogin(w, r)
	if !ok {
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, loginURIResponse{URI: start.URI})
}

// Callback completes the login the authorization server redirected back.
func (s *apiServer) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	redirect := session.LoginRedirect{
		Code:             q.Get("code"),
		UserState:        firstNonEmpty(q.Get("userState"), q.Get("user_state"), q.Get("state")),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	h, ok := s.cookies.ReadHandle(r)
	if !ok {
		slogctx.Warn(ctx, "Callback received without a session cookie")
		recordLoginOutcome(ctx, s.cfg, string(serviceerr.CodeNoPendingLogin))
		writeError(ctx, w, serviceerr.ErrNoPendingLogin)

		return
	}

	identity, err := s.manager.CompleteLogin(ctx, h, redirect)
	if err != nil {
		var serviceErr *serviceerr.Error
		reason := string(serviceerr.CodeServerError)
		if errors.As(err, &serviceErr) {
			reason = string(serviceErr.Err)
		}
		recordLoginOutcome(ctx, s.cfg, reason)

		slogctx.Warn(ctx, "Login callback failed", "reason", reason, "error", err)
		writeError(ctx, w, err)

		return
	}

	recordLoginOutcome(ctx, s.cfg, "success")

	w.Header().Set("Cache-Control", "no-store")
	if s.cfg.Session.AfterLoginURL != "" {
		http.Redirect(w, r, s.cfg.Session.AfterLoginURL, http.StatusFound)
		return
	}

	writeJSON(ctx, w, http.StatusOK, sessionResponse{
		Authenticated: true,
		LoginState:    session.Authenticated.String(),
		Subject:       identity.Subject,
		ExpiresAt:     identity.Expiry,
		CSRFToken:     s.manager.CSRFToken(h),
	})
}

// Logout ends the session. An authenticated session must present the CSRF
// token issued for it.
func (s *apiServer) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h, ok := s.cookies.ReadHandle(r)
	if !ok {
		http.SetCookie(w, s.cookies.ExpiredCookie())
		w.WriteHeader(http.StatusNoContent)

		return
	}

	_, err := s.manager.Identity(ctx, h)
	switch {
	case err == nil:
		if !s.manager.ValidateCSRFToken(r.Header.Get(csrfHeader), h) {
			slogctx.Warn(ctx, "Received an invalid csrf token on logout")
			writeError(ctx, w, serviceerr.ErrInvalidCSRFToken)

			return
		}
	case errors.Is(err, serviceerr.ErrUnauthenticated):
	default:
		slogctx.Error(ctx, "Failed to read session on logout", "error", err)
		writeError(ctx, w, err)

		return
	}

	if err := s.manager.Logout(ctx, h); err != nil {
		slogctx.Error(ctx, "Failed to logout user", "error", err)
		writeError(ctx, w, err)

		return
	}

	http.SetCookie(w, s.cookies.ExpiredCookie())
	w.WriteHeader(http.StatusNoContent)
}

// Session describes the authentication state of the caller.
func (s *apiServer) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h, ok := s.cookies.ReadHandle(r)
	if !ok {
		writeError(ctx, w, serviceerr.ErrUnauthenticated)
		return
	}

	identity, err := s.manager.Identity(ctx, h)
	if errors.Is(err, serviceerr.ErrUnauthenticated) {
		s.unauthenticatedSession(w, r, h)
		return
	}
	if err != nil {
		slogctx.Error(ctx, "Failed to read session", "error", err)
		writeError(ctx, w, err)

		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(ctx, w, http.StatusOK, sessionResponse{
		Authenticated: true,
		LoginState:    session.Authenticated.String(),
		Subject:       identity.Subject,
		ExpiresAt:     identity.Expiry,
		CSRFToken:     s.manager.CSRFToken(h),
	})
}

// unauthenticatedSession reports a login in progress; any other session
// without an identity is unauthenticated.
func (s *apiServer) unauthenticatedSession(w http.ResponseWriter, r *http.Request, h session.Handle) {
	ctx := r.Context()

	state, err := s.manager.LoginState(ctx, h)
	if err != nil {
		slogctx.Error(ctx, "Failed to read login state", "error", err)
		writeError(ctx, w, err)

		return
	}

	if state != session.LoginInitiated {
		writeError(ctx, w, serviceerr.ErrUnauthenticated)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(ctx, w, http.StatusOK, sessionResponse{
		Authenticated: false,
		LoginState:    state.String(),
	})
}

// writeError answers with the error code of err. Login-flow failures share
// one generic answer so that the caller cannot tell them apart.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var serviceErr *serviceerr.Error
	if !errors.As(err, &serviceErr) {
		serviceErr = serviceerr.ErrServerError
	}

	if serviceErr.IsLoginFailure() {
		serviceErr = serviceerr.ErrLoginFailed
	}

	writeJSON(ctx, w, serviceErr.HTTPStatus(), errorModel{
		Error:            string(serviceErr.Err),
		ErrorDescription: serviceErr.Description,
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slogctx.Warn(ctx, "Failed to write response body", "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
