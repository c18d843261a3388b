package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/yogamat/auth-session/internal/pkce"
	"github.com/yogamat/auth-session/internal/serviceerr"
	"github.com/yogamat/auth-session/pkg/csrf"
)

// Manager drives the login state machine of a session: it starts login
// attempts, validates callbacks, exchanges codes and ends sessions.
type Manager struct {
	client    ClientConfig
	sessions  Store
	pkce      pkce.Source
	exchanger TokenExchanger
	revoker   Revoker
	audit     *otlpaudit.AuditLogger

	httpClient *http.Client
	csrfSecret []byte
}

type ManagerOption func(*Manager)

// WithHTTPClient sets the client used for the token and revocation endpoints.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) {
		m.httpClient = c
	}
}

func WithTokenExchanger(e TokenExchanger) ManagerOption {
	return func(m *Manager) {
		m.exchanger = e
	}
}

func WithRevoker(r Revoker) ManagerOption {
	return func(m *Manager) {
		m.revoker = r
	}
}

func WithPKCESource(s pkce.Source) ManagerOption {
	return func(m *Manager) {
		m.pkce = s
	}
}

func WithCSRFSecret(secret []byte) ManagerOption {
	return func(m *Manager) {
		m.csrfSecret = secret
	}
}

func NewManager(client ClientConfig, sessions Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:   client,
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.exchanger == nil {
		m.exchanger = NewOAuth2Exchanger(client, m.httpClient)
	}

	if m.revoker == nil {
		if r := NewHTTPRevoker(client, m.httpClient); r != nil {
			m.revoker = r
		}
	}

	return m
}

// BeginLogin starts a new login attempt. The session named by previous, if
// any, is destroyed and a fresh session holding the state and the PKCE
// verifier is created, so a handle known before the login never becomes
// authenticated.
func (m *Manager) BeginLogin(ctx context.Context, previous Handle) (LoginStart, error) {
	state, err := m.pkce.State()
	if err != nil {
		return LoginStart{}, fmt.Errorf("generating state: %w", err)
	}

	material, err := m.pkce.PKCE()
	if err != nil {
		return LoginStart{}, fmt.Errorf("generating pkce: %w", err)
	}

	if previous != "" {
		if err := m.sessions.Destroy(ctx, previous); err != nil {
			return LoginStart{}, fmt.Errorf("destroying previous session: %w", err)
		}
	}

	h, err := m.sessions.Create(ctx)
	if err != nil {
		return LoginStart{}, fmt.Errorf("creating session: %w", err)
	}

	err = m.sessions.Set(ctx, h, Values{
		FieldStateValue:   state,
		FieldCodeVerifier: material.Verifier,
	})
	if err != nil {
		if derr := m.sessions.Destroy(ctx, h); derr != nil {
			slogctx.Warn(ctx, "Could not destroy the incomplete session", "error", derr)
		}

		return LoginStart{}, fmt.Errorf("storing pending login: %w", err)
	}

	uri, err := BuildLoginURI(m.client, state, material.Challenge)
	if err != nil {
		return LoginStart{}, fmt.Errorf("building login uri: %w", err)
	}

	slogctx.Info(ctx, "Login initiated")

	return LoginStart{Handle: h, URI: uri}, nil
}

// CompleteLogin consumes the pending login of the session and, when the
// callback matches it, exchanges the authorization code for tokens.
//
// The state and the verifier are removed from the session before anything
// else happens, whatever the outcome. A callback can therefore be redeemed
// at most once and a failed exchange is never retried.
func (m *Manager) CompleteLogin(ctx context.Context, h Handle, redirect LoginRedirect) (Identity, error) {
	identity, err := m.completeLogin(ctx, h, redirect)
	m.auditLogin(ctx, err)

	return identity, err
}

func (m *Manager) completeLogin(ctx context.Context, h Handle, redirect LoginRedirect) (Identity, error) {
	pending, err := m.sessions.Take(ctx, h, FieldStateValue, FieldCodeVerifier)
	if err != nil {
		if errors.Is(err, serviceerr.ErrSessionNotFound) {
			return Identity{}, errors.Join(serviceerr.ErrNoPendingLogin, err)
		}

		return Identity{}, fmt.Errorf("taking pending login: %w", err)
	}

	state, hasState := pending[FieldStateValue]
	verifier, hasVerifier := pending[FieldCodeVerifier]
	if !hasState || !hasVerifier {
		slogctx.Warn(ctx, "Callback received without a pending login")
		return Identity{}, serviceerr.ErrNoPendingLogin
	}

	if !statesEqual(redirect.UserState, state) {
		slogctx.Warn(ctx, "Callback state does not match the pending login")
		return Identity{}, serviceerr.ErrStateMismatch
	}

	if redirect.Error != "" {
		slogctx.Warn(ctx, "Authorization server rejected the login", "error_code", redirect.Error)
		return Identity{}, serviceerr.ErrAuthorizationDenied
	}

	if redirect.Code == "" {
		return Identity{}, errors.Join(serviceerr.ErrTokenExchangeFailed, errors.New("callback without authorization code"))
	}

	tokens, err := m.exchanger.Exchange(ctx, redirect.Code, verifier)
	if err != nil {
		slogctx.Warn(ctx, "Token exchange failed", "error", err)
		if !errors.Is(err, serviceerr.ErrTokenExchangeFailed) {
			err = errors.Join(serviceerr.ErrTokenExchangeFailed, err)
		}

		return Identity{}, err
	}

	var subject string
	if tokens.IDToken != "" {
		subject, err = subjectFromIDToken(tokens.IDToken)
		if err != nil {
			return Identity{}, errors.Join(serviceerr.ErrTokenExchangeFailed, err)
		}
	}

	identity := Identity{
		Subject:         subject,
		AccessToken:     tokens.AccessToken,
		RefreshToken:    tokens.RefreshToken,
		TokenType:       tokens.TokenType,
		Expiry:          tokens.Expiry,
		AuthenticatedAt: time.Now().UTC(),
	}

	raw, err := json.Marshal(identity)
	if err != nil {
		return Identity{}, fmt.Errorf("encoding identity: %w", err)
	}

	if err := m.sessions.Set(ctx, h, Values{FieldIdentity: string(raw)}); err != nil {
		// the session ended while the code was exchanged
		if errors.Is(err, serviceerr.ErrSessionNotFound) {
			slogctx.Warn(ctx, "Session ended before the login completed")
			return Identity{}, errors.Join(serviceerr.ErrNoPendingLogin, err)
		}

		return Identity{}, fmt.Errorf("storing identity: %w", err)
	}

	slogctx.Info(ctx, "Login completed", "sub", subject)

	return identity, nil
}

// statesEqual compares digests so that neither the content nor the length
// of the stored state influences the timing.
func statesEqual(received, stored string) bool {
	a := sha256.Sum256([]byte(received))
	b := sha256.Sum256([]byte(stored))

	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// Identity returns the authenticated identity of the session or
// serviceerr.ErrUnauthenticated.
func (m *Manager) Identity(ctx context.Context, h Handle) (Identity, error) {
	raw, ok, err := m.sessions.Get(ctx, h, FieldIdentity)
	if err != nil {
		if errors.Is(err, serviceerr.ErrSessionNotFound) {
			return Identity{}, errors.Join(serviceerr.ErrUnauthenticated, err)
		}

		return Identity{}, fmt.Errorf("reading identity: %w", err)
	}

	if !ok {
		return Identity{}, serviceerr.ErrUnauthenticated
	}

	return decodeIdentity(raw)
}

// LoginState reports where the session stands in the login lifecycle. An
// unknown session has no pending login.
func (m *Manager) LoginState(ctx context.Context, h Handle) (LoginState, error) {
	rec, err := m.sessions.Load(ctx, h)
	if err != nil {
		if errors.Is(err, serviceerr.ErrSessionNotFound) {
			return NoPendingLogin, nil
		}

		return NoPendingLogin, fmt.Errorf("loading session: %w", err)
	}

	if _, ok := rec.Values[FieldIdentity]; ok {
		return Authenticated, nil
	}

	if _, ok := rec.Values[FieldStateValue]; ok {
		return LoginInitiated, nil
	}

	return NoPendingLogin, nil
}

// Logout revokes the tokens of the session when possible and destroys it.
// Revocation is best-effort; only a failure to destroy is returned.
func (m *Manager) Logout(ctx context.Context, h Handle) error {
	if m.revoker != nil {
		m.revoke(ctx, h)
	}

	if err := m.sessions.Destroy(ctx, h); err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}

	slogctx.Info(ctx, "Session destroyed")

	return nil
}

func (m *Manager) revoke(ctx context.Context, h Handle) {
	identity, err := m.Identity(ctx, h)
	if err != nil {
		if !errors.Is(err, serviceerr.ErrUnauthenticated) {
			slogctx.Warn(ctx, "Could not read the identity to revoke", "error", err)
		}

		return
	}

	token, hint := identity.RefreshToken, TokenTypeHintRefreshToken
	if token == "" {
		token, hint = identity.AccessToken, TokenTypeHintAccessToken
	}

	if err := m.revoker.Revoke(ctx, token, hint); err != nil {
		slogctx.Warn(ctx, "Token revocation failed", "error", err)
	}
}

// CSRFToken issues a token bound to the session handle.
func (m *Manager) CSRFToken(h Handle) string {
	return csrf.NewToken(string(h), m.csrfSecret)
}

func (m *Manager) ValidateCSRFToken(token string, h Handle) bool {
	return csrf.Validate(token, string(h), m.csrfSecret)
}

func decodeIdentity(raw string) (Identity, error) {
	var identity Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return Identity{}, fmt.Errorf("decoding identity: %w", err)
	}

	return identity, nil
}
