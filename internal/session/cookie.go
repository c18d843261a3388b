package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/securecookie"
	slogctx "github.com/veqryn/slog-context"

	"github.com/yogamat/auth-session/internal/config"
)

// CookieCodec carries session handles in an encrypted and authenticated cookie.
type CookieCodec struct {
	template config.CookieTemplate
	codec    *securecookie.SecureCookie
}

// NewCookieCodec needs a hash key of at least 32 bytes and an AES block key
// of 16, 24 or 32 bytes.
func NewCookieCodec(template config.CookieTemplate, hashKey, blockKey []byte) (*CookieCodec, error) {
	if err := template.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cookie template: %w", err)
	}

	if len(hashKey) < 32 {
		return nil, errors.New("cookie hash key must be at least 32 bytes")
	}

	switch len(blockKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("cookie block key must be 16, 24 or 32 bytes, got %d", len(blockKey))
	}

	maxAge := template.MaxAge
	if maxAge <= 0 {
		maxAge = int(DefaultTTL.Seconds())
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(maxAge)

	return &CookieCodec{
		template: template,
		codec:    codec,
	}, nil
}

// MakeCookie encodes the handle into a cookie built from the template.
func (c *CookieCodec) MakeCookie(ctx context.Context, h Handle) (*http.Cookie, error) {
	value, err := c.codec.Encode(c.template.Name, string(h))
	if err != nil {
		return nil, fmt.Errorf("encoding session cookie: %w", err)
	}

	cookie := c.template.ToCookie(value)
	if err := cookie.Valid(); err != nil {
		return nil, fmt.Errorf("invalid session cookie: %w", err)
	}

	if !strings.HasPrefix(cookie.Name, "__Host-Http-") {
		slogctx.Warn(ctx, "Session cookie name does not start with __Host-Http-; this is not recommended in production environments")
	}
	if !cookie.Secure {
		slogctx.Warn(ctx, "Session cookie is not marked as Secure; this is not recommended in production environments")
	}
	if !cookie.HttpOnly {
		slogctx.Warn(ctx, "Session cookie is not marked as HttpOnly; this is not recommended in production environments")
	}

	return cookie, nil
}

// ReadHandle returns the handle carried by the request. A missing, forged or
// outdated cookie yields false.
func (c *CookieCodec) ReadHandle(r *http.Request) (Handle, bool) {
	cookie, err := r.Cookie(c.template.Name)
	if err != nil {
		return "", false
	}

	var h string
	if err := c.codec.Decode(c.template.Name, cookie.Value, &h); err != nil {
		slogctx.Debug(r.Context(), "Ignoring unreadable session cookie", "error", err)
		return "", false
	}

	if h == "" {
		return "", false
	}

	return Handle(h), true
}

// ExpiredCookie removes the session cookie from the user agent.
func (c *CookieCodec) ExpiredCookie() *http.Cookie {
	return c.template.ToExpiredCookie()
}
