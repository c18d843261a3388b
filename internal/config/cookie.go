package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const hostCookiePrefix = "__Host-"

// SameSiteMode maps the configured value to net/http. An empty value is Lax:
// the session cookie has to survive the top-level redirect back from the
// authorization server.
func (s CookieSameSite) SameSiteMode() (http.SameSite, error) {
	switch s {
	case "", CookieSameSiteLax:
		return http.SameSiteLaxMode, nil
	case CookieSameSiteStrict:
		return http.SameSiteStrictMode, nil
	case CookieSameSiteNone:
		return http.SameSiteNoneMode, nil
	default:
		return http.SameSiteDefaultMode, fmt.Errorf("unknown same site mode %q", s)
	}
}

// Validate rejects templates a user agent would refuse to store.
func (ct *CookieTemplate) Validate() error {
	if ct.Name == "" {
		return errors.New("cookie name is empty")
	}

	if _, err := ct.SameSite.SameSiteMode(); err != nil {
		return err
	}

	if ct.SameSite == CookieSameSiteNone && !ct.Secure {
		return errors.New("SameSite=None cookies must be secure")
	}

	if strings.HasPrefix(ct.Name, hostCookiePrefix) {
		if !ct.Secure || ct.Path != "/" || ct.Domain != "" {
			return fmt.Errorf("%s cookies must be secure, have path / and no domain", hostCookiePrefix)
		}
	}

	return nil
}

// ToCookie renders the template with the given value. Templates are
// validated at startup, so an unknown same site mode never reaches here.
func (ct *CookieTemplate) ToCookie(value string) *http.Cookie {
	sameSite, _ := ct.SameSite.SameSiteMode()

	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   ct.MaxAge,
		Path:     ct.Path,
		Domain:   ct.Domain,
		Secure:   ct.Secure,
		HttpOnly: ct.HTTPOnly,
		SameSite: sameSite,
	}
}

// ToExpiredCookie drops the cookie from the user agent.
func (ct *CookieTemplate) ToExpiredCookie() *http.Cookie {
	c := ct.ToCookie("")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)

	return c
}
