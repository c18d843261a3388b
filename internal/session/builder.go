package session

import (
	"errors"
	"maps"
	"slices"

	"golang.org/x/oauth2"

	"github.com/yogamat/auth-session/internal/pkce"
)

// reservedAuthParameters cannot be overridden by additional parameters.
var reservedAuthParameters = []string{
	"client_id", "response_type", "redirect_uri", "scope",
	"state", "code_challenge", "code_challenge_method",
}

// BuildLoginURI returns the authorization endpoint URL for one login attempt.
// The state and the verifier behind the challenge must already be stored in
// the session the URI is handed to.
func BuildLoginURI(client ClientConfig, state, challenge string) (string, error) {
	if state == "" || challenge == "" {
		return "", errors.New("state and code challenge are required")
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.MethodS256),
	}
	for _, key := range slices.Sorted(maps.Keys(client.authParameters)) {
		if slices.Contains(reservedAuthParameters, key) {
			continue
		}
		opts = append(opts, oauth2.SetAuthURLParam(key, client.authParameters[key]))
	}

	return client.oauth2Config().AuthCodeURL(state, opts...), nil
}
